package filetype

import "bytes"

// Content types accepted for storage.
const (
	PDF  = "application/pdf"
	PNG  = "image/png"
	JPEG = "image/jpeg"
	GIF  = "image/gif"
	WebP = "image/webp"
	DOC  = "application/msword"
	DOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// HeaderSize is the number of leading bytes read for detection.
// It covers every signature in DefaultRegistry.
const HeaderSize = 16

// Signature is a byte pattern expected at a fixed offset.
type Signature struct {
	ContentType string
	Pattern     []byte
	Offset      int
}

func (s Signature) matches(header []byte) bool {
	end := s.Offset + len(s.Pattern)
	if s.Offset < 0 || end > len(header) {
		return false
	}
	return bytes.Equal(header[s.Offset:end], s.Pattern)
}

var (
	riffMarker = []byte("RIFF")
	webpMarker = []byte("WEBP")
)

// Registry is an ordered list of signatures. The first match wins.
type Registry []Signature

// DefaultRegistry returns the signatures for every allowed content type.
func DefaultRegistry() Registry {
	return Registry{
		{ContentType: PDF, Pattern: []byte{0x25, 0x50, 0x44, 0x46}},
		{ContentType: PNG, Pattern: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
		{ContentType: JPEG, Pattern: []byte{0xFF, 0xD8, 0xFF}},
		{ContentType: GIF, Pattern: []byte{0x47, 0x49, 0x46, 0x38, 0x37, 0x61}},
		{ContentType: GIF, Pattern: []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61}},
		{ContentType: WebP, Pattern: riffMarker},
		{ContentType: DOC, Pattern: []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}},
		{ContentType: DOCX, Pattern: []byte{0x50, 0x4B, 0x03, 0x04}},
	}
}

// Detect returns the content type of the first matching signature, or ""
// when nothing matches. A RIFF container only counts as WebP when it
// carries the WEBP marker at offset 8; any other RIFF payload keeps searching.
func (r Registry) Detect(header []byte) string {
	for _, sig := range r {
		if !sig.matches(header) {
			continue
		}
		if sig.ContentType == WebP && !isWebP(header) {
			continue
		}
		return sig.ContentType
	}
	return ""
}

func isWebP(header []byte) bool {
	if len(header) < 12 {
		return false
	}
	return bytes.Equal(header[0:4], riffMarker) && bytes.Equal(header[8:12], webpMarker)
}

// Types returns the distinct content types in registration order.
func (r Registry) Types() []string {
	seen := make(map[string]struct{}, len(r))
	out := make([]string, 0, len(r))
	for _, sig := range r {
		if _, ok := seen[sig.ContentType]; ok {
			continue
		}
		seen[sig.ContentType] = struct{}{}
		out = append(out, sig.ContentType)
	}
	return out
}

// DefaultExtensions maps a lower-case extension to the content types it may hold.
func DefaultExtensions() map[string][]string {
	return map[string][]string{
		".pdf":  {PDF},
		".png":  {PNG},
		".jpg":  {JPEG},
		".jpeg": {JPEG},
		".gif":  {GIF},
		".webp": {WebP},
		".doc":  {DOC},
		".docx": {DOCX},
	}
}

// DefaultAllowedTypes is the set of content types acceptable for storage.
func DefaultAllowedTypes() map[string]struct{} {
	return map[string]struct{}{
		PDF:  {},
		PNG:  {},
		JPEG: {},
		GIF:  {},
		WebP: {},
		DOC:  {},
		DOCX: {},
	}
}
