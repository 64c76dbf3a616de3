// Package filetype decides whether an uploaded file is what it claims to be.
//
// A file passes only when its extension, its claimed content type and the
// type sniffed from its leading bytes all agree. No single signal is trusted
// on its own.
package filetype

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrorKind classifies a failed validation.
type ErrorKind string

const (
	KindFilename  ErrorKind = "filename"
	KindExtension ErrorKind = "extension"
	KindMIME      ErrorKind = "mime"
	KindContent   ErrorKind = "content"
)

// Structural reports whether the failure is about file metadata rather than content.
func (k ErrorKind) Structural() bool {
	return k == KindFilename || k == KindExtension || k == KindMIME
}

var ErrInvalidTables = errors.New("inconsistent file type tables")

// File is the candidate being validated. Only the first HeaderSize bytes of
// Content are read.
type File struct {
	Name        string
	ContentType string
	Content     io.ReaderAt
}

// Result is the outcome of a single Validate call.
type Result struct {
	Valid               bool      `json:"valid"`
	Error               string    `json:"error,omitempty"`
	Kind                ErrorKind `json:"kind,omitempty"`
	DetectedContentType string    `json:"detected_content_type,omitempty"`
	Warnings            []string  `json:"warnings"`
}

func fail(kind ErrorKind, format string, args ...any) Result {
	return Result{Kind: kind, Error: fmt.Sprintf(format, args...), Warnings: []string{}}
}

// Validator checks files against a signature registry, an extension map and
// an allowed-type set. It holds no mutable state.
type Validator struct {
	registry   Registry
	extensions map[string][]string
	allowed    map[string]struct{}
	accepted   string
}

// New builds a Validator. Every content type reachable through extensions
// must be both registered and allowed, otherwise detection could never
// succeed for that extension.
func New(registry Registry, extensions map[string][]string, allowed map[string]struct{}) (*Validator, error) {
	registered := make(map[string]struct{})
	for _, sig := range registry {
		if len(sig.Pattern) == 0 {
			return nil, fmt.Errorf("%w: empty signature for %s", ErrInvalidTables, sig.ContentType)
		}
		registered[sig.ContentType] = struct{}{}
	}

	exts := make(map[string][]string, len(extensions))
	keys := make([]string, 0, len(extensions))
	for ext, types := range extensions {
		if len(types) == 0 {
			return nil, fmt.Errorf("%w: extension %s maps to no type", ErrInvalidTables, ext)
		}
		for _, ct := range types {
			if _, ok := registered[ct]; !ok {
				return nil, fmt.Errorf("%w: %s (for %s) has no signature", ErrInvalidTables, ct, ext)
			}
			if _, ok := allowed[ct]; !ok {
				return nil, fmt.Errorf("%w: %s (for %s) is not allowed", ErrInvalidTables, ct, ext)
			}
		}
		lower := strings.ToLower(ext)
		exts[lower] = append([]string(nil), types...)
		keys = append(keys, strings.TrimPrefix(lower, "."))
	}
	sort.Strings(keys)

	allowedCopy := make(map[string]struct{}, len(allowed))
	for ct := range allowed {
		allowedCopy[ct] = struct{}{}
	}

	return &Validator{
		registry:   append(Registry(nil), registry...),
		extensions: exts,
		allowed:    allowedCopy,
		accepted:   strings.ToUpper(strings.Join(keys, ", ")),
	}, nil
}

// Default returns a Validator over the built-in tables.
func Default() *Validator {
	v, err := New(DefaultRegistry(), DefaultExtensions(), DefaultAllowedTypes())
	if err != nil {
		panic(err)
	}
	return v
}

// Validate runs the checks in order and stops at the first failure.
func (v *Validator) Validate(f File) Result {
	if f.Name == "" {
		return fail(KindFilename, "file must have a name")
	}

	ext := Extension(f.Name)
	if ext == "" {
		return fail(KindExtension, "file must have an extension")
	}

	allowedTypes, ok := v.extensions[ext]
	if !ok {
		return fail(KindExtension, "file extension %s is not allowed; accepted file types: %s", ext, v.accepted)
	}

	if _, ok := v.allowed[f.ContentType]; !ok {
		return fail(KindMIME, "MIME type %q is not allowed", f.ContentType)
	}

	header, err := readHeader(f.Content)
	if err != nil {
		return fail(KindContent, "could not read file content")
	}

	detected := v.registry.Detect(header)
	if detected == "" {
		return fail(KindContent, "could not verify file type; the file may be corrupted or unsupported")
	}

	if !contains(allowedTypes, detected) {
		return fail(KindContent, "file extension does not match actual file content; this may indicate a renamed or spoofed file")
	}

	warnings := []string{}
	if detected != f.ContentType {
		warnings = append(warnings, fmt.Sprintf("claimed MIME type %s differs from detected type %s", f.ContentType, detected))
	}

	return Result{Valid: true, DetectedContentType: detected, Warnings: warnings}
}

// Extension returns the lower-cased suffix starting at the last dot, or ""
// when the name has no dot or ends with one.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i:])
}

func readHeader(r io.ReaderAt) ([]byte, error) {
	if r == nil {
		return nil, io.ErrUnexpectedEOF
	}
	buf := make([]byte, HeaderSize)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
