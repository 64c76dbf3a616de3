package validation

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docgate/internal/config"
	"docgate/internal/logging"
	"docgate/internal/validation/filetype"
	"docgate/internal/validation/scanner"
	scannerMocks "docgate/internal/validation/scanner/mocks"
)

var (
	pdfContent = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	pngContent = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}
	exeContent = []byte{'M', 'Z', 0x90, 0x00, 0x03, 0x00}
)

func newFile(name, ct string, data []byte) File {
	return File{Name: name, ContentType: ct, Content: bytes.NewReader(data), Size: int64(len(data))}
}

type validateCase struct {
	name         string
	file         File
	opts         Options
	verdict      *scanner.Verdict
	wantValid    bool
	wantDegraded bool
	wantReason   string
	wantError    string
	wantVerdict  bool
}

func TestValidator_ValidateFile(t *testing.T) {
	ctx := context.Background()

	tests := []validateCase{
		{
			name:        "clean",
			file:        newFile("report.pdf", filetype.PDF, pdfContent),
			verdict:     ptr(scanner.Clean("clamav")),
			wantValid:   true,
			wantVerdict: true,
		},
		{
			name:      "type rejected before scanning",
			file:      newFile("malware.pdf", filetype.PDF, exeContent),
			wantError: "could not verify file type; the file may be corrupted or unsupported",
		},
		{
			name:      "missing name",
			file:      newFile("", filetype.PDF, pdfContent),
			wantError: "file must have a name",
		},
		{
			name:      "skip scan",
			file:      newFile("image.png", filetype.PNG, pngContent),
			opts:      Options{SkipScan: true},
			wantValid: true,
		},
		{
			name:        "real threat blocks",
			file:        newFile("report.pdf", filetype.PDF, pdfContent),
			verdict:     ptr(scanner.Threat("clamav", "Win.Trojan.Agent")),
			wantError:   "security threat detected: Win.Trojan.Agent",
			wantVerdict: true,
		},
	}

	for _, reason := range []string{scanner.ReasonTimeout, scanner.ReasonError, scanner.ReasonFailed, scanner.ReasonNotConfigured} {
		tests = append(tests, validateCase{
			name:         "degraded " + reason,
			file:         newFile("report.pdf", filetype.PDF, pdfContent),
			verdict:      ptr(scanner.Degraded("virustotal", reason)),
			wantValid:    true,
			wantDegraded: true,
			wantReason:   reason,
			wantVerdict:  true,
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := new(scannerMocks.MockScanner)
			if tt.verdict != nil {
				sc.On("Scan", mock.Anything, pdfContent).Return(*tt.verdict).Once()
			}
			v := New(filetype.Default(), sc, logging.Discard(), nil)

			out := v.ValidateFile(ctx, tt.file, tt.opts)

			assert.Equal(t, tt.wantValid, out.Valid)
			assert.Equal(t, tt.wantDegraded, out.ScanDegraded)
			assert.Equal(t, tt.wantReason, out.DegradedReason)
			assert.Equal(t, tt.wantError, out.Error)
			if tt.wantVerdict {
				require.NotNil(t, out.ScanVerdict)
			} else {
				assert.Nil(t, out.ScanVerdict)
			}
			if tt.wantDegraded {
				assert.True(t, out.ScanVerdict.IsClean(), "degraded scans are overridden to clean")
			}
			if tt.verdict == nil {
				sc.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
			}
			sc.AssertExpectations(t)
		})
	}
}

func TestValidator_MockScannerBlocksScript(t *testing.T) {
	data := append([]byte("%PDF-1.4\n"), []byte("<script>alert(document.cookie)</script>")...)
	v := New(filetype.Default(), scanner.NewMock(logging.Discard(), false), nil, nil)

	out := v.ValidateFile(context.Background(), newFile("invoice.pdf", filetype.PDF, data), Options{})

	assert.False(t, out.Valid)
	assert.True(t, out.TypeValidation.Valid)
	require.NotNil(t, out.ScanVerdict)
	assert.False(t, out.ScanVerdict.IsClean())
	assert.Contains(t, out.ScanVerdict.ThreatName(), "SUSPICIOUS_CONTENT:")
	assert.True(t, out.ThreatDetected())
	assert.Equal(t, "security threat detected: SUSPICIOUS_CONTENT:<script", out.Error)
}

func TestValidator_ScannerConfigOverride(t *testing.T) {
	sc := new(scannerMocks.MockScanner)
	v := New(filetype.Default(), sc, nil, nil)
	ctx := context.Background()

	t.Run("unconfigured backend degrades", func(t *testing.T) {
		out := v.ValidateFile(ctx, newFile("report.pdf", filetype.PDF, pdfContent),
			Options{ScannerConfig: &config.ScannerConfig{Provider: scanner.ProviderClamAV}})

		assert.True(t, out.Valid)
		assert.True(t, out.ScanDegraded)
		assert.Equal(t, scanner.ReasonNotConfigured, out.DegradedReason)
	})

	t.Run("unknown provider degrades", func(t *testing.T) {
		out := v.ValidateFile(ctx, newFile("report.pdf", filetype.PDF, pdfContent),
			Options{ScannerConfig: &config.ScannerConfig{Provider: "nope"}})

		assert.True(t, out.Valid)
		assert.True(t, out.ScanDegraded)
		assert.Equal(t, scanner.ReasonNotConfigured, out.DegradedReason)
	})

	sc.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestValidator_NoScanner(t *testing.T) {
	v := New(filetype.Default(), nil, nil, nil)

	out := v.ValidateFile(context.Background(), newFile("report.pdf", filetype.PDF, pdfContent), Options{})

	assert.True(t, out.Valid)
	assert.True(t, out.ScanDegraded)
	assert.Equal(t, scanner.ReasonNotConfigured, out.DegradedReason)
}

func TestValidator_UnknownSizeReadsToEOF(t *testing.T) {
	sc := new(scannerMocks.MockScanner)
	sc.On("Scan", mock.Anything, pdfContent).Return(scanner.Clean("mock")).Once()
	v := New(filetype.Default(), sc, nil, nil)

	f := newFile("report.pdf", filetype.PDF, pdfContent)
	f.Size = 0
	out := v.ValidateFile(context.Background(), f, Options{})

	assert.True(t, out.Valid)
	sc.AssertExpectations(t)
}

func TestValidator_WarningsCarriedThrough(t *testing.T) {
	v := New(filetype.Default(), nil, nil, nil)

	out := v.ValidateFile(context.Background(), newFile("image.png", filetype.JPEG, pngContent), Options{SkipScan: true})

	assert.True(t, out.Valid)
	assert.Len(t, out.TypeValidation.Warnings, 1)
	assert.Equal(t, filetype.PNG, out.TypeValidation.DetectedContentType)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	sc := new(scannerMocks.MockScanner)
	sc.On("Scan", mock.Anything, mock.Anything).Return(scanner.Degraded("clamav", scanner.ReasonTimeout)).Once()
	sc.On("Scan", mock.Anything, mock.Anything).Return(scanner.Threat("clamav", "Eicar")).Once()
	v := New(filetype.Default(), sc, nil, m)
	ctx := context.Background()

	v.ValidateFile(ctx, newFile("a.pdf", filetype.PDF, pdfContent), Options{})
	v.ValidateFile(ctx, newFile("b.pdf", filetype.PDF, pdfContent), Options{})
	v.ValidateFile(ctx, newFile("c.pdf", filetype.PDF, exeContent), Options{})
	v.ValidateFile(ctx, newFile("d.pdf", filetype.PDF, pdfContent), Options{SkipScan: true})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("degraded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("threat")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("valid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.verdicts.WithLabelValues("clamav", "degraded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.verdicts.WithLabelValues("clamav", "threat")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.scanDuration))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice on one registry fails")
}

func ptr[T any](v T) *T { return &v }
