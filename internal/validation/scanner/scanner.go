// Package scanner produces clean/degraded/threat verdicts for file content
// through pluggable backends.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"docgate/internal/config"
	"docgate/internal/logging"
)

const (
	ProviderMock       = "mock"
	ProviderClamAV     = "clamav"
	ProviderVirusTotal = "virustotal"
)

// SubmitTimeout bounds a single upload to an external scanning service.
const SubmitTimeout = 60 * time.Second

var ErrUnknownProvider = errors.New("unknown scanner provider")

// Scanner scans file content. Implementations hold no per-call state and
// must never return without a verdict.
type Scanner interface {
	Scan(ctx context.Context, data []byte) Verdict
}

// New builds the backend named by cfg.Provider.
func New(cfg config.ScannerConfig, logger *slog.Logger) (Scanner, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	client := NewHTTPClient()

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderMock, "":
		return NewMock(logger, cfg.Production()), nil
	case ProviderClamAV:
		return NewClamAV(cfg.ClamAVEndpoint, client, logger), nil
	case ProviderVirusTotal:
		return NewVirusTotal(cfg.VirusTotalAPIKey, cfg.VirusTotalBaseURL, client, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// NewHTTPClient returns a client whose requests are traced.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// multipartFile encodes data as a single "file" form field.
func multipartFile(data []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "upload.bin")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}
