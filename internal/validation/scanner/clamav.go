package scanner

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// ClamAV submits files to a ClamAV REST gateway. The gateway answers
// POST {endpoint}/scan with {"clean": bool, "threat": "name"}.
type ClamAV struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

type clamavResponse struct {
	Clean  bool   `json:"clean"`
	Threat string `json:"threat"`
}

func NewClamAV(endpoint string, client *http.Client, logger *slog.Logger) *ClamAV {
	return &ClamAV{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		logger:   logger,
	}
}

// Scan fails closed with SCANNER_NOT_CONFIGURED when no endpoint is set.
func (c *ClamAV) Scan(ctx context.Context, data []byte) Verdict {
	if c.endpoint == "" {
		return Degraded(ProviderClamAV, ReasonNotConfigured)
	}

	body, contentType, err := multipartFile(data)
	if err != nil {
		c.logFailure(ReasonError, err)
		return Degraded(ProviderClamAV, ReasonError)
	}

	ctx, cancel := context.WithTimeout(ctx, SubmitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/scan", body)
	if err != nil {
		c.logFailure(ReasonError, err)
		return Degraded(ProviderClamAV, ReasonError)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logFailure(ReasonError, err)
		return Degraded(ProviderClamAV, ReasonError)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("scan_failed",
			"component", "scanner",
			"provider", ProviderClamAV,
			"reason", ReasonFailed,
			"http_status", resp.StatusCode,
		)
		return Degraded(ProviderClamAV, ReasonFailed)
	}

	var out clamavResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logFailure(ReasonError, err)
		return Degraded(ProviderClamAV, ReasonError)
	}

	if out.Clean {
		return Clean(ProviderClamAV)
	}
	threat := out.Threat
	if threat == "" {
		threat = ThreatMalware
	}
	return Threat(ProviderClamAV, threat)
}

func (c *ClamAV) logFailure(reason string, err error) {
	c.logger.Warn("scan_failed",
		"component", "scanner",
		"provider", ProviderClamAV,
		"reason", reason,
		"error", err.Error(),
	)
}
