package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultVirusTotalURL = "https://www.virustotal.com/api/v3"

	// 30 polls two seconds apart give the analysis a 60s budget.
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 30
	pollRequestTimeout  = 10 * time.Second
)

var errNoAnalysisID = errors.New("virustotal: submission returned no analysis id")

// VirusTotal uploads files to the VirusTotal v3 API and polls the analysis
// until it completes or the attempt budget runs out.
type VirusTotal struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	PollInterval time.Duration
	MaxAttempts  int
	// PollBudget bounds the whole poll loop. Zero means PollInterval*MaxAttempts.
	PollBudget time.Duration
}

type vtSubmitResponse struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

type vtAnalysisResponse struct {
	Data struct {
		Attributes struct {
			Status string `json:"status"`
			Stats  struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Undetected int `json:"undetected"`
				Harmless   int `json:"harmless"`
			} `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

func NewVirusTotal(apiKey, baseURL string, client *http.Client, logger *slog.Logger) *VirusTotal {
	if baseURL == "" {
		baseURL = DefaultVirusTotalURL
	}
	return &VirusTotal{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		logger:       logger,
		PollInterval: defaultPollInterval,
		MaxAttempts:  defaultMaxAttempts,
	}
}

// Scan fails closed with SCANNER_NOT_CONFIGURED when no API key is set.
func (v *VirusTotal) Scan(ctx context.Context, data []byte) Verdict {
	if v.apiKey == "" {
		return Degraded(ProviderVirusTotal, ReasonNotConfigured)
	}

	id, err := v.submit(ctx, data)
	if err != nil {
		v.logger.Warn("scan_failed",
			"component", "scanner",
			"provider", ProviderVirusTotal,
			"reason", ReasonError,
			"error", err.Error(),
		)
		return Degraded(ProviderVirusTotal, ReasonError)
	}

	budget := v.PollBudget
	if budget <= 0 {
		budget = v.PollInterval * time.Duration(v.MaxAttempts)
	}
	// one deadline over every poll, slow responses included
	pollCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	attempt := 0
	for attempt < v.MaxAttempts {
		select {
		case <-pollCtx.Done():
			return v.pollExpired(ctx, id, attempt)
		case <-time.After(v.PollInterval):
		}
		attempt++

		analysis, err := v.poll(pollCtx, id)
		if err != nil {
			if pollCtx.Err() != nil {
				return v.pollExpired(ctx, id, attempt)
			}
			// a single failed poll is not fatal, keep going
			v.logger.Debug("scan_poll_failed",
				"component", "scanner",
				"provider", ProviderVirusTotal,
				"analysis_id", id,
				"attempt", attempt,
				"error", err.Error(),
			)
			continue
		}
		if analysis.Data.Attributes.Status != "completed" {
			continue
		}

		stats := analysis.Data.Attributes.Stats
		switch {
		case stats.Malicious > 0:
			return Threat(ProviderVirusTotal, ThreatMalware)
		case stats.Suspicious > 0:
			return Threat(ProviderVirusTotal, ThreatSuspicious)
		default:
			return Clean(ProviderVirusTotal)
		}
	}

	return v.pollExpired(ctx, id, attempt)
}

// pollExpired reports SCAN_TIMEOUT when the poll budget ran out and
// SCAN_ERROR when the caller's own context was cancelled.
func (v *VirusTotal) pollExpired(ctx context.Context, id string, attempts int) Verdict {
	reason := ReasonTimeout
	if ctx.Err() != nil {
		reason = ReasonError
	}
	v.logger.Warn("scan_failed",
		"component", "scanner",
		"provider", ProviderVirusTotal,
		"reason", reason,
		"analysis_id", id,
		"attempts", attempts,
	)
	return Degraded(ProviderVirusTotal, reason)
}

func (v *VirusTotal) submit(ctx context.Context, data []byte) (string, error) {
	body, contentType, err := multipartFile(data)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, SubmitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/files", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-apikey", v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("virustotal: submit returned status %d", resp.StatusCode)
	}

	var out vtSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("virustotal: decode submit response: %w", err)
	}
	if out.Data.ID == "" {
		return "", errNoAnalysisID
	}
	return out.Data.ID, nil
}

func (v *VirusTotal) poll(ctx context.Context, id string) (*vtAnalysisResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, pollRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/analyses/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("virustotal: analysis returned status %d", resp.StatusCode)
	}

	var out vtAnalysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("virustotal: decode analysis: %w", err)
	}
	return &out, nil
}
