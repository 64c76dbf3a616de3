package scanner

import (
	"context"
	"log/slog"
	"strings"
)

// mockScanWindow is how much of the file the mock backend looks at.
const mockScanWindow = 1000

var suspiciousPatterns = []string{
	"<script",
	"javascript:",
	"vbscript:",
	"<?php",
	"#!/bin/sh",
	"#!/bin/bash",
	"/bin/sh",
	"/bin/bash",
	"cmd.exe",
	"powershell",
	"eval(",
	"exec(",
	"system(",
	"onerror=",
	"onload=",
}

// Mock is a heuristic text matcher for development and tests. It is not a
// malware scanner.
type Mock struct {
	logger     *slog.Logger
	production bool
}

func NewMock(logger *slog.Logger, production bool) *Mock {
	return &Mock{logger: logger, production: production}
}

// Scan looks for script and shell markers in the first bytes of data.
func (m *Mock) Scan(_ context.Context, data []byte) Verdict {
	if m.production {
		m.logger.Warn("mock_scanner_in_production",
			"component", "scanner",
			"provider", ProviderMock,
			"detail", "uploads are not being scanned for malware",
		)
	}

	window := data
	if len(window) > mockScanWindow {
		window = window[:mockScanWindow]
	}
	text := strings.ToLower(strings.ToValidUTF8(string(window), "\uFFFD"))

	for _, p := range suspiciousPatterns {
		if strings.Contains(text, p) {
			return Threat(ProviderMock, ThreatSuspiciousContent+":"+p)
		}
	}
	return Clean(ProviderMock)
}
