package model

import (
	"time"

	"docgate/internal/lifecycle"
)

// Document represents a stored file in the system.
// This is a pure domain model with no database-specific dependencies or tags.
// It can be used across layers (HTTP, service, storage) without coupling to persistence.
type Document struct {
	ID          string           `json:"id"`
	Filename    string           `json:"filename"`
	StoragePath string           `json:"storage_path"`
	Size        int64            `json:"size"`
	ContentType string           `json:"content_type"`
	Status      lifecycle.Status `json:"status"`
	// ScanDegraded marks uploads accepted while the malware scanner was unavailable.
	ScanDegraded bool       `json:"scan_degraded"`
	ScanProvider string     `json:"scan_provider,omitempty"`
	ThreatName   string     `json:"threat_name,omitempty"`
	ScannedAt    *time.Time `json:"scanned_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ScanRecord is the persisted part of a scan verdict.
type ScanRecord struct {
	Degraded   bool
	Provider   string
	ThreatName string
	ScannedAt  time.Time
}
