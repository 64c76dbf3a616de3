package scanner

import "time"

// VerdictKind tells a clean file, a scan that could not run, and a detected
// threat apart without string matching on the reason.
type VerdictKind string

const (
	KindClean    VerdictKind = "clean"
	KindDegraded VerdictKind = "degraded"
	KindThreat   VerdictKind = "threat"
)

// Reasons a scan could not produce a real verdict.
const (
	ReasonTimeout       = "SCAN_TIMEOUT"
	ReasonError         = "SCAN_ERROR"
	ReasonFailed        = "SCAN_FAILED"
	ReasonNotConfigured = "SCANNER_NOT_CONFIGURED"
)

// Threat names reported by the external backends.
const (
	ThreatMalware    = "MALWARE_DETECTED"
	ThreatSuspicious = "SUSPICIOUS_DETECTED"
	// ThreatSuspiciousContent prefixes the pattern matched by the mock backend.
	ThreatSuspiciousContent = "SUSPICIOUS_CONTENT"
)

// Verdict is the result of one scan.
type Verdict struct {
	Kind VerdictKind `json:"kind"`
	// Reason is the degradation reason or the threat name; empty when clean.
	Reason    string    `json:"reason,omitempty"`
	Provider  string    `json:"provider"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Clean returns a verdict for a file with no findings.
func Clean(provider string) Verdict {
	return Verdict{Kind: KindClean, Provider: provider, ScannedAt: time.Now().UTC()}
}

// Degraded returns a verdict for a scan the infrastructure could not complete.
func Degraded(provider, reason string) Verdict {
	return Verdict{Kind: KindDegraded, Reason: reason, Provider: provider, ScannedAt: time.Now().UTC()}
}

// Threat returns a verdict for a file the backend flagged.
func Threat(provider, name string) Verdict {
	return Verdict{Kind: KindThreat, Reason: name, Provider: provider, ScannedAt: time.Now().UTC()}
}

// IsClean reports whether the scan found nothing.
func (v Verdict) IsClean() bool { return v.Kind == KindClean }

// IsDegraded reports whether the scanner failed rather than the file.
func (v Verdict) IsDegraded() bool { return v.Kind == KindDegraded }

// ThreatName returns the threat or degradation reason, empty when clean.
func (v Verdict) ThreatName() string { return v.Reason }
