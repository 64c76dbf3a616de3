package lifecycle

import "fmt"

// Status is the processing status of a stored document.
// The authoritative value lives in the record store; this package only
// validates proposed changes to it.
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusProcessing  Status = "processing"
	StatusAnalyzed    Status = "analyzed"
	StatusNeedsReview Status = "needs_review"
	StatusVerified    Status = "verified"
	StatusRejected    Status = "rejected"
	StatusExpired     Status = "expired"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusUploaded,
	StatusProcessing,
	StatusAnalyzed,
	StatusNeedsReview,
	StatusVerified,
	StatusRejected,
	StatusExpired,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerified, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, v)
	}
	return s, nil
}

// Role identifies the kind of actor requesting a transition.
// The empty Role means "no particular role".
type Role string

const (
	RoleNone     Role = ""
	RoleReviewer Role = "reviewer"
	RoleSystem   Role = "system"
	RoleUploader Role = "uploader"
)
