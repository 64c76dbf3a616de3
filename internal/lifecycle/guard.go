package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRoleRequired      = errors.New("transition requires a different role")
	ErrUnknownStatus     = errors.New("unknown document status")
	ErrTerminalEdge      = errors.New("transition table has an edge out of a terminal status")
	ErrConflictingEdge   = errors.New("transition table lists an edge twice with different roles")
)

// Rule allows moving from any of From to To.
// An empty RequiredRole means the edge is open to every actor.
type Rule struct {
	From         []Status
	To           Status
	RequiredRole Role
}

// DefaultRules is the document processing lifecycle.
var DefaultRules = []Rule{
	{From: []Status{StatusUploaded}, To: StatusProcessing},
	{From: []Status{StatusProcessing}, To: StatusAnalyzed},
	{From: []Status{StatusProcessing}, To: StatusNeedsReview},
	// processing failed, hand the document back for another attempt
	{From: []Status{StatusProcessing}, To: StatusUploaded},
	{From: []Status{StatusAnalyzed, StatusNeedsReview}, To: StatusVerified, RequiredRole: RoleReviewer},
	{From: []Status{StatusAnalyzed, StatusNeedsReview}, To: StatusRejected, RequiredRole: RoleReviewer},
	// time-triggered, no role restriction
	{From: []Status{StatusUploaded, StatusAnalyzed, StatusNeedsReview}, To: StatusExpired},
}

type edge struct {
	from Status
	to   Status
}

// Guard validates status transitions against a fixed rule table.
// A Guard is immutable after construction and safe for concurrent use.
type Guard struct {
	edges map[edge]Role
	next  map[Status][]Status
}

// NewGuard indexes rules by (from, to). It fails when a rule references an
// unknown status, leaves a terminal status, or repeats an edge with a
// different required role. Exact repeats are ignored.
func NewGuard(rules []Rule) (*Guard, error) {
	g := &Guard{
		edges: make(map[edge]Role),
		next:  make(map[Status][]Status),
	}
	for _, r := range rules {
		if !r.To.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, r.To)
		}
		for _, from := range r.From {
			if !from.Valid() {
				return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, from)
			}
			if from.Terminal() {
				return nil, fmt.Errorf("%w: %s -> %s", ErrTerminalEdge, from, r.To)
			}
			e := edge{from: from, to: r.To}
			if prev, dup := g.edges[e]; dup {
				if prev != r.RequiredRole {
					return nil, fmt.Errorf("%w: %s -> %s (%q vs %q)", ErrConflictingEdge, from, r.To, prev, r.RequiredRole)
				}
				continue
			}
			g.edges[e] = r.RequiredRole
			g.next[from] = append(g.next[from], r.To)
		}
	}
	return g, nil
}

var defaultGuard = mustGuard(DefaultRules)

func mustGuard(rules []Rule) *Guard {
	g, err := NewGuard(rules)
	if err != nil {
		panic(err)
	}
	return g
}

// DefaultGuard returns the guard built from DefaultRules.
func DefaultGuard() *Guard {
	return defaultGuard
}

// IsValidTransition reports whether role may move a document from one status to another.
// Pairs without a rule are never valid, whatever the role.
func (g *Guard) IsValidTransition(from, to Status, role Role) bool {
	return g.check(from, to, role) == nil
}

// AssertValidTransition returns a *TransitionError when the transition is not allowed.
func (g *Guard) AssertValidTransition(from, to Status, role Role) error {
	return g.check(from, to, role)
}

// ValidNextStates lists the statuses reachable from from, in rule order.
// Terminal and unknown statuses yield an empty slice.
func (g *Guard) ValidNextStates(from Status) []Status {
	next := g.next[from]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

func (g *Guard) check(from, to Status, role Role) error {
	required, ok := g.edges[edge{from: from, to: to}]
	if !ok {
		return &TransitionError{From: from, To: to, Role: role, Allowed: g.ValidNextStates(from), err: ErrInvalidTransition}
	}
	if required != RoleNone && required != role {
		return &TransitionError{From: from, To: to, Role: role, Required: required, Allowed: g.ValidNextStates(from), err: ErrRoleRequired}
	}
	return nil
}

// TransitionError describes a rejected transition together with the
// statuses that would have been accepted from the same starting point.
type TransitionError struct {
	From     Status
	To       Status
	Role     Role
	Required Role
	Allowed  []Status
	err      error
}

func (e *TransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	list := strings.Join(allowed, ", ")
	if list == "" {
		list = "none"
	}
	if e.Required != RoleNone {
		return fmt.Sprintf("transition %s -> %s requires role %q (got %q); valid next states: %s",
			e.From, e.To, e.Required, e.Role, list)
	}
	return fmt.Sprintf("invalid transition %s -> %s; valid next states: %s", e.From, e.To, list)
}

func (e *TransitionError) Unwrap() error {
	return e.err
}
