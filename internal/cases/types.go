package cases

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a distress case.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

// ParseStatus validates a lifecycle status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusAssigned, StatusInProgress, StatusResolved:
		return Status(s), true
	default:
		return "", false
	}
}

// Priority orders cases for dispatch.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority normalizes a priority string; empty defaults to medium.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case "":
		return PriorityMedium, true
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(s), true
	default:
		return "", false
	}
}

// Case is a distress case tracked from intake to resolution. AssignedTo is
// empty exactly when no assignment path has placed the case with a handler.
type Case struct {
	ID               string     `json:"id"`
	FolioNumber      string     `json:"folio_number"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           Status     `json:"status"`
	Priority         Priority   `json:"priority"`
	CreatedBy        string     `json:"created_by"`
	AssignedTo       string     `json:"assigned_to,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	FirstRespondedAt *time.Time `json:"first_responded_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes  string     `json:"resolution_notes,omitempty"`
}

// Clone returns a deep copy of the case.
func (c *Case) Clone() *Case {
	out := *c
	if c.FirstRespondedAt != nil {
		t := *c.FirstRespondedAt
		out.FirstRespondedAt = &t
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// AssignmentStatus is the lifecycle state of one case-handler linkage.
type AssignmentStatus string

const (
	AssignmentActive     AssignmentStatus = "active"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentReassigned AssignmentStatus = "reassigned"
)

// Assignment links a case to its current or former handler. For any case at
// most one assignment is active at a time.
type Assignment struct {
	ID              string           `json:"id"`
	CaseID          string           `json:"case_id"`
	AssignedBy      string           `json:"assigned_by"`
	AssignedTo      string           `json:"assigned_to"`
	Instructions    string           `json:"instructions,omitempty"`
	Status          AssignmentStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CompletionNotes string           `json:"completion_notes,omitempty"`
}

// Clone returns a deep copy of the assignment.
func (a *Assignment) Clone() *Assignment {
	out := *a
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// NewCase is the intake payload for creating a case.
type NewCase struct {
	Title       string
	Description string
	Priority    Priority
	CreatedBy   string
}

// CaseUpdate is the explicit allow-list of mutable case fields. Unknown
// fields are rejected at the boundary, not filtered at runtime. Once a case
// is resolved only ResolutionNotes may change.
type CaseUpdate struct {
	Title           *string
	Description     *string
	Priority        *Priority
	ResolutionNotes *string
}

func (u CaseUpdate) empty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil && u.ResolutionNotes == nil
}

// Filter narrows case listings.
type Filter struct {
	Status     Status
	Priority   Priority
	AssignedTo string
	CreatedBy  string
	Limit      int
	Offset     int
}

// TransitionFields carries the companion data of a status transition.
type TransitionFields struct {
	AssignedTo      string
	ResolutionNotes string
	// ViaAssignment marks a transition driven by the assignment ledger. A
	// direct move to resolved without it is rejected.
	ViaAssignment bool
}

var (
	ErrNotFound         = errors.New("cases: not found")
	ErrAlreadyAssigned  = errors.New("cases: case already has an active assignment")
	ErrPermissionDenied = errors.New("cases: permission denied")
	ErrInvalidInput     = errors.New("cases: invalid input")
	ErrUnavailable      = errors.New("cases: store unavailable")

	// ErrInvalidTransition matches any TransitionError via errors.Is.
	ErrInvalidTransition = errors.New("cases: invalid transition")
)

// TransitionError names the rejected from/to pair. The machine never clamps
// or coerces an illegal transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cases: invalid transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// FolioPrefix is the human-facing case number prefix.
const FolioPrefix = "DST"

// FormatFolio renders a folio number, unique per year:
// <prefix><year><zero-padded sequence>.
func FormatFolio(year, seq int) string {
	return fmt.Sprintf("%s%d%05d", FolioPrefix, year, seq)
}
