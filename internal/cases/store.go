package cases

import "context"

// Store persists cases and assignments. Every transition operation is
// atomic: the case write, its companion assignment write and the audit entry
// commit together or not at all. Concurrent callers racing for the same case
// must observe first-assignment-wins semantics, with the loser receiving
// ErrAlreadyAssigned.
//
// CreateCase and UpdateCase do not write audit entries themselves; the
// engine appends those after commit and degrades gracefully if the append
// fails.
type Store interface {
	CreateCase(ctx context.Context, in NewCase) (*Case, error)
	GetCase(ctx context.Context, id string) (*Case, error)
	ListCases(ctx context.Context, f Filter) ([]*Case, error)
	// UpdateCase applies the allow-listed fields. After resolution only
	// ResolutionNotes may change.
	UpdateCase(ctx context.Context, id string, upd CaseUpdate, actorID string) (*Case, error)

	// Assign opens the first active assignment for a case and drives the
	// case to assigned (keeping in_progress if it is already past that).
	Assign(ctx context.Context, caseID, assignedBy, assignedTo, instructions string) (*Assignment, *Case, error)
	// Reassign closes the active assignment as reassigned and opens a new
	// active one for the same case. Postcondition: exactly one active
	// assignment remains.
	Reassign(ctx context.Context, assignmentID, newAssignee, reason, actorID string) (*Assignment, *Case, error)
	// Complete closes the assignment as completed and resolves the case.
	Complete(ctx context.Context, assignmentID, notes, actorID string) (*Assignment, *Case, error)
	// Unassign closes the active assignment with a system note and reverts
	// the case to pending.
	Unassign(ctx context.Context, caseID, actorID string) (*Case, error)

	// ApplyTransition is the lower-level primitive for direct administrative
	// status edits, still subject to the state machine.
	ApplyTransition(ctx context.Context, caseID string, to Status, fields TransitionFields, actorID string) (*Case, error)

	GetAssignment(ctx context.Context, id string) (*Assignment, error)
	ActiveAssignment(ctx context.Context, caseID string) (*Assignment, error)
	ListAssignments(ctx context.Context, caseID string) ([]*Assignment, error)
}
