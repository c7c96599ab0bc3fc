package cases

import (
	"time"

	"distress.org/internal/obs"
)

// legalTransitions is the full transition table. A pair absent here is
// rejected with a TransitionError naming the attempted move.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusAssigned: true,
	},
	StatusAssigned: {
		StatusInProgress: true,
		StatusPending:    true, // administrative unassign
		StatusResolved:   true, // only via assignment completion
	},
	StatusInProgress: {
		StatusResolved: true,
		StatusPending:  true, // administrative unassign
	},
	StatusResolved: {},
}

// CanTransition reports whether the move appears in the transition table,
// before assignment-path restrictions are applied.
func CanTransition(from, to Status) bool {
	return legalTransitions[from][to]
}

// Transition validates and applies a status change to the case, in place,
// together with its required side effects:
//
//	pending    -> assigned:    set AssignedTo, set FirstRespondedAt if unset
//	assigned   -> in_progress: status write only
//	assigned   -> pending:     clear AssignedTo
//	in_progress-> pending:     clear AssignedTo
//	*          -> resolved:    set ResolvedAt; requires fields.ViaAssignment
//
// Resolution without notes is permitted but logged as a warning: the case
// record stays consistent while the gap is visible operationally.
func Transition(c *Case, to Status, fields TransitionFields, now time.Time) error {
	from := c.Status
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	if to == StatusResolved && !fields.ViaAssignment {
		return &TransitionError{From: from, To: to}
	}

	now = now.UTC()
	switch to {
	case StatusAssigned:
		if fields.AssignedTo == "" {
			return &TransitionError{From: from, To: to}
		}
		c.AssignedTo = fields.AssignedTo
		if c.FirstRespondedAt == nil {
			t := now
			c.FirstRespondedAt = &t
		}
	case StatusPending:
		c.AssignedTo = ""
	case StatusResolved:
		if c.ResolvedAt == nil {
			t := now
			c.ResolvedAt = &t
		}
		if fields.ResolutionNotes != "" {
			c.ResolutionNotes = fields.ResolutionNotes
		}
		if c.ResolutionNotes == "" {
			obs.Warn("case resolved without resolution notes", map[string]any{
				"case_id": c.ID,
			})
		}
	}

	c.Status = to
	c.UpdatedAt = now
	obs.ObserveCaseTransition(string(from), string(to))
	return nil
}
