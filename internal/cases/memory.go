package cases

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"distress.org/internal/audit"
	"distress.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and the smoke scenario; production uses the PostgreSQL store.
type InMemory struct {
	mu          sync.RWMutex
	cases       map[string]*Case
	assignments map[string]*Assignment
	folioSeq    map[int]int
	auditLog    audit.Store
	now         func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store writing audit entries to the given log.
func NewInMemory(auditLog audit.Store) *InMemory {
	if auditLog == nil {
		auditLog = audit.NewInMemory()
	}
	return &InMemory{
		cases:       make(map[string]*Case),
		assignments: make(map[string]*Assignment),
		folioSeq:    make(map[int]int),
		auditLog:    auditLog,
		now:         time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *InMemory) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Audit exposes the underlying audit store.
func (s *InMemory) Audit() audit.Store { return s.auditLog }

func (s *InMemory) CreateCase(ctx context.Context, in NewCase) (*Case, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, fmt.Errorf("%w: created_by is required", ErrInvalidInput)
	}
	priority, ok := ParsePriority(string(in.Priority))
	if !ok {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	year := now.Year()
	s.folioSeq[year]++
	c := &Case{
		ID:          ids.New(),
		FolioNumber: FormatFolio(year, s.folioSeq[year]),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      StatusPending,
		Priority:    priority,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.cases[c.ID] = c
	return c.Clone(), nil
}

func (s *InMemory) GetCase(ctx context.Context, id string) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemory) ListCases(ctx context.Context, f Filter) ([]*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	all := make([]*Case, 0, len(s.cases))
	for _, c := range s.cases {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Priority != "" && c.Priority != f.Priority {
			continue
		}
		if f.AssignedTo != "" && c.AssignedTo != f.AssignedTo {
			continue
		}
		if f.CreatedBy != "" && c.CreatedBy != f.CreatedBy {
			continue
		}
		all = append(all, c)
	}
	// Newest first, matching the durable store's ordering.
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	res := make([]*Case, len(all))
	for i, c := range all {
		res[i] = c.Clone()
	}
	return res, nil
}

func (s *InMemory) UpdateCase(ctx context.Context, id string, upd CaseUpdate, actorID string) (*Case, error) {
	if upd.empty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status == StatusResolved && (upd.Title != nil || upd.Description != nil || upd.Priority != nil) {
		return nil, fmt.Errorf("%w: resolved case accepts only resolution notes", ErrInvalidInput)
	}

	if upd.Title != nil {
		t := strings.TrimSpace(*upd.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
		}
		c.Title = t
	}
	if upd.Description != nil {
		c.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Priority != nil {
		p, ok := ParsePriority(string(*upd.Priority))
		if !ok {
			return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, *upd.Priority)
		}
		c.Priority = p
	}
	if upd.ResolutionNotes != nil {
		c.ResolutionNotes = strings.TrimSpace(*upd.ResolutionNotes)
	}
	c.UpdatedAt = s.now().UTC()
	return c.Clone(), nil
}

func (s *InMemory) Assign(ctx context.Context, caseID, assignedBy, assignedTo, instructions string) (*Assignment, *Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if s.activeLocked(caseID) != nil {
		return nil, nil, ErrAlreadyAssigned
	}

	before := c.Clone()
	now := s.now().UTC()
	switch c.Status {
	case StatusPending:
		if err := Transition(c, StatusAssigned, TransitionFields{AssignedTo: assignedTo}, now); err != nil {
			return nil, nil, err
		}
	case StatusAssigned, StatusInProgress:
		// Already past assigned; keep status, relink the handler.
		c.AssignedTo = assignedTo
		c.UpdatedAt = now
	default:
		return nil, nil, &TransitionError{From: c.Status, To: StatusAssigned}
	}

	a := &Assignment{
		ID:           ids.New(),
		CaseID:       caseID,
		AssignedBy:   assignedBy,
		AssignedTo:   assignedTo,
		Instructions: strings.TrimSpace(instructions),
		Status:       AssignmentActive,
		CreatedAt:    now,
	}
	s.assignments[a.ID] = a

	s.appendAudit(ctx, assignedBy, audit.ActionCaseAssigned, audit.EntityCase, c.ID, before, c)
	return a.Clone(), c.Clone(), nil
}

func (s *InMemory) Reassign(ctx context.Context, assignmentID, newAssignee, reason, actorID string) (*Assignment, *Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.assignments[assignmentID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if old.Status != AssignmentActive {
		return nil, nil, fmt.Errorf("%w: assignment %s is %s", ErrInvalidTransition, assignmentID, old.Status)
	}
	c, ok := s.cases[old.CaseID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	before := c.Clone()
	now := s.now().UTC()
	old.Status = AssignmentReassigned
	t := now
	old.CompletedAt = &t

	next := &Assignment{
		ID:           ids.New(),
		CaseID:       old.CaseID,
		AssignedBy:   actorID,
		AssignedTo:   newAssignee,
		Instructions: strings.TrimSpace(reason),
		Status:       AssignmentActive,
		CreatedAt:    now,
	}
	s.assignments[next.ID] = next
	c.AssignedTo = newAssignee
	c.UpdatedAt = now

	if err := s.verifySingleActiveLocked(old.CaseID); err != nil {
		return nil, nil, err
	}
	s.appendAudit(ctx, actorID, audit.ActionCaseReassigned, audit.EntityAssignment, next.ID, before, c)
	return next.Clone(), c.Clone(), nil
}

func (s *InMemory) Complete(ctx context.Context, assignmentID, notes, actorID string) (*Assignment, *Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[assignmentID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if a.Status != AssignmentActive {
		return nil, nil, fmt.Errorf("%w: assignment %s is %s", ErrInvalidTransition, assignmentID, a.Status)
	}
	c, ok := s.cases[a.CaseID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	before := c.Clone()
	now := s.now().UTC()
	if err := Transition(c, StatusResolved, TransitionFields{ResolutionNotes: notes, ViaAssignment: true}, now); err != nil {
		return nil, nil, err
	}
	a.Status = AssignmentCompleted
	t := now
	a.CompletedAt = &t
	a.CompletionNotes = strings.TrimSpace(notes)

	s.appendAudit(ctx, actorID, audit.ActionCaseCompleted, audit.EntityCase, c.ID, before, c)
	return a.Clone(), c.Clone(), nil
}

func (s *InMemory) Unassign(ctx context.Context, caseID, actorID string) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	a := s.activeLocked(caseID)
	if a == nil {
		return nil, fmt.Errorf("%w: case %s has no active assignment", ErrNotFound, caseID)
	}

	before := c.Clone()
	now := s.now().UTC()
	if err := Transition(c, StatusPending, TransitionFields{}, now); err != nil {
		return nil, err
	}
	a.Status = AssignmentCompleted
	t := now
	a.CompletedAt = &t
	a.CompletionNotes = "unassigned by administrator"

	s.appendAudit(ctx, actorID, audit.ActionCaseUnassigned, audit.EntityCase, c.ID, before, c)
	return c.Clone(), nil
}

func (s *InMemory) ApplyTransition(ctx context.Context, caseID string, to Status, fields TransitionFields, actorID string) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	before := c.Clone()
	if err := Transition(c, to, fields, s.now().UTC()); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, actorID, audit.ActionCaseTransitioned, audit.EntityCase, c.ID, before, c)
	return c.Clone(), nil
}

func (s *InMemory) GetAssignment(ctx context.Context, id string) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *InMemory) ActiveAssignment(ctx context.Context, caseID string) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := s.activeLocked(caseID)
	if a == nil {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *InMemory) ListAssignments(ctx context.Context, caseID string) ([]*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Assignment
	for _, a := range s.assignments {
		if a.CaseID == caseID {
			res = append(res, a.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *InMemory) activeLocked(caseID string) *Assignment {
	for _, a := range s.assignments {
		if a.CaseID == caseID && a.Status == AssignmentActive {
			return a
		}
	}
	return nil
}

func (s *InMemory) verifySingleActiveLocked(caseID string) error {
	n := 0
	for _, a := range s.assignments {
		if a.CaseID == caseID && a.Status == AssignmentActive {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("cases: postcondition violated: %d active assignments for case %s", n, caseID)
	}
	return nil
}

func (s *InMemory) appendAudit(ctx context.Context, actorID, action, entityType, entityID string, oldValue, newValue any) {
	e, err := audit.NewEntry(actorID, action, entityType, entityID, oldValue, newValue)
	if err != nil {
		return
	}
	_ = s.auditLog.Append(ctx, e)
}
