package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"distress.org/internal/audit"
	"distress.org/internal/cases"
	"distress.org/internal/ids"
)

const caseColumns = `id, folio_number, title, description, status, priority,
	created_by, coalesce(assigned_to,''), created_at, updated_at,
	first_responded_at, resolved_at, coalesce(resolution_notes,'')`

const assignmentColumns = `id, case_id, assigned_by, assigned_to,
	coalesce(instructions,''), status, created_at, completed_at,
	coalesce(completion_notes,'')`

func (s *Store) CreateCase(ctx context.Context, in cases.NewCase) (*cases.Case, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", cases.ErrInvalidInput)
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, fmt.Errorf("%w: created_by is required", cases.ErrInvalidInput)
	}
	priority, ok := cases.ParsePriority(string(in.Priority))
	if !ok {
		return nil, fmt.Errorf("%w: unknown priority %q", cases.ErrInvalidInput, in.Priority)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	// The folio sequence is claimed inside the insert transaction; the
	// counter row lock serializes concurrent intakes within a year.
	now := time.Now().UTC()
	year := now.Year()
	var seq int
	if err := tx.QueryRowContext(ctx, `
		insert into folio_counters(year, seq) values ($1, 1)
		on conflict (year) do update set seq = folio_counters.seq + 1
		returning seq
	`, year).Scan(&seq); err != nil {
		return nil, mapErr(err)
	}

	c := &cases.Case{
		ID:          ids.New(),
		FolioNumber: cases.FormatFolio(year, seq),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      cases.StatusPending,
		Priority:    priority,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into cases(id, folio_number, title, description, status, priority, created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.ID, c.FolioNumber, c.Title, c.Description, c.Status, c.Priority, c.CreatedBy, c.CreatedAt, c.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (s *Store) GetCase(ctx context.Context, id string) (*cases.Case, error) {
	row := s.db.QueryRowContext(ctx, `select `+caseColumns+` from cases where id=$1`, id)
	return scanCase(row)
}

func (s *Store) ListCases(ctx context.Context, f cases.Filter) ([]*cases.Case, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.Priority != "" {
		add("priority=$%d", string(f.Priority))
	}
	if f.AssignedTo != "" {
		add("assigned_to=$%d", f.AssignedTo)
	}
	if f.CreatedBy != "" {
		add("created_by=$%d", f.CreatedBy)
	}
	query := `select ` + caseColumns + ` from cases`
	if len(conds) > 0 {
		query += ` where ` + strings.Join(conds, " and ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` order by created_at desc limit $%d`, len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(` offset $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var res []*cases.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, mapErr(rows.Err())
}

func (s *Store) UpdateCase(ctx context.Context, id string, upd cases.CaseUpdate, actorID string) (*cases.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := s.lockCase(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == cases.StatusResolved && (upd.Title != nil || upd.Description != nil || upd.Priority != nil) {
		return nil, fmt.Errorf("%w: resolved case accepts only resolution notes", cases.ErrInvalidInput)
	}
	if upd.Title != nil {
		t := strings.TrimSpace(*upd.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title is required", cases.ErrInvalidInput)
		}
		c.Title = t
	}
	if upd.Description != nil {
		c.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Priority != nil {
		p, ok := cases.ParsePriority(string(*upd.Priority))
		if !ok {
			return nil, fmt.Errorf("%w: unknown priority %q", cases.ErrInvalidInput, *upd.Priority)
		}
		c.Priority = p
	}
	if upd.ResolutionNotes != nil {
		c.ResolutionNotes = strings.TrimSpace(*upd.ResolutionNotes)
	}
	c.UpdatedAt = time.Now().UTC()

	if err := s.writeCase(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (s *Store) Assign(ctx context.Context, caseID, assignedBy, assignedTo, instructions string) (*cases.Assignment, *cases.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := s.lockCase(ctx, tx, caseID)
	if err != nil {
		return nil, nil, err
	}

	// First-assignment-wins: the check runs under the case row lock, and the
	// partial unique index backs it up should two transactions ever slip by.
	var active int
	if err := tx.QueryRowContext(ctx,
		`select count(*) from assignments where case_id=$1 and status='active'`, caseID,
	).Scan(&active); err != nil {
		return nil, nil, mapErr(err)
	}
	if active > 0 {
		return nil, nil, cases.ErrAlreadyAssigned
	}

	before := c.Clone()
	now := time.Now().UTC()
	switch c.Status {
	case cases.StatusPending:
		if err := cases.Transition(c, cases.StatusAssigned, cases.TransitionFields{AssignedTo: assignedTo}, now); err != nil {
			return nil, nil, err
		}
	case cases.StatusAssigned, cases.StatusInProgress:
		c.AssignedTo = assignedTo
		c.UpdatedAt = now
	default:
		return nil, nil, &cases.TransitionError{From: c.Status, To: cases.StatusAssigned}
	}

	a := &cases.Assignment{
		ID:           ids.New(),
		CaseID:       caseID,
		AssignedBy:   assignedBy,
		AssignedTo:   assignedTo,
		Instructions: strings.TrimSpace(instructions),
		Status:       cases.AssignmentActive,
		CreatedAt:    now,
	}
	if err := s.insertAssignment(ctx, tx, a); err != nil {
		return nil, nil, err
	}
	if err := s.writeCase(ctx, tx, c); err != nil {
		return nil, nil, err
	}
	if err := s.insertAudit(ctx, tx, assignedBy, audit.ActionCaseAssigned, audit.EntityCase, c.ID, before, c); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, mapErr(err)
	}
	return a, c, nil
}

func (s *Store) Reassign(ctx context.Context, assignmentID, newAssignee, reason, actorID string) (*cases.Assignment, *cases.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Every writer takes the case row lock before any assignment row lock; an
	// unlocked read resolves the case id first so the order holds here too.
	ref, err := s.findAssignment(ctx, tx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.lockCase(ctx, tx, ref.CaseID)
	if err != nil {
		return nil, nil, err
	}
	old, err := s.lockAssignment(ctx, tx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	if old.Status != cases.AssignmentActive {
		return nil, nil, fmt.Errorf("%w: assignment %s is %s", cases.ErrInvalidTransition, assignmentID, old.Status)
	}

	before := c.Clone()
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update assignments set status='reassigned', completed_at=$2 where id=$1
	`, old.ID, now); err != nil {
		return nil, nil, mapErr(err)
	}

	next := &cases.Assignment{
		ID:           ids.New(),
		CaseID:       old.CaseID,
		AssignedBy:   actorID,
		AssignedTo:   newAssignee,
		Instructions: strings.TrimSpace(reason),
		Status:       cases.AssignmentActive,
		CreatedAt:    now,
	}
	if err := s.insertAssignment(ctx, tx, next); err != nil {
		return nil, nil, err
	}

	c.AssignedTo = newAssignee
	c.UpdatedAt = now
	if err := s.writeCase(ctx, tx, c); err != nil {
		return nil, nil, err
	}

	// Postcondition, verified rather than assumed.
	var active int
	if err := tx.QueryRowContext(ctx,
		`select count(*) from assignments where case_id=$1 and status='active'`, old.CaseID,
	).Scan(&active); err != nil {
		return nil, nil, mapErr(err)
	}
	if active != 1 {
		return nil, nil, fmt.Errorf("cases: postcondition violated: %d active assignments for case %s", active, old.CaseID)
	}

	if err := s.insertAudit(ctx, tx, actorID, audit.ActionCaseReassigned, audit.EntityAssignment, next.ID, before, c); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, mapErr(err)
	}
	return next, c, nil
}

func (s *Store) Complete(ctx context.Context, assignmentID, notes, actorID string) (*cases.Assignment, *cases.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	ref, err := s.findAssignment(ctx, tx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.lockCase(ctx, tx, ref.CaseID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.lockAssignment(ctx, tx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	if a.Status != cases.AssignmentActive {
		return nil, nil, fmt.Errorf("%w: assignment %s is %s", cases.ErrInvalidTransition, assignmentID, a.Status)
	}

	before := c.Clone()
	now := time.Now().UTC()
	if err := cases.Transition(c, cases.StatusResolved, cases.TransitionFields{ResolutionNotes: notes, ViaAssignment: true}, now); err != nil {
		return nil, nil, err
	}

	a.Status = cases.AssignmentCompleted
	a.CompletedAt = &now
	a.CompletionNotes = strings.TrimSpace(notes)
	if _, err := tx.ExecContext(ctx, `
		update assignments set status='completed', completed_at=$2, completion_notes=$3 where id=$1
	`, a.ID, now, a.CompletionNotes); err != nil {
		return nil, nil, mapErr(err)
	}
	if err := s.writeCase(ctx, tx, c); err != nil {
		return nil, nil, err
	}
	if err := s.insertAudit(ctx, tx, actorID, audit.ActionCaseCompleted, audit.EntityCase, c.ID, before, c); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, mapErr(err)
	}
	return a, c, nil
}

func (s *Store) Unassign(ctx context.Context, caseID, actorID string) (*cases.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := s.lockCase(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}

	var assignmentID string
	err = tx.QueryRowContext(ctx,
		`select id from assignments where case_id=$1 and status='active' for update`, caseID,
	).Scan(&assignmentID)
	if err != nil {
		if mapped := mapErr(err); errors.Is(mapped, cases.ErrNotFound) {
			return nil, fmt.Errorf("%w: case %s has no active assignment", cases.ErrNotFound, caseID)
		}
		return nil, mapErr(err)
	}

	before := c.Clone()
	now := time.Now().UTC()
	if err := cases.Transition(c, cases.StatusPending, cases.TransitionFields{}, now); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		update assignments set status='completed', completed_at=$2, completion_notes=$3 where id=$1
	`, assignmentID, now, "unassigned by administrator"); err != nil {
		return nil, mapErr(err)
	}
	if err := s.writeCase(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := s.insertAudit(ctx, tx, actorID, audit.ActionCaseUnassigned, audit.EntityCase, c.ID, before, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (s *Store) ApplyTransition(ctx context.Context, caseID string, to cases.Status, fields cases.TransitionFields, actorID string) (*cases.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := s.lockCase(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	before := c.Clone()
	if err := cases.Transition(c, to, fields, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.writeCase(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := s.insertAudit(ctx, tx, actorID, audit.ActionCaseTransitioned, audit.EntityCase, c.ID, before, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*cases.Assignment, error) {
	row := s.db.QueryRowContext(ctx, `select `+assignmentColumns+` from assignments where id=$1`, id)
	return scanAssignment(row)
}

func (s *Store) ActiveAssignment(ctx context.Context, caseID string) (*cases.Assignment, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+assignmentColumns+` from assignments where case_id=$1 and status='active'`, caseID)
	return scanAssignment(row)
}

func (s *Store) ListAssignments(ctx context.Context, caseID string) ([]*cases.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+assignmentColumns+` from assignments where case_id=$1 order by created_at asc`, caseID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var res []*cases.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, mapErr(rows.Err())
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*cases.Case, error) {
	var (
		c              cases.Case
		assignedTo     string
		firstResponded sql.NullTime
		resolved       sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.FolioNumber, &c.Title, &c.Description, &c.Status, &c.Priority,
		&c.CreatedBy, &assignedTo, &c.CreatedAt, &c.UpdatedAt,
		&firstResponded, &resolved, &c.ResolutionNotes); err != nil {
		return nil, mapErr(err)
	}
	c.AssignedTo = assignedTo
	if firstResponded.Valid {
		t := firstResponded.Time
		c.FirstRespondedAt = &t
	}
	if resolved.Valid {
		t := resolved.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}

func scanAssignment(row rowScanner) (*cases.Assignment, error) {
	var (
		a         cases.Assignment
		completed sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.CaseID, &a.AssignedBy, &a.AssignedTo,
		&a.Instructions, &a.Status, &a.CreatedAt, &completed, &a.CompletionNotes); err != nil {
		return nil, mapErr(err)
	}
	if completed.Valid {
		t := completed.Time
		a.CompletedAt = &t
	}
	return &a, nil
}

// lockCase loads a case row under FOR UPDATE, serializing all transition
// work on that case for the duration of the transaction.
func (s *Store) lockCase(ctx context.Context, tx *sql.Tx, id string) (*cases.Case, error) {
	row := tx.QueryRowContext(ctx, `select `+caseColumns+` from cases where id=$1 for update`, id)
	return scanCase(row)
}

// findAssignment reads an assignment inside tx without locking it. Callers
// that intend to write use it only to learn the case id, then take the case
// lock before lockAssignment so all writers lock in the same order.
func (s *Store) findAssignment(ctx context.Context, tx *sql.Tx, id string) (*cases.Assignment, error) {
	row := tx.QueryRowContext(ctx, `select `+assignmentColumns+` from assignments where id=$1`, id)
	return scanAssignment(row)
}

func (s *Store) lockAssignment(ctx context.Context, tx *sql.Tx, id string) (*cases.Assignment, error) {
	row := tx.QueryRowContext(ctx, `select `+assignmentColumns+` from assignments where id=$1 for update`, id)
	return scanAssignment(row)
}

func (s *Store) writeCase(ctx context.Context, tx *sql.Tx, c *cases.Case) error {
	_, err := tx.ExecContext(ctx, `
		update cases set title=$2, description=$3, status=$4, priority=$5,
			assigned_to=nullif($6,''), updated_at=$7, first_responded_at=$8,
			resolved_at=$9, resolution_notes=nullif($10,'')
		where id=$1
	`, c.ID, c.Title, c.Description, c.Status, c.Priority, c.AssignedTo,
		c.UpdatedAt, c.FirstRespondedAt, c.ResolvedAt, c.ResolutionNotes)
	return mapErr(err)
}

func (s *Store) insertAssignment(ctx context.Context, tx *sql.Tx, a *cases.Assignment) error {
	_, err := tx.ExecContext(ctx, `
		insert into assignments(id, case_id, assigned_by, assigned_to, instructions, status, created_at)
		values ($1,$2,$3,$4,nullif($5,''),$6,$7)
	`, a.ID, a.CaseID, a.AssignedBy, a.AssignedTo, a.Instructions, a.Status, a.CreatedAt)
	return mapErr(err)
}

func (s *Store) insertAudit(ctx context.Context, tx *sql.Tx, actorID, action, entityType, entityID string, oldValue, newValue any) error {
	e, err := audit.NewEntry(actorID, action, entityType, entityID, oldValue, newValue)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into audit_entries(id, actor_id, action, entity_type, entity_id, old_value, new_value, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, []byte(e.OldValue), []byte(e.NewValue), e.CreatedAt)
	return mapErr(err)
}
