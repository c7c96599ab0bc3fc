package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"distress.org/internal/cases"
)

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil passes", nil, nil},
		{"no rows", sql.ErrNoRows, cases.ErrNotFound},
		{"active assignment conflict",
			&pgconn.PgError{Code: "23505", ConstraintName: activeAssignmentConstraint},
			cases.ErrAlreadyAssigned},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, cases.ErrUnavailable},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, cases.ErrUnavailable},
		{"connection refused", &pgconn.PgError{Code: "08006"}, cases.ErrUnavailable},
		{"deadline", context.DeadlineExceeded, cases.ErrUnavailable},
		{"canceled", context.Canceled, cases.ErrUnavailable},
		{"dial failure",
			&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			cases.ErrUnavailable},
		{"stale connection", driver.ErrBadConn, cases.ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mapErr(tc.in)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("mapErr(nil) = %v", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("mapErr(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	// An unrelated unique violation is not an assignment conflict.
	other := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	if errors.Is(mapErr(other), cases.ErrAlreadyAssigned) {
		t.Fatal("foreign unique violation mapped to assignment conflict")
	}
}

func TestCreateCaseClaimsFolioInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("insert into folio_counters").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
	mock.ExpectExec("insert into cases").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "vessel adrift", "", "pending", "high",
			"clerk-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, err := store.CreateCase(context.Background(), cases.NewCase{
		Title:     "vessel adrift",
		Priority:  cases.PriorityHigh,
		CreatedBy: "clerk-1",
	})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if c.Status != cases.StatusPending {
		t.Fatalf("unexpected status: %s", c.Status)
	}
	if len(c.FolioNumber) == 0 || c.FolioNumber[:3] != "DST" {
		t.Fatalf("unexpected folio: %q", c.FolioNumber)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateCaseRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("insert into folio_counters").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(1))
	mock.ExpectExec("insert into cases").
		WillReturnError(&pgconn.PgError{Code: "08006"})
	mock.ExpectRollback()

	if _, err := store.CreateCase(context.Background(), cases.NewCase{
		Title:     "doomed",
		CreatedBy: "clerk-1",
	}); !errors.Is(err, cases.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func sampleTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
}

func caseRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "folio_number", "title", "description", "status", "priority",
		"created_by", "assigned_to", "created_at", "updated_at",
		"first_responded_at", "resolved_at", "resolution_notes",
	})
}

func TestAssignConflictSurfacesAsAlreadyAssigned(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from cases where id=\\$1 for update").
		WithArgs("case-1").
		WillReturnRows(caseRows().AddRow(
			"case-1", "DST202600001", "vessel adrift", "", "pending", "high",
			"clerk-1", "", sampleTime(t), sampleTime(t), nil, nil, ""))
	mock.ExpectQuery("select count\\(\\*\\) from assignments").
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	if _, _, err := store.Assign(context.Background(), "case-1", "director-1", "cadet-1", ""); !errors.Is(err, cases.ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAssignIndexRaceMapsToConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from cases where id=\\$1 for update").
		WithArgs("case-1").
		WillReturnRows(caseRows().AddRow(
			"case-1", "DST202600001", "vessel adrift", "", "pending", "high",
			"clerk-1", "", sampleTime(t), sampleTime(t), nil, nil, ""))
	mock.ExpectQuery("select count\\(\\*\\) from assignments").
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("insert into assignments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: activeAssignmentConstraint})
	mock.ExpectRollback()

	if _, _, err := store.Assign(context.Background(), "case-1", "director-1", "cadet-1", ""); !errors.Is(err, cases.ErrAlreadyAssigned) {
		t.Fatalf("expected index race to map to ErrAlreadyAssigned, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func assignmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "case_id", "assigned_by", "assigned_to",
		"instructions", "status", "created_at", "completed_at", "completion_notes",
	})
}

// Expectations are ordered, so these two tests pin the lock order writers
// must follow: resolve the case id without locking, lock the case row, then
// lock the assignment row.
func TestCompleteLocksCaseBeforeAssignment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from assignments where id=\\$1$").
		WithArgs("asg-1").
		WillReturnRows(assignmentRows().AddRow(
			"asg-1", "case-1", "director-1", "cadet-1", "", "active", sampleTime(t), nil, ""))
	mock.ExpectQuery("select (.+) from cases where id=\\$1 for update").
		WithArgs("case-1").
		WillReturnRows(caseRows().AddRow(
			"case-1", "DST202600001", "vessel adrift", "", "assigned", "high",
			"clerk-1", "cadet-1", sampleTime(t), sampleTime(t), nil, nil, ""))
	mock.ExpectQuery("select (.+) from assignments where id=\\$1 for update").
		WithArgs("asg-1").
		WillReturnRows(assignmentRows().AddRow(
			"asg-1", "case-1", "director-1", "cadet-1", "", "active", sampleTime(t), nil, ""))
	mock.ExpectExec("update assignments set status='completed'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update cases set").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a, c, err := store.Complete(context.Background(), "asg-1", "vessel towed to port", "cadet-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Status != cases.StatusResolved {
		t.Fatalf("case status = %s, want resolved", c.Status)
	}
	if a.Status != cases.AssignmentCompleted {
		t.Fatalf("assignment status = %s, want completed", a.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReassignLocksCaseBeforeAssignment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from assignments where id=\\$1$").
		WithArgs("asg-1").
		WillReturnRows(assignmentRows().AddRow(
			"asg-1", "case-1", "director-1", "cadet-1", "", "active", sampleTime(t), nil, ""))
	mock.ExpectQuery("select (.+) from cases where id=\\$1 for update").
		WithArgs("case-1").
		WillReturnRows(caseRows().AddRow(
			"case-1", "DST202600001", "vessel adrift", "", "assigned", "high",
			"clerk-1", "cadet-1", sampleTime(t), sampleTime(t), nil, nil, ""))
	mock.ExpectQuery("select (.+) from assignments where id=\\$1 for update").
		WithArgs("asg-1").
		WillReturnRows(assignmentRows().AddRow(
			"asg-1", "case-1", "director-1", "cadet-1", "", "active", sampleTime(t), nil, ""))
	mock.ExpectExec("update assignments set status='reassigned'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into assignments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update cases set").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select count\\(\\*\\) from assignments").
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("insert into audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next, c, err := store.Reassign(context.Background(), "asg-1", "cadet-2", "shift change", "director-1")
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if next.AssignedTo != "cadet-2" || next.Status != cases.AssignmentActive {
		t.Fatalf("unexpected successor assignment: %+v", next)
	}
	if c.AssignedTo != "cadet-2" {
		t.Fatalf("case assignee = %q, want cadet-2", c.AssignedTo)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetCaseNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewStore(db)

	mock.ExpectQuery("select (.+) from cases where id=\\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetCase(context.Background(), "missing"); !errors.Is(err, cases.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
