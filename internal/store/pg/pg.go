// Package pg implements the durable store on PostgreSQL through database/sql
// and the pgx stdlib driver. The single cross-record invariant, at most one
// active assignment per case, is enforced by row locking on the case plus a
// partial unique index; the store never retries conflicts silently.
package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"distress.org/internal/cases"
)

// Store provides the PostgreSQL-backed implementations of the case store,
// the user store and the audit store, sharing one connection pool.
type Store struct {
	db *sql.DB
}

var _ cases.Store = (*Store)(nil)

// Open connects to PostgreSQL with pool defaults tuned for the API workload.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the pool for readiness probes and the migration runner.
func (s *Store) DB() *sql.DB { return s.db }

// activeAssignmentConstraint is the partial unique index backing the
// one-active-assignment invariant under concurrent inserts.
const activeAssignmentConstraint = "uq_assignments_active"

// mapErr translates driver errors into domain sentinels. Anything that looks
// like an unreachable store or an exhausted transaction surfaces as
// ErrUnavailable; the engine fails closed rather than degrading to synthetic
// data.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return cases.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == activeAssignmentConstraint:
			return cases.ErrAlreadyAssigned
		case pgErr.Code == "40001" || pgErr.Code == "40P01": // serialization failure, deadlock
			return fmt.Errorf("%w: %v", cases.ErrUnavailable, err)
		case strings.HasPrefix(pgErr.Code, "08"): // connection exceptions
			return fmt.Errorf("%w: %v", cases.ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", cases.ErrUnavailable, err)
	}
	// Dial failures never reach the SQLSTATE layer; they come back as plain
	// net errors (or ErrBadConn when database/sql retires the connection).
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", cases.ErrUnavailable, err)
	}
	return err
}
