package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"distress.org/internal/audit"
)

// Audit returns the append-only audit store backed by this pool.
func (s *Store) Audit() audit.Store { return &auditStore{db: s.db} }

type auditStore struct{ db *sql.DB }

var _ audit.Store = (*auditStore)(nil)

func (s *auditStore) Append(ctx context.Context, e *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_entries(id, actor_id, action, entity_type, entity_id, old_value, new_value, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, []byte(e.OldValue), []byte(e.NewValue), e.CreatedAt)
	return mapErr(err)
}

func (s *auditStore) List(ctx context.Context, f audit.Filter) ([]*audit.Entry, error) {
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
	if f.ActorID != "" {
		add("actor_id=$%d", f.ActorID)
	}
	if f.Action != "" {
		add("action=$%d", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type=$%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id=$%d", f.EntityID)
	}
	query := `select id, actor_id, action, entity_type, entity_id, old_value, new_value, created_at from audit_entries`
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

	var res []*audit.Entry
	for rows.Next() {
		var (
			e        audit.Entry
			oldValue []byte
			newValue []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &oldValue, &newValue, &e.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		e.OldValue = oldValue
		e.NewValue = newValue
		res = append(res, &e)
	}
	return res, mapErr(rows.Err())
}
