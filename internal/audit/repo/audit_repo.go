package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/database"
)

// AuditRepo appends to and reads the auth_log table. Rows are never
// updated or deleted.
type AuditRepo struct {
	db *sqlx.DB
}

func NewAuditRepo(db *sqlx.DB) *AuditRepo { return &AuditRepo{db: db} }

func (r *AuditRepo) Insert(ctx context.Context, e *entity.Entry) error {
	const q = `INSERT INTO auth_log (log_id, restaurant_uid, attempted_username, outcome, occurred_at, source, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, q, e.LogID, e.RestaurantUID, e.AttemptedUsername, string(e.Outcome), e.Timestamp, e.Source, e.UserAgent)
	return database.Wrap("audit.insert", err)
}

// Query returns entries ordered by time, ties broken by log_id.
func (r *AuditRepo) Query(ctx context.Context, f entity.Filter) ([]entity.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.RestaurantUID != "" {
		add("restaurant_uid = $%d", f.RestaurantUID)
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT log_id, restaurant_uid, attempted_username, outcome, occurred_at, source, user_agent FROM auth_log`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.Limit)
	fmt.Fprintf(&sb, " ORDER BY occurred_at, log_id LIMIT $%d", len(args))

	entries := []entity.Entry{}
	if err := r.db.SelectContext(ctx, &entries, sb.String(), args...); err != nil {
		return nil, database.Wrap("audit.query", err)
	}
	return entries, nil
}
