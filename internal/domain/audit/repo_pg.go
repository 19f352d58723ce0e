package audit

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/carenet/carenet/internal/platform/db"
)

var entryColumns = []string{
	"seq", "id", "created_at", "actor_id", "actor_name", "actor_role", "action",
	"details", "target_type", "target_id", "target_name", "org_id",
}

type pgRepo struct {
	db db.Querier
}

func NewRepo(q db.Querier) Repository {
	return &pgRepo{db: q}
}

func (r *pgRepo) Append(ctx context.Context, e *Entry) error {
	var targetType *string
	if e.TargetType != nil {
		s := string(*e.TargetType)
		targetType = &s
	}

	query, args, err := db.Builder.Insert("audit_logs").
		Columns("id", "created_at", "actor_id", "actor_name", "actor_role", "action",
			"details", "target_type", "target_id", "target_name", "org_id").
		Values(e.ID, e.Timestamp, e.ActorID, e.ActorName, e.ActorRole, string(e.Action),
			e.Details, targetType, e.TargetID, e.TargetName, e.OrgID).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	q := db.QuerierFromCtx(ctx, r.db)
	if err := q.QueryRow(ctx, query, args...).Scan(&e.Seq); err != nil {
		return db.MapError(err, "audit_log", e.ID)
	}
	return nil
}

func (r *pgRepo) Search(ctx context.Context, f Filter, limit, offset int) ([]Entry, int, error) {
	base := db.Builder.Select(entryColumns...).From("audit_logs")

	where := sq.And{}
	if f.ActorID != nil {
		where = append(where, sq.Eq{"actor_id": *f.ActorID})
	}
	if f.Action != "" {
		where = append(where, sq.Eq{"action": string(f.Action)})
	}
	if f.OrgID != nil {
		where = append(where, sq.Eq{"org_id": *f.OrgID})
	}
	if f.TargetID != nil {
		where = append(where, sq.Eq{"target_id": *f.TargetID})
	}
	if f.Since != nil {
		where = append(where, sq.GtOrEq{"created_at": *f.Since})
	}
	if f.Until != nil {
		where = append(where, sq.Lt{"created_at": *f.Until})
	}
	if f.Query != "" {
		pattern := "%" + f.Query + "%"
		where = append(where, sq.Or{
			sq.ILike{"details": pattern},
			sq.ILike{"actor_name": pattern},
			sq.ILike{"target_name": pattern},
		})
	}
	if len(where) > 0 {
		base = base.Where(where)
	}

	q := db.QuerierFromCtx(ctx, r.db)

	total, err := db.Count(ctx, q, base)
	if err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	page := base.OrderBy("created_at DESC", "seq DESC").Limit(uint64(limit))
	if offset > 0 {
		page = page.Offset(uint64(offset))
	}
	entries, err := db.Select[Entry](ctx, q, page)
	if err != nil {
		return nil, 0, fmt.Errorf("search audit logs: %w", err)
	}
	return entries, total, nil
}
