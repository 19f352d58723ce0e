package investigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/platform/db"
)

var investigationColumns = []string{
	"id", "patient_id", "org_id", "test_name", "status", "findings", "report_file_url",
	"ordered_by", "ordered_at", "completed_at",
}

type pgRepo struct {
	db db.Querier
}

func NewRepo(q db.Querier) Repository {
	return &pgRepo{db: q}
}

func (r *pgRepo) conn(ctx context.Context) db.Querier {
	return db.QuerierFromCtx(ctx, r.db)
}

func (r *pgRepo) Create(ctx context.Context, inv *Investigation) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("investigations").
		Columns(investigationColumns...).
		Values(inv.ID, inv.PatientID, inv.OrgID, inv.TestName, string(inv.Status), inv.Findings,
			inv.ReportFileURL, inv.OrderedBy, inv.OrderedAt, inv.CompletedAt))
	return db.MapError(err, "investigation", inv.ID)
}

func (r *pgRepo) GetByID(ctx context.Context, id uuid.UUID) (*Investigation, error) {
	inv, err := db.Get[Investigation](ctx, r.conn(ctx), db.Builder.Select(investigationColumns...).
		From("investigations").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, db.MapError(err, "investigation", id)
	}
	return inv, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *pgRepo) Complete(ctx context.Context, id uuid.UUID, in CompleteInput, at time.Time) (*Investigation, error) {
	inv, err := db.Get[Investigation](ctx, r.conn(ctx), db.Builder.Update("investigations").
		Set("status", string(StatusCompleted)).
		Set("findings", nullable(in.Findings)).
		Set("report_file_url", nullable(in.ReportFileURL)).
		Set("completed_at", at).
		Where(sq.Eq{"id": id, "status": string(StatusRequested)}).
		Suffix("RETURNING "+strings.Join(investigationColumns, ", ")))
	if err == nil {
		return inv, nil
	}
	err = db.MapError(err, "investigation", id)
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	// No Requested row matched: tell a missing row from a finished one.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("investigation %s already completed: %w", id, domain.ErrConflict)
}

func (r *pgRepo) List(ctx context.Context, f Filter, limit, offset int) ([]Investigation, int, error) {
	base := db.Builder.Select(investigationColumns...).From("investigations")
	if f.OrgID != nil {
		base = base.Where(sq.Eq{"org_id": *f.OrgID})
	}
	if f.PatientID != nil {
		base = base.Where(sq.Eq{"patient_id": *f.PatientID})
	}
	if f.Status != "" {
		base = base.Where(sq.Eq{"status": string(f.Status)})
	}

	q := r.conn(ctx)
	total, err := db.Count(ctx, q, base)
	if err != nil {
		return nil, 0, fmt.Errorf("count investigations: %w", err)
	}
	list, err := db.Select[Investigation](ctx, q, base.OrderBy("ordered_at", "id").
		Limit(uint64(limit)).Offset(uint64(offset)))
	if err != nil {
		return nil, 0, fmt.Errorf("list investigations: %w", err)
	}
	return list, total, nil
}
