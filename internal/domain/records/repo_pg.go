package records

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/platform/db"
)

var recordColumns = []string{
	"id", "patient_id", "title", "description", "file_url", "file_type", "uploaded_at", "is_hidden",
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

func (r *pgRepo) Create(ctx context.Context, rec *MedicalRecord) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("medical_records").
		Columns(recordColumns...).
		Values(rec.ID, rec.PatientID, rec.Title, rec.Description, rec.FileURL, string(rec.FileType),
			rec.UploadedAt, rec.IsHidden))
	return db.MapError(err, "medical record", rec.ID)
}

func (r *pgRepo) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := db.Get[MedicalRecord](ctx, r.conn(ctx), db.Builder.Select(recordColumns...).
		From("medical_records").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, db.MapError(err, "medical record", id)
	}
	return rec, nil
}

func (r *pgRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, includeHidden bool) ([]MedicalRecord, error) {
	q := db.Builder.Select(recordColumns...).From("medical_records").Where(sq.Eq{"patient_id": patientID})
	if !includeHidden {
		q = q.Where(sq.Eq{"is_hidden": false})
	}
	list, err := db.Select[MedicalRecord](ctx, r.conn(ctx), q.OrderBy("uploaded_at DESC", "id"))
	if err != nil {
		return nil, fmt.Errorf("list medical records: %w", err)
	}
	return list, nil
}

func (r *pgRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Exec(ctx, r.conn(ctx), db.Builder.Delete("medical_records").Where(sq.Eq{"id": id}))
	if err != nil {
		return db.MapError(err, "medical record", id)
	}
	return db.RequireAffected(tag, "medical record", id)
}

func (r *pgRepo) SetHidden(ctx context.Context, id uuid.UUID, hidden bool) error {
	tag, err := db.Exec(ctx, r.conn(ctx), db.Builder.Update("medical_records").
		Set("is_hidden", hidden).Where(sq.Eq{"id": id}))
	if err != nil {
		return db.MapError(err, "medical record", id)
	}
	return db.RequireAffected(tag, "medical record", id)
}
