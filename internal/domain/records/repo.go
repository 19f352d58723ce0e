package records

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	// ListByPatient returns newest first. Hidden records are skipped unless
	// includeHidden is set.
	ListByPatient(ctx context.Context, patientID uuid.UUID, includeHidden bool) ([]MedicalRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetHidden(ctx context.Context, id uuid.UUID, hidden bool) error
}
