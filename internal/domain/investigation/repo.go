package investigation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, inv *Investigation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Investigation, error)
	// Complete moves a Requested investigation to Completed. An investigation
	// that is no longer Requested yields ErrConflict.
	Complete(ctx context.Context, id uuid.UUID, in CompleteInput, at time.Time) (*Investigation, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]Investigation, int, error)
}
