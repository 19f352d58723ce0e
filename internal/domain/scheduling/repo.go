package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ScheduleFilter) ([]Schedule, error)
	// Capacity sums max_patients of the doctor's schedules on weekday.
	Capacity(ctx context.Context, doctorID uuid.UUID, weekday int) (int, error)
}

type AppointmentRepository interface {
	// NextSerial atomically advances the doctor's counter for day and
	// returns the new value.
	NextSerial(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	SetStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]Appointment, int, error)
	// CountBooked counts the doctor's non-cancelled appointments on day.
	CountBooked(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
}
