package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/platform/db"
)

var (
	scheduleColumns = []string{
		"s.id", "s.org_id", "s.doctor_id", "u.name AS doctor_name",
		"s.day_of_week", "s.start_time", "s.end_time", "s.max_patients",
	}
	appointmentColumns = []string{
		"id", "org_id", "doctor_id", "patient_id", "scheduled_for", "day", "status", "serial_number", "created_at",
	}
)

// -- Schedule --

type scheduleRepoPG struct {
	db db.Querier
}

func NewScheduleRepo(q db.Querier) ScheduleRepository {
	return &scheduleRepoPG{db: q}
}

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFromCtx(ctx, r.db)
}

func (r *scheduleRepoPG) selectSchedules() sq.SelectBuilder {
	return db.Builder.Select(scheduleColumns...).
		From("doctor_schedules s").
		Join("users u ON u.id = s.doctor_id")
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("doctor_schedules").
		Columns("id", "org_id", "doctor_id", "day_of_week", "start_time", "end_time", "max_patients").
		Values(s.ID, s.OrgID, s.DoctorID, s.DayOfWeek, s.StartTime, s.EndTime, s.MaxPatients))
	return db.MapError(err, "schedule", s.ID)
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := db.Get[Schedule](ctx, r.conn(ctx), r.selectSchedules().Where(sq.Eq{"s.id": id}))
	if err != nil {
		return nil, db.MapError(err, "schedule", id)
	}
	return s, nil
}

func (r *scheduleRepoPG) Update(ctx context.Context, s *Schedule) error {
	tag, err := db.Exec(ctx, r.conn(ctx), db.Builder.Update("doctor_schedules").
		Set("doctor_id", s.DoctorID).
		Set("day_of_week", s.DayOfWeek).
		Set("start_time", s.StartTime).
		Set("end_time", s.EndTime).
		Set("max_patients", s.MaxPatients).
		Where(sq.Eq{"id": s.ID}))
	if err != nil {
		return db.MapError(err, "schedule", s.ID)
	}
	return db.RequireAffected(tag, "schedule", s.ID)
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Exec(ctx, r.conn(ctx), db.Builder.Delete("doctor_schedules").Where(sq.Eq{"id": id}))
	if err != nil {
		return db.MapError(err, "schedule", id)
	}
	return db.RequireAffected(tag, "schedule", id)
}

func (r *scheduleRepoPG) List(ctx context.Context, f ScheduleFilter) ([]Schedule, error) {
	q := r.selectSchedules()
	if f.OrgID != nil {
		q = q.Where(sq.Eq{"s.org_id": *f.OrgID})
	}
	if f.DoctorID != nil {
		q = q.Where(sq.Eq{"s.doctor_id": *f.DoctorID})
	}
	if f.DayOfWeek != nil {
		q = q.Where(sq.Eq{"s.day_of_week": *f.DayOfWeek})
	}
	list, err := db.Select[Schedule](ctx, r.conn(ctx), q.OrderBy("s.doctor_id", "s.day_of_week", "s.start_time"))
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return list, nil
}

func (r *scheduleRepoPG) Capacity(ctx context.Context, doctorID uuid.UUID, weekday int) (int, error) {
	query, args, err := db.Builder.Select("COALESCE(SUM(max_patients), 0)").
		From("doctor_schedules").
		Where(sq.Eq{"doctor_id": doctorID, "day_of_week": weekday}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build capacity: %w", err)
	}
	var n int
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("capacity: %w", err)
	}
	return n, nil
}

// -- Appointment --

type appointmentRepoPG struct {
	db db.Querier
}

func NewAppointmentRepo(q db.Querier) AppointmentRepository {
	return &appointmentRepoPG{db: q}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFromCtx(ctx, r.db)
}

func (r *appointmentRepoPG) NextSerial(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	query, args, err := db.Builder.Insert("appointment_serials").
		Columns("doctor_id", "day", "last_serial").
		Values(doctorID, day, 1).
		Suffix("ON CONFLICT (doctor_id, day) DO UPDATE SET last_serial = appointment_serials.last_serial + 1 RETURNING last_serial").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build serial: %w", err)
	}
	var serial int
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&serial); err != nil {
		return 0, db.MapError(err, "appointment serial", doctorID)
	}
	return serial, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	_, err := db.Exec(ctx, r.conn(ctx), db.Builder.Insert("appointments").
		Columns(appointmentColumns...).
		Values(a.ID, a.OrgID, a.DoctorID, a.PatientID, a.ScheduledFor, a.Day, string(a.Status),
			a.SerialNumber, a.CreatedAt))
	return db.MapError(err, "appointment", a.ID)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := db.Get[Appointment](ctx, r.conn(ctx), db.Builder.Select(appointmentColumns...).
		From("appointments").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, db.MapError(err, "appointment", id)
	}
	return a, nil
}

func (r *appointmentRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	a, err := db.Get[Appointment](ctx, r.conn(ctx), db.Builder.Update("appointments").
		Set("status", string(status)).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING "+strings.Join(appointmentColumns, ", ")))
	if err != nil {
		return nil, db.MapError(err, "appointment", id)
	}
	return a, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]Appointment, int, error) {
	base := db.Builder.Select(appointmentColumns...).From("appointments")
	if f.OrgID != nil {
		base = base.Where(sq.Eq{"org_id": *f.OrgID})
	}
	if f.DoctorID != nil {
		base = base.Where(sq.Eq{"doctor_id": *f.DoctorID})
	}
	if f.PatientID != nil {
		base = base.Where(sq.Eq{"patient_id": *f.PatientID})
	}
	if f.Day != nil {
		base = base.Where(sq.Eq{"day": CalendarDay(*f.Day)})
	}
	if f.Status != "" {
		base = base.Where(sq.Eq{"status": string(f.Status)})
	}

	q := r.conn(ctx)
	total, err := db.Count(ctx, q, base)
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	list, err := db.Select[Appointment](ctx, q, base.OrderBy("day", "doctor_id", "serial_number").
		Limit(uint64(limit)).Offset(uint64(offset)))
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	return list, total, nil
}

func (r *appointmentRepoPG) CountBooked(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	n, err := db.Count(ctx, r.conn(ctx), db.Builder.Select("id").From("appointments").
		Where(sq.Eq{"doctor_id": doctorID, "day": day}).
		Where(sq.NotEq{"status": string(StatusCancelled)}))
	if err != nil {
		return 0, fmt.Errorf("count booked: %w", err)
	}
	return n, nil
}
