package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/db"
	"github.com/carenet/carenet/internal/platform/websocket"
)

type Auditor interface {
	Record(ctx context.Context, action audit.Action, details string, target audit.Target) error
}

// OrgAccess is the organization-scoped permission check.
type OrgAccess interface {
	Authorize(ctx context.Context, actor *roles.Actor, orgID uuid.UUID, c roles.Capability) error
	StaffRoles(ctx context.Context, orgID, userID uuid.UUID) (roles.Set, error)
}

type Service struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
	orgs         OrgAccess
	tx           db.Transactor
	audit        Auditor
	notifier     *websocket.Notifier
	now          func() time.Time
	logger       zerolog.Logger
}

func NewService(sched ScheduleRepository, appt AppointmentRepository, orgs OrgAccess, tx db.Transactor,
	auditor Auditor, notifier *websocket.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		schedules:    sched,
		appointments: appt,
		orgs:         orgs,
		tx:           tx,
		audit:        auditor,
		notifier:     notifier,
		now:          time.Now,
		logger:       logger.With().Str("component", "scheduling").Logger(),
	}
}

func (s *Service) authorize(ctx context.Context, orgID uuid.UUID, c roles.Capability) (*roles.Actor, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.orgs.Authorize(ctx, actor, orgID, c); err != nil {
		return nil, err
	}
	return actor, nil
}

func (s *Service) requireDoctor(ctx context.Context, orgID, doctorID uuid.UUID) error {
	staffed, err := s.orgs.StaffRoles(ctx, orgID, doctorID)
	if err != nil {
		return err
	}
	if !staffed.Has(roles.Doctor) {
		return domain.NewValidationError("doctor_id", "must be a doctor on the organization's staff")
	}
	return nil
}

func scheduleTarget(sc *Schedule) audit.Target {
	return audit.Target{Type: audit.TargetSchedule, ID: sc.ID, Name: sc.DoctorName, OrgID: sc.OrgID}
}

func describe(sc *Schedule) string {
	return fmt.Sprintf("%s %s-%s for %s (max %d)",
		time.Weekday(sc.DayOfWeek), sc.StartTime, sc.EndTime, sc.DoctorName, sc.MaxPatients)
}

// -- Schedule --

func (s *Service) AddSchedule(ctx context.Context, orgID uuid.UUID, in ScheduleInput) (*Schedule, error) {
	if _, err := s.authorize(ctx, orgID, roles.ManageSchedules); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.requireDoctor(ctx, orgID, in.DoctorID); err != nil {
		return nil, err
	}

	var sc *Schedule
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		id := uuid.New()
		if err := s.schedules.Create(ctx, &Schedule{
			ID: id, OrgID: orgID, DoctorID: in.DoctorID, DayOfWeek: in.DayOfWeek,
			StartTime: in.StartTime, EndTime: in.EndTime, MaxPatients: in.MaxPatients,
		}); err != nil {
			return err
		}
		created, err := s.schedules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		sc = created
		return s.audit.Record(ctx, audit.ScheduleAdded, "Added schedule "+describe(sc), scheduleTarget(sc))
	})
	if err != nil {
		return nil, fmt.Errorf("add schedule: %w", err)
	}
	s.notifier.Notify(ctx, "schedule.created", "Schedule", sc.ID.String(), sc, websocket.TopicSchedules)
	return sc, nil
}

func (s *Service) UpdateSchedule(ctx context.Context, id uuid.UUID, in ScheduleInput) (*Schedule, error) {
	existing, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, existing.OrgID, roles.ManageSchedules); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.DoctorID != existing.DoctorID {
		if err := s.requireDoctor(ctx, existing.OrgID, in.DoctorID); err != nil {
			return nil, err
		}
	}

	var sc *Schedule
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.schedules.Update(ctx, &Schedule{
			ID: id, OrgID: existing.OrgID, DoctorID: in.DoctorID, DayOfWeek: in.DayOfWeek,
			StartTime: in.StartTime, EndTime: in.EndTime, MaxPatients: in.MaxPatients,
		}); err != nil {
			return err
		}
		updated, err := s.schedules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		sc = updated
		return s.audit.Record(ctx, audit.ScheduleUpdated, "Updated schedule "+describe(sc), scheduleTarget(sc))
	})
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	s.notifier.Notify(ctx, "schedule.updated", "Schedule", sc.ID.String(), sc, websocket.TopicSchedules)
	return sc, nil
}

func (s *Service) RemoveSchedule(ctx context.Context, id uuid.UUID) error {
	sc, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.authorize(ctx, sc.OrgID, roles.ManageSchedules); err != nil {
		return err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.schedules.Delete(ctx, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.ScheduleRemoved, "Removed schedule "+describe(sc), scheduleTarget(sc))
	})
	if err != nil {
		return fmt.Errorf("remove schedule: %w", err)
	}
	s.notifier.Notify(ctx, "schedule.deleted", "Schedule", sc.ID.String(), sc, websocket.TopicSchedules)
	return nil
}

// ListSchedules is open to every signed-in user.
func (s *Service) ListSchedules(ctx context.Context, f ScheduleFilter) ([]Schedule, error) {
	if _, err := roles.RequireActor(ctx); err != nil {
		return nil, err
	}
	return s.schedules.List(ctx, f)
}

// SchedulesByDoctor backs the owner dashboard.
func (s *Service) SchedulesByDoctor(ctx context.Context, orgID uuid.UUID) ([]DoctorSchedules, error) {
	list, err := s.ListSchedules(ctx, ScheduleFilter{OrgID: &orgID})
	if err != nil {
		return nil, err
	}
	return GroupByDoctor(list), nil
}

// -- Appointment --

// Book takes the next serial number of the doctor's calendar day. Capacity
// is never enforced.
func (s *Service) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	if in.PatientID == uuid.Nil {
		in.PatientID = actor.ID
	}
	var v domain.Validator
	v.Check(in.OrgID != uuid.Nil, "org_id", "is required")
	v.Check(in.DoctorID != uuid.Nil, "doctor_id", "is required")
	date, dateErr := ParseDate(in.Date)
	v.Check(dateErr == nil, "date", "must be YYYY-MM-DD or RFC 3339")
	if err := v.Err(); err != nil {
		return nil, err
	}

	// Patients book for themselves; booking for someone else needs
	// BookAppointments in the organization.
	if in.PatientID != actor.ID || !actor.Has(roles.Patient) {
		if err := s.orgs.Authorize(ctx, actor, in.OrgID, roles.BookAppointments); err != nil {
			return nil, err
		}
	}
	if err := s.requireDoctor(ctx, in.OrgID, in.DoctorID); err != nil {
		return nil, err
	}

	a := &Appointment{
		ID:           uuid.New(),
		OrgID:        in.OrgID,
		DoctorID:     in.DoctorID,
		PatientID:    in.PatientID,
		ScheduledFor: date.UTC(),
		Day:          CalendarDay(date),
		Status:       StatusScheduled,
		CreatedAt:    s.now().UTC(),
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		serial, err := s.appointments.NextSerial(ctx, a.DoctorID, a.Day)
		if err != nil {
			return err
		}
		a.SerialNumber = serial
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.AppointmentBooked,
			fmt.Sprintf("Booked appointment #%d on %s", serial, a.Day.Format(dateLayout)),
			audit.Target{Type: audit.TargetAppointment, ID: a.ID, OrgID: a.OrgID})
	})
	if err != nil {
		return nil, fmt.Errorf("book appointment: %w", err)
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Int("serial", a.SerialNumber).Msg("appointment booked")
	s.notifier.Notify(ctx, "appointment.created", "Appointment", a.ID.String(), a, websocket.TopicAppointments)
	return a, nil
}

// Availability compares the weekday capacity of a doctor with the bookings
// already taken for the date.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, rawDate string) (*Availability, error) {
	if _, err := roles.RequireActor(ctx); err != nil {
		return nil, err
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return nil, domain.NewValidationError("date", "must be YYYY-MM-DD or RFC 3339")
	}
	day := CalendarDay(date)
	capacity, err := s.schedules.Capacity(ctx, doctorID, int(day.Weekday()))
	if err != nil {
		return nil, err
	}
	booked, err := s.appointments.CountBooked(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	return &Availability{
		DoctorID:  doctorID,
		Date:      day.Format(dateLayout),
		Capacity:  capacity,
		Booked:    booked,
		Remaining: max(capacity-booked, 0),
	}, nil
}

// SetStatus moves an appointment to any status. Patients may cancel their own.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.NewValidationError("status", "must be scheduled, completed or cancelled")
	}
	existing, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ownCancel := status == StatusCancelled && existing.PatientID == actor.ID
	if !ownCancel {
		if err := s.orgs.Authorize(ctx, actor, existing.OrgID, roles.UpdateAppointments); err != nil {
			return nil, err
		}
	}

	var a *Appointment
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		updated, err := s.appointments.SetStatus(ctx, id, status)
		if err != nil {
			return err
		}
		a = updated
		return s.audit.Record(ctx, audit.AppointmentStatusUpdated,
			fmt.Sprintf("Changed appointment #%d on %s from %s to %s",
				a.SerialNumber, a.Day.Format(dateLayout), existing.Status, status),
			audit.Target{Type: audit.TargetAppointment, ID: a.ID, OrgID: a.OrgID})
	})
	if err != nil {
		return nil, fmt.Errorf("set appointment status: %w", err)
	}
	s.notifier.Notify(ctx, "appointment.updated", "Appointment", a.ID.String(), a, websocket.TopicAppointments)
	return a, nil
}

// ListAppointments scopes non-admin callers: organization staff with
// UpdateAppointments see the organization, doctors see their own queue and
// everyone else sees their own bookings.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]Appointment, int, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, domain.NewValidationError("status", "must be scheduled, completed or cancelled")
	}
	switch {
	case actor.IsAdmin():
	case f.OrgID != nil && s.orgs.Authorize(ctx, actor, *f.OrgID, roles.UpdateAppointments) == nil:
	case f.DoctorID != nil && *f.DoctorID == actor.ID:
	default:
		self := actor.ID
		f.PatientID = &self
	}
	return s.appointments.List(ctx, f, limit, offset)
}

// Today lists the actor's appointments as a doctor for the current UTC day.
func (s *Service) Today(ctx context.Context) ([]Appointment, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	day := CalendarDay(s.now())
	list, _, err := s.appointments.List(ctx, AppointmentFilter{DoctorID: &actor.ID, Day: &day}, 500, 0)
	return list, err
}
