package scheduling

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain"
)

const (
	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
)

// Schedule is one weekly visiting slot of a doctor at an organization.
type Schedule struct {
	ID          uuid.UUID `db:"id" json:"id"`
	OrgID       uuid.UUID `db:"org_id" json:"org_id"`
	DoctorID    uuid.UUID `db:"doctor_id" json:"doctor_id"`
	DoctorName  string    `db:"doctor_name" json:"doctor_name"`
	DayOfWeek   int       `db:"day_of_week" json:"day_of_week"`
	StartTime   string    `db:"start_time" json:"start_time"`
	EndTime     string    `db:"end_time" json:"end_time"`
	MaxPatients int       `db:"max_patients" json:"max_patients"`
}

type ScheduleInput struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	DayOfWeek   int       `json:"day_of_week"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	MaxPatients int       `json:"max_patients"`
}

func (in *ScheduleInput) validate() error {
	in.StartTime = strings.TrimSpace(in.StartTime)
	in.EndTime = strings.TrimSpace(in.EndTime)

	var v domain.Validator
	v.Check(in.DoctorID != uuid.Nil, "doctor_id", "is required")
	v.Check(in.DayOfWeek >= 0 && in.DayOfWeek <= 6, "day_of_week", "must be between 0 (Sunday) and 6")
	v.Check(in.MaxPatients >= 1, "max_patients", "must be at least 1")
	start, errStart := time.Parse(clockLayout, in.StartTime)
	end, errEnd := time.Parse(clockLayout, in.EndTime)
	v.Check(errStart == nil, "start_time", "must be HH:MM")
	v.Check(errEnd == nil, "end_time", "must be HH:MM")
	if errStart == nil && errEnd == nil {
		v.Check(start.Before(end), "end_time", "must be after start_time")
	}
	return v.Err()
}

// ScheduleFilter narrows ListSchedules. Zero fields are ignored.
type ScheduleFilter struct {
	OrgID     *uuid.UUID
	DoctorID  *uuid.UUID
	DayOfWeek *int
}

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	return s == StatusScheduled || s == StatusCompleted || s == StatusCancelled
}

type Appointment struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	OrgID        uuid.UUID         `db:"org_id" json:"org_id"`
	DoctorID     uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	PatientID    uuid.UUID         `db:"patient_id" json:"patient_id"`
	ScheduledFor time.Time         `db:"scheduled_for" json:"date"`
	Day          time.Time         `db:"day" json:"-"`
	Status       AppointmentStatus `db:"status" json:"status"`
	SerialNumber int               `db:"serial_number" json:"serial_number"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
}

type BookInput struct {
	OrgID     uuid.UUID `json:"org_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      string    `json:"date"`
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", raw, domain.ErrValidation)
	}
	return t, nil
}

// CalendarDay truncates t to its UTC calendar date. Serial numbers count per
// doctor per CalendarDay.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AppointmentFilter narrows ListAppointments. Zero fields are ignored.
type AppointmentFilter struct {
	OrgID     *uuid.UUID
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Day       *time.Time
	Status    AppointmentStatus
}

// Availability is advisory. Booking never checks it.
type Availability struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	Capacity  int       `json:"capacity"`
	Booked    int       `json:"booked"`
	Remaining int       `json:"remaining"`
}

// DoctorSchedules groups schedules of one doctor, ordered by day then start.
type DoctorSchedules struct {
	DoctorID   uuid.UUID  `json:"doctor_id"`
	DoctorName string     `json:"doctor_name"`
	Schedules  []Schedule `json:"schedules"`
}

func GroupByDoctor(list []Schedule) []DoctorSchedules {
	var out []DoctorSchedules
	idx := map[uuid.UUID]int{}
	for _, s := range list {
		i, ok := idx[s.DoctorID]
		if !ok {
			i = len(out)
			idx[s.DoctorID] = i
			out = append(out, DoctorSchedules{DoctorID: s.DoctorID, DoctorName: s.DoctorName})
		}
		out[i].Schedules = append(out[i].Schedules, s)
	}
	for i := range out {
		sortSchedules(out[i].Schedules)
	}
	return out
}

func sortSchedules(list []Schedule) {
	// HH:MM strings order the same as the times they encode.
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].DayOfWeek != list[j].DayOfWeek {
			return list[i].DayOfWeek < list[j].DayOfWeek
		}
		return list[i].StartTime < list[j].StartTime
	})
}
