package audit

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	RoleApproved  Action = "ROLE_APPROVED"
	RoleSuspended Action = "ROLE_SUSPENDED"
	RoleRestored  Action = "ROLE_RESTORED"
	RoleRemoved   Action = "ROLE_REMOVED"
	RoleApplied   Action = "ROLE_APPLIED"
	RoleGranted   Action = "ROLE_GRANTED"

	OrgCreated        Action = "ORG_CREATED"
	OrgProfileUpdated Action = "ORG_PROFILE_UPDATED"
	OrgStatusUpdate   Action = "ORG_STATUS_UPDATE"
	LicenseExtended   Action = "LICENSE_EXTENDED"
	StaffRecruited    Action = "STAFF_RECRUITED"
	BedAdded          Action = "BED_ADDED"
	BedUpdate         Action = "BED_UPDATE"
	PricingUpdated    Action = "PRICING_UPDATED"
	FinancialEntry    Action = "FINANCIAL_ENTRY"
	LedgerReset       Action = "LEDGER_RESET"

	ScheduleAdded            Action = "SCHEDULE_ADDED"
	ScheduleUpdated          Action = "SCHEDULE_UPDATED"
	ScheduleRemoved          Action = "SCHEDULE_REMOVED"
	AppointmentBooked        Action = "APPOINTMENT_BOOKED"
	AppointmentStatusUpdated Action = "APPOINTMENT_STATUS_UPDATED"

	InvestigationRequested Action = "INVESTIGATION_REQUESTED"
	InvestigationCompleted Action = "INVESTIGATION_COMPLETED"

	RecordCreated           Action = "RECORD_CREATED"
	RecordDeleted           Action = "RECORD_DELETED"
	RecordVisibilityUpdated Action = "RECORD_VISIBILITY_UPDATED"

	PatientDataViewed  Action = "PATIENT_DATA_VIEWED"
	MedicalUpdate      Action = "MEDICAL_UPDATE"
	InternalNoteUpdate Action = "INTERNAL_NOTE_UPDATE"
	RecordQuotaUpdated Action = "RECORD_QUOTA_UPDATED"
)

type TargetType string

const (
	TargetUser          TargetType = "User"
	TargetOrganization  TargetType = "Organization"
	TargetRecord        TargetType = "Record"
	TargetSchedule      TargetType = "Schedule"
	TargetAppointment   TargetType = "Appointment"
	TargetInvestigation TargetType = "Investigation"
)

// TargetTypes lists every target type the schema has to accept.
var TargetTypes = []TargetType{
	TargetUser, TargetOrganization, TargetRecord, TargetSchedule, TargetAppointment, TargetInvestigation,
}

// Entry is one immutable audit log row.
type Entry struct {
	Seq        int64       `db:"seq" json:"seq"`
	ID         uuid.UUID   `db:"id" json:"id"`
	Timestamp  time.Time   `db:"created_at" json:"timestamp"`
	ActorID    uuid.UUID   `db:"actor_id" json:"actor_id"`
	ActorName  string      `db:"actor_name" json:"actor_name"`
	ActorRole  string      `db:"actor_role" json:"actor_role"`
	Action     Action      `db:"action" json:"action"`
	Details    string      `db:"details" json:"details"`
	TargetType *TargetType `db:"target_type" json:"target_type,omitempty"`
	TargetID   *uuid.UUID  `db:"target_id" json:"target_id,omitempty"`
	TargetName *string     `db:"target_name" json:"target_name,omitempty"`
	OrgID      *uuid.UUID  `db:"org_id" json:"org_id,omitempty"`
}

// Target names what an action touched. Zero fields are left empty.
type Target struct {
	Type  TargetType
	ID    uuid.UUID
	Name  string
	OrgID uuid.UUID
}

func UserTarget(id uuid.UUID, name string) Target {
	return Target{Type: TargetUser, ID: id, Name: name}
}

func OrgTarget(id uuid.UUID, name string) Target {
	return Target{Type: TargetOrganization, ID: id, Name: name, OrgID: id}
}

func RecordTarget(id uuid.UUID, name string) Target {
	return Target{Type: TargetRecord, ID: id, Name: name}
}

// InOrg scopes the target to an organization feed.
func (t Target) InOrg(orgID uuid.UUID) Target {
	t.OrgID = orgID
	return t
}

func (t Target) apply(e *Entry) {
	if t.Type != "" {
		tt := t.Type
		e.TargetType = &tt
	}
	if t.ID != uuid.Nil {
		id := t.ID
		e.TargetID = &id
	}
	if t.Name != "" {
		name := t.Name
		e.TargetName = &name
	}
	if t.OrgID != uuid.Nil {
		org := t.OrgID
		e.OrgID = &org
	}
}

// Filter narrows an audit search. Zero fields are ignored.
type Filter struct {
	ActorID  *uuid.UUID
	Action   Action
	OrgID    *uuid.UUID
	TargetID *uuid.UUID
	Since    *time.Time
	Until    *time.Time
	Query    string
}
