package identity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain/roles"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale || g == GenderOther
}

const (
	defaultBloodGroup  = "N/A"
	defaultGitHubName  = "GitHub User"
	defaultGitHubPhone = "N/A"
	healthIDDigits     = 10
	minPatientQuery    = 3
)

type ChronicConditions struct {
	Hypertension bool `json:"hypertension"`
	Diabetes     bool `json:"diabetes"`
	Asthma       bool `json:"asthma"`
}

func (c *ChronicConditions) Scan(src any) error { return scanJSON(src, c) }

func (c ChronicConditions) Value() (driver.Value, error) { return json.Marshal(c) }

type EmergencyContact struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation"`
}

type EmergencyContacts []EmergencyContact

func (e *EmergencyContacts) Scan(src any) error { return scanJSON(src, e) }

func (e EmergencyContacts) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]EmergencyContact(e))
}

// RedFlag is the clinician-set warning shown on a patient's chart.
type RedFlag struct {
	IsPresent bool   `json:"is_present"`
	Comment   string `json:"comment"`
}

func (f *RedFlag) Scan(src any) error { return scanJSON(src, f) }

func (f RedFlag) Value() (driver.Value, error) { return json.Marshal(f) }

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json source %T", src)
	}
}

// User is a person known to the system. Every user is a patient first; other
// roles are granted on top.
type User struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	HealthID           string            `db:"health_id" json:"health_id"`
	Email              *string           `db:"email" json:"email,omitempty"`
	PasswordHash       *string           `db:"password_hash" json:"-"`
	GitHubID           *string           `db:"github_id" json:"-"`
	Name               string            `db:"name" json:"name"`
	Phone              string            `db:"phone" json:"phone"`
	Gender             Gender            `db:"gender" json:"gender"`
	Age                int               `db:"age" json:"age"`
	BloodGroup         string            `db:"blood_group" json:"blood_group"`
	DateOfBirth        *time.Time        `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Address            *string           `db:"address" json:"address,omitempty"`
	Occupation         *string           `db:"occupation" json:"occupation,omitempty"`
	Allergies          *string           `db:"allergies" json:"allergies,omitempty"`
	PhotoURL           *string           `db:"photo_url" json:"photo_url,omitempty"`
	ChronicConditions  ChronicConditions `db:"chronic_conditions" json:"chronic_conditions"`
	EmergencyContacts  EmergencyContacts `db:"emergency_contacts" json:"emergency_contacts"`
	RedFlag            RedFlag           `db:"red_flag" json:"red_flag"`
	DoctorNotes        string            `db:"doctor_notes" json:"doctor_notes,omitempty"`
	RecordViewLimit    int               `db:"record_view_limit" json:"record_view_limit"`
	RegistrationNumber *string           `db:"registration_number" json:"registration_number,omitempty"`
	BMDCNumber         *string           `db:"bmdc_number" json:"bmdc_number,omitempty"`
	Specialty          *string           `db:"specialty" json:"specialty,omitempty"`
	Degrees            *string           `db:"degrees" json:"degrees,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`

	ActiveRoles    roles.Set           `db:"-" json:"active_roles"`
	SuspendedRoles roles.Set           `db:"-" json:"suspended_roles"`
	AppliedRoles   []roles.Application `db:"-" json:"applied_roles"`
}

func (u *User) Assignment() roles.Assignment {
	return roles.Assignment{Active: u.ActiveRoles, Suspended: u.SuspendedRoles}
}

func (u *User) Actor() *roles.Actor {
	return &roles.Actor{ID: u.ID, Name: u.Name, Roles: u.ActiveRoles}
}

// Public strips clinician-only fields for self-service responses.
func (u User) Public() User {
	u.DoctorNotes = ""
	return u
}

// ProfilePatch is the self-service edit. Nil fields are left unchanged.
type ProfilePatch struct {
	Name              *string            `json:"name"`
	Phone             *string            `json:"phone"`
	Gender            *Gender            `json:"gender"`
	Age               *int               `json:"age"`
	BloodGroup        *string            `json:"blood_group"`
	DateOfBirth       *time.Time         `json:"date_of_birth"`
	Address           *string            `json:"address"`
	Occupation        *string            `json:"occupation"`
	Allergies         *string            `json:"allergies"`
	PhotoURL          *string            `json:"photo_url"`
	ChronicConditions *ChronicConditions `json:"chronic_conditions"`
	EmergencyContacts *EmergencyContacts `json:"emergency_contacts"`
	Specialty         *string            `json:"specialty"`
	Degrees           *string            `json:"degrees"`
	BMDCNumber        *string            `json:"bmdc_number"`
}

func (p ProfilePatch) apply(u *User) {
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Phone != nil {
		u.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.Age != nil {
		u.Age = *p.Age
	}
	if p.BloodGroup != nil {
		u.BloodGroup = *p.BloodGroup
	}
	if p.DateOfBirth != nil {
		u.DateOfBirth = p.DateOfBirth
	}
	if p.Address != nil {
		u.Address = p.Address
	}
	if p.Occupation != nil {
		u.Occupation = p.Occupation
	}
	if p.Allergies != nil {
		u.Allergies = p.Allergies
	}
	if p.PhotoURL != nil {
		u.PhotoURL = p.PhotoURL
	}
	if p.ChronicConditions != nil {
		u.ChronicConditions = *p.ChronicConditions
	}
	if p.EmergencyContacts != nil {
		u.EmergencyContacts = *p.EmergencyContacts
	}
	if p.Specialty != nil {
		u.Specialty = p.Specialty
	}
	if p.Degrees != nil {
		u.Degrees = p.Degrees
	}
	if p.BMDCNumber != nil {
		u.BMDCNumber = p.BMDCNumber
	}
}

// Session is returned by every sign-in path. Sign-out is client-side.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// UserFilter narrows the admin user listing.
type UserFilter struct {
	Role      roles.Role
	StaffOnly bool
	Query     string
}

// PendingApplication is an approval-queue row joined with the applicant.
type PendingApplication struct {
	roles.Application
	UserName  string  `db:"user_name" json:"user_name"`
	UserEmail *string `db:"user_email" json:"user_email,omitempty"`
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
