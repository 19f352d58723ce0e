// Package roles is the role model: the ten role tags, the active/suspended
// role sets with their transitions, role applications, the capability policy
// consulted by every mutating service, and dashboard navigation.
package roles

import (
	"fmt"
	"strings"

	"github.com/carenet/carenet/internal/domain"
)

type Role string

const (
	Patient          Role = "Patient"
	Doctor           Role = "Doctor"
	Nurse            Role = "Nurse"
	OrgOwner         Role = "Organization Owner"
	Manager          Role = "Manager"
	Pathologist      Role = "Pathologist"
	SystemAdmin      Role = "System Admin"
	AssistantManager Role = "Assistant Manager"
	LabTechnician    Role = "Lab Technician"
	FrontDesk        Role = "Front Desk"
)

var All = []Role{
	Patient, Doctor, Nurse, OrgOwner, Manager,
	Pathologist, SystemAdmin, AssistantManager, LabTechnician, FrontDesk,
}

// Staff roles can be recruited into an organization.
var staffRoles = map[Role]bool{
	Doctor: true, Nurse: true, Manager: true, AssistantManager: true,
	Pathologist: true, LabTechnician: true, FrontDesk: true,
}

var slugs = map[string]Role{
	"patient":           Patient,
	"doctor":            Doctor,
	"nurse":             Nurse,
	"org_owner":         OrgOwner,
	"manager":           Manager,
	"pathologist":       Pathologist,
	"system_admin":      SystemAdmin,
	"assistant_manager": AssistantManager,
	"lab_technician":    LabTechnician,
	"front_desk":        FrontDesk,
}

// Parse accepts a display name (case-insensitive) or a snake_case slug.
func Parse(s string) (Role, error) {
	s = strings.TrimSpace(s)
	if r, ok := slugs[strings.ToLower(s)]; ok {
		return r, nil
	}
	for _, r := range All {
		if strings.EqualFold(string(r), s) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q: %w", s, domain.ErrValidation)
}

// MustParse is Parse for constants in tests and wiring.
func MustParse(s string) Role {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Role) Valid() bool {
	for _, x := range All {
		if x == r {
			return true
		}
	}
	return false
}

func (r Role) IsStaff() bool { return staffRoles[r] }

func (r Role) Slug() string {
	for k, v := range slugs {
		if v == r {
			return k
		}
	}
	return ""
}

func (r Role) String() string { return string(r) }

// UnmarshalText lets request bodies use either form.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r), nil }
