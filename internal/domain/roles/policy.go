package roles

import (
	"fmt"

	"github.com/carenet/carenet/internal/domain"
)

type Capability string

const (
	ManageRoles            Capability = "manage_roles"
	ManageLicenses         Capability = "manage_licenses"
	ViewAllAudit           Capability = "view_all_audit"
	ViewOrgAudit           Capability = "view_org_audit"
	ManageOrgProfile       Capability = "manage_org_profile"
	ManageStaff            Capability = "manage_staff"
	ManageBeds             Capability = "manage_beds"
	ManagePricing          Capability = "manage_pricing"
	ManageLedger           Capability = "manage_ledger"
	ResetLedger            Capability = "reset_ledger"
	ManageSchedules        Capability = "manage_schedules"
	BookAppointments       Capability = "book_appointments"
	UpdateAppointments     Capability = "update_appointments"
	ViewPatients           Capability = "view_patients"
	WriteClinicalNotes     Capability = "write_clinical_notes"
	RequestInvestigations  Capability = "request_investigations"
	CompleteInvestigations Capability = "complete_investigations"
	ViewInvestigations     Capability = "view_investigations"
	ManageOwnRecords       Capability = "manage_own_records"
)

// policy lists the roles holding each capability. System Admin is implicit.
var policy = map[Capability][]Role{
	ManageRoles:            nil,
	ManageLicenses:         nil,
	ViewAllAudit:           nil,
	ViewOrgAudit:           {OrgOwner, Manager, AssistantManager},
	ManageOrgProfile:       {OrgOwner, Manager},
	ManageStaff:            {OrgOwner, Manager},
	ManageBeds:             {OrgOwner, Manager, AssistantManager, Nurse, FrontDesk},
	ManagePricing:          {OrgOwner, Manager},
	ManageLedger:           {OrgOwner, Manager, AssistantManager, FrontDesk},
	ResetLedger:            {OrgOwner, Manager},
	ManageSchedules:        {OrgOwner, Manager, AssistantManager, FrontDesk},
	BookAppointments:       {Patient, FrontDesk, Doctor, OrgOwner, Manager, AssistantManager},
	UpdateAppointments:     {Doctor, FrontDesk, Manager, AssistantManager, OrgOwner},
	ViewPatients:           {Doctor, Nurse, Pathologist, LabTechnician},
	WriteClinicalNotes:     {Doctor},
	RequestInvestigations:  {Doctor, FrontDesk},
	CompleteInvestigations: {Pathologist, LabTechnician},
	ViewInvestigations:     {Doctor, Nurse, Pathologist, LabTechnician, FrontDesk, OrgOwner, Manager},
	ManageOwnRecords:       {Patient},
}

// Holders returns the roles that hold c, excluding the implicit admin.
func Holders(c Capability) []Role {
	return policy[c]
}

// RoleCan reports whether a single role holds c.
func RoleCan(r Role, c Capability) bool {
	if r == SystemAdmin {
		return true
	}
	for _, h := range policy[c] {
		if h == r {
			return true
		}
	}
	return false
}

// Can reports whether any role in s holds c.
func Can(s Set, c Capability) bool {
	for _, r := range s {
		if RoleCan(r, c) {
			return true
		}
	}
	return false
}

// Authorize returns ErrForbidden unless the actor holds c.
func Authorize(a *Actor, c Capability) error {
	if a == nil {
		return domain.ErrUnauthorized
	}
	if !Can(a.Roles, c) {
		return fmt.Errorf("%s requires %s: %w", a.Name, c, domain.ErrForbidden)
	}
	return nil
}
