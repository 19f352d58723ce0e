package roles

type NavItem struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Path  string `json:"path"`
}

var (
	navProfile   = NavItem{"profile", "Profile", "/profile"}
	navPatient   = NavItem{"patient", "Patient Dashboard", "/dashboard/patient"}
	navDoctor    = NavItem{"doctor", "Doctor Dashboard", "/dashboard/doctor"}
	navNurse     = NavItem{"nurse", "Nurse Dashboard", "/dashboard/nurse"}
	navPathology = NavItem{"pathology", "Pathology Dashboard", "/dashboard/pathology"}
	navStaff     = NavItem{"staff", "Staff Dashboard", "/dashboard/staff"}
	navOwner     = NavItem{"org-owner", "Organization Dashboard", "/dashboard/organization"}
	navAdmin     = NavItem{"admin", "Admin Dashboard", "/dashboard/admin"}
	navApply     = NavItem{"apply-role", "Apply for Role", "/apply"}
)

// Navigation returns the dashboards visible to the given active roles.
func Navigation(active Set) []NavItem {
	items := []NavItem{navProfile}
	if active.Has(Patient) {
		items = append(items, navPatient)
	}
	if active.Has(Doctor) {
		items = append(items, navDoctor)
	}
	if active.Has(Nurse) {
		items = append(items, navNurse)
	}
	if active.HasAny(Pathologist, LabTechnician) {
		items = append(items, navPathology)
	}
	if active.HasAny(Manager, AssistantManager, FrontDesk) {
		items = append(items, navStaff)
	}
	if active.Has(OrgOwner) {
		items = append(items, navOwner)
	}
	if active.Has(SystemAdmin) {
		items = append(items, navAdmin)
	}
	return append(items, navApply)
}
