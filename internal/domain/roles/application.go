package roles

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
)

type Application struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	UserID             uuid.UUID         `db:"user_id" json:"user_id"`
	Role               Role              `db:"role" json:"role"`
	Status             ApplicationStatus `db:"status" json:"status"`
	Details            string            `db:"details" json:"details"`
	RegistrationNumber string            `db:"registration_number" json:"registration_number"`
	AppliedAt          time.Time         `db:"applied_at" json:"applied_at"`
	DecidedAt          *time.Time        `db:"decided_at" json:"decided_at,omitempty"`
}

// HasPending reports whether apps holds a pending application for r.
func HasPending(apps []Application, r Role) bool {
	for _, a := range apps {
		if a.Role == r && a.Status == ApplicationPending {
			return true
		}
	}
	return false
}

// Approve flips every pending application for r to approved and grants r.
// It returns the number of applications flipped.
func (a *Assignment) Approve(apps []Application, r Role, now time.Time) int {
	n := 0
	for i := range apps {
		if apps[i].Role == r && apps[i].Status == ApplicationPending {
			apps[i].Status = ApplicationApproved
			decided := now
			apps[i].DecidedAt = &decided
			n++
		}
	}
	a.Grant(r)
	return n
}
