package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain/roles"
)

type Repository interface {
	// Create inserts u and its active roles. A taken email or health id is
	// ErrAlreadyExists.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByGitHubID(ctx context.Context, githubID string) (*User, error)
	// Lock takes a row lock on the user for the rest of the transaction.
	Lock(ctx context.Context, id uuid.UUID) error
	LinkGitHub(ctx context.Context, id uuid.UUID, githubID string) error
	UpdateProfile(ctx context.Context, u *User) error
	List(ctx context.Context, f UserFilter, limit, offset int) ([]User, int, error)
	SearchPatients(ctx context.Context, query string, limit int) ([]User, error)

	SetRoleState(ctx context.Context, userID uuid.UUID, r roles.Role, active bool) error
	DeleteRole(ctx context.Context, userID uuid.UUID, r roles.Role) error

	CreateApplication(ctx context.Context, app *roles.Application) error
	ApprovePending(ctx context.Context, userID uuid.UUID, r roles.Role, at time.Time) (int, error)
	ListApplications(ctx context.Context, status roles.ApplicationStatus, limit, offset int) ([]PendingApplication, int, error)

	SetRedFlag(ctx context.Context, id uuid.UUID, flag RedFlag) error
	SetDoctorNotes(ctx context.Context, id uuid.UUID, notes string) error
	SetRecordViewLimit(ctx context.Context, id uuid.UUID, n int) error
}
