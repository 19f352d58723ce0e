package organization

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carenet/carenet/internal/domain/roles"
)

type Repository interface {
	Create(ctx context.Context, o *Organization) error
	Get(ctx context.Context, id uuid.UUID) (*Organization, error)
	Lock(ctx context.Context, id uuid.UUID) error
	OwnedBy(ctx context.Context, ownerID uuid.UUID) ([]Organization, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]Organization, int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	CountExpired(ctx context.Context, now time.Time) (int, error)
	UpdateProfile(ctx context.Context, o *Organization) error
	SetStatus(ctx context.Context, id uuid.UUID, s Status) error
	SetExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error

	Beds(ctx context.Context, orgID uuid.UUID) ([]Bed, error)
	AddBed(ctx context.Context, b *Bed) error
	// UpdateBed changes occupancy of one bed of the organization and returns
	// the updated row.
	UpdateBed(ctx context.Context, orgID, bedID uuid.UUID, occupied bool, patientID *uuid.UUID) (*Bed, error)

	Staff(ctx context.Context, orgID uuid.UUID) ([]StaffMember, error)
	AddStaff(ctx context.Context, m *StaffMember) error
	// MemberRoles returns the accepted staff roles of userID in orgID.
	MemberRoles(ctx context.Context, orgID, userID uuid.UUID) (roles.Set, error)

	Pricing(ctx context.Context, orgID uuid.UUID) ([]PriceItem, error)
	AddPrice(ctx context.Context, p *PriceItem) error
	RemovePrice(ctx context.Context, orgID, itemID uuid.UUID) (*PriceItem, error)

	LedgerEntries(ctx context.Context, orgID uuid.UUID) ([]LedgerEntry, error)
	AddLedgerEntry(ctx context.Context, e *LedgerEntry) error
	// DrainLedger deletes and returns every entry of the organization.
	DrainLedger(ctx context.Context, orgID uuid.UUID) ([]LedgerEntry, error)

	Reports(ctx context.Context, orgID uuid.UUID) ([]FinancialReport, error)
	AddReport(ctx context.Context, r *FinancialReport) error
}
