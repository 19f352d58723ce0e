package organization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/identity"
	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/db"
	"github.com/carenet/carenet/internal/platform/websocket"
)

type Auditor interface {
	Record(ctx context.Context, action audit.Action, details string, target audit.Target) error
}

// UserDirectory is the slice of the identity service this package needs.
type UserDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*identity.User, error)
	GrantRole(ctx context.Context, userID uuid.UUID, role roles.Role) (*identity.User, error)
}

type Service struct {
	repo      Repository
	tx        db.Transactor
	audit     Auditor
	users     UserDirectory
	notifier  *websocket.Notifier
	trialDays int
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, auditor Auditor, users UserDirectory,
	notifier *websocket.Notifier, trialDays int, logger zerolog.Logger) *Service {
	if trialDays <= 0 {
		trialDays = 180
	}
	return &Service{
		repo:      repo,
		tx:        tx,
		audit:     auditor,
		users:     users,
		notifier:  notifier,
		trialDays: trialDays,
		now:       time.Now,
		logger:    logger.With().Str("component", "organization").Logger(),
	}
}

// -- Authorization --

// Authorize checks c against the actor's standing in orgID. Admins always
// pass, the owner passes with the owner role's capabilities and accepted
// staff pass with the capabilities of their staffed roles that are still
// active on their account.
func (s *Service) Authorize(ctx context.Context, actor *roles.Actor, orgID uuid.UUID, c roles.Capability) error {
	if actor == nil {
		return domain.ErrUnauthorized
	}
	if actor.IsAdmin() {
		return nil
	}
	org, err := s.repo.Get(ctx, orgID)
	if err != nil {
		return err
	}
	if org.OwnerID == actor.ID && actor.Has(roles.OrgOwner) && roles.RoleCan(roles.OrgOwner, c) {
		return nil
	}
	staffed, err := s.repo.MemberRoles(ctx, orgID, actor.ID)
	if err != nil {
		return err
	}
	var effective roles.Set
	for _, r := range staffed {
		if actor.Has(r) {
			effective = effective.With(r)
		}
	}
	if roles.Can(effective, c) {
		return nil
	}
	return fmt.Errorf("%s requires %s in organization %s: %w", actor.Name, c, orgID, domain.ErrForbidden)
}

// AuthorizeCtx is Authorize for the actor carried by ctx.
func (s *Service) AuthorizeCtx(ctx context.Context, orgID uuid.UUID, c roles.Capability) (*roles.Actor, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	return actor, s.Authorize(ctx, actor, orgID, c)
}

// IsMember reports whether the actor owns or staffs orgID.
func (s *Service) IsMember(ctx context.Context, actor *roles.Actor, orgID uuid.UUID) (bool, error) {
	if actor == nil {
		return false, nil
	}
	if actor.IsAdmin() {
		return true, nil
	}
	org, err := s.repo.Get(ctx, orgID)
	if err != nil {
		return false, err
	}
	if org.OwnerID == actor.ID {
		return true, nil
	}
	staffed, err := s.repo.MemberRoles(ctx, orgID, actor.ID)
	if err != nil {
		return false, err
	}
	return len(staffed) > 0, nil
}

// StaffRoles returns the accepted staff roles of userID in orgID.
func (s *Service) StaffRoles(ctx context.Context, orgID, userID uuid.UUID) (roles.Set, error) {
	return s.repo.MemberRoles(ctx, orgID, userID)
}

func (s *Service) requireMember(ctx context.Context, orgID uuid.UUID) (*roles.Actor, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := s.IsMember(ctx, actor, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("not a member of organization %s: %w", orgID, domain.ErrForbidden)
	}
	return actor, nil
}

func (s *Service) publish(ctx context.Context, eventType string, org *Organization, data any) {
	s.notifier.Notify(ctx, eventType, "Organization", org.ID.String(), data,
		websocket.TopicOrganizations, websocket.OrgTopic(org.ID.String()))
}

// mutate runs fn in a transaction holding the organization row lock.
func (s *Service) mutate(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, org *Organization) error) (*Organization, error) {
	var org *Organization
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Lock(ctx, orgID); err != nil {
			return err
		}
		o, err := s.repo.Get(ctx, orgID)
		if err != nil {
			return err
		}
		org = o
		return fn(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

func orgTarget(org *Organization) audit.Target {
	return audit.OrgTarget(org.ID, org.Name)
}

// -- Lifecycle --

// ProvisionForOwner creates the first organization of an owner. Owners who
// already have one are left alone.
func (s *Service) ProvisionForOwner(ctx context.Context, ownerID uuid.UUID) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.OwnedBy(ctx, ownerID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		now := s.now().UTC()
		org := &Organization{
			ID:                 uuid.New(),
			OwnerID:            ownerID,
			Name:               defaultName,
			RegistrationNumber: defaultRegistrationNumber,
			Location:           defaultLocation,
			Status:             StatusActive,
			CreatedAt:          now,
			ExpiresAt:          now.AddDate(0, 0, s.trialDays),
			UpdatedAt:          now,
		}
		if err := s.repo.Create(ctx, org); err != nil {
			return err
		}
		s.logger.Info().Str("org_id", org.ID.String()).Str("owner_id", ownerID.String()).Msg("organization provisioned")
		s.publish(ctx, "organization.created", org, org)
		return s.audit.Record(ctx, audit.OrgCreated,
			fmt.Sprintf("Created organization %s", org.Name), orgTarget(org))
	})
}

// Get returns the aggregate with all child collections.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Organization, error) {
	if _, err := s.requireMember(ctx, id); err != nil {
		return nil, err
	}
	org, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, org); err != nil {
		return nil, err
	}
	org.Expired = org.IsExpired(s.now())
	return org, nil
}

func (s *Service) loadChildren(ctx context.Context, org *Organization) error {
	g, gctx := errgroup.WithContext(ctx)
	if db.InTx(ctx) {
		// One connection cannot run statements concurrently.
		g.SetLimit(1)
	}
	g.Go(func() (err error) { org.Beds, err = s.repo.Beds(gctx, org.ID); return })
	g.Go(func() (err error) { org.Pricing, err = s.repo.Pricing(gctx, org.ID); return })
	g.Go(func() (err error) { org.Staff, err = s.repo.Staff(gctx, org.ID); return })
	g.Go(func() (err error) { org.Ledger, err = s.repo.LedgerEntries(gctx, org.ID); return })
	g.Go(func() (err error) { org.Reports, err = s.repo.Reports(gctx, org.ID); return })
	return g.Wait()
}

// List returns every organization to admins and the actor's own otherwise.
func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]Organization, int, error) {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, domain.NewValidationError("status", "must be active, suspended or revoked")
	}
	if !actor.IsAdmin() {
		id := actor.ID
		f.MemberID = &id
	}
	orgs, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for i := range orgs {
		orgs[i].Expired = orgs[i].IsExpired(now)
	}
	return orgs, total, nil
}

// ForMember lists the organizations the actor owns or staffs.
func (s *Service) ForMember(ctx context.Context, userID uuid.UUID) ([]Organization, error) {
	orgs, _, err := s.repo.List(ctx, Filter{MemberID: &userID}, 1000, 0)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range orgs {
		orgs[i].Expired = orgs[i].IsExpired(now)
	}
	return orgs, nil
}

// StatusCounts backs the admin dashboard.
func (s *Service) StatusCounts(ctx context.Context) (map[Status]int, int, error) {
	if err := s.requireAdmin(ctx, roles.ManageLicenses); err != nil {
		return nil, 0, err
	}
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, 0, err
	}
	expired, err := s.repo.CountExpired(ctx, s.now().UTC())
	if err != nil {
		return nil, 0, err
	}
	return counts, expired, nil
}

type ProfileInput struct {
	Name               string `json:"name"`
	RegistrationNumber string `json:"registration_number"`
	Location           string `json:"location"`
}

func (s *Service) UpdateProfile(ctx context.Context, orgID uuid.UUID, in ProfileInput) (*Organization, error) {
	if _, err := s.AuthorizeCtx(ctx, orgID, roles.ManageOrgProfile); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.RegistrationNumber = strings.TrimSpace(in.RegistrationNumber)
	in.Location = strings.TrimSpace(in.Location)
	var v domain.Validator
	v.Check(in.Name != "", "name", "is required")
	v.Check(in.RegistrationNumber != "", "registration_number", "is required")
	v.Check(in.Location != "", "location", "is required")
	if err := v.Err(); err != nil {
		return nil, err
	}

	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		org.Name, org.RegistrationNumber, org.Location = in.Name, in.RegistrationNumber, in.Location
		if err := s.repo.UpdateProfile(ctx, org); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.OrgProfileUpdated,
			fmt.Sprintf("Updated profile of %s", org.Name), orgTarget(org))
	})
	if err != nil {
		return nil, fmt.Errorf("update organization profile: %w", err)
	}
	s.publish(ctx, "organization.updated", org, org)
	return org, nil
}

func (s *Service) requireAdmin(ctx context.Context, c roles.Capability) error {
	actor, err := roles.RequireActor(ctx)
	if err != nil {
		return err
	}
	return roles.Authorize(actor, c)
}

// ExtendLicense pushes the expiry forward by whole calendar months.
func (s *Service) ExtendLicense(ctx context.Context, orgID uuid.UUID, months int) (*Organization, error) {
	if err := s.requireAdmin(ctx, roles.ManageLicenses); err != nil {
		return nil, err
	}
	if months < 1 || months > maxExtendMonths {
		return nil, domain.NewValidationError("months", fmt.Sprintf("must be between 1 and %d", maxExtendMonths))
	}
	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		org.ExpiresAt = org.ExpiresAt.AddDate(0, months, 0)
		if err := s.repo.SetExpiry(ctx, org.ID, org.ExpiresAt); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.LicenseExtended,
			fmt.Sprintf("Extended license of %s by %d months until %s", org.Name, months, org.ExpiresAt.Format("2006-01-02")),
			orgTarget(org))
	})
	if err != nil {
		return nil, fmt.Errorf("extend license: %w", err)
	}
	org.Expired = org.IsExpired(s.now())
	s.publish(ctx, "organization.updated", org, org)
	return org, nil
}

// SetStatus overwrites the status. Every transition is allowed.
func (s *Service) SetStatus(ctx context.Context, orgID uuid.UUID, status Status) (*Organization, error) {
	if err := s.requireAdmin(ctx, roles.ManageLicenses); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.NewValidationError("status", "must be active, suspended or revoked")
	}
	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		prev := org.Status
		org.Status = status
		if err := s.repo.SetStatus(ctx, org.ID, status); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.OrgStatusUpdate,
			fmt.Sprintf("Changed status of %s from %s to %s", org.Name, prev, status), orgTarget(org))
	})
	if err != nil {
		return nil, fmt.Errorf("set organization status: %w", err)
	}
	org.Expired = org.IsExpired(s.now())
	s.logger.Info().Str("org_id", orgID.String()).Str("status", string(status)).Msg("organization status changed")
	s.publish(ctx, "organization.updated", org, org)
	return org, nil
}

// -- Staff --

func (s *Service) Staff(ctx context.Context, orgID uuid.UUID) ([]StaffMember, error) {
	if _, err := s.requireMember(ctx, orgID); err != nil {
		return nil, err
	}
	return s.repo.Staff(ctx, orgID)
}

// RecruitStaff adds an accepted staff member and grants the role on the
// user's account in the same transaction.
func (s *Service) RecruitStaff(ctx context.Context, orgID, userID uuid.UUID, rawRole string) (*StaffMember, error) {
	if _, err := s.AuthorizeCtx(ctx, orgID, roles.ManageStaff); err != nil {
		return nil, err
	}
	role, err := roles.Parse(rawRole)
	if err != nil || !role.IsStaff() {
		return nil, domain.NewValidationError("role", "must be a staff role")
	}

	var member *StaffMember
	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		u, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		member = &StaffMember{
			OrgID:    org.ID,
			UserID:   u.ID,
			Role:     role,
			Status:   StaffAccepted,
			Name:     u.Name,
			JoinedAt: s.now().UTC(),
		}
		if err := s.repo.AddStaff(ctx, member); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("%s is already %s at %s: %w", u.Name, role, org.Name, domain.ErrConflict)
			}
			return err
		}
		if _, err := s.users.GrantRole(ctx, u.ID, role); err != nil {
			return fmt.Errorf("grant role: %w", err)
		}
		return s.audit.Record(ctx, audit.StaffRecruited,
			fmt.Sprintf("Recruited %s as %s for %s", u.Name, role, org.Name),
			audit.UserTarget(u.ID, u.Name).InOrg(org.ID))
	})
	if err != nil {
		return nil, fmt.Errorf("recruit staff: %w", err)
	}
	s.publish(ctx, "organization.staff_added", org, member)
	return member, nil
}

// -- Beds --

func (s *Service) Beds(ctx context.Context, orgID uuid.UUID) ([]Bed, error) {
	if _, err := s.requireMember(ctx, orgID); err != nil {
		return nil, err
	}
	return s.repo.Beds(ctx, orgID)
}

func (s *Service) AddBed(ctx context.Context, orgID uuid.UUID, label string, bedType BedType) (*Bed, error) {
	if _, err := s.AuthorizeCtx(ctx, orgID, roles.ManageBeds); err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if bedType == "" {
		bedType = BedWard
	}
	var v domain.Validator
	v.Check(label != "", "label", "is required")
	v.Check(bedType == BedWard || bedType == BedCabin, "type", "must be Ward or Cabin")
	if err := v.Err(); err != nil {
		return nil, err
	}

	bed := &Bed{ID: uuid.New(), OrgID: orgID, Label: label, Type: bedType, UpdatedAt: s.now().UTC()}
	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		if err := s.repo.AddBed(ctx, bed); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.BedAdded,
			fmt.Sprintf("Added %s bed %s", bedType, label), orgTarget(org))
	})
	if err != nil {
		return nil, fmt.Errorf("add bed: %w", err)
	}
	s.publish(ctx, "organization.bed_added", org, bed)
	return bed, nil
}

// UpdateBed occupies a bed with a patient or frees it.
func (s *Service) UpdateBed(ctx context.Context, orgID, bedID uuid.UUID, occupied bool, patientID *uuid.UUID) (*Bed, error) {
	if _, err := s.AuthorizeCtx(ctx, orgID, roles.ManageBeds); err != nil {
		return nil, err
	}
	if occupied && (patientID == nil || *patientID == uuid.Nil) {
		return nil, domain.NewValidationError("patient_id", "is required to occupy a bed")
	}
	if !occupied {
		patientID = nil
	}

	var bed *Bed
	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		b, err := s.repo.UpdateBed(ctx, orgID, bedID, occupied, patientID)
		if err != nil {
			return err
		}
		bed = b
		state := "available"
		if occupied {
			state = "occupied"
		}
		return s.audit.Record(ctx, audit.BedUpdate,
			fmt.Sprintf("Marked bed %s as %s", b.Label, state), orgTarget(org))
	})
	if err != nil {
		return nil, fmt.Errorf("update bed: %w", err)
	}
	s.publish(ctx, "organization.bed_updated", org, bed)
	return bed, nil
}

// -- Pricing --

// Pricing is readable by any signed-in user so patients can compare costs.
func (s *Service) Pricing(ctx context.Context, orgID uuid.UUID) ([]PriceItem, error) {
	if _, err := roles.RequireActor(ctx); err != nil {
		return nil, err
	}
	if _, err := s.repo.Get(ctx, orgID); err != nil {
		return nil, err
	}
	return s.repo.Pricing(ctx, orgID)
}

func (s *Service) AddPrice(ctx context.Context, orgID uuid.UUID, name string, price decimal.Decimal) (*PriceItem, error) {
	if _, err := s.AuthorizeCtx(ctx, orgID, roles.ManagePricing); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	var v domain.Validator
	v.Check(name != "", "investigation_name", "is required")
	v.Check(!price.IsNegative(), "price", "must not be negative")
	if err := v.Err(); err != nil {
		return nil, err
	}

	item := &PriceItem{ID: uuid.New(), OrgID: orgID, InvestigationName: name, Price: price}
	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		if err := s.repo.AddPrice(ctx, item); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.PricingUpdated,
			fmt.Sprintf("Added price for %s: %s", name, price.StringFixed(2)), orgTarget(org))
	})
	if err != nil {
		return nil, fmt.Errorf("add price: %w", err)
	}
	s.publish(ctx, "organization.pricing_updated", org, item)
	return item, nil
}

func (s *Service) RemovePrice(ctx context.Context, orgID, itemID uuid.UUID) error {
	if _, err := s.AuthorizeCtx(ctx, orgID, roles.ManagePricing); err != nil {
		return err
	}
	var removed *PriceItem
	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		item, err := s.repo.RemovePrice(ctx, orgID, itemID)
		if err != nil {
			return err
		}
		removed = item
		return s.audit.Record(ctx, audit.PricingUpdated,
			fmt.Sprintf("Removed price for %s", item.InvestigationName), orgTarget(org))
	})
	if err != nil {
		return fmt.Errorf("remove price: %w", err)
	}
	s.publish(ctx, "organization.pricing_updated", org, removed)
	return nil
}

// -- Ledger --

type LedgerInput struct {
	Type   EntryType        `json:"type"`
	Amount *decimal.Decimal `json:"amount"`
	Note   string           `json:"note"`
}

func (s *Service) AddLedgerEntry(ctx context.Context, orgID uuid.UUID, in LedgerInput) (*LedgerEntry, error) {
	actor, err := s.AuthorizeCtx(ctx, orgID, roles.ManageLedger)
	if err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = Credit
	}
	amount := decimal.Zero
	if in.Amount != nil {
		amount = *in.Amount
	}
	var v domain.Validator
	v.Check(in.Type == Credit || in.Type == Debit, "type", "must be credit or debit")
	v.Check(!amount.IsNegative(), "amount", "must not be negative")
	if err := v.Err(); err != nil {
		return nil, err
	}

	entry := &LedgerEntry{
		ID:        uuid.New(),
		OrgID:     orgID,
		Type:      in.Type,
		Amount:    amount,
		Note:      strings.TrimSpace(in.Note),
		ActorID:   actor.ID,
		Timestamp: s.now().UTC(),
	}
	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		if err := s.repo.AddLedgerEntry(ctx, entry); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.FinancialEntry,
			fmt.Sprintf("Added financial entry: %s", entry.Note), orgTarget(org))
	})
	if err != nil {
		return nil, fmt.Errorf("add ledger entry: %w", err)
	}
	s.publish(ctx, "organization.ledger_updated", org, entry)
	return entry, nil
}

func (s *Service) Ledger(ctx context.Context, orgID uuid.UUID) (*Ledger, error) {
	if _, err := s.AuthorizeCtx(ctx, orgID, roles.ManageLedger); err != nil {
		return nil, err
	}
	entries, err := s.repo.LedgerEntries(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &Ledger{Entries: entries, Stats: Summarize(entries)}, nil
}

// ResetLedger closes the current session: the entries are archived into a
// financial report and the live ledger starts empty.
func (s *Service) ResetLedger(ctx context.Context, orgID uuid.UUID) (*FinancialReport, error) {
	actor, err := s.AuthorizeCtx(ctx, orgID, roles.ResetLedger)
	if err != nil {
		return nil, err
	}
	var report *FinancialReport
	org, err := s.mutate(ctx, orgID, func(ctx context.Context, org *Organization) error {
		entries, err := s.repo.DrainLedger(ctx, orgID)
		if err != nil {
			return err
		}
		st := Summarize(entries)
		report = &FinancialReport{
			ID:          uuid.New(),
			OrgID:       orgID,
			TotalCredit: st.TotalCredit,
			TotalDebit:  st.TotalDebit,
			NetBalance:  st.Balance,
			Entries:     ReportEntries(entries),
			SubmittedAt: s.now().UTC(),
			SubmittedBy: actor.ID,
		}
		if err := s.repo.AddReport(ctx, report); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.LedgerReset,
			fmt.Sprintf("Reset ledger of %s: archived %d entries, net balance %s",
				org.Name, len(entries), st.Balance.StringFixed(2)), orgTarget(org))
	})
	if err != nil {
		return nil, fmt.Errorf("reset ledger: %w", err)
	}
	s.logger.Info().Str("org_id", orgID.String()).Int("entries", len(report.Entries)).Msg("ledger reset")
	s.publish(ctx, "organization.ledger_reset", org, report)
	return report, nil
}

func (s *Service) Reports(ctx context.Context, orgID uuid.UUID) ([]FinancialReport, error) {
	if _, err := s.AuthorizeCtx(ctx, orgID, roles.ManageLedger); err != nil {
		return nil, err
	}
	return s.repo.Reports(ctx, orgID)
}
