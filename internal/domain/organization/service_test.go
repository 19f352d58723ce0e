package organization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/identity"
	"github.com/carenet/carenet/internal/domain/roles"
)

// -- Mock Repository --

type state struct {
	orgs    map[uuid.UUID]Organization
	beds    []Bed
	staff   []StaffMember
	pricing []PriceItem
	ledger  []LedgerEntry
	reports []FinancialReport
	seq     int64
}

func (s state) copy() state {
	c := s
	c.orgs = make(map[uuid.UUID]Organization, len(s.orgs))
	for k, v := range s.orgs {
		c.orgs[k] = v
	}
	c.beds = append([]Bed(nil), s.beds...)
	c.staff = append([]StaffMember(nil), s.staff...)
	c.pricing = append([]PriceItem(nil), s.pricing...)
	c.ledger = append([]LedgerEntry(nil), s.ledger...)
	c.reports = append([]FinancialReport(nil), s.reports...)
	return c
}

type mockRepo struct {
	mu sync.Mutex
	st state
}

func newMockRepo() *mockRepo {
	return &mockRepo{st: state{orgs: make(map[uuid.UUID]Organization)}}
}

func notFound(what string) error { return fmt.Errorf("%s: %w", what, domain.ErrNotFound) }

func (m *mockRepo) Create(_ context.Context, o *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.orgs[o.ID] = *o
	return nil
}

func (m *mockRepo) Get(_ context.Context, id uuid.UUID) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.st.orgs[id]
	if !ok {
		return nil, notFound("organization")
	}
	return &o, nil
}

func (m *mockRepo) Lock(ctx context.Context, id uuid.UUID) error {
	_, err := m.Get(ctx, id)
	return err
}

func (m *mockRepo) OwnedBy(_ context.Context, ownerID uuid.UUID) ([]Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Organization
	for _, o := range m.st.orgs {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]Organization, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Organization
	for _, o := range m.st.orgs {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.MemberID != nil && o.OwnerID != *f.MemberID && !m.staffedLocked(o.ID, *f.MemberID) {
			continue
		}
		out = append(out, o)
	}
	return out, len(out), nil
}

func (m *mockRepo) staffedLocked(orgID, userID uuid.UUID) bool {
	for _, s := range m.st.staff {
		if s.OrgID == orgID && s.UserID == userID && s.Status == StaffAccepted {
			return true
		}
	}
	return false
}

func (m *mockRepo) CountByStatus(context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[Status]int{}
	for _, o := range m.st.orgs {
		out[o.Status]++
	}
	return out, nil
}

func (m *mockRepo) CountExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.st.orgs {
		if o.IsExpired(now) {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) update(id uuid.UUID, fn func(*Organization)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.st.orgs[id]
	if !ok {
		return notFound("organization")
	}
	fn(&o)
	m.st.orgs[id] = o
	return nil
}

func (m *mockRepo) UpdateProfile(_ context.Context, o *Organization) error {
	return m.update(o.ID, func(x *Organization) {
		x.Name, x.RegistrationNumber, x.Location = o.Name, o.RegistrationNumber, o.Location
	})
}

func (m *mockRepo) SetStatus(_ context.Context, id uuid.UUID, s Status) error {
	return m.update(id, func(x *Organization) { x.Status = s })
}

func (m *mockRepo) SetExpiry(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, func(x *Organization) { x.ExpiresAt = at })
}

func (m *mockRepo) Beds(_ context.Context, orgID uuid.UUID) ([]Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bed
	for _, b := range m.st.beds {
		if b.OrgID == orgID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockRepo) AddBed(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.beds = append(m.st.beds, *b)
	return nil
}

func (m *mockRepo) UpdateBed(_ context.Context, orgID, bedID uuid.UUID, occupied bool, patientID *uuid.UUID) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.st.beds {
		if b.OrgID == orgID && b.ID == bedID {
			m.st.beds[i].IsOccupied = occupied
			m.st.beds[i].CurrentPatientID = patientID
			out := m.st.beds[i]
			return &out, nil
		}
	}
	return nil, notFound("bed")
}

func (m *mockRepo) Staff(_ context.Context, orgID uuid.UUID) ([]StaffMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StaffMember
	for _, s := range m.st.staff {
		if s.OrgID == orgID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockRepo) AddStaff(_ context.Context, s *StaffMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.st.staff {
		if x.OrgID == s.OrgID && x.UserID == s.UserID && x.Role == s.Role {
			return fmt.Errorf("staff member: %w", domain.ErrAlreadyExists)
		}
	}
	m.st.staff = append(m.st.staff, *s)
	return nil
}

func (m *mockRepo) MemberRoles(_ context.Context, orgID, userID uuid.UUID) (roles.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out roles.Set
	for _, s := range m.st.staff {
		if s.OrgID == orgID && s.UserID == userID && s.Status == StaffAccepted {
			out = out.With(s.Role)
		}
	}
	return out, nil
}

func (m *mockRepo) Pricing(_ context.Context, orgID uuid.UUID) ([]PriceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PriceItem
	for _, p := range m.st.pricing {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepo) AddPrice(_ context.Context, p *PriceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.pricing = append(m.st.pricing, *p)
	return nil
}

func (m *mockRepo) RemovePrice(_ context.Context, orgID, itemID uuid.UUID) (*PriceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.st.pricing {
		if p.OrgID == orgID && p.ID == itemID {
			m.st.pricing = append(m.st.pricing[:i], m.st.pricing[i+1:]...)
			return &p, nil
		}
	}
	return nil, notFound("price item")
}

func (m *mockRepo) LedgerEntries(_ context.Context, orgID uuid.UUID) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for _, e := range m.st.ledger {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockRepo) AddLedgerEntry(_ context.Context, e *LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.seq++
	e.Seq = m.st.seq
	m.st.ledger = append(m.st.ledger, *e)
	return nil
}

func (m *mockRepo) DrainLedger(_ context.Context, orgID uuid.UUID) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var drained, kept []LedgerEntry
	for _, e := range m.st.ledger {
		if e.OrgID == orgID {
			drained = append(drained, e)
		} else {
			kept = append(kept, e)
		}
	}
	m.st.ledger = kept
	sort.Slice(drained, func(i, j int) bool { return drained[i].Seq < drained[j].Seq })
	return drained, nil
}

func (m *mockRepo) Reports(_ context.Context, orgID uuid.UUID) ([]FinancialReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FinancialReport
	for i := len(m.st.reports) - 1; i >= 0; i-- {
		if m.st.reports[i].OrgID == orgID {
			out = append(out, m.st.reports[i])
		}
	}
	return out, nil
}

func (m *mockRepo) AddReport(_ context.Context, r *FinancialReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.reports = append(m.st.reports, *r)
	return nil
}

// -- Fakes --

// snapshotTx restores the mock repository when fn fails.
type snapshotTx struct {
	repo *mockRepo
}

func (t snapshotTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.repo.mu.Lock()
	saved := t.repo.st.copy()
	t.repo.mu.Unlock()
	if err := fn(ctx); err != nil {
		t.repo.mu.Lock()
		t.repo.st = saved
		t.repo.mu.Unlock()
		return err
	}
	return nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	actions []audit.Action
	details []string
}

func (f *fakeAuditor) Record(ctx context.Context, action audit.Action, details string, _ audit.Target) error {
	if _, ok := roles.ActorFromContext(ctx); !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	f.details = append(f.details, details)
	return nil
}

type fakeUsers struct {
	users    map[uuid.UUID]*identity.User
	grantErr error
	granted  []roles.Role
}

func (f *fakeUsers) Get(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, notFound("user")
	}
	return u, nil
}

func (f *fakeUsers) GrantRole(_ context.Context, id uuid.UUID, r roles.Role) (*identity.User, error) {
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	u := f.users[id]
	u.ActiveRoles = u.ActiveRoles.With(r)
	f.granted = append(f.granted, r)
	return u, nil
}

type testEnv struct {
	svc   *Service
	repo  *mockRepo
	audit *fakeAuditor
	users *fakeUsers
	now   time.Time
	owner *roles.Actor
	org   *Organization
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:  newMockRepo(),
		audit: &fakeAuditor{},
		users: &fakeUsers{users: map[uuid.UUID]*identity.User{}},
		now:   time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(env.repo, snapshotTx{env.repo}, env.audit, env.users, nil, 180, zerolog.Nop())
	env.svc.now = func() time.Time { return env.now }

	env.owner = &roles.Actor{ID: uuid.New(), Name: "Owner", Roles: roles.NewSet(roles.Patient, roles.OrgOwner)}
	require.NoError(t, env.svc.ProvisionForOwner(env.ctx(env.owner), env.owner.ID))
	orgs, err := env.repo.OwnedBy(context.Background(), env.owner.ID)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	env.org = &orgs[0]
	return env
}

func (env *testEnv) ctx(a *roles.Actor) context.Context {
	return roles.WithActor(context.Background(), a)
}

func (env *testEnv) ownerCtx() context.Context { return env.ctx(env.owner) }

func (env *testEnv) addUser(name string, rs ...roles.Role) *identity.User {
	u := &identity.User{ID: uuid.New(), Name: name, ActiveRoles: roles.NewSet(append([]roles.Role{roles.Patient}, rs...)...)}
	env.users.users[u.ID] = u
	return u
}

func adminCtx() context.Context {
	return roles.WithActor(context.Background(), &roles.Actor{ID: uuid.New(), Name: "Admin", Roles: roles.NewSet(roles.SystemAdmin)})
}

// -- Lifecycle --

func TestProvisionForOwner_Defaults(t *testing.T) {
	env := newTestEnv(t)
	org := env.org

	assert.Equal(t, defaultName, org.Name)
	assert.Equal(t, defaultRegistrationNumber, org.RegistrationNumber)
	assert.Equal(t, defaultLocation, org.Location)
	assert.Equal(t, StatusActive, org.Status)
	assert.Equal(t, env.now.AddDate(0, 0, 180), org.ExpiresAt)
	assert.Equal(t, []audit.Action{audit.OrgCreated}, env.audit.actions)
}

func TestProvisionForOwner_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.ProvisionForOwner(env.ownerCtx(), env.owner.ID))

	orgs, err := env.repo.OwnedBy(context.Background(), env.owner.ID)
	require.NoError(t, err)
	assert.Len(t, orgs, 1)
}

func TestGet_Aggregate(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.ownerCtx()
	_, err := env.svc.AddBed(ctx, env.org.ID, "W-1", BedWard)
	require.NoError(t, err)
	_, err = env.svc.AddPrice(ctx, env.org.ID, "CBC", decimal.NewFromInt(400))
	require.NoError(t, err)

	org, err := env.svc.Get(ctx, env.org.ID)
	require.NoError(t, err)
	assert.Len(t, org.Beds, 1)
	assert.Len(t, org.Pricing, 1)
	assert.False(t, org.Expired)
}

func TestGet_ExpiredIsDerived(t *testing.T) {
	env := newTestEnv(t)
	env.now = env.now.AddDate(1, 0, 0)

	org, err := env.svc.Get(env.ownerCtx(), env.org.ID)
	require.NoError(t, err)
	assert.True(t, org.Expired)
	assert.Equal(t, StatusActive, org.Status)
}

func TestGet_NonMemberForbidden(t *testing.T) {
	env := newTestEnv(t)
	stranger := &roles.Actor{ID: uuid.New(), Name: "Stranger", Roles: roles.NewSet(roles.Patient)}
	_, err := env.svc.Get(env.ctx(stranger), env.org.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestList_ScopedToMember(t *testing.T) {
	env := newTestEnv(t)
	other := &roles.Actor{ID: uuid.New(), Name: "Other", Roles: roles.NewSet(roles.Patient, roles.OrgOwner)}
	require.NoError(t, env.svc.ProvisionForOwner(env.ctx(other), other.ID))

	orgs, total, err := env.svc.List(env.ownerCtx(), Filter{}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, env.org.ID, orgs[0].ID)

	_, total, err = env.svc.List(adminCtx(), Filter{}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	org, err := env.svc.UpdateProfile(env.ownerCtx(), env.org.ID, ProfileInput{
		Name: " City Clinic ", RegistrationNumber: "DGHS-1", Location: "Dhaka",
	})
	require.NoError(t, err)
	assert.Equal(t, "City Clinic", org.Name)
	assert.Contains(t, env.audit.actions, audit.OrgProfileUpdated)

	_, err = env.svc.UpdateProfile(env.ownerCtx(), env.org.ID, ProfileInput{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestExtendLicense(t *testing.T) {
	env := newTestEnv(t)
	before := env.org.ExpiresAt

	org, err := env.svc.ExtendLicense(adminCtx(), env.org.ID, 12)
	require.NoError(t, err)
	assert.Equal(t, before.AddDate(0, 12, 0), org.ExpiresAt)

	for _, months := range []int{0, 121} {
		_, err := env.svc.ExtendLicense(adminCtx(), env.org.ID, months)
		assert.ErrorIs(t, err, domain.ErrValidation, "months=%d", months)
	}

	_, err = env.svc.ExtendLicense(env.ownerCtx(), env.org.ID, 1)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t)
	org, err := env.svc.SetStatus(adminCtx(), env.org.ID, StatusRevoked)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, org.Status)

	org, err = env.svc.SetStatus(adminCtx(), env.org.ID, StatusActive)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, org.Status)

	_, err = env.svc.SetStatus(adminCtx(), env.org.ID, "closed")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStatusCounts(t *testing.T) {
	env := newTestEnv(t)
	env.now = env.now.AddDate(2, 0, 0)
	counts, expired, err := env.svc.StatusCounts(adminCtx())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusActive])
	assert.Equal(t, 1, expired)
}

// -- Staff --

func TestRecruitStaff(t *testing.T) {
	env := newTestEnv(t)
	nurse := env.addUser("Nadia")

	m, err := env.svc.RecruitStaff(env.ownerCtx(), env.org.ID, nurse.ID, "nurse")
	require.NoError(t, err)
	assert.Equal(t, roles.Nurse, m.Role)
	assert.Equal(t, StaffAccepted, m.Status)
	assert.True(t, nurse.ActiveRoles.Has(roles.Nurse))
	assert.Contains(t, env.audit.details, "Recruited Nadia as Nurse for "+defaultName)

	_, err = env.svc.RecruitStaff(env.ownerCtx(), env.org.ID, nurse.ID, "nurse")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRecruitStaff_RejectsNonStaffRole(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser("Pat")
	for _, r := range []string{"patient", "organization_owner", "system_admin", "bogus"} {
		_, err := env.svc.RecruitStaff(env.ownerCtx(), env.org.ID, u.ID, r)
		assert.ErrorIs(t, err, domain.ErrValidation, r)
	}
}

func TestRecruitStaff_GrantFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser("Dana")
	env.users.grantErr = errors.New("boom")

	_, err := env.svc.RecruitStaff(env.ownerCtx(), env.org.ID, u.ID, "doctor")
	require.Error(t, err)

	staff, err := env.repo.Staff(context.Background(), env.org.ID)
	require.NoError(t, err)
	assert.Empty(t, staff)
}

func TestAuthorize_StaffRoleMustStillBeActive(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.addUser("Mina")
	_, err := env.svc.RecruitStaff(env.ownerCtx(), env.org.ID, mgr.ID, "manager")
	require.NoError(t, err)

	active := &roles.Actor{ID: mgr.ID, Name: mgr.Name, Roles: roles.NewSet(roles.Patient, roles.Manager)}
	assert.NoError(t, env.svc.Authorize(context.Background(), active, env.org.ID, roles.ManagePricing))
	assert.ErrorIs(t, env.svc.Authorize(context.Background(), active, env.org.ID, roles.ManageLicenses), domain.ErrForbidden)

	suspended := &roles.Actor{ID: mgr.ID, Name: mgr.Name, Roles: roles.NewSet(roles.Patient)}
	assert.ErrorIs(t, env.svc.Authorize(context.Background(), suspended, env.org.ID, roles.ManagePricing), domain.ErrForbidden)
}

func TestAuthorize_OtherOrganizationStaffForbidden(t *testing.T) {
	env := newTestEnv(t)
	other := &roles.Actor{ID: uuid.New(), Name: "Other", Roles: roles.NewSet(roles.Patient, roles.OrgOwner)}
	require.NoError(t, env.svc.ProvisionForOwner(env.ctx(other), other.ID))

	err := env.svc.Authorize(context.Background(), other, env.org.ID, roles.ManageBeds)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// -- Beds --

func TestBeds_OccupyAndFree(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.ownerCtx()
	bed, err := env.svc.AddBed(ctx, env.org.ID, "C-1", BedCabin)
	require.NoError(t, err)

	_, err = env.svc.UpdateBed(ctx, env.org.ID, bed.ID, true, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	patient := uuid.New()
	b, err := env.svc.UpdateBed(ctx, env.org.ID, bed.ID, true, &patient)
	require.NoError(t, err)
	assert.True(t, b.IsOccupied)
	assert.Equal(t, patient, *b.CurrentPatientID)

	b, err = env.svc.UpdateBed(ctx, env.org.ID, bed.ID, false, &patient)
	require.NoError(t, err)
	assert.False(t, b.IsOccupied)
	assert.Nil(t, b.CurrentPatientID)

	_, err = env.svc.UpdateBed(ctx, env.org.ID, uuid.New(), false, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddBed_DefaultsToWard(t *testing.T) {
	env := newTestEnv(t)
	bed, err := env.svc.AddBed(env.ownerCtx(), env.org.ID, "W-2", "")
	require.NoError(t, err)
	assert.Equal(t, BedWard, bed.Type)

	_, err = env.svc.AddBed(env.ownerCtx(), env.org.ID, "X", "Suite")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCountOccupancy(t *testing.T) {
	o := CountOccupancy([]Bed{{IsOccupied: true}, {}, {}})
	assert.Equal(t, Occupancy{Total: 3, Occupied: 1, Free: 2}, o)
}

// -- Pricing --

func TestPricing(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.ownerCtx()
	item, err := env.svc.AddPrice(ctx, env.org.ID, "X-Ray", decimal.RequireFromString("850.50"))
	require.NoError(t, err)

	_, err = env.svc.AddPrice(ctx, env.org.ID, "MRI", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, domain.ErrValidation)

	patient := &roles.Actor{ID: uuid.New(), Name: "Pat", Roles: roles.NewSet(roles.Patient)}
	items, err := env.svc.Pricing(env.ctx(patient), env.org.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, env.svc.RemovePrice(ctx, env.org.ID, item.ID))
	assert.ErrorIs(t, env.svc.RemovePrice(ctx, env.org.ID, item.ID), domain.ErrNotFound)
}

// -- Ledger --

func TestLedger_Stats(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.ownerCtx()
	amt := func(s string) *decimal.Decimal { d := decimal.RequireFromString(s); return &d }

	_, err := env.svc.AddLedgerEntry(ctx, env.org.ID, LedgerInput{Amount: amt("1000"), Note: "consultation"})
	require.NoError(t, err)
	_, err = env.svc.AddLedgerEntry(ctx, env.org.ID, LedgerInput{Type: Debit, Amount: amt("250.25"), Note: "supplies"})
	require.NoError(t, err)
	_, err = env.svc.AddLedgerEntry(ctx, env.org.ID, LedgerInput{Type: Debit, Amount: amt("-1")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	l, err := env.svc.Ledger(ctx, env.org.ID)
	require.NoError(t, err)
	require.Len(t, l.Entries, 2)
	assert.Equal(t, Credit, l.Entries[0].Type)
	assert.True(t, decimal.RequireFromString("749.75").Equal(l.Stats.Balance))
	assert.Contains(t, env.audit.details, "Added financial entry: consultation")
}

func TestResetLedger_ArchivesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.ownerCtx()
	hundred := decimal.NewFromInt(100)
	forty := decimal.NewFromInt(40)
	_, err := env.svc.AddLedgerEntry(ctx, env.org.ID, LedgerInput{Amount: &hundred})
	require.NoError(t, err)
	_, err = env.svc.AddLedgerEntry(ctx, env.org.ID, LedgerInput{Type: Debit, Amount: &forty})
	require.NoError(t, err)

	report, err := env.svc.ResetLedger(ctx, env.org.ID)
	require.NoError(t, err)
	assert.True(t, hundred.Equal(report.TotalCredit))
	assert.True(t, forty.Equal(report.TotalDebit))
	assert.True(t, decimal.NewFromInt(60).Equal(report.NetBalance))
	assert.Len(t, report.Entries, 2)
	assert.Equal(t, env.owner.ID, report.SubmittedBy)

	l, err := env.svc.Ledger(ctx, env.org.ID)
	require.NoError(t, err)
	assert.Empty(t, l.Entries)

	reports, err := env.svc.Reports(ctx, env.org.ID)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.Contains(t, env.audit.actions, audit.LedgerReset)
}

func TestResetLedger_EmptyLedger(t *testing.T) {
	env := newTestEnv(t)
	report, err := env.svc.ResetLedger(env.ownerCtx(), env.org.ID)
	require.NoError(t, err)
	assert.True(t, report.NetBalance.IsZero())
	assert.Empty(t, report.Entries)
}

func TestResetLedger_FrontDeskForbidden(t *testing.T) {
	env := newTestEnv(t)
	fd := env.addUser("Farah")
	_, err := env.svc.RecruitStaff(env.ownerCtx(), env.org.ID, fd.ID, "front_desk")
	require.NoError(t, err)
	actor := &roles.Actor{ID: fd.ID, Name: fd.Name, Roles: fd.ActiveRoles}

	_, err = env.svc.AddLedgerEntry(env.ctx(actor), env.org.ID, LedgerInput{})
	require.NoError(t, err)
	_, err = env.svc.ResetLedger(env.ctx(actor), env.org.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
