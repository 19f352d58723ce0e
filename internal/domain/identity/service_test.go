package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
	apps  []roles.Application
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockRepo) clone(u *User) *User {
	c := *u
	c.AppliedRoles = nil
	for _, a := range m.apps {
		if a.UserID == u.ID {
			c.AppliedRoles = append(c.AppliedRoles, a)
		}
	}
	return &c
}

func (m *mockRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.users {
		if x.HealthID == u.HealthID || (u.Email != nil && x.Email != nil && *x.Email == *u.Email) {
			return domain.ErrAlreadyExists
		}
	}
	c := *u
	m.users[u.ID] = &c
	return nil
}

func (m *mockRepo) find(match func(*User) bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			return m.clone(u), nil
		}
	}
	return nil, fmt.Errorf("user: %w", domain.ErrNotFound)
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	return m.find(func(u *User) bool { return u.ID == id })
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	return m.find(func(u *User) bool { return u.Email != nil && *u.Email == email })
}

func (m *mockRepo) GetByGitHubID(_ context.Context, id string) (*User, error) {
	return m.find(func(u *User) bool { return u.GitHubID != nil && *u.GitHubID == id })
}

func (m *mockRepo) Lock(ctx context.Context, id uuid.UUID) error {
	_, err := m.GetByID(ctx, id)
	return err
}

func (m *mockRepo) mutate(id uuid.UUID, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user: %w", domain.ErrNotFound)
	}
	fn(u)
	return nil
}

func (m *mockRepo) LinkGitHub(_ context.Context, id uuid.UUID, githubID string) error {
	return m.mutate(id, func(u *User) { u.GitHubID = &githubID })
}

func (m *mockRepo) UpdateProfile(_ context.Context, u *User) error {
	return m.mutate(u.ID, func(x *User) {
		active, suspended := x.ActiveRoles, x.SuspendedRoles
		*x = *u
		x.ActiveRoles, x.SuspendedRoles, x.AppliedRoles = active, suspended, nil
	})
}

func (m *mockRepo) List(_ context.Context, f UserFilter, limit, offset int) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if f.Role != "" && !u.ActiveRoles.Has(f.Role) {
			continue
		}
		if f.StaffOnly && len(u.ActiveRoles) < 2 {
			continue
		}
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockRepo) SearchPatients(_ context.Context, q string, limit int) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if strings.Contains(u.HealthID, q) || strings.Contains(u.Phone, q) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *mockRepo) SetRoleState(_ context.Context, id uuid.UUID, r roles.Role, active bool) error {
	return m.mutate(id, func(u *User) {
		u.ActiveRoles = u.ActiveRoles.Without(r)
		u.SuspendedRoles = u.SuspendedRoles.Without(r)
		if active {
			u.ActiveRoles = u.ActiveRoles.With(r)
		} else {
			u.SuspendedRoles = u.SuspendedRoles.With(r)
		}
	})
}

func (m *mockRepo) DeleteRole(_ context.Context, id uuid.UUID, r roles.Role) error {
	return m.mutate(id, func(u *User) {
		u.ActiveRoles = u.ActiveRoles.Without(r)
		u.SuspendedRoles = u.SuspendedRoles.Without(r)
	})
}

func (m *mockRepo) CreateApplication(_ context.Context, app *roles.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps = append(m.apps, *app)
	return nil
}

func (m *mockRepo) ApprovePending(_ context.Context, id uuid.UUID, r roles.Role, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.apps {
		if m.apps[i].UserID == id && m.apps[i].Role == r && m.apps[i].Status == roles.ApplicationPending {
			m.apps[i].Status = roles.ApplicationApproved
			m.apps[i].DecidedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ListApplications(_ context.Context, status roles.ApplicationStatus, limit, offset int) ([]PendingApplication, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingApplication
	for _, a := range m.apps {
		if status == "" || a.Status == status {
			out = append(out, PendingApplication{Application: a, UserName: m.users[a.UserID].Name})
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) SetRedFlag(_ context.Context, id uuid.UUID, flag RedFlag) error {
	return m.mutate(id, func(u *User) { u.RedFlag = flag })
}

func (m *mockRepo) SetDoctorNotes(_ context.Context, id uuid.UUID, notes string) error {
	return m.mutate(id, func(u *User) { u.DoctorNotes = notes })
}

func (m *mockRepo) SetRecordViewLimit(_ context.Context, id uuid.UUID, n int) error {
	return m.mutate(id, func(u *User) { u.RecordViewLimit = n })
}

// -- Fakes --

type directTx struct{}

func (directTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordedAudit struct {
	Action  audit.Action
	Details string
	Target  audit.Target
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []recordedAudit
}

func (f *fakeAuditor) Record(ctx context.Context, action audit.Action, details string, t audit.Target) error {
	if _, ok := roles.ActorFromContext(ctx); !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordedAudit{action, details, t})
	return nil
}

func (f *fakeAuditor) actions() []audit.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]audit.Action, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

type fakeGitHub struct {
	ident *auth.OAuthIdentity
	err   error
}

func (f *fakeGitHub) AuthorizeURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (f *fakeGitHub) VerifyCode(context.Context, string) (*auth.OAuthIdentity, error) {
	return f.ident, f.err
}

type countingProvisioner struct {
	calls []uuid.UUID
}

func (p *countingProvisioner) ProvisionForOwner(_ context.Context, ownerID uuid.UUID) error {
	p.calls = append(p.calls, ownerID)
	return nil
}

type testEnv struct {
	svc    *Service
	repo   *mockRepo
	audit  *fakeAuditor
	github *fakeGitHub
	owners *countingProvisioner
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:   newMockRepo(),
		audit:  &fakeAuditor{},
		github: &fakeGitHub{},
		owners: &countingProvisioner{},
	}
	env.svc = NewService(env.repo, directTx{}, env.audit, Options{
		Tokens:           auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "carenet", time.Hour),
		GitHub:           env.github,
		DefaultViewLimit: 10,
		Logger:           zerolog.Nop(),
	})
	env.svc.SetOwnerProvisioner(env.owners)
	return env
}

func (env *testEnv) signUp(t *testing.T, email string) *User {
	t.Helper()
	sess, err := env.svc.SignUp(context.Background(), SignUpInput{
		Email: email, Password: "correct-horse", Name: "User " + email, Phone: "01700000000",
	})
	require.NoError(t, err)
	u, err := env.repo.GetByID(context.Background(), sess.User.ID)
	require.NoError(t, err)
	return u
}

func adminCtx() context.Context {
	return roles.WithActor(context.Background(), &roles.Actor{ID: uuid.New(), Name: "Admin", Roles: roles.NewSet(roles.SystemAdmin)})
}

func actorCtx(u *User) context.Context {
	return roles.WithActor(context.Background(), u.Actor())
}

// -- Sessions --

func TestSignUp_Defaults(t *testing.T) {
	env := newTestEnv()
	sess, err := env.svc.SignUp(context.Background(), SignUpInput{
		Email: "  Ada@Example.COM ", Password: "longenough", Name: "Ada", Phone: "017",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)

	u := sess.User
	assert.Equal(t, "ada@example.com", *u.Email)
	assert.Equal(t, roles.Set{roles.Patient}, u.ActiveRoles)
	assert.Equal(t, 10, u.RecordViewLimit)
	assert.Equal(t, GenderOther, u.Gender)
	assert.Equal(t, "N/A", u.BloodGroup)
	assert.Len(t, u.HealthID, 10)
	assert.NotEqual(t, byte('0'), u.HealthID[0])
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	env := newTestEnv()
	env.signUp(t, "dup@example.com")
	_, err := env.svc.SignUp(context.Background(), SignUpInput{
		Email: "DUP@example.com", Password: "longenough", Name: "Other",
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestSignUp_ShortPassword(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.SignUp(context.Background(), SignUpInput{Email: "a@b.c", Password: "short", Name: "A"})
	require.ErrorIs(t, err, domain.ErrValidation)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "password", ve.Errors[0].Field)
}

func TestSignIn(t *testing.T) {
	env := newTestEnv()
	env.signUp(t, "sign@example.com")

	sess, err := env.svc.SignIn(context.Background(), "Sign@example.com", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)

	_, wrongPw := env.svc.SignIn(context.Background(), "sign@example.com", "wrong-horse")
	_, unknown := env.svc.SignIn(context.Background(), "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, wrongPw, domain.ErrUnauthorized)
	assert.ErrorIs(t, unknown, domain.ErrUnauthorized)
	assert.Equal(t, wrongPw.Error(), unknown.Error())
}

func TestSignInWithGitHub_CreatesUser(t *testing.T) {
	env := newTestEnv()
	env.github.ident = &auth.OAuthIdentity{Email: "Octo@GitHub.com", ProviderID: "42"}

	sess, err := env.svc.SignInWithGitHub(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "GitHub User", sess.User.Name)
	assert.Equal(t, "N/A", sess.User.Phone)
	assert.Equal(t, "octo@github.com", *sess.User.Email)
	assert.True(t, sess.User.ActiveRoles.Has(roles.Patient))

	again, err := env.svc.SignInWithGitHub(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, again.User.ID)
}

func TestSignInWithGitHub_LinksExistingEmail(t *testing.T) {
	env := newTestEnv()
	existing := env.signUp(t, "linked@example.com")
	name := "Linked"
	env.github.ident = &auth.OAuthIdentity{Email: "linked@example.com", Name: &name, ProviderID: "7"}

	sess, err := env.svc.SignInWithGitHub(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, sess.User.ID)

	u, err := env.repo.GetByGitHubID(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, u.ID)
}

func TestSignInWithGitHub_BadCode(t *testing.T) {
	env := newTestEnv()
	env.github.err = errors.New("bad_verification_code")
	_, err := env.svc.SignInWithGitHub(context.Background(), "code")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

// -- Profile --

func TestUpdateProfile_OnlyDemographics(t *testing.T) {
	env := newTestEnv()
	u := env.signUp(t, "p@example.com")
	name := "Renamed"
	age := 31
	u2, err := env.svc.UpdateProfile(actorCtx(u), ProfilePatch{Name: &name, Age: &age})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", u2.Name)
	assert.Equal(t, 31, u2.Age)
	assert.Equal(t, roles.Set{roles.Patient}, u2.ActiveRoles)

	bad := Gender("Unknown")
	_, err = env.svc.UpdateProfile(actorCtx(u), ProfilePatch{Gender: &bad})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// -- Applications --

func TestApplyForRole(t *testing.T) {
	env := newTestEnv()
	u := env.signUp(t, "doc@example.com")
	ctx := actorCtx(u)

	app, err := env.svc.ApplyForRole(ctx, ApplyInput{Role: "doctor", Details: "MBBS", RegistrationNumber: "A-1"})
	require.NoError(t, err)
	assert.Equal(t, roles.Doctor, app.Role)
	assert.Equal(t, roles.ApplicationPending, app.Status)
	assert.Equal(t, []audit.Action{audit.RoleApplied}, env.audit.actions())

	_, err = env.svc.ApplyForRole(ctx, ApplyInput{Role: "Doctor"})
	assert.ErrorIs(t, err, domain.ErrConflict, "second pending application")

	_, err = env.svc.ApplyForRole(ctx, ApplyInput{Role: "Patient"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.svc.ApplyForRole(ctx, ApplyInput{Role: "Astronaut"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestApplyForRole_AlreadyAssigned(t *testing.T) {
	env := newTestEnv()
	u := env.signUp(t, "nurse@example.com")
	_, err := env.svc.GrantRole(context.Background(), u.ID, roles.Nurse)
	require.NoError(t, err)
	_, err = env.svc.SuspendRole(adminCtx(), u.ID, "Nurse")
	require.NoError(t, err)

	_, err = env.svc.ApplyForRole(actorCtx(u), ApplyInput{Role: "Nurse"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// -- Role administration --

func TestApproveRole_GrantsAndClosesApplication(t *testing.T) {
	env := newTestEnv()
	u := env.signUp(t, "owner@example.com")
	_, err := env.svc.ApplyForRole(actorCtx(u), ApplyInput{Role: "Organization Owner"})
	require.NoError(t, err)

	got, err := env.svc.ApproveRole(adminCtx(), u.ID, "org_owner")
	require.NoError(t, err)
	assert.True(t, got.ActiveRoles.Has(roles.OrgOwner))
	assert.Equal(t, []uuid.UUID{u.ID}, env.owners.calls)

	apps, _, err := env.svc.ListApplications(adminCtx(), roles.ApplicationPending, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, apps)

	// A second approval leaves a single active entry.
	got, err = env.svc.ApproveRole(adminCtx(), u.ID, "Organization Owner")
	require.NoError(t, err)
	assert.Equal(t, roles.Set{roles.Patient, roles.OrgOwner}, got.ActiveRoles)
	assert.Contains(t, env.audit.actions(), audit.RoleApproved)
}

func TestApproveRole_RequiresAdmin(t *testing.T) {
	env := newTestEnv()
	u := env.signUp(t, "x@example.com")
	_, err := env.svc.ApproveRole(actorCtx(u), u.ID, "Doctor")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.svc.ApproveRole(context.Background(), u.ID, "Doctor")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRoleTransitions(t *testing.T) {
	env := newTestEnv()
	u := env.signUp(t, "t@example.com")
	ctx := adminCtx()

	_, err := env.svc.ApproveRole(ctx, u.ID, "Doctor")
	require.NoError(t, err)

	got, err := env.svc.SuspendRole(ctx, u.ID, "Doctor")
	require.NoError(t, err)
	assert.False(t, got.ActiveRoles.Has(roles.Doctor))
	assert.True(t, got.SuspendedRoles.Has(roles.Doctor))
	assert.True(t, got.Assignment().Disjoint())

	_, err = env.svc.SuspendRole(ctx, u.ID, "Doctor")
	assert.ErrorIs(t, err, domain.ErrValidation, "suspend twice")

	got, err = env.svc.RestoreRole(ctx, u.ID, "Doctor")
	require.NoError(t, err)
	assert.True(t, got.ActiveRoles.Has(roles.Doctor))
	assert.Empty(t, got.SuspendedRoles)

	got, err = env.svc.RemoveRole(ctx, u.ID, "Doctor")
	require.NoError(t, err)
	assert.False(t, got.ActiveRoles.Has(roles.Doctor))

	_, err = env.svc.RemoveRole(ctx, u.ID, "Doctor")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := env.repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, roles.Set{roles.Patient}, stored.ActiveRoles)
	assert.Empty(t, stored.SuspendedRoles)

	assert.Equal(t, []audit.Action{audit.RoleApproved, audit.RoleSuspended, audit.RoleRestored, audit.RoleRemoved},
		env.audit.actions())
}

func TestPromote(t *testing.T) {
	env := newTestEnv()
	u := env.signUp(t, "boot@example.com")
	ctx := roles.WithActor(context.Background(), roles.System())

	got, err := env.svc.Promote(ctx, "Boot@example.com", "system_admin")
	require.NoError(t, err)
	assert.True(t, got.ActiveRoles.Has(roles.SystemAdmin))
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, []audit.Action{audit.RoleGranted}, env.audit.actions())
}

func TestSetRecordViewLimit(t *testing.T) {
	env := newTestEnv()
	u := env.signUp(t, "q@example.com")
	_, err := env.svc.SetRecordViewLimit(adminCtx(), u.ID, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := env.svc.SetRecordViewLimit(adminCtx(), u.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, 25, got.RecordViewLimit)
}

// -- Clinical --

func doctorCtx(t *testing.T, env *testEnv) context.Context {
	t.Helper()
	d := env.signUp(t, "dr-"+uuid.NewString()[:8]+"@example.com")
	d, err := env.svc.GrantRole(context.Background(), d.ID, roles.Doctor)
	require.NoError(t, err)
	return actorCtx(d)
}

func TestFindPatients(t *testing.T) {
	env := newTestEnv()
	p := env.signUp(t, "pt@example.com")
	ctx := doctorCtx(t, env)

	_, err := env.svc.FindPatients(ctx, "01")
	assert.ErrorIs(t, err, domain.ErrValidation)

	found, err := env.svc.FindPatients(ctx, p.HealthID[:5])
	require.NoError(t, err)
	assert.NotEmpty(t, found)

	_, err = env.svc.FindPatients(actorCtx(p), p.HealthID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestViewPatient_Audited(t *testing.T) {
	env := newTestEnv()
	p := env.signUp(t, "viewed@example.com")
	ctx := doctorCtx(t, env)

	got, err := env.svc.ViewPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, []audit.Action{audit.PatientDataViewed}, env.audit.actions())
}

func TestSetRedFlag(t *testing.T) {
	env := newTestEnv()
	p := env.signUp(t, "flag@example.com")
	ctx := doctorCtx(t, env)

	got, err := env.svc.SetRedFlag(ctx, p.ID, "penicillin allergy")
	require.NoError(t, err)
	assert.Equal(t, RedFlag{IsPresent: true, Comment: "penicillin allergy"}, got.RedFlag)

	got, err = env.svc.SetRedFlag(ctx, p.ID, "   ")
	require.NoError(t, err)
	assert.False(t, got.RedFlag.IsPresent)

	_, err = env.svc.SetRedFlag(ctx, uuid.New(), "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetDoctorNotes_HiddenFromSelf(t *testing.T) {
	env := newTestEnv()
	p := env.signUp(t, "notes@example.com")
	_, err := env.svc.SetDoctorNotes(doctorCtx(t, env), p.ID, "monitor BP")
	require.NoError(t, err)

	me, err := env.svc.Me(actorCtx(p))
	require.NoError(t, err)
	assert.Empty(t, me.DoctorNotes)
}

func TestListUsers_StaffOnly(t *testing.T) {
	env := newTestEnv()
	env.signUp(t, "plain@example.com")
	doctorCtx(t, env)

	users, total, err := env.svc.ListUsers(adminCtx(), UserFilter{StaffOnly: true}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.True(t, users[0].ActiveRoles.Has(roles.Doctor))
}
