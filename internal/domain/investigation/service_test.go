package investigation

import (
	"context"
	"fmt"
	"sort"
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
)

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]Investigation
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]Investigation)}
}

func (m *mockRepo) Create(_ context.Context, inv *Investigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[inv.ID] = *inv
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Investigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("investigation: %w", domain.ErrNotFound)
	}
	return &inv, nil
}

func (m *mockRepo) Complete(_ context.Context, id uuid.UUID, in CompleteInput, at time.Time) (*Investigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("investigation: %w", domain.ErrNotFound)
	}
	if inv.Status != StatusRequested {
		return nil, fmt.Errorf("investigation: %w", domain.ErrConflict)
	}
	inv.Status = StatusCompleted
	inv.Findings = &in.Findings
	inv.CompletedAt = &at
	m.items[id] = inv
	return &inv, nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]Investigation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Investigation
	for _, inv := range m.items {
		if f.OrgID != nil && inv.OrgID != *f.OrgID {
			continue
		}
		if f.PatientID != nil && inv.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderedAt.Before(out[j].OrderedAt) })
	return out, len(out), nil
}

type directTx struct{}

func (directTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAuditor struct {
	actions []audit.Action
	targets []audit.Target
}

func (f *fakeAuditor) Record(_ context.Context, action audit.Action, _ string, t audit.Target) error {
	f.actions = append(f.actions, action)
	f.targets = append(f.targets, t)
	return nil
}

type fakeOrgs map[uuid.UUID]map[uuid.UUID]roles.Set

func (f fakeOrgs) Authorize(_ context.Context, actor *roles.Actor, orgID uuid.UUID, c roles.Capability) error {
	if actor.IsAdmin() || roles.Can(f[orgID][actor.ID], c) {
		return nil
	}
	return domain.ErrForbidden
}

type testEnv struct {
	svc         *Service
	repo        *mockRepo
	audit       *fakeAuditor
	orgID       uuid.UUID
	doctor      *roles.Actor
	pathologist *roles.Actor
	outsider    *roles.Actor
	patient     *roles.Actor
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:        newMockRepo(),
		audit:       &fakeAuditor{},
		orgID:       uuid.New(),
		doctor:      &roles.Actor{ID: uuid.New(), Name: "Doc", Roles: roles.NewSet(roles.Patient, roles.Doctor)},
		pathologist: &roles.Actor{ID: uuid.New(), Name: "Path", Roles: roles.NewSet(roles.Patient, roles.Pathologist)},
		outsider:    &roles.Actor{ID: uuid.New(), Name: "Elsewhere", Roles: roles.NewSet(roles.Patient, roles.Pathologist)},
		patient:     &roles.Actor{ID: uuid.New(), Name: "Pat", Roles: roles.NewSet(roles.Patient)},
	}
	orgs := fakeOrgs{env.orgID: {
		env.doctor.ID:      roles.NewSet(roles.Doctor),
		env.pathologist.ID: roles.NewSet(roles.Pathologist),
	}}
	clock := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	env.svc = NewService(env.repo, orgs, directTx{}, env.audit, nil, zerolog.Nop())
	env.svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return env
}

func ctxFor(a *roles.Actor) context.Context {
	return roles.WithActor(context.Background(), a)
}

func (env *testEnv) request(t *testing.T, test string) *Investigation {
	t.Helper()
	inv, err := env.svc.Request(ctxFor(env.doctor), RequestInput{OrgID: env.orgID, PatientID: env.patient.ID, TestName: test})
	require.NoError(t, err)
	return inv
}

func TestRequest(t *testing.T) {
	env := newTestEnv()
	inv := env.request(t, " CBC ")
	assert.Equal(t, "CBC", inv.TestName)
	assert.Equal(t, StatusRequested, inv.Status)
	assert.Equal(t, env.doctor.ID, inv.OrderedBy)
	assert.Nil(t, inv.CompletedAt)
	assert.Equal(t, []audit.Action{audit.InvestigationRequested}, env.audit.actions)
	assert.Equal(t, env.orgID, env.audit.targets[0].OrgID)
}

func TestRequest_Forbidden(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Request(ctxFor(env.pathologist), RequestInput{OrgID: env.orgID, PatientID: env.patient.ID, TestName: "CBC"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRequest_Validation(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Request(ctxFor(env.doctor), RequestInput{OrgID: env.orgID, TestName: "CBC"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestComplete(t *testing.T) {
	env := newTestEnv()
	inv := env.request(t, "Lipid profile")

	done, err := env.svc.Complete(ctxFor(env.pathologist), inv.ID, CompleteInput{Findings: "normal"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "normal", *done.Findings)

	_, err = env.svc.Complete(ctxFor(env.pathologist), inv.ID, CompleteInput{Findings: "again"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, []audit.Action{audit.InvestigationRequested, audit.InvestigationCompleted}, env.audit.actions)
}

func TestComplete_OtherOrgForbidden(t *testing.T) {
	env := newTestEnv()
	inv := env.request(t, "CBC")
	_, err := env.svc.Complete(ctxFor(env.outsider), inv.ID, CompleteInput{Findings: "x"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.svc.Complete(ctxFor(env.doctor), inv.ID, CompleteInput{Findings: "x"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestList_Scoping(t *testing.T) {
	env := newTestEnv()
	a := env.request(t, "CBC")
	env.request(t, "ECG")
	_, err := env.svc.Complete(ctxFor(env.pathologist), a.ID, CompleteInput{Findings: "ok"})
	require.NoError(t, err)

	pending, err := env.svc.Pending(ctxFor(env.pathologist), env.orgID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ECG", pending[0].TestName)

	_, _, err = env.svc.List(ctxFor(env.patient), Filter{OrgID: &env.orgID}, 50, 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	own, total, err := env.svc.List(ctxFor(env.patient), Filter{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, own, 2)

	none, _, err := env.svc.List(ctxFor(env.outsider), Filter{}, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, _, err = env.svc.List(ctxFor(env.patient), Filter{Status: "Lost"}, 50, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
