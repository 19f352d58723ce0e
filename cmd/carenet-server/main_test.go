package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carenet/carenet/internal/config"
	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/roles"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                   "0",
		Env:                    "production",
		AuthMode:               config.AuthModeJWT,
		JWTSecret:              strings.Repeat("k", 32),
		JWTIssuer:              "carenet",
		JWTTTL:                 time.Hour,
		CORSOrigins:            []string{"http://localhost:3000"},
		RateLimitRPS:           100,
		RateLimitBurst:         100,
		AuditFeedLimit:         100,
		OrgTrialDays:           180,
		DefaultRecordViewLimit: 10,
		MaxRecordBytes:         1 << 20,
	}
}

func newTestApp(t *testing.T) (*app, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newApp(testConfig(), mock, zerolog.Nop()), mock
}

func TestServer_Health(t *testing.T) {
	a, _ := newTestApp(t)
	e := a.echo(nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIRequiresToken(t *testing.T) {
	a, _ := newTestApp(t)
	e := a.echo(nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_RegistersDomainRoutes(t *testing.T) {
	a, _ := newTestApp(t)
	e := a.echo(nil)

	have := map[string]bool{}
	for _, r := range e.Routes() {
		have[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/auth/signup",
		"GET /api/v1/audit-logs",
		"POST /api/v1/organizations/:id/ledger/reset",
		"POST /api/v1/appointments",
		"PUT /api/v1/records/:id/visibility",
		"POST /api/v1/investigations/:id/complete",
		"GET /api/v1/dashboard/organizations/:id/owner",
		"GET /ws",
	} {
		assert.True(t, have[want], "missing route %s", want)
	}
}

func TestTopicAuthorizer(t *testing.T) {
	a, _ := newTestApp(t)
	allow := a.topicAuthorizer()

	patient := &roles.Actor{ID: uuid.New(), Roles: roles.NewSet(roles.Patient)}
	doctor := &roles.Actor{ID: uuid.New(), Roles: roles.NewSet(roles.Patient, roles.Doctor)}
	admin := &roles.Actor{ID: uuid.New(), Roles: roles.NewSet(roles.Patient, roles.SystemAdmin)}
	as := func(actor *roles.Actor) context.Context { return roles.WithActor(context.Background(), actor) }

	assert.False(t, allow(context.Background(), "schedules"))
	assert.True(t, allow(as(patient), "schedules"))
	assert.True(t, allow(as(patient), "records:"+patient.ID.String()))
	assert.False(t, allow(as(patient), "records:"+doctor.ID.String()))
	assert.False(t, allow(as(patient), "appointments"))
	assert.True(t, allow(as(doctor), "appointments"))
	assert.True(t, allow(as(doctor), "investigations"))
	assert.False(t, allow(as(doctor), "users"))
	assert.False(t, allow(as(doctor), "audit_logs"))
	assert.False(t, allow(as(doctor), "organizations:not-a-uuid"))
	assert.True(t, allow(as(admin), "audit_logs"))
	assert.True(t, allow(as(admin), "organizations:"+uuid.NewString()))
}

func TestRefreshActor_UsesCurrentRoles(t *testing.T) {
	a, _ := newTestApp(t)
	id := uuid.New()
	stale := &roles.Actor{ID: id, Roles: roles.NewSet(roles.Patient, roles.Doctor)}

	current := roles.NewSet(roles.Patient, roles.Doctor)
	resolve := func(_ context.Context, got uuid.UUID) (*roles.Actor, error) {
		if got != id {
			return nil, domain.ErrUnauthorized
		}
		return &roles.Actor{ID: id, Roles: current}, nil
	}
	allow := refreshActor(resolve, a.topicAuthorizer())
	ctx := roles.WithActor(context.Background(), stale)

	assert.True(t, allow(ctx, "appointments"))

	// Doctor role withdrawn after the socket opened.
	current = roles.NewSet(roles.Patient)
	assert.False(t, allow(ctx, "appointments"))
	assert.True(t, allow(ctx, "schedules"))

	other := roles.WithActor(context.Background(), &roles.Actor{ID: uuid.New(), Roles: roles.NewSet(roles.SystemAdmin)})
	assert.False(t, allow(other, "schedules"), "unresolvable actor")
	assert.False(t, allow(context.Background(), "schedules"))
}
