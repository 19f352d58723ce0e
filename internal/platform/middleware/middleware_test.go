package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/roles"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m), buf.String())
	return m
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{"generated", "", false},
		{"kept", "req-42", true},
		{"oversized replaced", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			rec := httptest.NewRecorder()
			var seen string
			err := RequestID()(func(c echo.Context) error {
				seen = requestID(c)
				return nil
			})(echo.New().NewContext(req, rec))
			require.NoError(t, err)

			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
			if tt.keep {
				assert.Equal(t, tt.inbound, seen)
			} else {
				_, err := uuid.Parse(seen)
				assert.NoError(t, err)
			}
		})
	}
}

func TestLogger_WritesActorAndStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(zerolog.Nop())

	actor := &roles.Actor{ID: uuid.New(), Name: "Dr. Rahman", Roles: roles.NewSet(roles.Patient, roles.Doctor)}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	req = req.WithContext(roles.WithActor(req.Context(), actor))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "rid-1")

	err := Logger(zerolog.New(&buf))(func(echo.Context) error {
		return domain.ErrForbidden
	})(c)
	require.NoError(t, err)

	line := logLine(t, &buf)
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, float64(http.StatusForbidden), line["status"])
	assert.Equal(t, "rid-1", line["request_id"])
	assert.Equal(t, actor.ID.String(), line["user_id"])
	assert.Equal(t, actor.RoleLabel(), line["roles"])
}

func TestLogger_ServerErrorAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(zerolog.Nop())
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	require.NoError(t, Logger(zerolog.New(&buf))(func(echo.Context) error {
		return errors.New("boom")
	})(c))
	line := logLine(t, &buf)
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, float64(http.StatusInternalServerError), line["status"])
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/records", nil), httptest.NewRecorder())
	c.Set("request_id", "rid-9")

	err := Recovery(zerolog.New(&buf))(func(echo.Context) error {
		panic("nil map")
	})(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	line := logLine(t, &buf)
	assert.Equal(t, "nil map", line["panic"])
	assert.Equal(t, "rid-9", line["request_id"])
}

func TestRecovery_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	require.NoError(t, Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c))
	assert.Zero(t, buf.Len())
}
