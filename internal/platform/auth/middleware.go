package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type ctxKey int

const (
	subjectKey ctxKey = iota
	claimedRolesKey
)

// DevUserHeader carries the caller's user id in development auth mode.
const DevUserHeader = "X-User-ID"

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// Skipper bypasses authentication, normally AuthSkipper.
	Skipper func(echo.Context) bool
}

var (
	errNoCredentials = echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	errBadScheme     = echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
)

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket upgrades, so an access_token query parameter is accepted too.
// An empty token with a nil error means no credentials were sent.
func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return r.URL.Query().Get("access_token"), nil
	}
	scheme, tok, ok := strings.Cut(h, " ")
	tok = strings.TrimSpace(tok)
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		return "", errBadScheme
	}
	return tok, nil
}

// authenticate builds the auth middleware. A request without a bearer token
// goes to fallback, which returns the subject to trust or an error.
func authenticate(cfg JWTConfig, fallback func(*http.Request) (string, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			req := c.Request()
			tok, err := bearerToken(req)
			if err != nil {
				return err
			}

			var sub string
			var claimed []string
			if tok != "" {
				claims, err := ParseToken(cfg, tok)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				sub, claimed = claims.Subject, claims.Roles
			} else if sub, err = fallback(req); err != nil {
				return err
			}

			ctx := context.WithValue(req.Context(), subjectKey, sub)
			ctx = context.WithValue(ctx, claimedRolesKey, claimed)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// JWTMiddleware requires a valid access token.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return authenticate(cfg, func(*http.Request) (string, error) { return "", errNoCredentials })
}

// DevAuthMiddleware validates tokens like JWTMiddleware but, when none is
// sent, trusts the X-User-ID header. Only for AUTH_MODE=development.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return authenticate(cfg, func(r *http.Request) (string, error) {
		if uid := strings.TrimSpace(r.Header.Get(DevUserHeader)); uid != "" {
			return uid, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header or "+DevUserHeader)
	})
}

// UserIDFromContext is the authenticated subject, or "".
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(subjectKey).(string)
	return uid
}

// RolesFromContext returns the roles claimed by the token. Authorization uses
// the stored roles on the actor; these are informational.
func RolesFromContext(ctx context.Context) []string {
	rs, _ := ctx.Value(claimedRolesKey).([]string)
	return rs
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, subjectKey, userID)
}
