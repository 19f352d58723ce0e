package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carenet/carenet/internal/domain/roles"
)

// RequireRole returns middleware that checks that the actor holds at least one
// of the given active roles. System Admin always passes.
func RequireRole(rs ...roles.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := roles.ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if actor.IsAdmin() || actor.Roles.HasAny(rs...) {
				return next(c)
			}
			names := make([]string, len(rs))
			for i, r := range rs {
				names[i] = string(r)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}

// RequireCapability checks the global capability policy. Org-scoped checks
// happen in the services, which know the organization.
func RequireCapability(c roles.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			actor, ok := roles.ActorFromContext(ec.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !roles.Can(actor.Roles, c) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("required capability: %s", c))
			}
			return next(ec)
		}
	}
}
