package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carenet/carenet/internal/domain"
	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/auth"
)

// ActorMiddleware loads the stored profile of the authenticated subject and
// attaches it as the request actor. Requests without a subject pass through
// untouched; the auth middleware has already rejected them where required.
func (s *Service) ActorMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			sub := auth.UserIDFromContext(ctx)
			if sub == "" {
				return next(c)
			}
			id, err := uuid.Parse(sub)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
			}
			actor, err := s.ResolveActor(ctx, id)
			if errors.Is(err, domain.ErrUnauthorized) {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
			}
			if err != nil {
				return err
			}
			c.SetRequest(c.Request().WithContext(roles.WithActor(ctx, actor)))
			return next(c)
		}
	}
}
