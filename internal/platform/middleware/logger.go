package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carenet/carenet/internal/domain/roles"
	"github.com/carenet/carenet/internal/platform/auth"
)

func requestID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}

// withActor adds the resolved actor, falling back to the bare token subject
// when the request never got as far as actor resolution.
func withActor(evt *zerolog.Event, c echo.Context) *zerolog.Event {
	ctx := c.Request().Context()
	if a, ok := roles.ActorFromContext(ctx); ok {
		return evt.Str("user_id", a.ID.String()).Str("roles", a.RoleLabel())
	}
	if sub := auth.UserIDFromContext(ctx); sub != "" {
		return evt.Str("user_id", sub)
	}
	return evt
}

// Logger writes one line per request. Errors are handed to the error handler
// first so the logged status is the one the client received.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			var evt *zerolog.Event
			switch {
			case res.Status >= 500:
				evt = logger.Error().Err(err)
			case res.Status >= 400:
				evt = logger.Warn()
			default:
				evt = logger.Info()
			}
			req := c.Request()
			evt = evt.
				Str("request_id", requestID(c)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			withActor(evt, c).Msg("request")
			return nil
		}
	}
}
