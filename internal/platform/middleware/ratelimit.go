package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/carenet/carenet/internal/domain/roles"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops buckets of clients that have been quiet this long.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 50, BurstSize: 100, IdleTTL: 10 * time.Minute}
}

// NewRateLimitStore builds the per-client token buckets behind RateLimit.
func NewRateLimitStore(cfg RateLimitConfig) *echomw.RateLimiterMemoryStore {
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.IdleTTL,
	})
}

// clientKey buckets signed-in actors by user id and everyone else by IP.
func clientKey(c echo.Context) string {
	if actor, ok := roles.ActorFromContext(c.Request().Context()); ok {
		return "user:" + actor.ID.String()
	}
	return "ip:" + c.RealIP()
}

// retryAfter is the whole number of seconds until one token refills.
func retryAfter(rps float64) string {
	if rps <= 0 {
		return "1"
	}
	return strconv.Itoa(max(1, int(math.Ceil(1/rps))))
}

func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return RateLimitWith(cfg, NewRateLimitStore(cfg))
}

// RateLimitWith limits against store, which tests and multi-group setups
// can share.
func RateLimitWith(cfg RateLimitConfig, store echomw.RateLimiterStore) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	wait := retryAfter(cfg.RequestsPerSecond)
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return clientKey(c), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			h := c.Response().Header()
			h.Set("Retry-After", wait)
			h.Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
