package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/carenet/carenet/internal/config"
	"github.com/carenet/carenet/internal/domain/audit"
	"github.com/carenet/carenet/internal/domain/dashboard"
	"github.com/carenet/carenet/internal/domain/identity"
	"github.com/carenet/carenet/internal/domain/investigation"
	"github.com/carenet/carenet/internal/domain/organization"
	"github.com/carenet/carenet/internal/domain/records"
	"github.com/carenet/carenet/internal/domain/scheduling"
	"github.com/carenet/carenet/internal/platform/auth"
	"github.com/carenet/carenet/internal/platform/db"
	"github.com/carenet/carenet/internal/platform/middleware"
	"github.com/carenet/carenet/internal/platform/websocket"
)

const (
	defaultBodyLimit = 1 << 20
	version          = "0.1.0"
)

// database is what the server needs from *pgxpool.Pool.
type database interface {
	db.Querier
	db.Beginner
	db.Pinger
}

type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pinger db.Pinger

	hub    *websocket.Hub
	tokens *auth.TokenIssuer

	audit          *audit.Service
	identity       *identity.Service
	organizations  *organization.Service
	scheduling     *scheduling.Service
	records        *records.Service
	investigations *investigation.Service
	dashboard      *dashboard.Service
}

func newApp(cfg *config.Config, pool database, logger zerolog.Logger) *app {
	a := &app{cfg: cfg, logger: logger, pinger: pool}

	a.hub = websocket.NewHub(logger)
	notifier := websocket.NewNotifier(a.hub, logger)
	tx := db.NewTxManager(pool)
	a.tokens = auth.NewTokenIssuer(cfg.SigningKey(), cfg.JWTIssuer, cfg.JWTTTL)

	a.audit = audit.NewService(audit.NewRepo(pool), notifier, cfg.AuditFeedLimit, logger)

	opts := identity.Options{
		Tokens:           a.tokens,
		Notifier:         notifier,
		DefaultViewLimit: cfg.DefaultRecordViewLimit,
		Logger:           logger,
	}
	if cfg.GitHubEnabled() {
		opts.GitHub = auth.NewGitHubVerifier(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURI, logger)
	}
	a.identity = identity.NewService(identity.NewRepo(pool), tx, a.audit, opts)

	a.organizations = organization.NewService(organization.NewRepo(pool), tx, a.audit, a.identity,
		notifier, cfg.OrgTrialDays, logger)
	// Approving an Org Owner creates their organization in the same transaction.
	a.identity.SetOwnerProvisioner(a.organizations)

	a.scheduling = scheduling.NewService(scheduling.NewScheduleRepo(pool), scheduling.NewAppointmentRepo(pool),
		a.organizations, tx, a.audit, notifier, logger)
	a.records = records.NewService(records.NewRepo(pool), a.identity, tx, a.audit, notifier, cfg.MaxRecordBytes, logger)
	a.investigations = investigation.NewService(investigation.NewRepo(pool), a.organizations, tx, a.audit, notifier, logger)
	a.dashboard = dashboard.NewService(a.identity, a.organizations, a.scheduling, a.investigations, a.audit, logger)
	return a
}

func (a *app) echo(stats func() *db.PoolStats) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(a.logger)

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevUserHeader},
	}))
	e.Use(middleware.BodyLimit(defaultBodyLimit, middleware.UploadLimit(int64(a.cfg.MaxRecordBytes)), "/api/v1/records"))

	jwtCfg := a.tokens.Config(auth.AuthSkipper)
	if a.cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	e.Use(a.identity.ActorMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(a.pinger, stats))

	websocket.NewHandler(a.hub, refreshActor(a.identity.ResolveActor, a.topicAuthorizer()), a.cfg.CORSOrigins, a.logger).RegisterRoutes(e)

	rl := middleware.RateLimitConfig{RequestsPerSecond: a.cfg.RateLimitRPS, BurstSize: a.cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api/v1", middleware.RateLimit(rl))

	identity.NewHandler(a.identity).RegisterRoutes(api)
	audit.NewHandler(a.audit).RegisterRoutes(api)
	organization.NewHandler(a.organizations, a.audit).RegisterRoutes(api)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(api)
	records.NewHandler(a.records).RegisterRoutes(api)
	investigation.NewHandler(a.investigations).RegisterRoutes(api)
	dashboard.NewHandler(a.dashboard).RegisterRoutes(api)

	return e
}
