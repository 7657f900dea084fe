package main

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/ipd"
	"github.com/hms/hms/internal/domain/tariff"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/telemetry"
)

const version = "0.1.0"

// app holds the wired domain services.
type app struct {
	tariff   *tariff.Service
	resolver *tariff.Resolver
	billing  *billing.Service
	ipd      *ipd.Service
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
}

// ipdConfig turns environment settings into the ward service configuration.
func ipdConfig(cfg *config.Config) (ipd.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return ipd.Config{}, err
	}
	tax, err := cfg.TaxRate()
	if err != nil {
		return ipd.Config{}, err
	}
	policy, err := ipd.ParseAutoFinalizePolicy(cfg.AutoFinalize)
	if err != nil {
		return ipd.Config{}, err
	}
	return ipd.Config{
		Location:          loc,
		AutoCreateInvoice: cfg.AutoCreateInvoice,
		DefaultTaxRate:    tax,
		AutoFinalize:      policy,
	}, nil
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	icfg, err := ipdConfig(cfg)
	if err != nil {
		return nil, err
	}
	aliases, err := cfg.Aliases()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.New(reg)
	if pool != nil {
		telemetry.RegisterPoolStats(reg, pool)
	}

	txRunner := db.NewTxRunner(pool)
	norm := tariff.NewNormalizer(aliases)
	rateRepo := tariff.NewRepoPG(pool)
	resolver := tariff.NewResolver(rateRepo, norm)
	invoiceRepo := billing.NewRepoPG(pool)

	ipdSvc := ipd.NewService(
		ipd.NewAdmissionRepoPG(pool),
		ipd.NewAssignmentRepoPG(pool),
		ipd.NewBedRepoPG(pool),
		resolver,
		invoiceRepo,
		txRunner,
		icfg,
		logger,
	)
	ipdSvc.SetMetrics(metrics)

	return &app{
		tariff:   tariff.NewService(rateRepo, norm),
		resolver: resolver,
		billing:  billing.NewService(invoiceRepo, ipdSvc.Synchronizer(), txRunner),
		ipd:      ipdSvc,
		registry: reg,
		metrics:  metrics,
	}, nil
}

func newServer(cfg *config.Config, pool *pgxpool.Pool, a *app, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Facility-ID"},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, cfg.DefaultFacility))
	e.GET("/metrics", telemetry.Handler(a.registry))

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	apiV1 := e.Group("/api/v1",
		middleware.RateLimit(rateLimitCfg),
		db.FacilityMiddleware(pool, cfg.DefaultFacility),
		middleware.Audit(logger),
	)
	tariff.NewHandler(a.tariff, a.resolver).RegisterRoutes(apiV1)
	billing.NewHandler(a.billing).RegisterRoutes(apiV1)
	ipd.NewHandler(a.ipd).RegisterRoutes(apiV1)

	return e
}
