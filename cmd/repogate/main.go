package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/repogate/pkg/api"
	"github.com/platinummonkey/repogate/pkg/authz"
	"github.com/platinummonkey/repogate/pkg/config"
	"github.com/platinummonkey/repogate/pkg/directory"
	"github.com/platinummonkey/repogate/pkg/exchange"
	"github.com/platinummonkey/repogate/pkg/handoff"
	"github.com/platinummonkey/repogate/pkg/identity"
	"github.com/platinummonkey/repogate/pkg/observability"
	"github.com/platinummonkey/repogate/pkg/pages"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("repogate exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("init OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	if providers != nil {
		shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	dir, checker, err := buildDirectory(gctx, g, cfg.Directory, logger, metrics, shutdown)
	if err != nil {
		return err
	}
	checker.WithVersion(cfg.Observability.OTelServiceVersion)
	status := checker.Check(ctx)
	logger.WithFields(map[string]interface{}{
		"status":       status.Status,
		"dependencies": status.DependencyNames(),
	}).Info("Initial readiness")

	validator, err := buildValidator(ctx, cfg.Identity, metrics)
	if err != nil {
		return err
	}
	logger.WithField("validator", validator.Name()).Info("Identity validator configured")

	protocol, err := exchange.NewProtocol(validator, authz.NewGate(dir), exchange.Credential{
		Token: cfg.Credential.SharedToken,
		TTL:   cfg.Credential.TTL,
	}, exchange.Options{
		RequireSiteScope: cfg.Access.RequireSiteScope,
		Metrics:          metrics,
	})
	if err != nil {
		return fmt.Errorf("create exchange protocol: %w", err)
	}

	renderer, err := pages.NewRenderer(pages.Config{
		IdentityURL: cfg.Identity.URL,
		APIKey:      cfg.Identity.APIKey,
		PublicURL:   cfg.Server.PublicURL,
		Providers:   cfg.Identity.SigninProviders,
	})
	if err != nil {
		return fmt.Errorf("create page renderer: %w", err)
	}

	server, err := api.NewServer(api.Options{
		Exchanger: protocol,
		Directory: dir,
		Renderer:  renderer,
		Policy: handoff.Policy{
			Global: cfg.Access.AllowedRedirects,
			Strict: cfg.Access.StrictRedirects,
		},
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	publicServer := &http.Server{
		Addr: cfg.Server.ListenAddr(),
		Handler: server.Handler(logger, api.HandlerConfig{
			CORSOrigins: cfg.Server.CORSOrigins,
			Tracing:     cfg.Observability.OTelEnabled,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         cfg.Server.HealthAddr(),
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown.AddServer(publicServer)
	shutdown.AddServer(healthServer)

	g.Go(func() error { return serve(publicServer, logger, "public") })
	g.Go(func() error { return serve(healthServer, logger, "health") })
	g.Go(func() error {
		err := shutdown.WaitForShutdown(gctx)
		cancel()
		return err
	})

	return g.Wait()
}

func serve(srv *http.Server, logger *observability.Logger, name string) error {
	logger.WithFields(map[string]interface{}{"listener": name, "addr": srv.Addr}).Info("Starting listener")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s listener: %w", name, err)
	}
	return nil
}

// buildDirectory opens the configured directory backend, optionally behind
// the lookup cache, and returns the health checker covering it
func buildDirectory(ctx context.Context, g *errgroup.Group, cfg config.DirectoryConfig, logger *observability.Logger, metrics *observability.Metrics, shutdown *observability.ShutdownManager) (directory.Directory, *observability.HealthChecker, error) {
	var (
		dir     directory.Directory
		checker *observability.HealthChecker
	)

	var redisClient *redis.Client
	if cfg.CacheEnabled && cfg.RedisURL != "" {
		client, err := directory.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		redisClient = client
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return client.Close() })
	}

	switch cfg.Type {
	case config.DirectoryFile:
		store, err := directory.NewFileStore(cfg.File, logger, metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("load directory file: %w", err)
		}
		g.Go(func() error {
			defer observability.RecoverPanic(logger, "directory watcher")
			return store.Watch(ctx)
		})

		checker = observability.NewHealthChecker(nil, redisClient)
		checker.AddCheck("directory_file", store.Healthy, true)
		dir = store
		logger.WithField("file", cfg.File).Info("Directory loaded from file")

	default:
		driver := directory.DriverPostgres
		if cfg.Type == config.DirectorySQLite {
			driver = directory.DriverSQLite
		}
		db, err := directory.OpenDB(ctx, directory.DefaultConnectionConfig(driver, cfg.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("open directory database: %w", err)
		}
		store := directory.NewSQLStore(db, driver)
		shutdown.RegisterShutdownFunc("database", func(context.Context) error { return store.Close() })

		if cfg.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, nil, fmt.Errorf("migrate directory: %w", err)
			}
		}

		checker = observability.NewHealthChecker(db, redisClient)
		dir = store
		logger.WithField("driver", driver).Info("Directory database connected")
	}

	if cfg.CacheEnabled {
		dir = directory.NewCachedDirectory(dir, directory.CacheConfig{
			Size:  cfg.CacheSize,
			TTL:   cfg.CacheTTL,
			Redis: redisClient,
		}, logger, metrics)
	}

	return dir, checker, nil
}

// buildValidator creates the identity validator for the configured mode
func buildValidator(ctx context.Context, cfg config.IdentityConfig, metrics *observability.Metrics) (identity.Validator, error) {
	client := identity.NewHTTPClient(cfg.Timeout)

	userinfo := func() (identity.Validator, error) {
		v, err := identity.NewUserinfoValidator(identity.UserinfoConfig{
			BaseURL:   cfg.URL,
			Path:      cfg.UserinfoPath,
			APIKey:    cfg.APIKey,
			EmailPath: cfg.EmailPath,
		}, client)
		if err != nil {
			return nil, fmt.Errorf("create userinfo validator: %w", err)
		}
		return identity.Instrument(v, metrics), nil
	}
	oidcValidator := func() (identity.Validator, error) {
		v, err := identity.NewOIDCValidator(ctx, identity.OIDCConfig{
			IssuerURL:            cfg.OIDCIssuer,
			ClientID:             cfg.OIDCClientID,
			RequireVerifiedEmail: cfg.OIDCRequireVerifiedEmail,
		}, client)
		if err != nil {
			return nil, fmt.Errorf("create OIDC validator: %w", err)
		}
		return identity.Instrument(v, metrics), nil
	}

	switch cfg.Mode {
	case config.IdentityModeOIDC:
		return oidcValidator()
	case config.IdentityModeChain:
		first, err := oidcValidator()
		if err != nil {
			return nil, err
		}
		second, err := userinfo()
		if err != nil {
			return nil, err
		}
		return identity.NewChain(first, second)
	default:
		return userinfo()
	}
}
