package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/accessgate/pkg/api"
	"github.com/platinummonkey/accessgate/pkg/async"
	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/authz"
	"github.com/platinummonkey/accessgate/pkg/config"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/observability"
	"github.com/platinummonkey/accessgate/pkg/ratelimit"
	"github.com/platinummonkey/accessgate/pkg/rbac"
	"github.com/platinummonkey/accessgate/pkg/storage/postgres"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("accessgate exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, otelConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	// Database
	connManager, err := postgres.NewConnectionManager(cfg.Database, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := rbac.RunMigrations(ctx, connManager.DB(), connManager.Driver(), logger); err != nil {
		connManager.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			connManager.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis connection established")
	}

	// Role registry
	store := rbac.NewStore(connManager.DB(), connManager.ScopeOptions()...)
	registry := rbac.NewRegistry(store,
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
		rbac.WithTimeout(cfg.RBAC.StoreTimeout),
	)
	if err := seedRoles(ctx, cfg, registry, logger); err != nil {
		return err
	}
	if cfg.RBAC.SeedFile != "" && cfg.RBAC.WatchSeedFile {
		async.SafeGo(ctx, 0, "seed watcher", func(ctx context.Context) error {
			return watchSeedFile(ctx, cfg.RBAC.SeedFile, registry, logger)
		})
	}

	scheduler := cron.New()

	// Audit pipeline
	writer, err := buildAuditWriter(ctx, cfg, connManager, scheduler, logger)
	if err != nil {
		return err
	}
	sink := audit.NewAsyncSink(writer, audit.AsyncSinkConfig{
		BufferSize:   cfg.Audit.BufferSize,
		Workers:      cfg.Audit.Workers,
		WriteTimeout: cfg.Audit.DBTimeout,
	}, logger, metrics)

	// Rate limiter
	var limiter ratelimit.Checker
	if cfg.RateLimit.Enabled {
		limiter, err = buildLimiter(cfg, redisClient, scheduler, metrics, logger)
		if err != nil {
			return err
		}
	}

	authenticator, err := buildAuthenticator(ctx, cfg)
	if err != nil {
		return err
	}

	authorizer := authz.NewAuthorizer(registry, authz.Config{
		ElevatedRoles:         cfg.RBAC.ElevatedRoles,
		RegistryElevatedRoles: cfg.RBAC.RegistryElevatedRoles,
		Timeout:               cfg.RBAC.AuthorizationTimeout,
	}, logger, metrics)

	trustedProxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Options{
		Registry:      registry,
		Authenticator: authenticator,
		Authorizer:    authorizer,
		Limiter:       limiter,
		RateLimit: api.RateLimit{
			Enabled:              cfg.RateLimit.Enabled,
			MaxRequests:          cfg.RateLimit.MaxRequests,
			Window:               cfg.RateLimit.Window,
			PrincipalMaxRequests: cfg.RateLimit.PrincipalMaxRequests,
		},
		AuditSink:      sink,
		Metrics:        metrics,
		Logger:         logger,
		TrustedProxies: trustedProxies,
		SSLRedirect:    !cfg.Server.Development,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics listen on their own port so probes bypass the
	// authentication and rate limit pipeline
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(connManager.DB(), redisClient, version))
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.Handler(promRegistry))
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health-server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("otel", otelProviders.Shutdown)
	// Shutdown funcs run concurrently; the audit drain must finish before
	// the database it writes to is closed.
	shutdown.RegisterShutdownFunc("storage", func(ctx context.Context) error {
		cancel()
		<-scheduler.Stop().Done()

		var errs []error
		// Closing the sink closes every audit writer, flushing the archiver
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("audit sink: %w", err))
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("redis: %w", err))
			}
		}
		if err := connManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
		return errors.Join(errs...)
	})

	async.SafeGo(ctx, 0, "health server", func(context.Context) error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    httpServer.Addr,
			"version": version,
		}).Info("Starting accessgate")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	return shutdown.WaitForShutdown()
}

func seedRoles(ctx context.Context, cfg *config.Config, registry *rbac.Registry, logger *observability.Logger) error {
	if cfg.RBAC.SeedDefaults {
		created, err := registry.SeedDefaultRoles(ctx, rbac.DefaultRoles())
		if err != nil {
			return fmt.Errorf("failed to seed default roles: %w", err)
		}
		logger.WithField("created", created).Info("Seeded default roles")
	}

	if cfg.RBAC.SeedFile == "" {
		return nil
	}
	defs, err := rbac.LoadRoleDefinitions(cfg.RBAC.SeedFile)
	if err != nil {
		return fmt.Errorf("failed to load role definitions: %w", err)
	}
	created, err := registry.SeedDefaultRoles(ctx, defs)
	if err != nil {
		return fmt.Errorf("failed to seed roles from %s: %w", cfg.RBAC.SeedFile, err)
	}
	logger.WithFields(map[string]interface{}{
		"file":    cfg.RBAC.SeedFile,
		"created": created,
	}).Info("Seeded roles from file")
	return nil
}

func watchSeedFile(ctx context.Context, path string, registry *rbac.Registry, logger *observability.Logger) error {
	return rbac.WatchRoleDefinitions(ctx, path, time.Second, logger, func(defs []rbac.RoleDefinition) {
		created, err := registry.SeedDefaultRoles(ctx, defs)
		if err != nil {
			logger.WithError(err).Error("Failed to re-seed roles")
			return
		}
		logger.WithField("created", created).Info("Re-seeded roles after file change")
	})
}

func buildAuditWriter(ctx context.Context, cfg *config.Config, connManager *postgres.ConnectionManager, scheduler *cron.Cron, logger *observability.Logger) (audit.Writer, error) {
	writers := []audit.Writer{audit.NewLogWriter(logger)}

	if cfg.Audit.FilePath != "" {
		fileWriter, err := audit.NewFileWriter(audit.FileWriterConfig{
			Path:     cfg.Audit.FilePath,
			MaxSize:  cfg.Audit.MaxFileSize,
			MaxFiles: cfg.Audit.MaxFiles,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		writers = append(writers, fileWriter)
	}

	if cfg.Audit.DBEnabled {
		dbWriter, err := audit.NewDBWriter(ctx, connManager.DB(), audit.DBWriterConfig{
			Driver:       connManager.Driver(),
			Timeout:      cfg.Audit.DBTimeout,
			ScopeOptions: connManager.ScopeOptions(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create audit table: %w", err)
		}
		writers = append(writers, dbWriter)
	}

	if cfg.Audit.S3Bucket != "" {
		s3Client, err := postgres.NewS3Client(ctx, postgres.S3Config{
			Endpoint:     cfg.Audit.S3Endpoint,
			Region:       cfg.Audit.S3Region,
			Bucket:       cfg.Audit.S3Bucket,
			AccessKey:    cfg.Audit.S3AccessKey,
			SecretKey:    cfg.Audit.S3SecretKey,
			UsePathStyle: cfg.Audit.S3UsePathStyle,
			CreateBucket: cfg.Server.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create audit S3 client: %w", err)
		}
		archiver := audit.NewS3Archiver(s3Client, audit.S3ArchiverConfig{Prefix: cfg.Audit.S3Prefix}, logger)
		if _, err := archiver.Schedule(scheduler, cfg.Audit.FlushSchedule, time.Minute); err != nil {
			return nil, fmt.Errorf("invalid audit flush schedule: %w", err)
		}
		writers = append(writers, archiver)
	}

	if len(writers) == 1 {
		return writers[0], nil
	}
	return audit.NewMultiWriter(writers...), nil
}

func otelConfig(cfg *config.Config) observability.OTelConfig {
	authMode, limiterBackend := "hmac", "memory"
	if cfg.Auth.OIDCIssuerURL != "" {
		authMode = "oidc"
	}
	if cfg.RateLimit.Distributed {
		limiterBackend = "redis"
	}

	return observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Environment:    cfg.Observability.Environment,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
		Attributes: []attribute.KeyValue{
			observability.AttrAuthMode.String(authMode),
			observability.AttrRateLimiter.String(limiterBackend),
			observability.AttrElevatedRoles.StringSlice(slices.Concat(cfg.RBAC.ElevatedRoles, cfg.RBAC.RegistryElevatedRoles)),
		},
	}
}

func buildLimiter(cfg *config.Config, redisClient *redis.Client, scheduler *cron.Cron, metrics *observability.Metrics, logger *observability.Logger) (ratelimit.Checker, error) {
	if cfg.RateLimit.Distributed {
		logger.Info("Using Redis sliding window rate limiter")
		return ratelimit.NewRedisLimiter(redisClient, ratelimit.RedisConfig{
			FailOpen: cfg.RateLimit.FailOpen,
			Metrics:  metrics,
			Logger:   logger,
		}), nil
	}

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		MaxKeys: cfg.RateLimit.MaxKeys,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	if _, err := limiter.ScheduleSweep(scheduler, cfg.RateLimit.SweepSchedule); err != nil {
		return nil, fmt.Errorf("invalid rate limit sweep schedule: %w", err)
	}
	return limiter, nil
}

func buildAuthenticator(ctx context.Context, cfg *config.Config) (auth.Authenticator, error) {
	if cfg.Auth.OIDCIssuerURL != "" {
		authenticator, err := auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
			IssuerURL:  cfg.Auth.OIDCIssuerURL,
			ClientID:   cfg.Auth.OIDCClientID,
			RolesClaim: cfg.Auth.OIDCRoleClaim,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC authenticator: %w", err)
		}
		return authenticator, nil
	}

	authenticator, err := auth.NewTokenAuthenticator(auth.TokenConfig{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token authenticator: %w", err)
	}
	return authenticator, nil
}
