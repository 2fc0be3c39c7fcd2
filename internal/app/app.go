package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/ruleengine/controlplane/internal/audit"
	"github.com/ruleengine/controlplane/internal/auth"
	"github.com/ruleengine/controlplane/internal/authadapter"
	"github.com/ruleengine/controlplane/internal/config"
	"github.com/ruleengine/controlplane/internal/httpserver"
	"github.com/ruleengine/controlplane/internal/platform"
	"github.com/ruleengine/controlplane/internal/telemetry"
	"github.com/ruleengine/controlplane/internal/version"
	"github.com/ruleengine/controlplane/pkg/apikey"
	"github.com/ruleengine/controlplane/pkg/eventassembler"
	"github.com/ruleengine/controlplane/pkg/eventmapping"
	"github.com/ruleengine/controlplane/pkg/exception"
	"github.com/ruleengine/controlplane/pkg/job"
	"github.com/ruleengine/controlplane/pkg/license"
	"github.com/ruleengine/controlplane/pkg/pat"
	"github.com/ruleengine/controlplane/pkg/ruleset"
	"github.com/ruleengine/controlplane/pkg/scheduledjob"
	"github.com/ruleengine/controlplane/pkg/secret"
	"github.com/ruleengine/controlplane/pkg/tenant"
	"github.com/ruleengine/controlplane/pkg/user"
)

// clients bundles the cross-cutting collaborators both runtime modes need.
type clients struct {
	s3      *platform.S3Client
	batch   *platform.BatchClient
	sts     *platform.STSClient
	secrets secret.Store
	lm      *license.LMClient
	jobOpts job.Options
}

// buildClients wires the AWS-side collaborators and the LM client from
// configuration.
func buildClients(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*clients, error) {
	awsCfg, err := platform.NewAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	s3Client := platform.NewS3Client(awsCfg)
	ssmClient := platform.NewSSMClient(awsCfg)
	secrets := secret.NewSSMStore(ssmClient)

	// The LM signing key lives in the secret store; init-vault creates it.
	var signingKey *license.SigningKey
	if pemData, err := secrets.Get(ctx, cfg.LMKeySecretName); err != nil {
		logger.Warn("reading LM signing key", "error", err)
	} else if pemData != "" {
		signingKey, err = license.ParseSigningKey(cfg.LMKeySecretName, []byte(pemData))
		if err != nil {
			logger.Warn("parsing LM signing key", "error", err)
		}
	}

	return &clients{
		s3:      s3Client,
		batch:   platform.NewBatchClient(awsCfg, cfg.BatchJobQueue, cfg.BatchJobDefinition),
		sts:     platform.NewSTSClient(awsCfg),
		secrets: secrets,
		lm:      license.NewLMClient(cfg.LMAPIBaseURL, signingKey, logger),
		jobOpts: job.Options{
			AllowSimultaneousJobs: cfg.AllowSimultaneousJobs,
			SkipCloudIDValidation: cfg.SkipCloudIDValidation,
			JobsTTL:               time.Duration(cfg.JobsTimeToLiveDays) * 24 * time.Hour,
			CredentialsTTL:        time.Duration(cfg.CredentialsTTLSeconds) * time.Second,
			Envs: job.EnvBuilder{
				AWSRegion:          cfg.AWSRegion,
				ReportsBucket:      cfg.ReportsBucket,
				RulesetsBucket:     cfg.RulesetsBucket,
				StatisticsBucket:   cfg.StatisticsBucket,
				LogLevel:           cfg.BatchJobLogLevel,
				LifetimeMinutes:    cfg.JobLifetimeMinutes,
				SystemCustomer:     cfg.SystemCustomerName,
				MinCoreVersion:     "0",
				CurrentCoreVersion: version.Version,
			},
		},
	}, nil
}

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting rule engine control plane",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	// Tracing
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "ruleengine-controlplane", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	// Database
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Redis
	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	// Run global migrations.
	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}
	logger.Info("global migrations applied")

	// Metrics
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	cl, err := buildClients(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building clients: %w", err)
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, cl)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb, cl)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, cl *clients) error {
	// Session manager.
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Info("session: using auto-generated dev secret (set RULEENGINE_SESSION_SECRET in production)")
	}
	sessionMaxAge, err := time.ParseDuration(cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("parsing session max age %q: %w", cfg.SessionMaxAge, err)
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, sessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	// OIDC authenticator (optional — nil if not configured).
	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		var err error
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("OIDC authentication disabled (OIDC_ISSUER_URL not set)")
	}

	// Auth storage adapter.
	authStore := authadapter.New(db)

	// PAT authenticator.
	patAuth := auth.NewPATAuthenticator(authStore)

	// Audit log writer (async, buffered).
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, rdb, metricsReg, sessionMgr, oidcAuth, patAuth, authStore)

	// --- Auth routes (public, pre-authentication) ---

	// Rate limiter: 10 failed attempts per IP per 15 minutes.
	rateLimiter := auth.NewRateLimiter(rdb, 10, 15*time.Minute)

	// Local admin login and change-password.
	localAdminHandler := auth.NewLocalAdminHandler(sessionMgr, authStore, logger, rateLimiter)
	srv.Router.Post("/auth/local", localAdminHandler.HandleLocalLogin)
	srv.Router.Post("/auth/change-password", localAdminHandler.HandleChangePassword)
	srv.Router.Get("/auth/config", localAdminHandler.HandleAuthConfig)

	// Email/password login for tenant users.
	loginHandler := auth.NewLoginHandler(sessionMgr, authStore, logger, oidcAuth != nil, rateLimiter)
	srv.Router.Post("/auth/login", loginHandler.HandleLogin)
	srv.Router.Get("/auth/me", loginHandler.HandleMe)
	srv.Router.Post("/auth/logout", loginHandler.HandleLogout)

	// OIDC Authorization Code flow (only if OIDC is configured via env vars).
	if oidcAuth != nil && cfg.OIDCClientSecret != "" {
		oauth2Cfg := &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		}
		// The Endpoint is discovered from the OIDC provider, but oauth2
		// needs it explicitly. We reuse the issuer URL.
		oauth2Cfg.Endpoint = oauth2.Endpoint{
			AuthURL:  cfg.OIDCIssuerURL + "/authorize",
			TokenURL: cfg.OIDCIssuerURL + "/oauth/token",
		}

		oidcFlow := auth.NewOIDCFlowHandler(oauth2Cfg, oidcAuth, sessionMgr, authStore, rdb, logger)
		srv.Router.Get("/auth/oidc/login", oidcFlow.HandleLogin)
		srv.Router.Get("/auth/oidc/callback", oidcFlow.HandleCallback)
		logger.Info("OIDC Authorization Code flow enabled", "redirect_url", cfg.OIDCRedirectURL)
	}

	// Public status endpoint (no auth required — used by about page).
	srv.Router.Get("/status", srv.HandleStatus)

	// Authenticated status endpoint (backward compat).
	srv.APIRouter.Get("/status", srv.HandleStatus)

	// --- Domain handlers ---

	provisioner := &tenant.Provisioner{
		DB:            db,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsTenantDir,
		Logger:        logger,
	}
	tenantHandler := tenant.NewHandler(logger, auditWriter, db, provisioner)
	srv.APIRouter.Mount("/tenants", tenantHandler.Routes())
	srv.APIRouter.Mount("/customers", tenantHandler.CustomerRoutes())

	jobHandler := job.NewHandler(logger, auditWriter, cl.batch, cl.sts, cl.lm, cl.secrets, cl.jobOpts)
	srv.APIRouter.Mount("/jobs", jobHandler.Routes())

	scheduledHandler := scheduledjob.NewHandler(logger, auditWriter, cl.batch, cl.sts, cl.lm, cl.secrets, cl.jobOpts, nil)
	srv.APIRouter.Mount("/scheduled-jobs", scheduledHandler.Routes())

	rulesetHandler := ruleset.NewHandler(logger, auditWriter, db, cl.s3, cl.lm, cfg.RulesetsBucket, cfg.SystemCustomerName)
	srv.APIRouter.Mount("/rulesets", rulesetHandler.Routes())

	licenseHandler := license.NewHandler(logger, db)
	srv.APIRouter.Mount("/licenses", licenseHandler.Routes())

	exceptionHandler := exception.NewHandler(logger, auditWriter)
	srv.APIRouter.Mount("/resource-exceptions", exceptionHandler.Routes())

	userHandler := user.NewHandler(logger, auditWriter)
	srv.APIRouter.Mount("/users", userHandler.Routes())
	srv.APIRouter.Mount("/user/preferences", userHandler.PreferencesRoutes())

	apikeyHandler := apikey.NewHandler(logger, auditWriter, db)
	srv.APIRouter.Mount("/api-keys", apikeyHandler.Routes())

	patHandler := pat.NewHandler(logger)
	srv.APIRouter.Mount("/user/tokens", patHandler.Routes())

	auditHandler := audit.NewHandler(logger)
	srv.APIRouter.Mount("/audit-log", auditHandler.Routes())

	// OIDC admin config endpoints (admin role required).
	oidcAdminHandler := auth.NewOIDCAdminHandler(authStore, logger, sessionSecret)
	srv.APIRouter.Route("/admin/oidc", func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleAdmin))
		r.Get("/config", oidcAdminHandler.HandleGetOIDCConfig)
		r.Put("/config", oidcAdminHandler.HandleUpdateOIDCConfig)
		r.Post("/test", oidcAdminHandler.HandleTestOIDCConnection)
	})
	srv.APIRouter.Route("/admin/local-admin", func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleAdmin))
		r.Post("/reset", oidcAdminHandler.HandleResetLocalAdmin)
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker hosts the background loops: event assembler, event remover, job
// status reconciler, and the cron scheduler for scheduled jobs, each as its
// own goroutine under one cancellable context.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, cl *clients) error {
	logger.Info("worker started")

	mappings := eventmapping.NewProvider(cl.s3, rdb, cfg.RulesetsBucket)

	assembler := eventassembler.New(db, mappings, cl.batch, eventassembler.Config{
		Partitions:          cfg.EventPartitions,
		PageSize:            cfg.EventsPageSize,
		Interval:            time.Duration(cfg.EventAssemblerIntervalSecs) * time.Second,
		DeploymentAccountID: cfg.DeploymentAccountID,
		Envs:                cl.jobOpts.Envs,
	}, logger)
	go func() {
		if err := assembler.Run(ctx); err != nil {
			logger.Error("event assembler exited", "error", err)
		}
	}()

	remover := eventassembler.NewRemover(db, logger, time.Duration(cfg.EventRemoverIntervalSecs)*time.Second)
	go func() {
		if err := remover.Run(ctx); err != nil {
			logger.Error("event remover exited", "error", err)
		}
	}()

	scheduler := scheduledjob.NewScheduler(db, cl.batch, cl.sts, cl.lm, cl.secrets, cl.jobOpts, logger)
	if err := scheduler.Load(ctx); err != nil {
		logger.Error("loading scheduled jobs", "error", err)
	}
	go scheduler.Start(ctx)

	reconciler := job.NewReconciler(db, cl.batch, rdb, logger, time.Duration(cfg.ReconcilerIntervalSeconds)*time.Second)
	return reconciler.Run(ctx)
}
