// Package app is the composition root: it reads configuration, connects to
// infrastructure, wires the five core components together, and runs
// Observatory in either "api" or "worker" mode (spec.md §5).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/lucidarc/observatory/internal/admin"
	"github.com/lucidarc/observatory/internal/admin/auth"
	"github.com/lucidarc/observatory/internal/api"
	"github.com/lucidarc/observatory/internal/config"
	"github.com/lucidarc/observatory/internal/credential"
	"github.com/lucidarc/observatory/internal/dispatcher"
	"github.com/lucidarc/observatory/internal/httpserver"
	"github.com/lucidarc/observatory/internal/job"
	"github.com/lucidarc/observatory/internal/lifecycle"
	"github.com/lucidarc/observatory/internal/opsalert"
	"github.com/lucidarc/observatory/internal/platform"
	"github.com/lucidarc/observatory/internal/ratelimit"
	"github.com/lucidarc/observatory/internal/telemetry"
)

// sweepInterval is how often the dispatcher pulls pending jobs from the
// store directly, recovering work a crashed process's in-process queue lost
// and giving a standalone worker deployment (Mode=worker) something to do.
const sweepInterval = 15 * time.Second

// Run is the application entry point: connect to infrastructure, migrate,
// and start the mode cfg.Mode selects.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting observatory", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewRegistry()

	jobStore := job.NewStore(db)
	credStore := credential.NewStore(db)
	resolver := credential.NewResolver(credStore, cfg.CredentialCacheSize, cfg.CredentialCacheTTL)
	limiter := ratelimit.New(rdb, tierLimits(cfg))
	backend := dispatcher.NewHTTPBackend(cfg.BackendURL, cfg.BackendTimeout, logger)
	notifier := opsalert.NewNotifier(cfg.SlackBotToken, cfg.SlackOpsChannel, cfg.OpsAlertFailureThresh, logger)

	pool := dispatcher.NewPool(
		jobStore,
		backend,
		cfg.WorkerCount,
		cfg.QueueDepth,
		dispatcher.RetryConfig{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay},
		dispatcher.TTLConfig{ResultTTL: cfg.ResultTTL, CancelledTTL: cfg.CancelledTTL},
		callbackSecrets(cfg),
		logger,
		notifier,
		telemetry.DispatcherRetriesTotal,
		telemetry.DispatcherBackendDuration,
		telemetry.JobsFinishedTotal,
	)

	reaper := job.NewReaper(jobStore, logger, cfg.ReaperTick, cfg.ResultTTL, cfg.CancelledTTL, telemetry.JobsReapedTotal)

	controller := lifecycle.NewController(jobStore, pool, lifecycle.Config{
		MaxInputChars: cfg.MaxInputChars,
		TTLs: lifecycle.TTLs{
			Pending:   cfg.PendingTTL,
			Result:    cfg.ResultTTL,
			Cancelled: cfg.CancelledTTL,
		},
		Allowlists: callbackAllowlists(cfg),
	})

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, backend, metricsReg, resolver, limiter, controller, credStore, pool, reaper)
	case "worker":
		return runWorker(ctx, logger, pool, reaper)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// tierLimits builds the per-tier rate-limit window table from config
// (spec.md §4.2).
func tierLimits(cfg *config.Config) map[credential.Tier]ratelimit.Limits {
	return map[credential.Tier]ratelimit.Limits{
		credential.TierPublic: {
			PerMinute: cfg.RateLimitPublicPerMinute,
			PerHour:   cfg.RateLimitPublicPerHour,
			PerDay:    cfg.RateLimitPublicPerDay,
		},
		credential.TierAPIKey: {
			PerMinute: cfg.RateLimitAPIKeyPerMinute,
			PerHour:   cfg.RateLimitAPIKeyPerHour,
			PerDay:    cfg.RateLimitAPIKeyPerDay,
		},
		credential.TierPartner: {
			PerMinute: cfg.RateLimitPartnerPerMinute,
			PerHour:   cfg.RateLimitPartnerPerHour,
			PerDay:    cfg.RateLimitPartnerPerDay,
		},
	}
}

// callbackSecrets builds the per-tier HMAC signing key table the dispatcher
// uses to sign callback notifications (spec.md §4.4 step 9).
func callbackSecrets(cfg *config.Config) map[credential.Tier]string {
	return map[credential.Tier]string{
		credential.TierPublic:  cfg.CallbackSecretPublic,
		credential.TierAPIKey:  cfg.CallbackSecretAPIKey,
		credential.TierPartner: cfg.CallbackSecretPartner,
	}
}

// callbackAllowlists builds the per-tier callback_url scheme/host allowlist
// (spec.md §4.5, §6 callback_url_allowlist). Entries in
// CALLBACK_URL_ALLOWLIST are "scheme://host" pairs, "*" meaning any host for
// that scheme; they apply to api_key. Partner gets the same schemes against
// any host, matching spec.md §4.5's "wider scheme/host set"; public tier
// carries no entry at all, so its callback_url is always rejected
// (spec.md config: "Public tier never allows callbacks").
func callbackAllowlists(cfg *config.Config) map[credential.Tier]lifecycle.CallbackAllowlist {
	schemes := map[string]bool{}
	hosts := map[string]bool{}
	anyHost := false

	for _, entry := range cfg.CallbackAllowlist {
		scheme, host, ok := strings.Cut(entry, "://")
		if !ok {
			continue
		}
		schemes[scheme] = true
		if host == "*" || host == "" {
			anyHost = true
			continue
		}
		hosts[host] = true
	}

	schemeList := make([]string, 0, len(schemes))
	for s := range schemes {
		schemeList = append(schemeList, s)
	}
	var hostList []string
	if !anyHost {
		hostList = make([]string, 0, len(hosts))
		for h := range hosts {
			hostList = append(hostList, h)
		}
	}

	apiKeyAllow := lifecycle.CallbackAllowlist{Schemes: schemeList, Hosts: hostList}
	partnerAllow := lifecycle.CallbackAllowlist{Schemes: schemeList} // any host

	return map[credential.Tier]lifecycle.CallbackAllowlist{
		credential.TierAPIKey:  apiKeyAllow,
		credential.TierPartner: partnerAllow,
	}
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	rdb *redis.Client,
	backend httpserver.BackendPinger,
	metricsReg *prometheus.Registry,
	resolver *credential.Resolver,
	limiter *ratelimit.Limiter,
	controller *lifecycle.Controller,
	credStore *credential.Store,
	pool *dispatcher.Pool,
	reaper *job.Reaper,
) error {
	srv := httpserver.NewServer(cfg.CORSAllowedOrigins, logger, db, rdb, backend, metricsReg)

	analyzeHandler := api.NewHandler(logger, resolver, limiter, controller)
	srv.Router.Mount("/v1/analyze", analyzeHandler.Routes())

	adminHandler, err := newAdminHandler(ctx, cfg, logger, credStore, resolver)
	if err != nil {
		return fmt.Errorf("initializing admin surface: %w", err)
	}
	srv.Router.Mount("/admin", adminHandler.Routes())

	go func() {
		if err := pool.Run(ctx); err != nil {
			logger.Error("dispatcher pool stopped with error", "error", err)
		}
	}()
	go func() {
		if err := pool.RunSweeper(ctx, sweepInterval); err != nil {
			logger.Error("dispatcher sweeper stopped with error", "error", err)
		}
	}()
	go func() {
		if err := reaper.Run(ctx); err != nil {
			logger.Error("job reaper stopped with error", "error", err)
		}
	}()

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

// runWorker starts a headless worker process: dispatcher pool, sweeper, and
// reaper, with no HTTP surface. It shares the same database-backed job
// store as any API process, so it discovers work entirely through the
// sweeper rather than direct Enqueue calls (spec.md §9 "pluggable stores").
func runWorker(ctx context.Context, logger *slog.Logger, pool *dispatcher.Pool, reaper *job.Reaper) error {
	logger.Info("worker started")

	errCh := make(chan error, 3)
	go func() { errCh <- pool.Run(ctx) }()
	go func() { errCh <- pool.RunSweeper(ctx, sweepInterval) }()
	go func() { errCh <- reaper.Run(ctx) }()

	select {
	case <-ctx.Done():
		<-errCh
		<-errCh
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// newAdminHandler builds the admin credential-issuance surface (spec.md
// §11). OIDC login is only wired when OIDC_ISSUER_URL and OIDC_CLIENT_ID
// are configured; local bcrypt login is always available.
func newAdminHandler(ctx context.Context, cfg *config.Config, logger *slog.Logger, credStore *credential.Store, resolver *credential.Resolver) (*admin.Handler, error) {
	sessionSecret := cfg.AdminSessionSecret
	if sessionSecret == "" {
		return nil, fmt.Errorf("ADMIN_SESSION_SECRET must be set")
	}
	sessions, err := auth.NewSessionManager(sessionSecret, cfg.AdminSessionMaxAge)
	if err != nil {
		return nil, fmt.Errorf("creating session manager: %w", err)
	}

	localAdmin := auth.LocalAdmin{Username: cfg.AdminUsername, PasswordHash: cfg.AdminPasswordHash}

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL)
		if err != nil {
			return nil, fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("admin OIDC login enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("admin OIDC login disabled (OIDC_ISSUER_URL not set)")
	}

	return admin.NewHandler(logger, sessions, localAdmin, oidcAuth, credStore, resolver), nil
}
