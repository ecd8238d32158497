package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/audit"
	httpapi "github.com/aussiebroadwan/authcore/internal/auth/http"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	secrets  *Secrets
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	audit    *audit.Recorder
	mailer   *mailer.Async

	// Services
	recoveryService     *service.RecoveryService
	sessionService      *service.SessionService
	bootstrapService    *service.BootstrapService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// Option customises an Application before its dependencies are built.
type Option func(*Application)

// WithLogger replaces the logger built from Config.
func WithLogger(l *slog.Logger) Option {
	return func(app *Application) { app.logger = l }
}

// WithMailer replaces the log-only email backend.
func WithMailer(d mailer.Dispatcher) Option {
	return func(app *Application) { app.mailer = app.newMailer(d) }
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config, opts ...Option) (*Application, error) {
	app := &Application{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	app.logger = slogx.New(slogx.Config{
		Service: "authcore",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
	for _, opt := range opts {
		opt(app)
	}
	if app.mailer == nil {
		app.mailer = app.newMailer(&mailer.LogDispatcher{
			Logger:     app.logger,
			RevealBody: cfg.RevealEmailBodies,
		})
	}

	secrets, err := InitSecrets(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets: %w", err)
	}
	app.secrets = secrets

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	if _, err := app.bootstrapService.EnsureAdmin(slogx.WithContext(context.Background(), app.logger)); err != nil {
		_ = app.close()
		return nil, err
	}

	return app, nil
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run serves HTTP and runs housekeeping until ctx is cancelled, SIGINT or
// SIGTERM arrives, or the server fails. It always shuts down before
// returning.
func (app *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		_ = app.close()
		return fmt.Errorf("listen: %w", err)
	}

	app.housekeepingService.Start()
	app.logger.Info("auth service starting",
		slog.String("addr", ln.Addr().String()),
		slog.String("version", BuildVersion),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutdown requested", slog.Any("cause", context.Cause(gctx)))
		return app.Shutdown()
	})

	return g.Wait()
}

// Shutdown drains the HTTP server, then stops the background workers and
// closes the database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", slog.Any("error", err))
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", slog.Any("error", err))
		}
	}

	app.housekeepingService.Stop()

	if err := app.close(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// close flushes pending emails and audit events and closes the database.
func (app *Application) close() error {
	app.mailer.Close()

	if err := app.audit.Close(); err != nil {
		app.logger.Error("error closing audit recorder", slog.Any("error", err))
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", slog.Any("error", err))
		return err
	}
	return nil
}

func (app *Application) newMailer(d mailer.Dispatcher) *mailer.Async {
	return mailer.NewAsync(d, app.logger, app.metrics,
		mailer.WithQueueSize(app.cfg.MailQueueSize),
		mailer.WithWorkers(app.cfg.MailWorkers),
	)
}

// initDatabase opens the database and applies migrations
func (app *Application) initDatabase() error {
	dsn := app.cfg.DatabaseFile
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", dsn)
	}

	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.limiter = ratelimit.New()

	app.audit = audit.NewRecorder(app.db.AuditEvents(),
		audit.WithQueueSize(app.cfg.AuditQueueSize),
		audit.WithLogger(app.logger),
		audit.WithMetrics(app.metrics),
	)

	policy := service.DefaultRecoveryPolicy()
	policy.EmailLimit = app.cfg.ResetLimit
	policy.MinResponseTime = app.cfg.MinResponseTime

	app.recoveryService = &service.RecoveryService{
		Store:     app.db,
		Limiter:   app.limiter,
		Audit:     app.audit,
		Mailer:    app.mailer,
		Passwords: app.secrets.Passwords,
		Tokens:    app.secrets.Tokens,
		Policy:    policy,
		Metrics:   app.metrics,
		PublicURL: app.cfg.PublicURL,
	}

	app.sessionService = &service.SessionService{
		Store:       app.db,
		Limiter:     app.limiter,
		Audit:       app.audit,
		Passwords:   app.secrets.Passwords,
		Credentials: app.secrets.Credentials,
		LoginLimit:  app.cfg.LoginLimit,
		Metrics:     app.metrics,
	}

	app.bootstrapService = &service.BootstrapService{
		Store:      app.db,
		Recovery:   app.recoveryService,
		AdminEmail: app.cfg.BootstrapAdmin,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeepingService.Limiters = []service.Sweeper{app.limiter}
	app.housekeepingService.Metrics = app.metrics
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.secrets.Credentials,
		BuildVersion,
		app.db,
		app.cfg.RateLimits,
		app.logger,
	)

	router.RecoveryService = app.recoveryService
	router.SessionService = app.sessionService
	router.Cookie.Secure = app.cfg.CookieSecure
	router.TrustedProxies = app.cfg.TrustedProxies
	router.Metrics = promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{Registry: app.registry})
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
