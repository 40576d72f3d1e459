package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/schoolhub/portal/internal/account"
	"github.com/schoolhub/portal/internal/attendance"
	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/dashboard"
	"github.com/schoolhub/portal/internal/fees"
	"github.com/schoolhub/portal/internal/grades"
	"github.com/schoolhub/portal/internal/observability"
	"github.com/schoolhub/portal/internal/payment"
	"github.com/schoolhub/portal/internal/platform/cache"
	"github.com/schoolhub/portal/internal/screen"
	"github.com/schoolhub/portal/internal/shared"
	"github.com/schoolhub/portal/internal/students"
	"github.com/schoolhub/portal/internal/teachers"
	"github.com/schoolhub/portal/internal/view"
	"github.com/schoolhub/portal/jobs"
	"github.com/schoolhub/portal/report"
)

// Deps are the process-level collaborators the portal is built from.
type Deps struct {
	Config  *Config
	Logger  *slog.Logger
	Redis   *redis.Client
	Metrics *observability.Metrics
	// Enqueuer schedules payment reconciliation; nil disables it.
	Enqueuer payment.Enqueuer
	// Inspector backs /jobs/health; nil reports an empty queue.
	Inspector jobs.QueueInspector
	// HTTPClient overrides the backend transport.
	HTTPClient *http.Client
}

// NewBackend builds the unbound backend client every service derives from.
func NewBackend(cfg *Config, metrics *observability.Metrics, httpClient *http.Client) *backend.Client {
	opts := backend.Options{
		BaseURL:    cfg.BackendURL,
		Timeout:    cfg.BackendTimeout,
		HTTPClient: httpClient,
	}
	if metrics != nil {
		opts.Observer = metrics
	}
	return backend.NewClient(opts)
}

// NewSessionManager opens the cookie session store shared by the portal and the worker.
func NewSessionManager(cfg *Config, client *redis.Client) *shared.SessionManager {
	return shared.NewSessionManager(client, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
}

// NewVerifications opens the pending payment store shared by the portal and the worker.
func NewVerifications(cfg *Config, client *redis.Client) *payment.Verifications {
	return payment.NewVerifications(client, "", cfg.VerificationTTL)
}

// NewHandler assembles every screen behind the router.
func NewHandler(deps Deps) (http.Handler, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if deps.Redis == nil {
		return nil, errors.New("app: redis client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	templates, err := view.NewEngine()
	if err != nil {
		return nil, err
	}
	sessionManager := NewSessionManager(cfg, deps.Redis)
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	snapshots := screen.NewSnapshots(cache.NewJSONStore(deps.Redis, "portal:snapshot:"), cfg.SnapshotTTL)

	client := NewBackend(cfg, deps.Metrics, deps.HTTPClient)
	api := auth.Bind(client)

	flow := payment.NewFlow(payment.Config{
		API:           api,
		Verifications: NewVerifications(cfg, deps.Redis),
		Enqueuer:      deps.Enqueuer,
		Credentials:   auth.NewSessionCredentials(sessionManager),
		Recorder:      deps.Metrics,
		Logger:        logger,
	})

	sessions := auth.NewSessions(client, logger, auth.NewTombstones(deps.Redis, cfg.SessionTTL),
		func(ctx context.Context, sessionID string, id auth.Identity, expired bool) {
			deps.Metrics.ObserveSessionEnd(expired)
			if err := snapshots.Purge(ctx, sessionID); err != nil {
				logger.Warn("purge snapshots", slog.String("session", sessionID), slog.Any("error", err))
			}
			if err := flow.Detach(ctx, id.ID, sessionID); err != nil {
				logger.Warn("detach verifications", slog.String("session", sessionID), slog.Any("error", err))
			}
		})
	guard := auth.NewGuard(logger, templates)
	kit := screen.NewKit(logger, templates, csrfManager, snapshots)

	studentService := students.NewService(api)
	rosterService := attendance.NewService(api)
	pdf := report.NewClient(cfg.GotenbergURL)

	return NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		Sessions:          sessions,
		Guard:             guard,
		Metrics:           deps.Metrics,
		AuthHandler:       auth.NewHandler(logger, templates, csrfManager, guard, cfg.LoginRateLimit),
		DashboardHandler:  dashboard.NewHandler(kit, dashboard.NewService(api)),
		StudentsHandler:   students.NewHandler(kit, studentService),
		TeachersHandler:   teachers.NewHandler(kit, teachers.NewService(api)),
		GradesHandler:     grades.NewHandler(kit, grades.NewService(api), rosterService),
		AttendanceHandler: attendance.NewHandler(kit, rosterService),
		FeesHandler:       fees.NewHandler(kit, fees.NewService(api), flow, studentService, pdf),
		PaymentHandler:    payment.NewHandler(kit, flow, cfg.StripePublishableKey),
		AccountHandler:    account.NewHandler(kit, account.NewService(api)),
		ReportHandler:     report.NewHandler(pdf, logger),
		JobHandler:        jobs.NewHandler(deps.Inspector, logger),
	}), nil
}
