package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/schoolhub/portal/internal/account"
	"github.com/schoolhub/portal/internal/attendance"
	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/dashboard"
	"github.com/schoolhub/portal/internal/fees"
	"github.com/schoolhub/portal/internal/grades"
	"github.com/schoolhub/portal/internal/observability"
	"github.com/schoolhub/portal/internal/payment"
	"github.com/schoolhub/portal/internal/platform/httpx"
	"github.com/schoolhub/portal/internal/shared"
	"github.com/schoolhub/portal/internal/students"
	"github.com/schoolhub/portal/internal/teachers"
	"github.com/schoolhub/portal/jobs"
	"github.com/schoolhub/portal/report"
	"github.com/schoolhub/portal/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Sessions       *auth.Sessions
	Guard          *auth.Guard
	Metrics        *observability.Metrics

	AuthHandler       *auth.Handler
	DashboardHandler  *dashboard.Handler
	StudentsHandler   *students.Handler
	TeachersHandler   *teachers.Handler
	GradesHandler     *grades.Handler
	AttendanceHandler *attendance.Handler
	FeesHandler       *fees.Handler
	PaymentHandler    *payment.Handler
	AccountHandler    *account.Handler
	ReportHandler     *report.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.RequestID)
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.ReportHandler != nil {
		r.Route("/reports", params.ReportHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Sessions:       params.Sessions,
			Metrics:        params.Metrics,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		guard := params.Guard
		r.Get("/", guard.Home)
		r.Route("/auth", params.AuthHandler.MountRoutes)

		r.Route("/admin", func(r chi.Router) {
			r.Use(guard.Require(auth.RoleAdmin))
			params.DashboardHandler.MountAdmin(r)
			params.StudentsHandler.MountRoutes(r)
			params.TeachersHandler.MountRoutes(r)
			params.FeesHandler.MountAdmin(r)
		})
		r.Route("/teacher", func(r chi.Router) {
			r.Use(guard.Require(auth.RoleTeacher))
			params.DashboardHandler.MountTeacher(r)
			params.GradesHandler.MountTeacher(r)
			params.AttendanceHandler.MountTeacher(r)
		})
		r.Route("/student", func(r chi.Router) {
			r.Use(guard.Require(auth.RoleStudent))
			params.DashboardHandler.MountStudent(r)
			params.GradesHandler.MountStudent(r)
			params.AttendanceHandler.MountStudent(r)
			params.FeesHandler.MountStudent(r)
			params.PaymentHandler.MountRoutes(r)
		})
		r.Route("/account", func(r chi.Router) {
			r.Use(guard.Require())
			params.AccountHandler.MountRoutes(r)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, auth.LoginPath, http.StatusFound)
		})
	})

	return r
}

// staticCacheHandler caches static assets for an hour in the browser.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
