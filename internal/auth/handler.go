package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/schoolhub/portal/internal/shared"
	"github.com/schoolhub/portal/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	guard       *Guard
	validator   *validator.Validate
	loginLimit  int
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, guard *Guard, loginLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		templates:   templates,
		csrfManager: csrf,
		guard:       guard,
		validator:   validator.New(),
		loginLimit:  loginLimit,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.PublicOnly)
		r.Get("/login", h.showLogin)
		if h.loginLimit > 0 {
			r.With(httprate.Limit(h.loginLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).Post("/login", h.handleLogin)
		} else {
			r.Post("/login", h.handleLogin)
		}
	})
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, r, http.StatusOK, loginPageData{})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}

	store := StoreFromContext(r.Context())
	if store == nil {
		h.logger.Error("session store missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(errs) == 0 {
		id, err := store.Login(r.Context(), form.Email, form.Password)
		if err == nil {
			sess := shared.SessionFromContext(r.Context())
			if _, err := h.csrfManager.Rotate(r.Context(), sess); err != nil {
				h.logger.Warn("rotate csrf after login", slog.Any("error", err))
			}
			shared.Notify(r.Context(), shared.FlashSuccess, "Welcome back, "+id.FirstName()+"!")
			h.logger.Info("login", slog.String("user", id.ID), slog.String("role", string(id.Role)))
			home, _ := DefaultPath(id.Role)
			http.Redirect(w, r, home, http.StatusSeeOther)
			return
		}
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			errs["general"] = authErr.Message
		} else {
			errs["general"] = "Login failed"
		}
		h.logger.Info("login rejected", slog.String("email", form.Email), slog.Any("error", err))
	}

	form.Password = ""
	h.renderLogin(w, r, http.StatusBadRequest, loginPageData{Form: form, Errors: errs})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	if store := StoreFromContext(ctx); store != nil {
		store.Logout()
	}
	if sess != nil {
		if _, err := h.csrfManager.Rotate(ctx, sess); err != nil {
			h.logger.Warn("rotate csrf after logout", slog.Any("error", err))
		}
		sess.AddFlash(shared.FlashMessage{Kind: shared.FlashInfo, Message: "You have been signed out."})
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data loginPageData) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flashes []shared.FlashMessage
	if sess != nil {
		flashes = sess.PopFlashes()
	}
	viewData := view.TemplateData{
		Title:       "Sign in",
		CSRFToken:   csrfToken,
		Flashes:     flashes,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "Enter a valid email address"
	}
	return fe.Field() + " is invalid"
}
