// Package screen holds the behaviour every resource screen shares: fetch on
// each visit, fall back to the last good data when a fetch fails, and
// redirect after a mutation so the next visit re-fetches server state.
package screen

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/platform/httpx"
	"github.com/schoolhub/portal/internal/shared"
	"github.com/schoolhub/portal/internal/view"
)

// Kit bundles the collaborators screen handlers render through.
type Kit struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
	snapshots *Snapshots
	forms     *Forms
}

// NewKit constructs a Kit.
func NewKit(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager, snapshots *Snapshots) *Kit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kit{
		logger:    logger,
		templates: templates,
		csrf:      csrf,
		snapshots: snapshots,
		forms:     NewForms(),
	}
}

// Logger exposes the kit logger to handlers.
func (k *Kit) Logger() *slog.Logger { return k.logger }

// Forms exposes the shared form validator.
func (k *Kit) Forms() *Forms { return k.forms }

// Templates exposes the template engine for documents rendered outside the layout.
func (k *Kit) Templates() *view.Engine { return k.templates }

// Page describes one rendered screen.
type Page struct {
	Name   string
	Title  string
	Status int
	Stale  bool
	Data   any
}

// Render writes page inside the portal layout.
func (k *Kit) Render(w http.ResponseWriter, r *http.Request, page Page) {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	token, _ := k.csrf.EnsureToken(ctx, sess)
	var flashes []shared.FlashMessage
	if sess != nil {
		flashes = sess.PopFlashes()
	}
	data := view.TemplateData{
		Title:       page.Title,
		CSRFToken:   token,
		Flashes:     flashes,
		CurrentPath: r.URL.Path,
		Stale:       page.Stale,
		Data:        page.Data,
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		data.Viewer = &view.Viewer{ID: id.ID, Name: id.Name, Email: id.Email, Role: string(id.Role)}
	}
	status := page.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := k.templates.Render(w, page.Name, data); err != nil {
		k.logger.Error("render page", slog.String("page", page.Name), slog.Any("error", err))
	}
}

// Done flashes a success message and redirects to back.
func (k *Kit) Done(w http.ResponseWriter, r *http.Request, back, message string) {
	shared.Notify(r.Context(), shared.FlashSuccess, message)
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// Reject flashes a validation message and redirects to back.
func (k *Kit) Reject(w http.ResponseWriter, r *http.Request, back, message string) {
	shared.Notify(r.Context(), shared.FlashError, message)
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// Fail reports a failed request. A rejected credential goes to the login
// screen; anything else is flashed and redirects to back.
func (k *Kit) Fail(w http.ResponseWriter, r *http.Request, err error, fallback, back string) {
	if k.Unauthorized(w, r, err) {
		return
	}
	k.logFailure(r, err)
	shared.Notify(r.Context(), shared.FlashError, backend.Message(err, fallback))
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// Invalid re-renders a form page with the failure flashed, keeping the submitted values.
func (k *Kit) Invalid(w http.ResponseWriter, r *http.Request, err error, fallback string, page Page) {
	if k.Unauthorized(w, r, err) {
		return
	}
	k.logFailure(r, err)
	shared.Notify(r.Context(), shared.FlashError, backend.Message(err, fallback))
	if page.Status == 0 {
		page.Status = httpx.StatusFor(err)
	}
	k.Render(w, r, page)
}

// Unauthorized redirects to login when err is a rejected credential.
func (k *Kit) Unauthorized(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, backend.ErrUnauthorized) && !errors.Is(err, auth.ErrNotAuthenticated) {
		return false
	}
	http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
	return true
}

func (k *Kit) logFailure(r *http.Request, err error) {
	level := slog.LevelWarn
	if errors.Is(err, backend.ErrServer) || errors.Is(err, backend.ErrUnavailable) {
		level = slog.LevelError
	}
	k.logger.Log(r.Context(), level, "backend request failed",
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Any("error", err))
}

// Fetch runs fetch and remembers the result. When fetch fails for any reason
// other than a rejected credential, the failure is flashed and the last good
// value for the same key is returned with stale set. Without one the zero
// value is returned; the caller renders it alongside the notice.
func Fetch[T any](ctx context.Context, k *Kit, key Key, notice string, fetch func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	sessionID, owner := scope(ctx)
	value, err := fetch(ctx)
	if err == nil {
		if sessionID != "" {
			if err := k.snapshots.Save(ctx, sessionID, owner, key, value); err != nil {
				k.logger.Warn("save snapshot", slog.String("screen", key.Screen), slog.Any("error", err))
			}
		}
		return value, false, nil
	}
	if errors.Is(err, backend.ErrUnauthorized) || ctx.Err() != nil {
		return zero, false, err
	}

	k.logger.Warn("screen fetch failed", slog.String("screen", key.Screen), slog.Any("error", err))
	shared.Notify(ctx, shared.FlashError, backend.Message(err, notice))
	if sessionID == "" {
		return zero, false, nil
	}
	var last T
	ok, loadErr := k.snapshots.Load(ctx, sessionID, owner, key, &last)
	if loadErr != nil {
		k.logger.Warn("load snapshot", slog.String("screen", key.Screen), slog.Any("error", loadErr))
	}
	if !ok {
		return zero, false, nil
	}
	return last, true, nil
}

func scope(ctx context.Context) (sessionID, owner string) {
	if sess := shared.SessionFromContext(ctx); sess != nil {
		sessionID = sess.ID
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		owner = id.ID
	}
	return sessionID, owner
}
