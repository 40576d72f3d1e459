package auth

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/schoolhub/portal/internal/view"
)

// LoginPath is where unauthenticated navigation ends up.
const LoginPath = "/auth/login"

// Outcome is the guard state for one navigation.
type Outcome int

const (
	OutcomeLoading Outcome = iota
	OutcomeUnauthenticated
	OutcomeAuthorized
	OutcomeForbidden
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoading:
		return "loading"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Decision is what the guard does with a navigation. Location is set for redirects.
type Decision struct {
	Outcome  Outcome
	Location string
}

// DefaultPath maps a role to its home screen. Unknown roles map to the login
// screen and report false.
func DefaultPath(role Role) (string, bool) {
	switch role {
	case RoleAdmin:
		return "/admin", true
	case RoleTeacher:
		return "/teacher", true
	case RoleStudent:
		return "/student", true
	}
	return LoginPath, false
}

// Evaluate decides a navigation from the store state, the identity (nil when
// absent) and the screen's allowed roles. An empty allowed set admits any
// authenticated identity.
func Evaluate(state LoadingState, identity *Identity, allowed []Role) Decision {
	if state != StateResolved {
		return Decision{Outcome: OutcomeLoading}
	}
	if identity == nil {
		return Decision{Outcome: OutcomeUnauthenticated, Location: LoginPath}
	}
	if len(allowed) == 0 || slices.Contains(allowed, identity.Role) {
		return Decision{Outcome: OutcomeAuthorized}
	}
	home, _ := DefaultPath(identity.Role)
	return Decision{Outcome: OutcomeForbidden, Location: home}
}

// Guard applies Evaluate to HTTP navigation.
type Guard struct {
	logger    *slog.Logger
	templates *view.Engine
}

// NewGuard constructs a Guard.
func NewGuard(logger *slog.Logger, templates *view.Engine) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger, templates: templates}
}

// Require admits identities holding one of roles; no roles admits any identity.
func (g *Guard) Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.evaluate(r, roles)
			switch decision.Outcome {
			case OutcomeAuthorized:
				next.ServeHTTP(w, r)
			case OutcomeLoading:
				g.renderLoading(w, r)
			default:
				http.Redirect(w, r, decision.Location, redirectStatus(r))
			}
		})
	}
}

// PublicOnly lets anonymous visitors through and sends identities to their home screen.
func (g *Guard) PublicOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.evaluate(r, nil)
		switch decision.Outcome {
		case OutcomeLoading:
			g.renderLoading(w, r)
		case OutcomeAuthorized:
			id, _ := IdentityFromContext(r.Context())
			home, _ := DefaultPath(id.Role)
			http.Redirect(w, r, home, redirectStatus(r))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// Home redirects to the role home or to login.
func (g *Guard) Home(w http.ResponseWriter, r *http.Request) {
	decision := g.evaluate(r, nil)
	switch decision.Outcome {
	case OutcomeLoading:
		g.renderLoading(w, r)
	case OutcomeAuthorized:
		id, _ := IdentityFromContext(r.Context())
		home, _ := DefaultPath(id.Role)
		http.Redirect(w, r, home, http.StatusSeeOther)
	default:
		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
	}
}

func (g *Guard) evaluate(r *http.Request, roles []Role) Decision {
	store := StoreFromContext(r.Context())
	if store == nil {
		return Decision{Outcome: OutcomeUnauthenticated, Location: LoginPath}
	}
	var identity *Identity
	if id, ok := store.Identity(); ok {
		identity = &id
	}
	return Evaluate(store.State(), identity, roles)
}

func (g *Guard) renderLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Refresh", "1")
	w.Header().Set("Cache-Control", "no-store")
	data := view.TemplateData{Title: "Loading", CurrentPath: r.URL.Path}
	if err := g.templates.Render(w, "pages/loading.html", data); err != nil {
		g.logger.Error("render loading", slog.Any("error", err))
	}
}

func redirectStatus(r *http.Request) int {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return http.StatusFound
	}
	return http.StatusSeeOther
}
