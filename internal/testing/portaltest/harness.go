// Package portaltest wires a screen kit against a fake backend and an
// in-memory Redis so handler tests can drive real routes.
package portaltest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/platform/cache"
	"github.com/schoolhub/portal/internal/screen"
	"github.com/schoolhub/portal/internal/shared"
	"github.com/schoolhub/portal/internal/view"
)

// Sample identities, one per role.
var (
	Admin   = auth.Identity{ID: "admin-1", Name: "Alice Admin", Email: "admin@school.com", Role: auth.RoleAdmin}
	Teacher = auth.Identity{ID: "teacher-1", Name: "Grace Hopper", Email: "teacher@school.com", Role: auth.RoleTeacher}
	Student = auth.Identity{ID: "student-1", Name: "Sam Student", Email: "student@school.com", Role: auth.RoleStudent}
)

// Call is one request the fake backend received.
type Call struct {
	Method        string
	Path          string
	Query         url.Values
	Body          []byte
	Authorization string
}

// Decode unmarshals the recorded JSON body.
func (c Call) Decode(t testing.TB, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(c.Body, out))
}

// Backend is an httptest server standing in for the REST API.
type Backend struct {
	server *httptest.Server
	mux    *http.ServeMux

	mu    sync.Mutex
	calls []Call
}

func newBackend(t testing.TB) *Backend {
	b := &Backend{mux: http.NewServeMux()}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.calls = append(b.calls, Call{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.Query(),
			Body:          body,
			Authorization: r.Header.Get("Authorization"),
		})
		b.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		b.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

// URL is the backend base URL.
func (b *Backend) URL() string { return b.server.URL }

// Handle registers fn for a ServeMux pattern such as "GET /teacher/students".
func (b *Backend) Handle(pattern string, fn http.HandlerFunc) {
	b.mux.HandleFunc(pattern, fn)
}

// JSON answers pattern with a fixed status and JSON body.
func (b *Backend) JSON(pattern string, status int, body any) {
	b.Handle(pattern, func(w http.ResponseWriter, _ *http.Request) {
		Reply(w, status, body)
	})
}

// Reply writes a JSON response.
func Reply(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Calls returns recorded calls matching method and path; empty strings match anything.
func (b *Backend) Calls(method, path string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Call
	for _, c := range b.calls {
		if (method == "" || c.Method == method) && (path == "" || c.Path == path) {
			out = append(out, c)
		}
	}
	return out
}

// Harness holds the collaborators a screen handler needs.
type Harness struct {
	Backend   *Backend
	Redis     *redis.Client
	Miniredis *miniredis.Miniredis
	Manager   *shared.SessionManager
	CSRF      *shared.CSRFManager
	Templates *view.Engine
	Snapshots *screen.Snapshots
	Kit       *screen.Kit
	// Client is the unbound backend client; API resolves credentials per request.
	Client *backend.Client
	API    *backend.Client
	// Router already runs the session and store middleware.
	Router chi.Router

	mu    sync.Mutex
	ended []bool
	hooks []auth.EndFunc
}

// New builds a Harness. Routes are mounted on h.Router by the caller.
func New(t testing.TB) *Harness {
	t.Helper()
	h := &Harness{Backend: newBackend(t)}
	h.Miniredis = miniredis.RunT(t)
	h.Redis = redis.NewClient(&redis.Options{Addr: h.Miniredis.Addr()})
	t.Cleanup(func() { _ = h.Redis.Close() })

	h.Manager = shared.NewSessionManager(h.Redis, "portal_test", "session-secret", time.Hour, false)
	h.CSRF = shared.NewCSRFManager("csrf-secret")
	templates, err := view.NewEngine()
	require.NoError(t, err)
	h.Templates = templates
	h.Snapshots = screen.NewSnapshots(cache.NewJSONStore(h.Redis, "test:snapshot:"), time.Hour)
	h.Kit = screen.NewKit(nil, templates, h.CSRF, h.Snapshots)
	h.Client = backend.NewClient(backend.Options{BaseURL: h.Backend.URL(), Timeout: 2 * time.Second})
	h.API = auth.Bind(h.Client)

	sessions := auth.NewSessions(h.Client, nil, auth.NewTombstones(h.Redis, time.Hour),
		func(ctx context.Context, sessionID string, id auth.Identity, expired bool) {
			h.mu.Lock()
			h.ended = append(h.ended, expired)
			hooks := append([]auth.EndFunc(nil), h.hooks...)
			h.mu.Unlock()
			_ = h.Snapshots.Purge(ctx, sessionID)
			for _, fn := range hooks {
				fn(ctx, sessionID, id, expired)
			}
		})

	r := chi.NewRouter()
	r.Use(h.Manager.Middleware(nil))
	r.Use(sessions.Middleware)
	h.Router = r
	return h
}

// OnEnd adds fn to the hooks run when a session ends.
func (h *Harness) OnEnd(fn auth.EndFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, fn)
}

// Ended reports the expired flag of every session end observed so far.
func (h *Harness) Ended() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.ended...)
}

// SignIn stores a credential and identity in a fresh session and returns its id.
func (h *Harness) SignIn(t testing.TB, id auth.Identity) string {
	t.Helper()
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := h.Manager.Load(ctx, req)
	require.NoError(t, err)
	persist := auth.NewSessionPersistence(sess)
	persist.SaveCredential("tok-" + id.ID)
	persist.SaveIdentity(id)
	require.NoError(t, h.Manager.Commit(ctx, httptest.NewRecorder(), req, sess))
	return sess.ID
}

// Session reloads the stored session.
func (h *Harness) Session(t testing.TB, id string) *shared.Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: h.Manager.CookieName(), Value: id})
	sess, err := h.Manager.Load(context.Background(), req)
	require.NoError(t, err)
	return sess
}

// Flashes returns the flashes waiting in the stored session without consuming them.
func (h *Harness) Flashes(t testing.TB, id string) []shared.FlashMessage {
	t.Helper()
	return h.Session(t, id).PopFlashes()
}

// Get issues a GET as the session.
func (h *Harness) Get(t testing.TB, target, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	return h.Do(t, httptest.NewRequest(http.MethodGet, target, nil), sessionID)
}

// PostForm issues a form POST as the session.
func (h *Harness) PostForm(t testing.TB, target, sessionID string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.Do(t, req, sessionID)
}

// PostJSON issues a JSON POST as the session.
func (h *Harness) PostJSON(t testing.TB, target, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return h.Do(t, req, sessionID)
}

// Do serves req through the router with the session cookie attached.
func (h *Harness) Do(t testing.TB, req *http.Request, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: h.Manager.CookieName(), Value: sessionID})
	}
	rec := httptest.NewRecorder()
	h.Router.ServeHTTP(rec, req)
	return rec
}
