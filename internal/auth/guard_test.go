package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/portal/internal/view"
)

func TestEvaluate(t *testing.T) {
	teacher := &Identity{ID: "t1", Role: RoleTeacher}
	stranger := &Identity{ID: "x1", Role: Role("janitor")}

	cases := []struct {
		name     string
		state    LoadingState
		identity *Identity
		allowed  []Role
		want     Decision
	}{
		{"pending never redirects", StatePending, nil, []Role{RoleAdmin}, Decision{Outcome: OutcomeLoading}},
		{"pending with identity", StatePending, teacher, []Role{RoleAdmin}, Decision{Outcome: OutcomeLoading}},
		{"anonymous goes to login", StateResolved, nil, []Role{RoleAdmin}, Decision{Outcome: OutcomeUnauthenticated, Location: LoginPath}},
		{"allowed role", StateResolved, teacher, []Role{RoleTeacher}, Decision{Outcome: OutcomeAuthorized}},
		{"unrestricted shell", StateResolved, teacher, nil, Decision{Outcome: OutcomeAuthorized}},
		{"teacher on admin screen", StateResolved, teacher, []Role{RoleAdmin}, Decision{Outcome: OutcomeForbidden, Location: "/teacher"}},
		{"unknown role falls back to login", StateResolved, stranger, []Role{RoleAdmin}, Decision{Outcome: OutcomeForbidden, Location: LoginPath}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.state, tc.identity, tc.allowed))
		})
	}
}

func TestDefaultPathIsTotal(t *testing.T) {
	for role, want := range map[Role]string{RoleAdmin: "/admin", RoleTeacher: "/teacher", RoleStudent: "/student"} {
		got, ok := DefaultPath(role)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	got, ok := DefaultPath("")
	assert.False(t, ok)
	assert.Equal(t, LoginPath, got)
}

func guardRequest(t *testing.T, store *Store, mw func(http.Handler) http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if store != nil {
		req = req.WithContext(ContextWithStore(req.Context(), store))
	}
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec
}

func TestGuardMiddleware(t *testing.T) {
	templates, err := view.NewEngine()
	require.NoError(t, err)
	guard := NewGuard(nil, templates)

	pending := newStoreFixture(t, &fakeBackend{}, &memPersistence{})
	rec := guardRequest(t, pending, guard.Require(RoleAdmin), "/admin")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Equal(t, "1", rec.Header().Get("Refresh"))

	teacher := newStoreFixture(t, &fakeBackend{}, &memPersistence{})
	_, err = teacher.Login(t.Context(), "teacher@school.com", "secret123")
	require.NoError(t, err)

	rec = guardRequest(t, teacher, guard.Require(RoleAdmin), "/admin")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/teacher", rec.Header().Get("Location"))

	rec = guardRequest(t, teacher, guard.Require(RoleTeacher), "/teacher")
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = guardRequest(t, teacher, guard.Require(), "/account")
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = guardRequest(t, teacher, guard.PublicOnly, "/auth/login")
	assert.Equal(t, "/teacher", rec.Header().Get("Location"))

	anon := newStoreFixture(t, &fakeBackend{}, &memPersistence{})
	require.NoError(t, anon.Initialize(t.Context()))
	rec = guardRequest(t, anon, guard.Require(RoleStudent), "/student")
	assert.Equal(t, LoginPath, rec.Header().Get("Location"))

	rec = guardRequest(t, anon, guard.PublicOnly, "/auth/login")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
