package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "portal_session", "secret", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	sm, _ := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.Set("credential", "tok-1")
	sess.AddFlash(FlashMessage{Kind: FlashSuccess, Message: "Saved"})

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, sess))

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		next.AddCookie(c)
	}
	loaded, err := sm.Load(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "tok-1", loaded.Get("credential"))

	flashes := loaded.PopFlashes()
	require.Len(t, flashes, 1)
	assert.Equal(t, "Saved", flashes[0].Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestSessionUnknownCookieGetsFreshID(t *testing.T) {
	sm, _ := newTestManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: "attacker-chosen"})

	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, "attacker-chosen", sess.ID)
}

func TestSessionDestroyRemovesState(t *testing.T) {
	sm, mr := newTestManager(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.Set("k", "v")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), req, sess))
	assert.True(t, mr.Exists("portal:session:"+sess.ID))

	sm.Destroy(sess)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, sess))
	assert.False(t, mr.Exists("portal:session:"+sess.ID))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestSessionLookupByID(t *testing.T) {
	sm, _ := newTestManager(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.Set("credential", "tok-1")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), req, sess))

	found, ok, err := sm.Lookup(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-1", found.Get("credential"))

	sm.Destroy(sess)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), req, sess))
	_, ok, err = sm.Lookup(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = sm.Lookup(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCSRFTokenLifecycle(t *testing.T) {
	sm, _ := newTestManager(t)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	m := NewCSRFManager("csrf-secret")
	token, err := m.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	again, err := m.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, m.VerifyToken(context.Background(), sess, token))
	assert.ErrorIs(t, m.VerifyToken(context.Background(), sess, "forged"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, m.VerifyToken(context.Background(), sess, ""), ErrCSRFTokenMissing)

	m.now = func() time.Time { return time.Unix(0, 42) }
	rotated, err := m.Rotate(context.Background(), sess)
	require.NoError(t, err)
	assert.NotEqual(t, token, rotated)
	assert.ErrorIs(t, m.VerifyToken(context.Background(), sess, token), ErrCSRFTokenMismatch)
}
