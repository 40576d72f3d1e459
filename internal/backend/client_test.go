package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, token string, onUnauthorized func(context.Context)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:        srv.URL + "/api",
		Timeout:        time.Second,
		HTTPClient:     srv.Client(),
		Credentials:    CredentialFunc(func(context.Context) string { return token }),
		OnUnauthorized: onUnauthorized,
	})
}

func TestClientAttachesBearerAndDecodes(t *testing.T) {
	var gotAuth, gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/api/admin/students", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"total": 3})
	}, "tok-123", nil)

	var out struct {
		Total int `json:"total"`
	}
	err := client.Get(context.Background(), "/admin/students", url.Values{"page": {"2"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "page=2", gotQuery)
	assert.Equal(t, 3, out.Total)
}

func TestClientOmitsHeaderWithoutCredential(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}, "", nil)

	require.NoError(t, client.Post(context.Background(), "/auth/login", map[string]string{"email": "a"}, nil))
	assert.Empty(t, gotAuth)
}

func TestClientMapsStatusesToSentinels(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrValidation},
		{http.StatusUnprocessableEntity, ErrValidation},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusBadGateway, ErrServer},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}, "tok", func(context.Context) { t.Fatal("unexpected unauthorized hook") })

			err := client.Get(context.Background(), "/x", nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, "nope", Message(err, "fallback"))
		})
	}
}

func TestClientUnauthorizedRunsHookBeforeReturning(t *testing.T) {
	var hookCalls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token expired"}`))
	}, "stale", func(context.Context) { atomic.AddInt32(&hookCalls, 1) })

	err := client.Get(context.Background(), "/auth/me", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hookCalls))
}

func TestClientUnauthorizedWithoutCredentialSkipsHook(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid credentials"}`))
	}, "", func(context.Context) { t.Fatal("hook must not run for an anonymous request") })

	err := client.Post(context.Background(), "/auth/login", map[string]string{}, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Invalid credentials", Message(err, ""))
}

func TestClientConcurrentUnauthorizedEachReportsError(t *testing.T) {
	var hookCalls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, "stale", func(context.Context) { atomic.AddInt32(&hookCalls, 1) })

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Get(context.Background(), "/teacher/students", nil, nil)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	// Collapsing the hook calls into one redirect is the session store's job.
	assert.Equal(t, int32(5), atomic.LoadInt32(&hookCalls))
}

func TestClientTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := NewClient(Options{BaseURL: base, Timeout: 200 * time.Millisecond})
	err := client.Get(context.Background(), "/auth/me", nil, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEndpointCollapsesIdentifiers(t *testing.T) {
	assert.Equal(t, "/admin/students/:id", Endpoint("/admin/students/65f1c2a9e4b0a1b2c3d4e5f6"))
	assert.Equal(t, "/student/fee/:id/receipt", Endpoint("/student/fee/65f1c2a9e4b0a1b2c3d4e5f6/receipt"))
	assert.Equal(t, "/teacher/attendance/bulk", Endpoint("/teacher/attendance/bulk"))
}
