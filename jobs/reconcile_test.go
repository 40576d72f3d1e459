package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/portal/internal/backend"
	jobmetrics "github.com/schoolhub/portal/internal/jobs"
	"github.com/schoolhub/portal/internal/payment"
)

type reconcilerFunc func(ctx context.Context, key string) error

func (f reconcilerFunc) Reconcile(ctx context.Context, key string) error { return f(ctx, key) }

func reconcileTask(t *testing.T, key string) *asynq.Task {
	t.Helper()
	task, err := NewReconcileTask(key)
	require.NoError(t, err)
	return task
}

func TestNewReconcileTaskRequiresKey(t *testing.T) {
	_, err := NewReconcileTask("  ")
	assert.Error(t, err)

	task := reconcileTask(t, "student-1:attempt-1")
	assert.Equal(t, TaskPaymentReconcile, task.Type())
	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "student-1:attempt-1", payload.Key)
}

func TestReconcileJobOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "confirmed"},
		{name: "already resolved", err: payment.ErrVerificationGone},
		{name: "credential rejected", err: &backend.APIError{Status: http.StatusUnauthorized}, wantErr: true, skipRetry: true},
		{name: "session ended", err: payment.ErrAwaitingSignIn, wantErr: true, skipRetry: true},
		{name: "fee already settled", err: &backend.APIError{Status: http.StatusConflict, Message: "Fee already paid"}, wantErr: true, skipRetry: true},
		{name: "forbidden", err: &backend.APIError{Status: http.StatusForbidden}, wantErr: true, skipRetry: true},
		{name: "backend down", err: &backend.APIError{Status: http.StatusBadGateway}, wantErr: true},
		{name: "transport", err: fmt.Errorf("dial: %w", backend.ErrUnavailable), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			job := NewReconcileJob(reconcilerFunc(func(_ context.Context, key string) error {
				got = key
				return tc.err
			}), nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

			err := job.Handle(context.Background(), reconcileTask(t, "student-1:a1"))
			assert.Equal(t, "student-1:a1", got)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestReconcileJobRejectsBadPayload(t *testing.T) {
	called := false
	job := NewReconcileJob(reconcilerFunc(func(context.Context, string) error {
		called = true
		return nil
	}), nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskPaymentReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.False(t, called)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func TestEnqueueReconcile(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := NewClientWith(fake)
	require.NoError(t, client.EnqueueReconcile(context.Background(), "student-1:a1"))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TaskPaymentReconcile, fake.tasks[0].Type())

	var taskID string
	for _, opt := range fake.opts[0] {
		if opt.Type() == asynq.TaskIDOpt {
			taskID = opt.Value().(string)
		}
	}
	assert.Equal(t, "payment:reconcile:student-1:a1", taskID)
	assert.NoError(t, client.Close())
}

func TestEnqueueReconcileTreatsDuplicateAsQueued(t *testing.T) {
	client := NewClientWith(&fakeEnqueuer{err: asynq.ErrTaskIDConflict})
	assert.NoError(t, client.EnqueueReconcile(context.Background(), "student-1:a1"))

	client = NewClientWith(&fakeEnqueuer{err: errors.New("redis down")})
	assert.Error(t, client.EnqueueReconcile(context.Background(), "student-1:a1"))
}

func TestRetryDelayBacksOffWithCap(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryDelay(0, nil, nil))
	assert.Equal(t, time.Minute, RetryDelay(1, nil, nil))
	assert.Equal(t, 4*time.Minute, RetryDelay(3, nil, nil))
	assert.Equal(t, 30*time.Minute, RetryDelay(20, nil, nil))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rec
	}

	rec := serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 2, Retry: 1}}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, queueHealth{Queue: "default", Pending: 2, Retry: 1}, body)

	rec = serve(NewHandler(fakeInspector{err: errors.New("redis down")}, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(NewHandler(nil, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
