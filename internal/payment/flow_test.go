package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/payment"
	"github.com/schoolhub/portal/internal/testing/portaltest"
	_ "github.com/schoolhub/portal/testing"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeEnqueuer) EnqueueReconcile(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeEnqueuer) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []string
}

func (f *fakeRecorder) ObservePayment(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

type fixture struct {
	*portaltest.Harness
	flow          *payment.Flow
	verifications *payment.Verifications
	enqueuer      *fakeEnqueuer
	recorder      *fakeRecorder
	sid           string
}

func newFixture(t *testing.T, confirmStatus int) *fixture {
	t.Helper()
	h := portaltest.New(t)
	h.Backend.JSON("POST /payment/create-intent", http.StatusOK, map[string]any{"clientSecret": "pi_1_secret_abc", "feeId": "fee-1"})
	if confirmStatus == http.StatusOK {
		h.Backend.JSON("POST /payment/confirm", http.StatusOK, map[string]any{"message": "Payment confirmed"})
	} else {
		h.Backend.JSON("POST /payment/confirm", confirmStatus, map[string]any{"message": "Confirmation failed"})
	}

	f := &fixture{
		Harness:       h,
		verifications: payment.NewVerifications(h.Redis, "test:verification:", time.Hour),
		enqueuer:      &fakeEnqueuer{},
		recorder:      &fakeRecorder{},
	}
	f.flow = payment.NewFlow(payment.Config{
		API:           h.API,
		Verifications: f.verifications,
		Enqueuer:      f.enqueuer,
		Credentials:   auth.NewSessionCredentials(h.Manager),
		Recorder:      f.recorder,
	})
	h.OnEnd(func(ctx context.Context, sessionID string, id auth.Identity, _ bool) {
		_ = f.flow.Detach(ctx, id.ID, sessionID)
	})
	handler := payment.NewHandler(h.Kit, f.flow, "pk_test_portal")
	h.Router.Route("/student", handler.MountRoutes)
	h.Router.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
		auth.StoreFromContext(r.Context()).Logout()
		w.WriteHeader(http.StatusNoContent)
	})
	h.Router.Get("/retry", func(w http.ResponseWriter, r *http.Request) {
		remaining, err := f.flow.RetryPending(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(remaining)
	})
	f.sid = h.SignIn(t, portaltest.Student)
	return f
}

type reply struct {
	AttemptID    string  `json:"attemptId"`
	ClientSecret string  `json:"clientSecret"`
	Amount       float64 `json:"amount"`
	Result       string  `json:"result"`
	Message      string  `json:"message"`
	Retryable    bool    `json:"retryable"`
	Redirect     string  `json:"redirect"`
}

func (f *fixture) begin(t *testing.T, amount float64) reply {
	t.Helper()
	res := f.PostJSON(t, "/student/payment/intent", f.sid, map[string]any{"amount": amount})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var out reply
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	return out
}

func (f *fixture) complete(t *testing.T, outcome payment.Outcome) (int, reply) {
	t.Helper()
	res := f.PostJSON(t, "/student/payment/complete", f.sid, outcome)
	var out reply
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	return res.Code, out
}

func TestBeginStoresAttempt(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	started := f.begin(t, 25000)
	assert.Equal(t, "pi_1_secret_abc", started.ClientSecret)
	assert.InDelta(t, 25000, started.Amount, 0.001)
	require.NotEmpty(t, started.AttemptID)

	calls := f.Backend.Calls(http.MethodPost, "/payment/create-intent")
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer tok-student-1", calls[0].Authorization)
	assert.JSONEq(t, `{"amount":25000}`, string(calls[0].Body))

	attempt, err := payment.LoadAttempt(f.Session(t, f.sid), started.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, "fee-1", attempt.FeeID)
}

func TestBeginRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	res := f.PostJSON(t, "/student/payment/intent", f.sid, map[string]any{"amount": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
	assert.Empty(t, f.Backend.Calls(http.MethodPost, "/payment/create-intent"))
}

func TestDeclineSkipsConfirm(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	started := f.begin(t, 25000)

	code, out := f.complete(t, payment.Outcome{AttemptID: started.AttemptID, Status: "requires_payment_method", Error: "Your card was declined."})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "declined", out.Result)
	assert.Equal(t, "Your card was declined.", out.Message)
	assert.True(t, out.Retryable)
	assert.Empty(t, out.Redirect)
	assert.Empty(t, f.Backend.Calls(http.MethodPost, "/payment/confirm"))

	// The attempt survives so the student can try another card.
	_, err := payment.LoadAttempt(f.Session(t, f.sid), started.AttemptID)
	assert.NoError(t, err)
	assert.Equal(t, []string{"declined"}, f.recorder.results)

	again := f.begin(t, 25000)
	assert.NotEqual(t, started.AttemptID, again.AttemptID)
	assert.Len(t, f.Backend.Calls(http.MethodPost, "/payment/create-intent"), 2)
	sess := f.Session(t, f.sid)
	_, err = payment.LoadAttempt(sess, started.AttemptID)
	assert.ErrorIs(t, err, payment.ErrAttemptMismatch)
	_, err = payment.LoadAttempt(sess, again.AttemptID)
	assert.NoError(t, err)
}

func TestSuccessConfirmsWithBackend(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	started := f.begin(t, 25000)

	code, out := f.complete(t, payment.Outcome{AttemptID: started.AttemptID, PaymentIntentID: "pi_1", Status: "succeeded"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paid", out.Result)
	assert.Equal(t, payment.FeesPath, out.Redirect)

	calls := f.Backend.Calls(http.MethodPost, "/payment/confirm")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"paymentIntentId":"pi_1","feeId":"fee-1"}`, string(calls[0].Body))

	_, err := payment.LoadAttempt(f.Session(t, f.sid), started.AttemptID)
	assert.ErrorIs(t, err, payment.ErrNoAttempt)
	flashes := f.Flashes(t, f.sid)
	require.NotEmpty(t, flashes)
	assert.Equal(t, payment.PaidNotice, flashes[len(flashes)-1].Message)
}

func TestConfirmFailureLeavesPendingVerification(t *testing.T) {
	f := newFixture(t, http.StatusInternalServerError)
	started := f.begin(t, 25000)

	code, out := f.complete(t, payment.Outcome{AttemptID: started.AttemptID, PaymentIntentID: "pi_1", Status: "succeeded"})
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "pending_verification", out.Result)
	assert.False(t, out.Retryable)

	pending, err := f.verifications.Pending(context.Background(), portaltest.Student.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	v := pending[0]
	assert.Equal(t, "fee-1", v.FeeID)
	assert.Equal(t, "pi_1", v.PaymentIntentID)
	assert.Equal(t, f.sid, v.Session)
	assert.Equal(t, "Confirmation failed", v.LastError)
	assert.Equal(t, []string{v.Key()}, f.enqueuer.Keys())
	f.assertTokenOnlyInSession(t, "tok-student-1")
}

// assertTokenOnlyInSession fails when token is stored anywhere but the
// signed-in cookie session.
func (f *fixture) assertTokenOnlyInSession(t *testing.T, token string) {
	t.Helper()
	for _, key := range f.Miniredis.Keys() {
		raw, err := f.Miniredis.Get(key)
		if err != nil {
			continue
		}
		if key == "portal:session:"+f.sid {
			continue
		}
		assert.NotContains(t, raw, token, key)
	}
}

func TestLogoutLeavesNoCredentialForReconcile(t *testing.T) {
	f := newFixture(t, http.StatusInternalServerError)
	started := f.begin(t, 25000)
	code, _ := f.complete(t, payment.Outcome{AttemptID: started.AttemptID, PaymentIntentID: "pi_1", Status: "succeeded"})
	require.Equal(t, http.StatusAccepted, code)

	res := f.Do(t, httptest.NewRequest(http.MethodPost, "/logout", nil), f.sid)
	require.Equal(t, http.StatusNoContent, res.Code)
	assert.Equal(t, []bool{false}, f.Ended())

	for _, key := range f.Miniredis.Keys() {
		if raw, err := f.Miniredis.Get(key); err == nil {
			assert.NotContains(t, raw, "tok-student-1", key)
		}
	}

	pending, err := f.verifications.Pending(context.Background(), portaltest.Student.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].Session)

	err = f.flow.Reconcile(context.Background(), pending[0].Key())
	assert.ErrorIs(t, err, payment.ErrAwaitingSignIn)
	assert.Len(t, f.Backend.Calls(http.MethodPost, "/payment/confirm"), 1)
}

func TestConfirmRefusedIsReportedAsFailure(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			f := newFixture(t, status)
			started := f.begin(t, 25000)

			code, out := f.complete(t, payment.Outcome{AttemptID: started.AttemptID, PaymentIntentID: "pi_1", Status: "succeeded"})
			assert.Equal(t, http.StatusUnprocessableEntity, code)
			assert.Equal(t, "failed", out.Result)
			assert.Equal(t, payment.FailedNotice, out.Message)
			assert.False(t, out.Retryable)
			assert.Equal(t, payment.FeesPath, out.Redirect)

			pending, err := f.verifications.Pending(context.Background(), portaltest.Student.ID)
			require.NoError(t, err)
			assert.Empty(t, pending)
			assert.Empty(t, f.enqueuer.Keys())
			assert.Equal(t, []string{"failed"}, f.recorder.results)

			_, err = payment.LoadAttempt(f.Session(t, f.sid), started.AttemptID)
			assert.ErrorIs(t, err, payment.ErrNoAttempt)
		})
	}
}

func TestRetryPendingDropsRefusedCharge(t *testing.T) {
	f := newFixture(t, http.StatusConflict)
	ctx := context.Background()
	v := payment.Verification{AttemptID: "a1", FeeID: "fee-9", PaymentIntentID: "pi_9", Owner: portaltest.Student.ID, Session: f.sid, Tries: 1}
	require.NoError(t, f.verifications.Save(ctx, v))

	res := f.Get(t, "/retry", f.sid)
	require.Equal(t, http.StatusOK, res.Code)
	var remaining []payment.Verification
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &remaining))
	assert.Empty(t, remaining)

	_, ok, err := f.verifications.Get(ctx, v.Key())
	require.NoError(t, err)
	assert.False(t, ok)
	flashes := f.Flashes(t, f.sid)
	require.NotEmpty(t, flashes)
	assert.Equal(t, payment.FailedNotice, flashes[len(flashes)-1].Message)

	f.Get(t, "/retry", f.sid)
	assert.Len(t, f.Backend.Calls(http.MethodPost, "/payment/confirm"), 1)
}

func TestConfirmRejectedCredentialStillRecordsCharge(t *testing.T) {
	f := newFixture(t, http.StatusUnauthorized)
	started := f.begin(t, 25000)

	code, out := f.complete(t, payment.Outcome{AttemptID: started.AttemptID, PaymentIntentID: "pi_1", Status: "succeeded"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "/auth/login", out.Redirect)
	assert.Equal(t, []bool{true}, f.Ended())

	pending, err := f.verifications.Pending(context.Background(), portaltest.Student.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].Session)
	assert.Empty(t, f.enqueuer.Keys())
}

func TestCompleteRejectsUnknownAttempt(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	f.begin(t, 25000)

	code, _ := f.complete(t, payment.Outcome{AttemptID: "someone-else", PaymentIntentID: "pi_1", Status: "succeeded"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Empty(t, f.Backend.Calls(http.MethodPost, "/payment/confirm"))
}

func TestReconcileUsesLiveSessionCredential(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	ctx := context.Background()
	v := payment.Verification{AttemptID: "a1", FeeID: "fee-9", PaymentIntentID: "pi_9", Owner: "student-1", Session: f.sid, CreatedAt: time.Now()}
	require.NoError(t, f.verifications.Save(ctx, v))

	require.NoError(t, f.flow.Reconcile(ctx, v.Key()))
	calls := f.Backend.Calls(http.MethodPost, "/payment/confirm")
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer tok-student-1", calls[0].Authorization)

	_, ok, err := f.verifications.Get(ctx, v.Key())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, f.flow.Reconcile(ctx, v.Key()), payment.ErrVerificationGone)
}

func TestReconcileWithoutSessionWaitsForSignIn(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	ctx := context.Background()
	for _, v := range []payment.Verification{
		{AttemptID: "a1", FeeID: "fee-9", PaymentIntentID: "pi_9", Owner: "student-1"},
		{AttemptID: "a2", FeeID: "fee-9", PaymentIntentID: "pi_9", Owner: "student-1", Session: "gone"},
	} {
		require.NoError(t, f.verifications.Save(ctx, v))
		assert.ErrorIs(t, f.flow.Reconcile(ctx, v.Key()), payment.ErrAwaitingSignIn)
		_, ok, err := f.verifications.Get(ctx, v.Key())
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Empty(t, f.Backend.Calls(http.MethodPost, "/payment/confirm"))
}

func TestReconcileRejectedCredentialKeepsRecord(t *testing.T) {
	f := newFixture(t, http.StatusUnauthorized)
	ctx := context.Background()
	v := payment.Verification{AttemptID: "a1", FeeID: "fee-9", PaymentIntentID: "pi_9", Owner: "student-1", Session: f.sid, Tries: 1}
	require.NoError(t, f.verifications.Save(ctx, v))

	err := f.flow.Reconcile(ctx, v.Key())
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
	assert.Empty(t, f.Ended())

	stored, ok, err := f.verifications.Get(ctx, v.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, stored.Tries)
}

func TestReconcileDropsRefusedCharge(t *testing.T) {
	f := newFixture(t, http.StatusUnprocessableEntity)
	ctx := context.Background()
	v := payment.Verification{AttemptID: "a1", FeeID: "fee-9", PaymentIntentID: "pi_9", Owner: "student-1", Session: f.sid, Tries: 1}
	require.NoError(t, f.verifications.Save(ctx, v))

	err := f.flow.Reconcile(ctx, v.Key())
	assert.ErrorIs(t, err, backend.ErrValidation)
	assert.True(t, payment.Rejected(err))

	_, ok, err := f.verifications.Get(ctx, v.Key())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"failed"}, f.recorder.results)
}
