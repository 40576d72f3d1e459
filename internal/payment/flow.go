package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/backend"
	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/shared"
)

// Enqueuer schedules a background confirmation retry for a stored verification.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, key string) error
}

// CredentialLookup reads the credential a cookie session still holds.
type CredentialLookup interface {
	SessionCredential(ctx context.Context, sessionID string) (string, error)
}

// Recorder observes payment results.
type Recorder interface {
	ObservePayment(result string)
}

// Config wires a Flow.
type Config struct {
	API           *backend.Client
	Verifications *Verifications
	Enqueuer      Enqueuer
	Credentials   CredentialLookup
	Recorder      Recorder
	Logger        *slog.Logger
}

// Flow runs the create-intent and confirm steps against the backend.
type Flow struct {
	api           *backend.Client
	verifications *Verifications
	enqueuer      Enqueuer
	credentials   CredentialLookup
	recorder      Recorder
	logger        *slog.Logger
	clock         func() time.Time
}

// NewFlow constructs a Flow.
func NewFlow(cfg Config) *Flow {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		api:           cfg.API,
		verifications: cfg.Verifications,
		enqueuer:      cfg.Enqueuer,
		credentials:   cfg.Credentials,
		recorder:      cfg.Recorder,
		logger:        logger.With(slog.String("component", "payment")),
		clock:         time.Now,
	}
}

// Begin creates a payment intent for amount.
func (f *Flow) Begin(ctx context.Context, amount float64) (Attempt, error) {
	if amount <= 0 {
		return Attempt{}, &PaymentError{Retryable: true, Message: "Amount must be greater than zero"}
	}
	var resp intentResponse
	if err := f.api.Post(ctx, "/payment/create-intent", intentRequest{Amount: amount}, &resp); err != nil {
		return Attempt{}, err
	}
	if resp.ClientSecret == "" {
		return Attempt{}, fmt.Errorf("payment: create intent returned no client secret")
	}
	return Attempt{
		ID:           uuid.NewString(),
		FeeID:        resp.FeeID,
		ClientSecret: resp.ClientSecret,
		Amount:       amount,
		CreatedAt:    f.clock().UTC(),
	}, nil
}

// Complete finishes attempt with the processor outcome.
//
// A decline never reaches the backend. A confirm the backend refuses for
// good is reported as ResultFailed. Any other confirm failure is recorded
// for verification and handed to the background reconciler; the caller gets
// ResultPendingVerification so the student is not asked to pay twice.
func (f *Flow) Complete(ctx context.Context, attempt Attempt, outcome Outcome) (Result, error) {
	if !outcome.Succeeded() {
		msg := outcome.Error
		if msg == "" {
			msg = DeclinedNotice
		}
		f.observe(ResultDeclined)
		f.logger.Info("payment declined", slog.String("attempt", attempt.ID), slog.String("status", outcome.Status))
		return ResultDeclined, &PaymentError{Retryable: true, Message: msg}
	}

	// A rejected confirm clears the session, so capture who paid first.
	owner, sessionID := caller(ctx)
	err := f.confirm(ctx, f.api, attempt.FeeID, outcome.PaymentIntentID)
	if err == nil {
		f.observe(ResultPaid)
		return ResultPaid, nil
	}

	if Rejected(err) {
		f.observe(ResultFailed)
		f.logger.Error("payment charged but refused by backend",
			slog.String("attempt", attempt.ID),
			slog.String("fee", attempt.FeeID),
			slog.String("intent", outcome.PaymentIntentID),
			slog.Any("error", err))
		return ResultFailed, &PaymentError{Message: FailedNotice, Err: err}
	}

	f.observe(ResultPendingVerification)
	f.logger.Error("payment charged but not confirmed",
		slog.String("attempt", attempt.ID),
		slog.String("fee", attempt.FeeID),
		slog.Any("error", err))

	v := Verification{
		AttemptID:       attempt.ID,
		FeeID:           attempt.FeeID,
		PaymentIntentID: outcome.PaymentIntentID,
		Amount:          attempt.Amount,
		CreatedAt:       f.clock().UTC(),
		Owner:           owner,
		Tries:           1,
		LastError:       backend.Message(err, err.Error()),
	}
	if !errors.Is(err, backend.ErrUnauthorized) {
		v.Session = sessionID
	}
	f.track(ctx, v)
	return ResultPendingVerification, &PaymentError{Message: PendingNotice, Err: err}
}

func caller(ctx context.Context) (owner, sessionID string) {
	if id, ok := auth.IdentityFromContext(ctx); ok {
		owner = id.ID
	}
	if sess := shared.SessionFromContext(ctx); sess != nil {
		sessionID = sess.ID
	}
	return owner, sessionID
}

func (f *Flow) track(ctx context.Context, v Verification) {
	if f.verifications == nil || v.Owner == "" {
		return
	}
	// The charge outlives the request that reported it.
	ctx = context.WithoutCancel(ctx)
	if err := f.verifications.Save(ctx, v); err != nil {
		f.logger.Error("save verification", slog.String("attempt", v.AttemptID), slog.Any("error", err))
		return
	}
	if f.enqueuer == nil || v.Session == "" {
		return
	}
	if err := f.enqueuer.EnqueueReconcile(ctx, v.Key()); err != nil {
		f.logger.Warn("enqueue reconcile", slog.String("attempt", v.AttemptID), slog.Any("error", err))
	}
}

func (f *Flow) confirm(ctx context.Context, api *backend.Client, feeID, intentID string) error {
	return api.Post(ctx, "/payment/confirm", confirmRequest{PaymentIntentID: intentID, FeeID: feeID}, nil)
}

// Pending lists the caller's unconfirmed charges.
func (f *Flow) Pending(ctx context.Context) ([]Verification, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok || f.verifications == nil {
		return nil, nil
	}
	return f.verifications.Pending(ctx, id.ID)
}

// RetryPending re-sends the confirmation for every unconfirmed charge of the
// caller using the caller's credential, and returns those still unconfirmed.
// A charge the backend refuses for good is dropped and the caller is told.
func (f *Flow) RetryPending(ctx context.Context) ([]Verification, error) {
	pending, err := f.Pending(ctx)
	if err != nil || len(pending) == 0 {
		return pending, err
	}
	_, sessionID := caller(ctx)
	remaining := pending[:0]
	for _, v := range pending {
		err := f.confirm(ctx, f.api, v.FeeID, v.PaymentIntentID)
		if err == nil {
			f.observe(ResultPaid)
			f.resolve(ctx, v)
			continue
		}
		if errors.Is(err, backend.ErrUnauthorized) {
			return nil, err
		}
		if Rejected(err) {
			f.observe(ResultFailed)
			f.logger.Error("pending payment refused by backend",
				slog.String("attempt", v.AttemptID),
				slog.String("fee", v.FeeID),
				slog.Any("error", err))
			f.resolve(ctx, v)
			shared.Notify(ctx, shared.FlashError, FailedNotice)
			continue
		}
		v.Tries++
		v.LastError = backend.Message(err, err.Error())
		if sessionID != "" {
			v.Session = sessionID
		}
		if err := f.verifications.Save(ctx, v); err != nil {
			f.logger.Warn("save verification", slog.String("attempt", v.AttemptID), slog.Any("error", err))
		}
		remaining = append(remaining, v)
	}
	return remaining, nil
}

// Detach unlinks the owner's verifications from an ended session.
func (f *Flow) Detach(ctx context.Context, owner, sessionID string) error {
	if f.verifications == nil || owner == "" || sessionID == "" {
		return nil
	}
	return f.verifications.Detach(ctx, owner, sessionID)
}

func (f *Flow) resolve(ctx context.Context, v Verification) {
	if err := f.verifications.Resolve(ctx, v); err != nil {
		f.logger.Warn("resolve verification", slog.String("attempt", v.AttemptID), slog.Any("error", err))
	}
}

// ErrVerificationGone means the verification was resolved or expired.
var ErrVerificationGone = errors.New("payment: verification no longer pending")

// Reconcile retries one stored verification with the credential its session
// still holds. It runs outside any browser request. Once that session has
// ended it returns ErrAwaitingSignIn and leaves the record for the student's
// next fees visit.
func (f *Flow) Reconcile(ctx context.Context, key string) error {
	if f.verifications == nil {
		return ErrVerificationGone
	}
	v, ok, err := f.verifications.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVerificationGone
	}
	if v.Session == "" || f.credentials == nil {
		return ErrAwaitingSignIn
	}
	token, err := f.credentials.SessionCredential(ctx, v.Session)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrAwaitingSignIn
	}
	api := f.api.WithCredentials(backend.CredentialFunc(func(context.Context) string { return token }), nil)
	err = f.confirm(ctx, api, v.FeeID, v.PaymentIntentID)
	switch {
	case err == nil:
		f.observe(ResultPaid)
		return f.verifications.Resolve(ctx, v)
	case Rejected(err):
		f.observe(ResultFailed)
		if resolveErr := f.verifications.Resolve(ctx, v); resolveErr != nil {
			f.logger.Warn("resolve verification", slog.String("attempt", v.AttemptID), slog.Any("error", resolveErr))
		}
		return err
	}
	v.Tries++
	v.LastError = backend.Message(err, err.Error())
	if saveErr := f.verifications.Save(ctx, v); saveErr != nil {
		f.logger.Warn("save verification", slog.String("attempt", v.AttemptID), slog.Any("error", saveErr))
	}
	return err
}

// History fetches the caller's past payments.
func (f *Flow) History(ctx context.Context) ([]school.Fee, error) {
	var resp struct {
		Payments []school.Fee `json:"payments"`
	}
	if err := f.api.Get(ctx, "/payment/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Payments, nil
}

func (f *Flow) observe(r Result) {
	if f.recorder != nil {
		f.recorder.ObservePayment(string(r))
	}
}
