package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/schoolhub/portal/internal/backend"
	jobmetrics "github.com/schoolhub/portal/internal/jobs"
	"github.com/schoolhub/portal/internal/payment"
)

// Reconciler retries one stored payment verification.
type Reconciler interface {
	Reconcile(ctx context.Context, key string) error
}

// ReconcileJob confirms card payments the backend did not accept at checkout.
type ReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(r Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Reconciler: r, Logger: logger, Metrics: metrics}
}

// Handle runs one reconcile attempt. Failures that another try cannot fix
// skip retry: a charge without a live session waits for the student's next
// fees visit, and one the backend refused is dropped.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("payment reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Key == "" {
		return fmt.Errorf("payment reconcile: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskPaymentReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("verification", payload.Key))
	err := j.Reconciler.Reconcile(ctx, payload.Key)
	switch {
	case err == nil:
		j.Metrics.Reconciled("confirmed")
		logger.Info("payment confirmed")
		return nil
	case errors.Is(err, payment.ErrVerificationGone):
		j.Metrics.Reconciled("gone")
		logger.Info("verification already resolved")
		return nil
	case errors.Is(err, payment.ErrAwaitingSignIn), errors.Is(err, backend.ErrUnauthorized):
		j.Metrics.Reconciled("parked")
		logger.Warn("no live session, leaving for the next fees visit", slog.Any("error", err))
		return fmt.Errorf("payment reconcile: %w: %w", err, asynq.SkipRetry)
	case payment.Rejected(err):
		j.Metrics.Reconciled("rejected")
		logger.Error("confirm refused by backend, verification dropped", slog.Any("error", err))
		return fmt.Errorf("payment reconcile: %w: %w", err, asynq.SkipRetry)
	default:
		j.Metrics.Reconciled("retry")
		logger.Warn("confirm failed, will retry", slog.Any("error", err))
		return err
	}
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
