package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPaymentReconcile retries the backend confirm of a card payment.
	TaskPaymentReconcile = "payment:reconcile"
	// ReconcileMaxRetry bounds how often one verification is retried.
	ReconcileMaxRetry = 5
)

// ReconcilePayload names the stored verification to retry.
type ReconcilePayload struct {
	Key string `json:"key"`
}

// NewReconcileTask constructs an Asynq task for key.
func NewReconcileTask(key string) (*asynq.Task, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("jobs: reconcile key is required")
	}
	data, err := json.Marshal(ReconcilePayload{Key: key})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentReconcile, data, asynq.Queue(QueueDefault), asynq.MaxRetry(ReconcileMaxRetry)), nil
}

// Enqueuer is the subset of asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}
