package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/schoolhub/portal/jobs"
)

// queue is the slice of the job system portalctl drives.
type queue interface {
	EnqueueReconcile(ctx context.Context, key string) error
	GetQueueInfo(name string) (*asynq.QueueInfo, error)
	Close() error
}

type asynqQueue struct {
	*jobs.Client
	inspector *asynq.Inspector
}

func newAsynqQueue(opts asynq.RedisClientOpt) (*asynqQueue, error) {
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &asynqQueue{Client: client, inspector: asynq.NewInspector(opts)}, nil
}

func (q *asynqQueue) GetQueueInfo(name string) (*asynq.QueueInfo, error) {
	return q.inspector.GetQueueInfo(name)
}

func (q *asynqQueue) Close() error {
	return errors.Join(q.Client.Close(), q.inspector.Close())
}

func newJobsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and drive the payment reconcile queue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "reconcile <verification-key>",
			Short: "Queue a confirmation retry for a stored payment verification",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				q, err := opts.openQueue(opts.redisAddr)
				if err != nil {
					return err
				}
				defer q.Close()
				if err := q.EnqueueReconcile(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s for %s\n", jobs.TaskPaymentReconcile, args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show queue depth",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				q, err := opts.openQueue(opts.redisAddr)
				if err != nil {
					return err
				}
				defer q.Close()
				info, err := q.GetQueueInfo(jobs.QueueDefault)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d scheduled=%d retry=%d archived=%d\n",
					info.Queue, info.Pending, info.Scheduled, info.Retry, info.Archived)
				return nil
			},
		},
	)
	return cmd
}
