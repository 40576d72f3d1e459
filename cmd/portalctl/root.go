package main

import (
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/schoolhub/portal/internal/auth"
	"github.com/schoolhub/portal/internal/backend"
)

const defaultBackendURL = "http://127.0.0.1:5000/api"

// options are the persistent flags every subcommand shares.
type options struct {
	backendURL      string
	credentialsPath string
	redisAddr       string
	timeout         time.Duration

	openQueue func(redisAddr string) (queue, error)
}

func newRootCmd(getenv func(string) string, openQueue func(redisAddr string) (queue, error)) *cobra.Command {
	opts := &options{openQueue: openQueue}

	root := &cobra.Command{
		Use:          "portalctl",
		Short:        "Operate the school portal from a terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.credentialsPath != "" {
				return nil
			}
			path, err := auth.DefaultCredentialsPath()
			if err != nil {
				return err
			}
			opts.credentialsPath = path
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.backendURL, "backend", envOr(getenv, "BACKEND_URL", defaultBackendURL), "backend API base URL")
	flags.StringVar(&opts.credentialsPath, "credentials", getenv("PORTAL_CREDENTIALS"), "credentials file (default: user config dir)")
	flags.StringVar(&opts.redisAddr, "redis", envOr(getenv, "REDIS_ADDR", "127.0.0.1:6379"), "Redis address of the job queue")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "backend request timeout")

	root.AddCommand(
		newLoginCmd(opts),
		newWhoamiCmd(opts),
		newLogoutCmd(opts),
		newPasswordCmd(opts),
		newJobsCmd(opts),
	)
	return root
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// store opens the credential file behind an auth store.
func (o *options) store() (*auth.Store, *auth.FilePersistence) {
	persist := auth.NewFilePersistence(o.credentialsPath)
	client := backend.NewClient(backend.Options{BaseURL: o.backendURL, Timeout: o.timeout})
	return auth.NewStore(client, persist), persist
}

func openAsynqQueue(redisAddr string) (queue, error) {
	q, err := newAsynqQueue(asynq.RedisClientOpt{Addr: redisAddr})
	if err != nil {
		return nil, err
	}
	return q, nil
}
