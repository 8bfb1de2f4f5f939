package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/taskq/worker"
)

var (
	retryInterval time.Duration
)

func init() {
	WorkerCmd.Flags().DurationVar(&retryInterval, "retry", worker.DefaultRetryInterval, "How long to wait before reconnecting to the server")
}

var WorkerCmd = &cobra.Command{
	Use:   "worker QUEUE -- COMMAND [ARG...]",
	Short: "Serve a queue by running a command for every job",
	Long: `Serve a queue by running a command for every job

Each payload is written to the command's stdin and its stdout becomes the
job's result. TASKQ_HANDLE holds the job handle. When the command fails the
result is "error: " followed by its error.

Usage
	taskq worker thumbnails -- convert - -resize 64x64 -`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer signalStop()

		handler, err := worker.NewCommandHandler(args[1:])
		if err != nil {
			return err
		}

		c, err := newClient(ctx)
		if err != nil {
			return err
		}

		w := worker.New(worker.Options{
			Queue:         args[0],
			Client:        c,
			Handler:       handler,
			RetryInterval: retryInterval,
			Log:           log.Named("worker"),
		})

		log.Info("Serving queue", zap.String("queue", args[0]), zap.String("server", c.Conn().Addr()))

		// A worker waiting on the server does not see ctx, so stop waiting
		// for it here. The connection goes away with the process and the
		// server puts back any job we held.
		done := make(chan error, 1)
		go func() {
			done <- w.Run(ctx)
		}()

		select {
		case err := <-done:
			c.Close()

			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err

		case <-ctx.Done():
			log.Info("Stopping worker")
			return nil
		}
	},
}
