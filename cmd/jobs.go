package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// How long result waits for the job to finish
	resultTimeout time.Duration
)

func init() {
	ResultCmd.Flags().DurationVarP(&resultTimeout, "timeout", "t", 30*time.Second, "How long to wait for the result")
}

var AddCmd = &cobra.Command{
	Use:   "add QUEUE [PAYLOAD]",
	Short: "Queue a job and print its handle",
	Long: `Queue a job and print its handle

The payload is read from stdin when it is not given as an argument.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := argOrStdin(cmd, args, 1)
		if err != nil {
			return err
		}

		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		handle, err := c.AddJob(cmd.Context(), args[0], payload)
		if err != nil {
			return err
		}

		log.Debug("Job added",
			zap.String("queue", args[0]),
			zap.String("handle", handle),
			zap.String("size", humanize.Bytes(uint64(len(payload)))))

		fmt.Fprintln(cmd.OutOrStdout(), handle)
		return nil
	},
}

var GetCmd = &cobra.Command{
	Use:   "get QUEUE",
	Short: "Take a job and print its payload",
	Long: `Take a job and print its payload

The handle and payload size go to stderr, the payload to stdout. The job must
be finished with "taskq finish HANDLE".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		job, err := c.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "%s (%s)\n", job.Handle, humanize.Bytes(uint64(len(job.Payload))))

		_, err = cmd.OutOrStdout().Write(job.Payload)
		return err
	},
}

var ResultCmd = &cobra.Command{
	Use:   "result HANDLE",
	Short: "Wait for the result of a job and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.GetReturn(cmd.Context(), args[0], resultTimeout)
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(result)
		return err
	},
}

var FinishCmd = &cobra.Command{
	Use:   "finish HANDLE [RESULT]",
	Short: "Set the result of a job",
	Long: `Set the result of a job

The result is read from stdin when it is not given as an argument.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := argOrStdin(cmd, args, 1)
		if err != nil {
			return err
		}

		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		return c.SetReturn(cmd.Context(), args[0], result)
	},
}

var NotifyCmd = &cobra.Command{
	Use:   "notify QUEUE",
	Short: "Wait until a queue has a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		return c.Notify(cmd.Context(), args[0])
	},
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the queue server is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		status, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", c.Conn().Addr(), status)
		return nil
	},
}

var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the queue server to shut down",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		return c.StopServer(cmd.Context())
	},
}

func argOrStdin(cmd *cobra.Command, args []string, i int) ([]byte, error) {
	if len(args) > i && args[i] != "-" {
		return []byte(args[i]), nil
	}

	return io.ReadAll(cmd.InOrStdin())
}
