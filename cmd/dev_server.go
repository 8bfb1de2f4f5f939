package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/taskq/storage"
	"github.com/luma/taskq/transport"
)

var (
	// The host to listen on
	listenHost string

	// Spread accepts over this many SO_REUSEPORT sockets
	numListeners int

	// How long finished results are kept
	resultTTL time.Duration
)

func init() {
	flags := DevServerCmd.Flags()

	flags.StringVar(&listenHost, "host", "127.0.0.1", "The host to listen on")
	flags.IntVar(&numListeners, "listeners", 1, "Number of listening sockets, more than one sets SO_REUSEPORT")
	flags.DurationVar(&resultTTL, "result-ttl", storage.DefaultResultTTL, "How long results are kept after a job finishes")
}

var DevServerCmd = &cobra.Command{
	Use:   "dev-server",
	Short: "Run an in-memory queue server for development",
	Long: `Run an in-memory queue server for development

The server listens on --host and the port given by --port, keeps every queue
in memory and stops on Ctrl+C or "taskq stop".

Usage
	taskq dev-server --port 8989

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		store := storage.NewInmemoryStore(resultTTL)
		defer store.Close()

		tcp := transport.NewTCP(transport.Options{
			Host:         listenHost,
			Port:         conf.Port,
			Reuseport:    numListeners > 1,
			NumListeners: numListeners,
			Store:        store,
			Log:          log.Named("transport"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening", zap.String("addr", tcp.Addr().String()))

		select {
		case <-ctx.Done():
			// Restore default behavior on the interrupt signal
			signalStop()
			log.Info("Shutting down")

		case <-tcp.Done():
			log.Info("Stop requested, shutting down")
		}

		if err := tcp.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
