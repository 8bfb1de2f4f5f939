package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/taskq/gateway"
)

var (
	// Overrides TASKQ_HTTP_ADDR
	httpAddr string
)

func init() {
	GatewayCmd.Flags().StringVar(&httpAddr, "http-addr", "", "Address to serve HTTP on")
}

var GatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve the queue commands over HTTP",
	Long: `Serve the queue commands over HTTP

Routes
	GET  /ping
	GET  /status
	POST /queues/:queue/jobs      {"payload": ...}
	GET  /queues/:queue/jobs
	POST /queues/:queue/notify
	GET  /jobs/:handle/result?timeout=30s
	PUT  /jobs/:handle/result     {"result": ...}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		addr := conf.HTTPAddr
		if cmd.Flags().Changed("http-addr") {
			addr = httpAddr
		}

		gw := gateway.New(gateway.Options{
			Address:  conf.Address,
			Port:     conf.Port,
			ReadSize: conf.ReadSize,
			Debug:    conf.DebugHTTP,
			Log:      log.Named("gateway"),
		})

		s := &http.Server{
			Addr:    addr,
			Handler: gw.Handler(),
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
				signalStop()
			}
		}()

		log.Info("Listening",
			zap.String("http", addr),
			zap.String("address", conf.Address),
			zap.Int("port", conf.Port))

		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}
