package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/taskq/client"
	"github.com/luma/taskq/cmd/gen"
	"github.com/luma/taskq/internal/env"
)

var (
	// Path of an optional TOML config file
	configPath string

	// Overrides for the queue server address, see env.Config
	address  string
	port     int
	logLevel string

	conf *env.Config
	log  *zap.Logger
)

var RootCmd = &cobra.Command{
	Use:   "taskq",
	Short: "Client and tools for the taskq job queue",
	Long: `Client and tools for the taskq job queue

Producers queue jobs with add and wait for them with result, workers serve a
queue with worker. The queue server is found through --address and --port,
TASKQ_ADDRESS and TASKQ_PORT, or a config file.`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		conf, err = env.LoadConfig(cmd.Context(), configPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("address") {
			conf.Address = address
		}
		if flags.Changed("port") {
			conf.Port = port
		}
		if flags.Changed("log-level") {
			conf.LogLevel = logLevel
		}

		log, err = env.MakeLogger(conf.LogLevel)
		return err
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&configPath, "config", "c", "", "TOML config file")
	flags.StringVarP(&address, "address", "a", env.DefaultAddress, "Address of the queue server")
	flags.IntVarP(&port, "port", "p", env.DefaultPort, "Port of the queue server")
	flags.StringVar(&logLevel, "log-level", env.DefaultLogLevel, "Log level (debug, info, warn, error)")

	RootCmd.AddCommand(
		AddCmd,
		GetCmd,
		ResultCmd,
		FinishCmd,
		NotifyCmd,
		StatusCmd,
		StopCmd,
		WorkerCmd,
		GatewayCmd,
		DevServerCmd,
		VersionCmd,
		gen.RootCmd,
	)
}

// Execute runs the command line and exits non zero on failure.
func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient(ctx context.Context) (*client.Client, error) {
	return client.Dial(ctx, client.Options{
		Address:  conf.Address,
		Port:     conf.Port,
		ReadSize: conf.ReadSize,
		Log:      log.Named("client"),
	})
}
