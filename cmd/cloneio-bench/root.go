package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cloneio/pkg/config"
	"cloneio/pkg/helper/log"

	"github.com/spf13/cobra"
)

var (
	cfg        = config.NewDefaultConfig()
	configFile string

	rootCmd = &cobra.Command{
		Use:   "cloneio-bench",
		Short: "Exercise the clone I/O engine",
		Long:  `A tool for driving the clone I/O engine's async read/write/copyup state machines against an in-memory object store`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return nil
			}
			loaded, err := config.LoadFromFile(configFile)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
)

func init() {
	cfg.AddFlagsToCommand(rootCmd)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (YAML), loaded in place of the default config")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newScrubCmd())
}

// setupCommand creates a logger and a cancellable context that is
// cancelled on SIGINT/SIGTERM.
func setupCommand(ctx context.Context) (log.Logger, context.Context, context.CancelFunc) {
	logger := log.NewBasicLogger(log.ParseLevel(cfg.LogLevel))
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info("received termination signal, shutting down")
			cancel()
		case <-ctx.Done():
			return
		}
	}()

	return logger, ctx, cancel
}
