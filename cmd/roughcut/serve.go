package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"roughcut/internal/config"
	"roughcut/internal/logging"
	"roughcut/internal/utils"
)

// newServeCommand runs the stdio broker. In this mode stdout belongs to the
// protocol: nothing else may print there.
func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool broker over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			defer a.Close(context.Background())

			// Hot-reload the log level on config edits; everything else
			// requires a restart.
			if *configPath != "" {
				watcher, err := config.NewWatcher(*configPath, logging.NewComponentLogger("config"), func(cfg *config.Config) {
					if cfg.Logging.Level != "" {
						utils.GetLogger().SetLevel(utils.ParseLevel(cfg.Logging.Level))
					}
				})
				if err != nil {
					a.logger.Warn("config watcher unavailable: %v", err)
				} else if err := watcher.Start(); err != nil {
					a.logger.Warn("config watcher start: %v", err)
				} else {
					defer watcher.Stop()
				}
			}

			a.logger.Info("broker serving on stdio (pid %d)", os.Getpid())
			server := a.newBroker(os.Stdin, os.Stdout)
			return server.Run(ctx)
		},
	}
}
