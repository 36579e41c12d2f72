// Command roughcut is the tool-broker daemon for the motion-graphics
// renderer. `roughcut serve` speaks JSON-RPC over stdio with an LLM host;
// the other subcommands are operator conveniences and may print to the
// terminal, which serve mode never does.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"roughcut/internal/utils"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "roughcut",
		Short:         "Tool broker between an LLM host and the video renderer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML or JSON)")
	root.PersistentFlags().String("log-level", "", "Override log level (debug, info, warn, error)")

	viper.SetEnvPrefix("ROUGHCUT")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newServeCommand(&configPath),
		newStatusCommand(&configPath),
		newCleanupCommand(&configPath),
		newDoctorCommand(&configPath),
	)
	return root
}

// applyLogLevel pushes a CLI/env level override into the file logger.
func applyLogLevel() {
	if level := viper.GetString("log-level"); level != "" {
		utils.GetLogger().SetLevel(utils.ParseLevel(level))
	}
}
