package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"roughcut/internal/config"
	"roughcut/internal/discovery"
	"roughcut/internal/logging"
	"roughcut/internal/portalloc"
	"roughcut/internal/project"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// newStatusCommand scans ports and lists projects without starting anything.
func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show running studios and available projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			applyLogLevel()

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			scanner := discovery.NewScanner(cfg.PortRange, logging.NewComponentLogger("discovery"))
			result, err := scanner.Discover(ctx)
			if err != nil {
				return err
			}

			fmt.Println(bold("Studios"))
			if len(result.Renderers) == 0 {
				fmt.Println("  none running")
			}
			for _, proc := range result.Renderers {
				name := proc.ProjectName
				if name == "" {
					name = "unknown project"
				}
				fmt.Printf("  %s port %d: %s\n", green("●"), proc.Port, name)
			}
			for _, proc := range result.Other {
				fmt.Printf("  %s port %d: other http service\n", yellow("●"), proc.Port)
			}
			for _, conflict := range result.Conflicts {
				fmt.Printf("  %s port %d: %s\n", red("●"), conflict.Port, conflict.Conflict)
			}

			store := project.NewStore(cfg.ProjectsDir)
			names, err := store.List()
			if err != nil {
				return err
			}
			fmt.Println(bold("\nProjects"))
			if len(names) == 0 {
				fmt.Printf("  none under %s\n", cfg.ProjectsDir)
			}
			for _, name := range names {
				fmt.Printf("  - %s\n", name)
			}
			return nil
		},
	}
}

// newCleanupCommand kills renderers found in the port range.
func newCleanupCommand(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Stop renderer processes found in the studio port range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			applyLogLevel()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			scanner := discovery.NewScanner(cfg.PortRange, logging.NewComponentLogger("discovery"))
			alloc := portalloc.New(cfg.PortRange, logging.NewComponentLogger("ports"))

			result, err := scanner.Discover(ctx)
			if err != nil {
				return err
			}
			stopped := 0
			for _, proc := range result.Renderers {
				if proc.PID == 0 {
					fmt.Printf("%s port %d: discovered over HTTP only, no pid to stop\n", yellow("skip"), proc.Port)
					continue
				}
				if err := alloc.Kill(proc.PID, force); err != nil {
					fmt.Printf("%s pid %d (port %d): %v\n", red("fail"), proc.PID, proc.Port, err)
					continue
				}
				fmt.Printf("%s pid %d (port %d)\n", green("stopped"), proc.PID, proc.Port)
				stopped++
			}
			fmt.Printf("stopped %d renderer(s)\n", stopped)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Kill immediately instead of graceful shutdown")
	return cmd
}

// newDoctorCommand checks the environment a broker needs.
func newDoctorCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, directories, and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				fmt.Printf("%s configuration: %v\n", red("✗"), err)
				return err
			}
			applyLogLevel()
			fmt.Printf("%s configuration loads\n", green("✓"))

			if err := cfg.EnsureDirectories(); err != nil {
				fmt.Printf("%s directories: %v\n", red("✗"), err)
				return err
			}
			fmt.Printf("%s assets directory %s is writable\n", green("✓"), cfg.AssetsDir)

			for _, credential := range []string{"elevenlabs", "freesound", "flux"} {
				if cfg.HasCredential(credential) {
					fmt.Printf("%s credential %s configured\n", green("✓"), credential)
				} else {
					fmt.Printf("%s credential %s missing (set %s); dependent tools stay inactive\n",
						yellow("-"), credential, config.CredentialEnvVar(credential))
				}
			}

			fmt.Printf("%s port range %d-%d (deny %v)\n", green("✓"),
				cfg.PortRange.Start, cfg.PortRange.End, cfg.PortRange.Deny)

			if _, err := os.Stat(cfg.ProjectsDir); err != nil {
				fmt.Printf("%s projects directory %s not found yet\n", yellow("-"), cfg.ProjectsDir)
			} else {
				fmt.Printf("%s projects directory %s\n", green("✓"), cfg.ProjectsDir)
			}
			return nil
		},
	}
}
