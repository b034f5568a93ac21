// Package cmd implements the planengine operator CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenamanage/planengine/internal/logger"
	"github.com/zenamanage/planengine/internal/project"
)

var (
	// cfgFile is the path to the configuration file.
	cfgFile string
	// verbose enables debug logging.
	verbose bool
	// actorID attributes writes to a user; empty means the system actor.
	actorID string
	// metricsFile receives the run's metrics in Prometheus text format.
	metricsFile string
	// version is the application version.
	version = "0.3.0"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "planengine",
	Short: "Planning engines for construction projects",
	Long: `planengine runs the dependency graph, component roll-up, conditional
visibility and baseline variance engines against the planning database.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetCommand(cmd.CommandPath(), args)
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted. This is called by main.main().
func Execute() error {
	logger.SetVersion(version)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.planengine/config.yaml or ~/.planengine/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "user ID recorded on events (default: system)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-textfile", "", "write metrics to this file when the command finishes")
}

func actor() project.Actor {
	if actorID == "" {
		return project.System()
	}
	return project.User(actorID)
}

// withApp adapts a command body that needs the wired engines.
func withApp(run func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfgFile, verbose)
		if err != nil {
			return err
		}
		defer func() {
			if metricsFile != "" {
				if werr := prometheus.WriteToTextfile(metricsFile, a.registry); werr != nil {
					a.log.Warn("Couldn't write metrics", zap.String("file", metricsFile), zap.Error(werr))
				}
			}
			if cerr := a.Close(); err == nil {
				err = cerr
			}
		}()
		return run(ctx, cmd, a, args)
	}
}
