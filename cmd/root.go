// Package cmd defines the CLI commands for the pipeline executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/app"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/config"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/logging"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines what commands need from the application, so tests can inject
// a fake.
type App interface {
	RunOnce(ctx context.Context) (pipeline.Run, error)
	Serve(ctx context.Context) error
	Tasks() ([]string, error)
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd returns the command tree and a func that closes the App once
// the command has returned, whether or not it failed.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile     string
		appInstance App
	)
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Scrape pages, tabulate their text and version the dataset.",
		Long: `pipeline fetches a configured list of pages, extracts heading and
paragraph text, writes it to a two-column CSV and archives the file under
DVC. Runs happen once on demand or on a fixed schedule.`,
		SilenceUsage: true,

		// Builds the application after flags are parsed and before the
		// subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			built, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			appInstance = built
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, built))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the PIPELINE_ prefix")
	cmd.AddCommand(newRunCmd(), newScheduleCmd(), newTasksCmd())

	closeApp := func() {
		if appInstance != nil {
			appInstance.Close()
			appInstance = nil
		}
	}
	return cmd, closeApp
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(context.Background())
	closeApp()
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
