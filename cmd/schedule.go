package cmd

import (
	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on its schedule and serve the status API",
		Long: `Starts the scheduler loop and the HTTP status server. Runs are
triggered once per schedule interval from the start date, or on demand via
POST /v1/runs. SIGINT/SIGTERM stop the loop after the active run returns.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}
