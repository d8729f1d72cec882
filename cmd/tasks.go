package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "Print the DAG's tasks in execution order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := appInstance.Tasks()
			if err != nil {
				return err
			}
			for _, task := range tasks {
				fmt.Fprintln(cmd.OutOrStdout(), task)
			}
			return nil
		},
	}
}
