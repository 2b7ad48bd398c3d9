package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Poll the status of a task once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger()
			if err != nil {
				return err
			}

			status, err := opts.client(log).Status(cmd.Context(), args[0], wait)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			return newPrinter(cmd.OutOrStdout()).print(status)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "Let the service hold the request open up to this long")

	return cmd
}
