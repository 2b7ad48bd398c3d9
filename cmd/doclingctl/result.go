package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResultCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "result <task-id>",
		Short: "Print the converted document of a finished task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger()
			if err != nil {
				return err
			}

			raw, err := opts.client(log).Result(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get result: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	}
}
