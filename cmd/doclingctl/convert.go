package main

import (
	"fmt"

	"github.com/btwld/docling-sdk-sub000/internal/docling"
	"github.com/spf13/cobra"
)

func newConvertCmd(opts *rootOptions) *cobra.Command {
	flags := &trackFlags{}
	var watch bool

	cmd := &cobra.Command{
		Use:   "convert <url>...",
		Short: "Submit URLs for asynchronous conversion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			log, err := opts.logger()
			if err != nil {
				return err
			}
			client := opts.client(log)

			status, err := client.SubmitSource(cmd.Context(), docling.NewURLRequest(args...))
			if err != nil {
				return fmt.Errorf("failed to submit conversion: %w", err)
			}
			if err := newPrinter(cmd.OutOrStdout()).print(status); err != nil {
				return err
			}

			if !watch {
				return nil
			}
			return watchTask(cmd, client, log, status.TaskID, cfg)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the task after submitting it")

	return cmd
}
