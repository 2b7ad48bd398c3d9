package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/api/dto"
	"github.com/btwld/docling-sdk-sub000/internal/docling"
	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"github.com/btwld/docling-sdk-sub000/internal/progress"
	"github.com/btwld/docling-sdk-sub000/internal/tracker"
	"github.com/spf13/cobra"
)

const stopTimeout = 5 * time.Second

type trackFlags struct {
	mode           string
	connectTimeout time.Duration
	timeout        time.Duration
}

func (f *trackFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", string(progress.ModeHybrid), "Tracking mode: push, pull or hybrid")
	cmd.Flags().DurationVar(&f.connectTimeout, "connect-timeout", 0, "Websocket connect timeout (default 5s)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Overall polling timeout (default 10m)")
}

func (f *trackFlags) config() (progress.Config, error) {
	cfg := progress.DefaultConfig()

	mode, err := progress.ParseMode(f.mode)
	if err != nil {
		return cfg, err
	}
	cfg.Mode = mode

	if f.connectTimeout > 0 {
		cfg.ConnectTimeout = f.connectTimeout
		cfg.Channel.ConnectTimeout = f.connectTimeout
	}
	if f.timeout > 0 {
		cfg.Polling.Timeout = f.timeout
	}
	return cfg, nil
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	flags := &trackFlags{}

	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a task until it resolves, printing progress as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			log, err := opts.logger()
			if err != nil {
				return err
			}
			return watchTask(cmd, opts.client(log), log, args[0], cfg)
		},
	}
	flags.register(cmd)

	return cmd
}

// watchTask prints every progress update then the result, a failed task is returned as an error
func watchTask(cmd *cobra.Command, client *docling.Client, log *slog.Logger, taskID string, cfg progress.Config) error {
	ctx := cmd.Context()
	out := newPrinter(cmd.OutOrStdout())

	m := tracker.NewForClient(client, cfg, tracker.WithLogger(log))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := m.Shutdown(stopCtx); err != nil {
			log.Warn("Failed to stop tracking", slog.Any("error", err))
		}
	}()

	_, err := m.Track(ctx, taskID, cfg, progress.ListenerFuncs{
		Progress: func(update domain.ProgressUpdate) {
			if err := out.print(update); err != nil {
				log.Warn("Failed to print progress", slog.Any("error", err))
			}
		},
	})
	if err != nil {
		return err
	}

	result, err := m.Wait(ctx, taskID)
	if err != nil {
		return fmt.Errorf("stopped waiting for %s: %w", taskID, err)
	}

	if err := out.print(dto.FromResult(result)); err != nil {
		return err
	}
	if !result.Success {
		return domain.NewProcessingError(result)
	}
	return nil
}
