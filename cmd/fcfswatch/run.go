package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"fcfswatch/internal/app"
	logx "fcfswatch/pkg/logx"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the bot and monitor until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), opts)
		},
	}
}

func runBot(ctx context.Context, opts *rootOptions) error {
	a, err := app.New(ctx, opts.configPath)
	if err != nil {
		// no configured logger exists yet
		logx.NewConsole("INFO").Error("bootstrap failed", logx.String("config", opts.configPath), logx.Err(err))
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopAppStop
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		a.Logger().Warn("stop", logx.Err(err))
	}
	return a.Err()
}
