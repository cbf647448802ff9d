package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/mamacare/mamacare/internal/config"
)

// remindersCmd exposes the reminder jobs for an external scheduler. Each
// subcommand prints its summary as JSON and exits non-zero on a fatal error.
func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Run reminder jobs once",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Create due reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) (interface{}, error) {
				return a.reminders.GenerateDailyReminders(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "dispatch",
		Short: "Send due reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) (interface{}, error) {
				return a.reminders.DispatchDue(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cycle",
		Short: "Generate then dispatch, as the cron endpoint does",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) (interface{}, error) {
				return a.reminders.RunCycle(ctx)
			})
		},
	})
	return cmd
}

func withApp(cmd *cobra.Command, job func(ctx context.Context, a *app) (interface{}, error)) error {
	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := job(ctx, a)
	if err != nil {
		logger.Error().Err(err).Str("job", cmd.Name()).Msg("reminder job failed")
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
