package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sofiapulse/internal/pipeline"
)

func pipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Daily collection pipeline",
	}
	cmd.AddCommand(pipelineRunCmd())
	return cmd
}

func pipelineRunCmd() *cobra.Command {
	var date string
	var dryRun bool
	var noSync bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily pipeline (sync, collect, audit, notify); exits non-zero when the gate is unhealthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 4*time.Hour)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			driver := pipeline.New(a.runner, a.store, a.store, a.store, a.budget, a.logger, pipeline.Options{
				SyncExpected:       a.cfg.SyncExpected && !noSync,
				VerifyAll:          a.cfg.VerifyAll,
				DryRun:             dryRun,
				Date:               date,
				Env:                a.cfg.Env,
				Timezone:           a.tz,
				DenylistPath:       a.cfg.DenylistPath,
				ExpectedConfigPath: a.cfg.ExpectedConfigPath,
				ExpectedLegacyPath: a.cfg.ExpectedLegacyPath,
				MaxOffenders:       a.cfg.MaxOffenders,
				NotifyTo:           a.cfg.WppTo,
				AlwaysNotify:       a.cfg.WppAlwaysNotify,
			})

			report, err := driver.Run(ctx)
			if err != nil {
				return err
			}

			b, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(b))

			if !report.GateHealthy {
				return fmt.Errorf("pipeline gate unhealthy (trace %s)", report.TraceID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "audit window date YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and report without spawning collectors or writing")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "skip the expected-set sync phase")
	return cmd
}
