package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"sofiapulse/internal/skill"
	"sofiapulse/internal/skills/audit"
)

func auditCmd() *cobra.Command {
	var date string
	var sinceHours int
	var details, succeeded bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Classify today's runs against the expected set",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			p := skill.Params{
				"include_details":   details,
				"include_succeeded": succeeded,
			}
			if date != "" {
				p["date"] = date
			}
			if sinceHours > 0 {
				p["since_hours"] = sinceHours
			}
			env := a.runner.Run(ctx, audit.Name, p, skill.WithActor("cli"))
			return printEnvelope(env)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "local day to audit, YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&sinceHours, "since-hours", 0, "audit a trailing window instead of a local day")
	cmd.Flags().BoolVar(&details, "details", true, "include per-collector details")
	cmd.Flags().BoolVar(&succeeded, "succeeded", false, "include the succeeded list")
	return cmd
}
