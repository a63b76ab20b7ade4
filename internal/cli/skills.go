package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sofiapulse/internal/skill"
)

func skillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Registered skills: list and invoke ad hoc",
	}
	cmd.AddCommand(skillsListCmd())
	cmd.AddCommand(skillsRunCmd())
	return cmd
}

func skillsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered skill names",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			b, _ := json.MarshalIndent(a.runner.Names(), "", "  ")
			fmt.Println(string(b))
			return nil
		},
	}
}

func skillsRunCmd() *cobra.Command {
	var paramsJSON string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run <skill-name>",
		Short: "Invoke one skill with JSON params and print its envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := skill.Params{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("parse --params: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			env := a.runner.Run(ctx, args[0], params,
				skill.WithActor("cli"), skill.WithDryRun(dryRun))
			return printEnvelope(env)
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "", "skill params as a JSON object")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "pass dry_run to the skill")
	return cmd
}
