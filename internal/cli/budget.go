package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sofiapulse/internal/skill"
	"sofiapulse/internal/skills/budget"
	"sofiapulse/internal/store"
)

func budgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Spending guard: inspect usage and manage limits",
	}
	cmd.AddCommand(budgetStatusCmd())
	cmd.AddCommand(budgetSetLimitCmd())
	return cmd
}

func budgetStatusCmd() *cobra.Command {
	var scope, scopeID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current usage and remaining headroom for a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			// A zero-cost check reads the scope without reserving anything.
			env := a.runner.Run(ctx, budget.Name, skill.Params{
				"scope":          scope,
				"scope_id":       scopeID,
				"estimated_cost": 0.0,
			}, skill.WithActor("cli"))
			return printEnvelope(env)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", budget.ScopeDay, "budget scope")
	cmd.Flags().StringVar(&scopeID, "scope-id", budget.GlobalScopeID, "scope id")
	return cmd
}

func budgetSetLimitCmd() *cobra.Command {
	var scope, scopeID string
	var limit float64
	var disable bool
	cmd := &cobra.Command{
		Use:   "set-limit",
		Short: "Upsert a budget limit for a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 && !disable {
				return fmt.Errorf("missing --limit (or pass --disable)")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SetLimit(ctx, store.BudgetLimit{
				Scope:     scope,
				ScopeID:   scopeID,
				LimitCost: limit,
				Active:    !disable,
			}); err != nil {
				return err
			}
			fmt.Printf("ok: limit %s/%s = %.2f (active=%t)\n", scope, scopeID, limit, !disable)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", budget.ScopeDay, "budget scope")
	cmd.Flags().StringVar(&scopeID, "scope-id", budget.GlobalScopeID, "scope id")
	cmd.Flags().Float64Var(&limit, "limit", 0, "limit in currency units")
	cmd.Flags().BoolVar(&disable, "disable", false, "deactivate the limit row")
	return cmd
}
