package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"sofiapulse/internal/skill"
	"sofiapulse/internal/skills/inventory"
)

func inventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Collector inventory: list/validate/register/update/deprecate/scan",
	}
	cmd.AddCommand(inventoryListCmd())
	cmd.AddCommand(inventoryValidateCmd())
	cmd.AddCommand(inventoryRegisterCmd())
	cmd.AddCommand(inventoryUpdateCmd())
	cmd.AddCommand(inventoryDeprecateCmd())
	cmd.AddCommand(inventoryScanCmd())
	return cmd
}

// runInventory dispatches one inventory.collectors action through the runner.
func runInventory(params skill.Params) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	env := a.runner.Run(ctx, inventory.Name, params, skill.WithActor("cli"))
	return printEnvelope(env)
}

func inventoryListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered collectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := skill.Params{"action": "list"}
			if status != "" {
				p["status"] = status
			}
			return runInventory(p)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: active|experimental|deprecated")
	return cmd
}

func inventoryValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that every enabled collector's script exists on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(skill.Params{"action": "validate"})
		},
	}
}

func inventoryRegisterCmd() *cobra.Command {
	var id, path, schedule, owner, description string
	var minRecords int
	var allowEmpty, disabled bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register (or re-register) a collector script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(skill.Params{
				"action":               "register",
				"collector_id":         id,
				"path":                 path,
				"schedule":             schedule,
				"owner":                owner,
				"description":          description,
				"expected_min_records": minRecords,
				"allow_empty":          allowEmpty,
				"enabled":              !disabled,
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "collector id (required)")
	cmd.Flags().StringVar(&path, "path", "", "script path (required)")
	cmd.Flags().StringVar(&schedule, "schedule", "daily", "schedule tag")
	cmd.Flags().StringVar(&owner, "owner", "", "owning team or person")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	cmd.Flags().IntVar(&minRecords, "expected-min-records", 1, "records below this count as empty")
	cmd.Flags().BoolVar(&allowEmpty, "allow-empty", false, "empty runs are healthy for this collector")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "register without enabling")
	return cmd
}

func inventoryUpdateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Patch collector fields (pass changed flags only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := skill.Params{"action": "update", "collector_id": id}
			// Only flags the operator actually set become patch fields.
			for _, name := range []string{"path", "schedule", "status", "owner", "description"} {
				if cmd.Flags().Changed(name) {
					v, _ := cmd.Flags().GetString(name)
					p[name] = v
				}
			}
			for flagName, key := range map[string]string{"enabled": "enabled", "allow-empty": "allow_empty"} {
				if cmd.Flags().Changed(flagName) {
					v, _ := cmd.Flags().GetBool(flagName)
					p[key] = v
				}
			}
			if cmd.Flags().Changed("expected-min-records") {
				v, _ := cmd.Flags().GetInt("expected-min-records")
				p["expected_min_records"] = v
			}
			return runInventory(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "collector id (required)")
	cmd.Flags().String("path", "", "script path")
	cmd.Flags().String("schedule", "", "schedule tag")
	cmd.Flags().String("status", "", "status: active|experimental|deprecated")
	cmd.Flags().String("owner", "", "owning team or person")
	cmd.Flags().String("description", "", "free-text description")
	cmd.Flags().Bool("enabled", true, "enabled flag")
	cmd.Flags().Bool("allow-empty", false, "empty runs are healthy")
	cmd.Flags().Int("expected-min-records", 1, "records below this count as empty")
	return cmd
}

func inventoryDeprecateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "deprecate",
		Short: "Deprecate and disable a collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(skill.Params{"action": "deprecate", "collector_id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "collector id (required)")
	return cmd
}

func inventoryScanCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Reconcile scripts on disk against the inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(skill.Params{"action": "scan", "dir": dir})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory to scan (required)")
	return cmd
}
