package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sofiapulse/internal/expected"
)

func syncCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the expected-collector files from the inventory and denylist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			deny, err := expected.LoadDenylist(a.cfg.DenylistPath)
			if err != nil {
				return err
			}
			set, err := expected.Build(ctx, a.store, deny)
			if err != nil {
				return err
			}
			if !dryRun {
				if err := set.WriteFiles(a.cfg.ExpectedConfigPath, a.cfg.ExpectedLegacyPath); err != nil {
					return err
				}
			}

			b, _ := json.MarshalIndent(set.Stats, "", "  ")
			fmt.Println(string(b))
			if dryRun {
				fmt.Println("dry-run: files not written")
			} else {
				fmt.Printf("ok: wrote %s and %s\n", a.cfg.ExpectedConfigPath, a.cfg.ExpectedLegacyPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "derive and print stats without writing files")
	return cmd
}
