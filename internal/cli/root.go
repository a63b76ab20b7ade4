package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sofiapulse/internal/envelope"
)

type rootFlags struct {
	DSN string
}

var rf rootFlags

func Execute() error {
	rootCmd := &cobra.Command{
		Use:   "sofia",
		Short: "Sofia Pulse skill execution and orchestration core",
	}

	rootCmd.PersistentFlags().StringVar(&rf.DSN, "dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN (defaults to DATABASE_URL)")

	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(inventoryCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(skillsCmd())

	return rootCmd.Execute()
}

func dsnOrErr() (string, error) {
	if rf.DSN == "" {
		return "", fmt.Errorf("missing --dsn (or set DATABASE_URL)")
	}
	return rf.DSN, nil
}

// printEnvelope writes the envelope as indented JSON and reports failure
// through the exit code.
func printEnvelope(env envelope.Envelope) error {
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if !env.OK {
		first := env.FirstError()
		return fmt.Errorf("%s: %s", first.Code, first.Message)
	}
	return nil
}
