package main

import (
	"fmt"
	"os"

	"sofiapulse/internal/cli"
)

// sofia is the operational entrypoint for the collection core: schema init,
// the daily pipeline, and the admin surfaces over the skill registry.
func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
