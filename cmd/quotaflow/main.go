package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "quotaflow",
		Short:   "Quotaflow — per-user LLM token budgets and model cost accounting",
		Version: version,
	}

	root.AddCommand(
		newModelsCmd(),
		newEstimateCmd(),
		newStatsCmd(),
		newAuditCmd(),
		newSimulateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
