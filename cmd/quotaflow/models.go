package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotaflow-ai/quotaflow/pkg/config"
)

func newModelsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the configured model catalog with pricing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if len(cfg.Models) == 0 {
				fmt.Println("No models configured.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tINPUT/1K\tOUTPUT/1K\tCONTEXT\tFEATURES")
			for _, m := range cfg.Models {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%d\t%s\n",
					m.ID, m.Name, m.InputTokenCost, m.OutputTokenCost, m.ContextWindow, strings.Join(m.Features, ","))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quotaflow.yaml", "path to config file")
	return cmd
}
