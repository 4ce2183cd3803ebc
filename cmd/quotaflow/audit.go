package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotaflow-ai/quotaflow/pkg/config"
	"github.com/quotaflow-ai/quotaflow/pkg/journal"
)

func newAuditCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent charge journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.JournalPath == "" {
				fmt.Println("Charge journal is disabled (journal_path is empty).")
				return nil
			}

			j, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			entries, err := j.RecentByUser(context.Background(), userID, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No journal entries found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tUSER\tMODEL\tKIND\tTOKENS\tINPUT\tOUTPUT")
			for _, e := range entries {
				model := e.ModelID
				if model == "" {
					model = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					e.CreatedAt.Format("2006-01-02T15:04:05"), e.UserID, model, e.Kind, e.Tokens, e.InputTokens, e.OutputTokens)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quotaflow.yaml", "path to config file")
	cmd.Flags().StringVar(&userID, "user", "", "filter by user")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	return cmd
}
