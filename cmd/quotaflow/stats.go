package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotaflow-ai/quotaflow/pkg/config"
	"github.com/quotaflow-ai/quotaflow/pkg/journal"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show charge journal summaries",
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

			ctx := context.Background()
			summaries, err := j.Summary(ctx, userID)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No journal entries found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tMODEL\tKIND\tENTRIES\tTOKENS")
			for _, s := range summaries {
				model := s.ModelID
				if model == "" {
					model = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", s.UserID, model, s.Kind, s.EntryCount, s.TotalTokens)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if userID != "" {
				since := time.Now().UTC().Truncate(24 * time.Hour)
				net, err := j.TotalByUser(ctx, userID, since)
				if err != nil {
					return err
				}
				fmt.Printf("\nNet charged today for %s: %d tokens\n", userID, net)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quotaflow.yaml", "path to config file")
	cmd.Flags().StringVar(&userID, "user", "", "filter by user")
	return cmd
}
