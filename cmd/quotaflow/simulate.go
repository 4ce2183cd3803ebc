package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotaflow-ai/quotaflow/pkg/config"
	"github.com/quotaflow-ai/quotaflow/pkg/costs"
	"github.com/quotaflow-ai/quotaflow/pkg/journal"
)

// newSimulateCmd runs a scripted request flow against an in-memory manager:
// estimate, pick an affordable model, charge, fake the model call, and
// reconcile actual usage. Useful for trying out a config before wiring the
// manager into a real serving layer.
func newSimulateCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted budget flow against the configured catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if len(cfg.Models) == 0 {
				return fmt.Errorf("no models configured in %s", configPath)
			}

			var logger *zap.Logger
			if verbose {
				logger, err = zap.NewDevelopment()
				if err != nil {
					return err
				}
				defer func() { _ = logger.Sync() }()
			}

			var j journal.Journal
			if cfg.JournalPath != "" {
				sj, err := journal.Open(cfg.JournalPath)
				if err != nil {
					return err
				}
				defer func() { _ = sj.Close() }()
				j = sj
			}

			mgr := costs.New(costs.Config{
				DailyTokenAllocation: cfg.DailyTokenAllocation,
				ResetHourUTC:         cfg.ResetHourUTC,
				PremiumAllocations:   cfg.BonusTokens,
				Journal:              j,
				Logger:               logger,
				OnExhausted: func(userID string) {
					fmt.Printf("!! user %s ran out of tokens\n", userID)
				},
			})
			mgr.RegisterModels(cfg.Models)

			ctx := context.Background()
			features := cfg.Models[0].Features

			prompts := []string{
				"What is the capital of France?",
				"Summarize the following text: " + strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 50),
			}
			for i, prompt := range prompts {
				fmt.Printf("--- request %d ---\n", i+1)
				if err := runRequest(ctx, mgr, userID, prompt, features); err != nil {
					return err
				}
				fmt.Println()
			}

			fmt.Println("--- granting 50000 bonus tokens ---")
			if err := mgr.AddUserTokens(ctx, userID, 50000); err != nil {
				return err
			}
			bal := mgr.Balance(userID)
			fmt.Printf("balance: %d of %d tokens (%d%%)\n", bal.RemainingTokens, bal.DailyAllocation, bal.PercentRemaining)

			stats := mgr.UsageStats(userID)
			fmt.Printf("requests today: %d, tokens used: %d, history entries: %d\n",
				stats.RequestsToday, stats.TokensUsedToday, len(stats.History))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quotaflow.yaml", "path to config file")
	cmd.Flags().StringVar(&userID, "user", "user-123", "user to simulate")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log ledger activity")
	return cmd
}

func runRequest(ctx context.Context, mgr *costs.Manager, userID, prompt string, features []string) error {
	bal := mgr.Balance(userID)
	fmt.Printf("user %s has %d tokens remaining (%d%%)\n", userID, bal.RemainingTokens, bal.PercentRemaining)

	inputTokens := mgr.EstimateTokenCount(prompt)
	estimatedOutput := int64(math.Ceil(float64(inputTokens) * 1.5))

	choice, err := mgr.FindAffordableModel(userID, features, inputTokens, estimatedOutput)
	if err != nil {
		return err
	}
	if choice == nil {
		fmt.Printf("no affordable model; tokens reset in %s\n", bal.TimeUntilRefill.Round(time.Second))
		return nil
	}
	fmt.Printf("using %s, estimated charge %d tokens\n", choice.ModelID, choice.EstimatedCost)

	check, err := mgr.CanUseModel(ctx, userID, choice.ModelID, inputTokens, estimatedOutput)
	if err != nil {
		return err
	}
	if !check.Allowed {
		fmt.Printf("charge denied; tokens reset in %s\n", check.TimeUntilRefill.Round(time.Second))
		return nil
	}

	// Stand-in for the real model call: actual output comes in under the
	// estimate, producing a refund.
	actualOutput := int64(math.Ceil(float64(inputTokens) * 1.2))
	refund, err := mgr.RecordActualUsage(ctx, userID, choice.ModelID, inputTokens, actualOutput, inputTokens, estimatedOutput)
	if err != nil {
		return err
	}
	if refund > 0 {
		fmt.Printf("refunded %d tokens\n", refund)
	}

	after := mgr.Balance(userID)
	fmt.Printf("%d tokens remaining\n", after.RemainingTokens)
	return nil
}
