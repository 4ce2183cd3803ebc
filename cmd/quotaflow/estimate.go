package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotaflow-ai/quotaflow/pkg/config"
	"github.com/quotaflow-ai/quotaflow/pkg/costs"
)

func newEstimateCmd() *cobra.Command {
	var (
		configPath  string
		outputRatio float64
	)

	cmd := &cobra.Command{
		Use:   "estimate [text]",
		Short: "Estimate token counts and per-model charges for a prompt",
		Long: "Estimates the token count of the given text (read from stdin when no\n" +
			"argument is given) and shows what each configured model would charge,\n" +
			"assuming output scales with input by --output-ratio.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if text == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			mgr := costs.New(costs.Config{DailyTokenAllocation: cfg.DailyTokenAllocation})
			mgr.RegisterModels(cfg.Models)

			inputTokens := mgr.EstimateTokenCount(text)
			outputTokens := int64(math.Ceil(float64(inputTokens) * outputRatio))

			fmt.Printf("Estimated input tokens:  %d\n", inputTokens)
			fmt.Printf("Estimated output tokens: %d (ratio %.1f)\n\n", outputTokens, outputRatio)

			if len(cfg.Models) == 0 {
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tESTIMATED CHARGE")
			for _, m := range cfg.Models {
				charge, err := mgr.EstimateCost(m.ID, inputTokens, outputTokens)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\n", m.ID, charge)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "quotaflow.yaml", "path to config file")
	cmd.Flags().Float64Var(&outputRatio, "output-ratio", 1.5, "estimated output tokens per input token")
	return cmd
}
