package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/visionbench/internal/evaluation"
	"github.com/kiranshivaraju/visionbench/internal/pricing"
)

func newEstimateCmd(g *globals) *cobra.Command {
	var (
		catalogPath   string
		charsPerToken int
		outputTokens  int
	)
	cmd := &cobra.Command{
		Use:   "estimate <evaluation-id>",
		Short: "Print the cost estimate of an evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid evaluation id %q: %w", args[0], err)
			}
			catalog, err := pricing.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}
			st, closeStore, err := g.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			svc := evaluation.NewService(evaluation.Deps{Store: st, Catalog: catalog}, evaluation.Options{
				Heuristic: pricing.Heuristic{
					CharsPerToken:        charsPerToken,
					ExpectedOutputTokens: int64(outputTokens),
				},
			})
			est, err := svc.Estimate(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, est)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", envOrDefault("PRICING_CATALOG_PATH", ""), "pricing catalog YAML (embedded default when empty)")
	cmd.Flags().IntVar(&charsPerToken, "chars-per-token", envIntOrDefault("EVAL_CHARS_PER_TOKEN", 4), "prompt characters per estimated token")
	cmd.Flags().IntVar(&outputTokens, "output-tokens", envIntOrDefault("EVAL_EXPECTED_OUTPUT_TOKENS", 50), "expected output tokens per step")
	return cmd
}

func newResampleCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "resample <evaluation-id>",
		Short: "Draw a new random sample for a pending evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid evaluation id %q: %w", args[0], err)
			}
			st, closeStore, err := g.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			seed, err := evaluation.NewService(evaluation.Deps{Store: st}, evaluation.Options{}).Resample(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"id": id, "selection_seed": seed})
		},
	}
}
