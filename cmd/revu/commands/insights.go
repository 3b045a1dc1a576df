package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqzhen/Revu/internal/insights"
	"github.com/aqzhen/Revu/internal/logging"
)

// NewInsightsCmd constructs the `revu insights` command, which categorizes a
// cohort's recorded questions and prints the analysis as JSON.
func NewInsightsCmd() *cobra.Command {
	var productID int64
	var cohort string

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Summarize what a cohort of shoppers asks about a product",
		Long: `Categorize the questions a cohort has asked about a product.

Cohorts are split by purchase status: "window_shoppers" asked before buying,
"purchasers" asked after. The output groups questions into themes with a
summary and suggested actions per theme.

Examples:
  revu insights --product 101
  revu insights --product 101 --cohort purchasers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if productID == 0 {
				return fmt.Errorf("insights: --product is required")
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("insights: %w", err)
			}
			defer func() { _ = st.Close() }()

			engine, err := buildInsightsEngine(ctx, st)
			if err != nil {
				return fmt.Errorf("insights: %w", err)
			}

			result, err := engine.Compute(ctx, productID, insights.Cohort(cohort))
			if errors.Is(err, insights.ErrNoData) {
				fmt.Fprintf(cmd.OutOrStdout(), "no recorded questions for product %d cohort %q\n", productID, cohort)
				return nil
			}
			if err != nil {
				return fmt.Errorf("insights: %w", err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("insights: encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().Int64Var(&productID, "product", 0, "Product ID to analyze")
	cmd.Flags().StringVar(&cohort, "cohort", string(insights.CohortWindowShoppers), "Cohort: window_shoppers or purchasers")

	return cmd
}

// NewReviewPromptsCmd constructs the `revu review-prompts` command, which
// turns a user's recorded questions into suggested review prompts.
func NewReviewPromptsCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "review-prompts",
		Short: "Suggest review prompts from a user's recorded questions",
		Long: `Generate prompts that nudge a buyer to review the things they asked
about before purchasing. A buyer who asked "does it run small?" gets
prompted to say how the fit turned out.

Example:
  revu review-prompts --user 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if userID == 0 {
				return fmt.Errorf("review-prompts: --user is required")
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("review-prompts: %w", err)
			}
			defer func() { _ = st.Close() }()

			engine, err := buildInsightsEngine(ctx, st)
			if err != nil {
				return fmt.Errorf("review-prompts: %w", err)
			}

			prompts, err := engine.ReviewPrompts(ctx, userID)
			if errors.Is(err, insights.ErrNoData) {
				fmt.Fprintf(cmd.OutOrStdout(), "no recorded questions for user %d\n", userID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("review-prompts: %w", err)
			}

			for _, p := range prompts {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User ID to generate prompts for")

	return cmd
}
