package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqzhen/Revu/internal/agent"
	"github.com/aqzhen/Revu/internal/logging"
	"github.com/aqzhen/Revu/internal/store"
)

// NewAskCmd constructs the `revu ask` command, which answers a single
// question about a product's reviews and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var productID int64
	var userID int64
	var seller bool
	var verbose bool
	var target string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a product's reviews",
		Long: `Ask a natural-language question grounded in a product's reviews.

The agent retrieves the most relevant review excerpts with SQL it plans
itself and answers strictly from what reviewers wrote. Questions are
recorded so they can feed seller insights later.

Examples:
  revu ask --product 101 --user 7 "does this jacket run small?"
  revu ask --product 101 --user 1 --seller "what do buyers complain about most?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if productID == 0 {
				return fmt.Errorf("ask: --product is required")
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = st.Close() }()

			revuAgent, err := buildAgent(ctx, st)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			actor := store.ActorBuyer
			if seller {
				actor = store.ActorSeller
			}

			resp, err := revuAgent.Ask(ctx, &agent.Request{
				Actor:       actor,
				ProductID:   productID,
				UserID:      userID,
				Query:       args[0],
				TargetTable: agent.TargetTable(target),
			})
			if resp == nil {
				return fmt.Errorf("ask: %w", err)
			}
			if err != nil {
				// Degraded answers are still served; the cause goes to the log.
				log.Warn("answer degraded", "error", err)
			}

			if verbose && resp.SQLQuery != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "-- retrieval query --\n%s\n\n", resp.SQLQuery)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Output)
			return nil
		},
	}

	cmd.Flags().Int64Var(&productID, "product", 0, "Product ID the question is about")
	cmd.Flags().Int64Var(&userID, "user", 0, "User ID of the asker")
	cmd.Flags().BoolVar(&seller, "seller", false, "Ask as the seller instead of a buyer")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the SQL the agent settled on")
	cmd.Flags().StringVar(&target, "target", "reviews", "Retrieval target: reviews or queries (prior questions)")

	return cmd
}
