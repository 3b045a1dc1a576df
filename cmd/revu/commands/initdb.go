package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqzhen/Revu/internal/logging"
)

// NewInitDBCmd constructs the `revu init-db` command, which creates the
// database schema. With --drop it recreates the schema from scratch,
// destroying all stored reviews, embeddings, and recorded questions.
func NewInitDBCmd() *cobra.Command {
	var drop bool
	var force bool

	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create (or recreate) the database schema",
		Long: `Create the Revu database schema.

The schema is also created automatically on first use, so this command is
only needed to recreate it. --drop destroys all stored data and requires
--force to confirm.

Examples:
  revu init-db
  revu init-db --drop --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if drop && !force {
				return fmt.Errorf("init-db: --drop destroys all stored data; pass --force to confirm")
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("init-db: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := st.CreateTables(ctx, drop); err != nil {
				return fmt.Errorf("init-db: %w", err)
			}

			if drop {
				fmt.Fprintln(cmd.OutOrStdout(), "schema recreated")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&drop, "drop", false, "Drop existing tables before creating the schema")
	cmd.Flags().BoolVar(&force, "force", false, "Confirm a destructive --drop")

	return cmd
}
