// Package commands defines all Cobra CLI commands for the revu binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aqzhen/Revu/internal/audit"
	"github.com/aqzhen/Revu/internal/config"
	"github.com/aqzhen/Revu/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "revu",
		Short: "Revu — answer product questions from what reviewers actually said",
		Long: `Revu is a review question-answering service for online stores.

It ingests product reviews, embeds them for semantic retrieval, and answers
buyer and seller questions with a SQL-planning agent that grounds every
answer in the reviews on record. Recorded questions feed cohort insights
that tell sellers what shoppers want to know before they buy.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.revu/config.yaml).
See 'revu --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A local .env is a development convenience; absence is not an error.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.revu/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewIngestCmd(),
		NewInsightsCmd(),
		NewReviewPromptsCmd(),
		NewServeCmd(),
		NewInitDBCmd(),
		NewVersionCmd(),
	)

	return root
}
