package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/aqzhen/Revu/internal/agent"
	"github.com/aqzhen/Revu/internal/embedder"
	"github.com/aqzhen/Revu/internal/ingestion"
	"github.com/aqzhen/Revu/internal/insights"
	"github.com/aqzhen/Revu/internal/logging"
	"github.com/aqzhen/Revu/internal/provider"
	"github.com/aqzhen/Revu/internal/server"
	"github.com/aqzhen/Revu/internal/tools"
	"github.com/aqzhen/Revu/internal/tracing"
)

// NewServeCmd constructs the `revu serve` command, which starts the HTTP
// server exposing ingestion, question answering, and insights.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Revu HTTP server",
		Long: `Start the Revu HTTP server on localhost.

The server exposes a REST API for review ingestion, buyer and seller
question answering, purchase tracking, and cohort insights.

Examples:
  revu serve
  revu serve --port 9090
  MODEL_PROVIDER=openai revu serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing is opt-in, a no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()

			registry := tools.NewRegistry(
				tools.NewExecuteSQLTool(st, 0),
				tools.NewListTablesTool(st),
			)

			revuAgent, err := agent.New(chatModel, registry, st, emb, agent.Config{
				TopK:           envInt("AGENT_TOP_K", 0),
				MaxSQLAttempts: envInt("AGENT_MAX_SQL_ATTEMPTS", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise agent: %w", err)
			}

			cat, err := loadCatalog(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			engine := insights.NewEngine(chatModel, st, insights.Config{
				MaxCategories: envInt("INSIGHTS_MAX_CATEGORIES", 0),
				Catalog:       cat,
			})

			pipeline := ingestion.New(st, emb, ingestion.Config{
				ChunkSize:    envInt("CHUNK_SIZE", 0),
				ChunkOverlap: envInt("CHUNK_OVERLAP", 0),
			})

			fetcher, err := buildFetcher()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if fetcher == nil {
				log.Info("review feed disabled", slog.String("reason", "JUDGE_API_TOKEN or SHOP_DOMAIN not set"))
			}

			backend := os.Getenv("MODEL_PROVIDER")
			if backend == "" {
				backend = "ollama"
			}

			deps := server.Deps{
				Asker:     revuAgent,
				Ingester:  pipeline,
				Insighter: engine,
				Store:     st,
				Catalog:   cat,
			}
			if fetcher != nil {
				deps.Fetcher = fetcher
			}

			srv, err := server.New(deps, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					&server.StorePinger{Store: st},
					&server.LLMPinger{Model: chatModel, Backend: backend},
				},
				APIKey: os.Getenv("REVU_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
