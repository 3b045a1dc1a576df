package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/aqzhen/Revu/internal/agent"
	"github.com/aqzhen/Revu/internal/catalog"
	"github.com/aqzhen/Revu/internal/embedder"
	"github.com/aqzhen/Revu/internal/ingestion"
	"github.com/aqzhen/Revu/internal/insights"
	"github.com/aqzhen/Revu/internal/logging"
	"github.com/aqzhen/Revu/internal/provider"
	"github.com/aqzhen/Revu/internal/reviewapi"
	"github.com/aqzhen/Revu/internal/store"
	"github.com/aqzhen/Revu/internal/tools"
)

// openStore opens the SQLite store. REVU_DB_PATH overrides the default
// location (~/.revu/revu.db).
func openStore(log *slog.Logger) (*store.Store, error) {
	path := os.Getenv("REVU_DB_PATH")
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info("store opened", slog.String("path", path))
	return s, nil
}

// buildAgent wires the chat model, embedder, and SQL tools into a planning
// agent over the given store.
func buildAgent(ctx context.Context, s *store.Store) (*agent.Agent, error) {
	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise model provider: %w", err)
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}

	registry := tools.NewRegistry(
		tools.NewExecuteSQLTool(s, 0),
		tools.NewListTablesTool(s),
	)

	return agent.New(chatModel, registry, s, emb, agent.Config{
		TopK:           envInt("AGENT_TOP_K", 0),
		MaxSQLAttempts: envInt("AGENT_MAX_SQL_ATTEMPTS", 0),
	})
}

// buildInsightsEngine wires the chat model and catalog into an insights
// engine over the given store.
func buildInsightsEngine(ctx context.Context, s *store.Store) (*insights.Engine, error) {
	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise model provider: %w", err)
	}
	cat, err := loadCatalog(logging.FromContext(ctx))
	if err != nil {
		return nil, err
	}
	return insights.NewEngine(chatModel, s, insights.Config{
		MaxCategories: envInt("INSIGHTS_MAX_CATEGORIES", 0),
		Catalog:       cat,
	}), nil
}

// buildPipeline wires the embedder into an ingestion pipeline over the given
// store. CHUNK_SIZE and CHUNK_OVERLAP tune the splitter.
func buildPipeline(s *store.Store) (*ingestion.Pipeline, error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}
	return ingestion.New(s, emb, ingestion.Config{
		ChunkSize:    envInt("CHUNK_SIZE", 0),
		ChunkOverlap: envInt("CHUNK_OVERLAP", 0),
	}), nil
}

// buildFetcher constructs the review platform client from JUDGE_API_TOKEN
// and SHOP_DOMAIN. Returns (nil, nil) when the feed is not configured.
func buildFetcher() (*reviewapi.Client, error) {
	token := os.Getenv("JUDGE_API_TOKEN")
	domain := os.Getenv("SHOP_DOMAIN")
	if token == "" || domain == "" {
		return nil, nil
	}
	c, err := reviewapi.NewClient(reviewapi.Config{
		APIToken:   token,
		ShopDomain: domain,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise review feed: %w", err)
	}
	return c, nil
}

// loadCatalog loads the product catalog from CATALOG_PATH. When unset, an
// empty static catalog is used so the server still starts.
func loadCatalog(log *slog.Logger) (catalog.Catalog, error) {
	path := os.Getenv("CATALOG_PATH")
	if path == "" {
		log.Info("catalog: CATALOG_PATH not set, serving empty catalog")
		return catalog.NewStatic(nil), nil
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

// envInt reads an integer environment variable, returning fallback when the
// variable is unset or not a number.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
