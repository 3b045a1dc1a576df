package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aqzhen/Revu/internal/agent"
	"github.com/aqzhen/Revu/internal/catalog"
	"github.com/aqzhen/Revu/internal/ingestion"
	"github.com/aqzhen/Revu/internal/insights"
	"github.com/aqzhen/Revu/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Must be
	// long enough for the agent's planning loop.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives all server metrics and backs GET /metrics.
	// If nil a fresh registry is created.
	Registry *prometheus.Registry
}

// asker is the interface handleAsk calls to answer a question.
// *agent.Agent satisfies it; tests inject a fake.
type asker interface {
	Ask(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

// ingester is the interface handleIngest calls to store a review batch.
// *ingestion.Pipeline satisfies it.
type ingester interface {
	Ingest(ctx context.Context, reviews []store.Review) (*ingestion.Report, error)
}

// insighter is the interface the insights handlers call.
// *insights.Engine satisfies it.
type insighter interface {
	Compute(ctx context.Context, productID int64, cohort insights.Cohort) (*insights.Insights, error)
	ReviewPrompts(ctx context.Context, userID int64) ([]string, error)
}

// reviewFetcher pulls reviews from the external review platform.
// *reviewapi.Client satisfies it; nil disables feed-backed ingestion.
type reviewFetcher interface {
	FetchProductReviews(ctx context.Context, productID int64) ([]store.Review, error)
}

// Deps bundles the collaborators the server exposes over HTTP.
type Deps struct {
	// Asker answers questions (required).
	Asker asker
	// Ingester stores review batches (required).
	Ingester ingester
	// Insighter computes cohort insights and review prompts (required).
	Insighter insighter
	// Store is used for purchase upserts and readiness (required).
	Store *store.Store
	// Catalog lists products (required).
	Catalog catalog.Catalog
	// Fetcher pulls reviews from the review platform (optional).
	Fetcher reviewFetcher
}

// Server is the HTTP server that exposes the review question-answering
// service.
type Server struct {
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// metrics holds the Prometheus instruments owned by this instance.
	metrics *serverMetrics
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Actor is "buyer" (default) or "seller".
	Actor string `json:"actor,omitempty"`
	// ProductID scopes the question to one product.
	ProductID int64 `json:"product_id"`
	// UserID identifies the asker.
	UserID int64 `json:"user_id"`
	// Query is the natural-language question.
	Query string `json:"query"`
	// TargetTable directs retrieval: "reviews" (default) or "queries".
	TargetTable string `json:"target_table,omitempty"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	QueryID  int64  `json:"query_id"`
	Prompt   string `json:"prompt"`
	SQLQuery string `json:"sql_query,omitempty"`
	Result   string `json:"result,omitempty"`
	Output   string `json:"output"`
	Degraded bool   `json:"degraded,omitempty"`
}

// ingestRequest is the JSON body for POST /api/ingest. When Reviews is empty
// the server pulls the product's reviews from the review platform instead.
type ingestRequest struct {
	ProductID int64          `json:"product_id"`
	Reviews   []ingestReview `json:"reviews,omitempty"`
}

// ingestReview is one inline review in an ingest request.
type ingestReview struct {
	ReviewID           int64  `json:"review_id"`
	ReviewerName       string `json:"reviewer_name"`
	ReviewerExternalID int64  `json:"reviewer_external_id"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
	Verified           string `json:"verified"`
	Rating             int    `json:"rating"`
	Title              string `json:"title"`
	Body               string `json:"body"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	Succeeded      int             `json:"succeeded"`
	Skipped        int             `json:"skipped"`
	ChunksEmbedded int             `json:"chunks_embedded"`
	Failed         []ingestFailure `json:"failed,omitempty"`
}

// ingestFailure is one failed review in an ingest response.
type ingestFailure struct {
	ReviewID int64  `json:"review_id"`
	Error    string `json:"error"`
}

// purchaseRequest is the JSON body for POST /api/purchases.
type purchaseRequest struct {
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
	Purchased bool  `json:"purchased"`
}

// reviewPromptsResponse is the JSON response for GET /api/review-prompts.
type reviewPromptsResponse struct {
	UserID  int64    `json:"user_id"`
	Prompts []string `json:"prompts"`
}
