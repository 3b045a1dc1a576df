// Package server implements the HTTP server that exposes review ingestion,
// question answering, and seller insights over a REST API.
// The server is started by the `revu serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aqzhen/Revu/internal/agent"
	"github.com/aqzhen/Revu/internal/insights"
	"github.com/aqzhen/Revu/internal/logging"
	"github.com/aqzhen/Revu/internal/store"
)

// New constructs a Server from the provided dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Asker == nil || deps.Ingester == nil || deps.Insighter == nil || deps.Store == nil || deps.Catalog == nil {
		return nil, fmt.Errorf("server: asker, ingester, insighter, store, and catalog are all required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover the agent's full planning loop.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: newServerMetrics(cfg.Registry),
		pingers: cfg.Pingers,
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		cfg.Logger.Warn("server: REVU_API_KEY not set — API authentication is disabled")
	}

	// Model-backed endpoints get both auth and per-IP rate limiting;
	// health, readiness, and metrics stay open for probes and scrapers.
	protect := func(name string, h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", protect("ask", s.handleAsk))
	mux.Handle("POST /api/ingest", protect("ingest", s.handleIngest))
	mux.Handle("POST /api/purchases", protect("purchases", s.handlePurchase))
	mux.Handle("GET /api/insights", protect("insights", s.handleInsights))
	mux.Handle("GET /api/review-prompts", protect("review_prompts", s.handleReviewPrompts))
	mux.Handle("GET /api/products", protect("products", s.handleProducts))
	mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.instrument("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Handler exposes the full middleware-wrapped handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// instrument wraps a handler with per-endpoint request count and latency
// metrics, keyed by the logical handler name rather than the raw path.
func (s *Server) instrument(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}

// handleAsk handles POST /api/ask. A degraded answer (planning failed, the
// fallback was persisted) is still a 200 — the caller gets an honest answer
// either way, and the outcome label records the degradation.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.ProductID == 0 {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}
	actor := store.Actor(req.Actor)
	if actor == "" {
		actor = store.ActorBuyer
	}
	target := agent.TargetTable(req.TargetTable)
	switch target {
	case "", agent.TargetReviews, agent.TargetQueries:
	default:
		http.Error(w, "target_table must be reviews or queries", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp, err := s.deps.Asker.Ask(r.Context(), &agent.Request{
		Actor:       actor,
		ProductID:   req.ProductID,
		UserID:      req.UserID,
		Query:       req.Query,
		TargetTable: target,
	})
	outcome := "ok"
	switch {
	case err != nil && resp == nil:
		outcome = "error"
	case err != nil:
		outcome = "degraded"
	}
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if resp == nil {
		logging.FromContext(r.Context()).Error("ask failed", slog.Any("error", err))
		http.Error(w, "failed to record question", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		QueryID:  resp.QueryID,
		Prompt:   resp.Prompt,
		SQLQuery: resp.SQLQuery,
		Result:   resp.Result,
		Output:   resp.Output,
		Degraded: resp.Degraded,
	})
}

// handleIngest handles POST /api/ingest. Inline reviews are ingested
// directly; an empty review list triggers a pull from the review platform.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProductID == 0 {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	var reviews []store.Review
	if len(req.Reviews) > 0 {
		reviews = make([]store.Review, 0, len(req.Reviews))
		for _, in := range req.Reviews {
			created := parseReviewTime(r.Context(), in.ReviewID, "created_at", in.CreatedAt)
			updated := parseReviewTime(r.Context(), in.ReviewID, "updated_at", in.UpdatedAt)
			reviews = append(reviews, store.Review{
				ReviewID:           in.ReviewID,
				ProductID:          req.ProductID,
				ReviewerName:       in.ReviewerName,
				ReviewerExternalID: in.ReviewerExternalID,
				CreatedAt:          created,
				UpdatedAt:          updated,
				Verified:           in.Verified,
				Rating:             in.Rating,
				Title:              in.Title,
				Body:               in.Body,
			})
		}
	} else {
		if s.deps.Fetcher == nil {
			http.Error(w, "reviews are required (no review feed configured)", http.StatusBadRequest)
			return
		}
		fetched, err := s.deps.Fetcher.FetchProductReviews(r.Context(), req.ProductID)
		if err != nil {
			logging.FromContext(r.Context()).Error("review feed fetch failed", slog.Any("error", err))
			http.Error(w, "review feed unavailable", http.StatusBadGateway)
			return
		}
		reviews = fetched
	}

	report, err := s.deps.Ingester.Ingest(r.Context(), reviews)
	if err != nil {
		logging.FromContext(r.Context()).Error("ingestion failed", slog.Any("error", err))
		http.Error(w, "ingestion failed", http.StatusInternalServerError)
		return
	}

	s.metrics.ingestReviewsTotal.WithLabelValues("succeeded").Add(float64(report.Succeeded - report.Skipped))
	s.metrics.ingestReviewsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	s.metrics.ingestReviewsTotal.WithLabelValues("failed").Add(float64(len(report.Failed)))

	resp := ingestResponse{
		Succeeded:      report.Succeeded,
		Skipped:        report.Skipped,
		ChunksEmbedded: report.ChunksEmbedded,
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, ingestFailure{ReviewID: f.ReviewID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePurchase handles POST /api/purchases, recording whether a user has
// purchased a product. The purchase join is what splits insight cohorts.
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == 0 || req.ProductID == 0 {
		http.Error(w, "user_id and product_id are required", http.StatusBadRequest)
		return
	}
	if err := s.deps.Store.UpsertPurchase(r.Context(), req.UserID, req.ProductID, req.Purchased); err != nil {
		logging.FromContext(r.Context()).Error("purchase upsert failed", slog.Any("error", err))
		http.Error(w, "failed to record purchase", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInsights handles GET /api/insights?product_id=N&cohort=C. An empty
// cohort is a valid outcome and returns an empty result, not an error.
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil || productID == 0 {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}
	cohort := insights.Cohort(r.URL.Query().Get("cohort"))
	if cohort == "" {
		cohort = insights.CohortWindowShoppers
	}

	ins, err := s.deps.Insighter.Compute(r.Context(), productID, cohort)
	switch {
	case errors.Is(err, insights.ErrNoData):
		s.metrics.insightsRequestsTotal.WithLabelValues("no_data").Inc()
		writeJSON(w, http.StatusOK, &insights.Insights{
			ProductID:  productID,
			Cohort:     cohort,
			Categories: []insights.Category{},
		})
		return
	case err != nil:
		s.metrics.insightsRequestsTotal.WithLabelValues("error").Inc()
		logging.FromContext(r.Context()).Error("insights failed", slog.Any("error", err))
		var perr *insights.ParseError
		if errors.As(err, &perr) {
			http.Error(w, "model produced unusable output", http.StatusBadGateway)
			return
		}
		http.Error(w, "insights computation failed", http.StatusInternalServerError)
		return
	}

	s.metrics.insightsRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, ins)
}

// handleReviewPrompts handles GET /api/review-prompts?user_id=N.
func (s *Server) handleReviewPrompts(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID == 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	prompts, err := s.deps.Insighter.ReviewPrompts(r.Context(), userID)
	switch {
	case errors.Is(err, insights.ErrNoData):
		writeJSON(w, http.StatusOK, reviewPromptsResponse{UserID: userID, Prompts: []string{}})
		return
	case err != nil:
		logging.FromContext(r.Context()).Error("review prompts failed", slog.Any("error", err))
		http.Error(w, "review prompt generation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reviewPromptsResponse{UserID: userID, Prompts: prompts})
}

// handleProducts handles GET /api/products.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.deps.Catalog.Products(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("catalog list failed", slog.Any("error", err))
		http.Error(w, "catalog unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseReviewTime parses an RFC 3339 review timestamp, falling back to the
// zero time. Malformed values are logged so bad feed data stays visible; an
// absent value is not an error.
func parseReviewTime(ctx context.Context, reviewID int64, field, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		logging.FromContext(ctx).Warn("unparseable review timestamp",
			slog.Int64("review_id", reviewID),
			slog.String("field", field),
			slog.String("value", value))
		return time.Time{}
	}
	return ts
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
