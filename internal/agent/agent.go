// Package agent implements the question-answering loop over the review
// store. Each ask records the question, embeds it, then drives an explicit
// tool-calling conversation with the chat model: the model inspects the
// schema and issues read-only SQL (with dot_product similarity ranking)
// until it can ground a final answer in retrieved rows. SQL failures are fed
// back to the model for correction under a fixed attempt budget; exhaustion
// degrades to an honest "I don't know" rather than an invented answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/aqzhen/Revu/internal/budget"
	"github.com/aqzhen/Revu/internal/embedder"
	"github.com/aqzhen/Revu/internal/logging"
	"github.com/aqzhen/Revu/internal/store"
	"github.com/aqzhen/Revu/internal/tools"
)

// Defaults for the planning loop.
const (
	// DefaultTopK is the similarity LIMIT suggested to the model.
	DefaultTopK = 10
	// DefaultMaxSQLAttempts is the budget of failed execute_sql calls before
	// the loop gives up.
	DefaultMaxSQLAttempts = 3
	// DefaultMaxTurns bounds total model round-trips per ask.
	DefaultMaxTurns = 8
	// DefaultAskTimeout bounds one full ask, model calls included.
	DefaultAskTimeout = 30 * time.Second
)

// FallbackAnswer is returned (and persisted) when the loop cannot ground an
// answer in stored review content.
const FallbackAnswer = "I don't know. The available reviews don't contain enough information to answer that."

// PlanningError is the typed failure of the planning loop. The enclosing
// Response is still valid and persisted — callers serve the degraded answer
// and use the error for logging and metrics.
type PlanningError struct {
	// Stage names where planning failed: "embed", "model", "sql_budget", "turns".
	Stage string
	// Attempts is the number of failed SQL attempts, when Stage is "sql_budget".
	Attempts int
	// Err is the underlying cause, nil for pure budget exhaustion.
	Err error
}

// Error implements the error interface.
func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent: planning failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("agent: planning failed at %s after %d attempts", e.Stage, e.Attempts)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *PlanningError) Unwrap() error { return e.Err }

// TargetTable selects what the agent retrieves against: review content or
// previously asked questions and their answers.
type TargetTable string

const (
	// TargetReviews ranks review chunks — the default.
	TargetReviews TargetTable = "reviews"
	// TargetQueries ranks previously asked questions and their stored
	// answers, for "what have people asked" style questions.
	TargetQueries TargetTable = "queries"
)

// withDefault validates the target, mapping the zero value to TargetReviews.
func (t TargetTable) withDefault() (TargetTable, error) {
	switch t {
	case "":
		return TargetReviews, nil
	case TargetReviews, TargetQueries:
		return t, nil
	default:
		return "", fmt.Errorf("agent: unknown target table %q (valid values: reviews, queries)", t)
	}
}

// Request is one question to answer.
type Request struct {
	// Actor selects the query table: buyer questions and seller questions
	// are recorded separately.
	Actor store.Actor
	// ProductID scopes retrieval to one product.
	ProductID int64
	// UserID identifies the asker.
	UserID int64
	// Query is the natural-language question.
	Query string
	// TargetTable directs retrieval at reviews (default) or prior queries.
	TargetTable TargetTable
}

// Response is the full answer contract: the recorded question, the SQL the
// model settled on, the raw retrieval result, and the grounded answer.
type Response struct {
	// QueryID is the store-assigned id of the recorded question.
	QueryID int64
	// Prompt echoes the question as asked.
	Prompt string
	// SQLQuery is the last successfully executed retrieval query, empty if
	// none succeeded.
	SQLQuery string
	// Result is the JSON result of that query, empty if none succeeded.
	Result string
	// Output is the final answer text.
	Output string
	// Degraded marks that Output is the fallback rather than a grounded answer.
	Degraded bool
}

// Config tunes the planning loop. Zero values take the package defaults.
type Config struct {
	TopK           int
	MaxSQLAttempts int
	MaxTurns       int
	AskTimeout     time.Duration
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.MaxSQLAttempts <= 0 {
		c.MaxSQLAttempts = DefaultMaxSQLAttempts
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.AskTimeout <= 0 {
		c.AskTimeout = DefaultAskTimeout
	}
	return c
}

// Agent answers questions about a product's reviews. Safe for concurrent use.
type Agent struct {
	model    model.ToolCallingChatModel
	registry *tools.Registry
	store    *store.Store
	embedder embedder.Embedder
	cfg      Config
}

// New constructs an Agent with the tool definitions bound to the chat model
// once, up front.
func New(m model.ToolCallingChatModel, reg *tools.Registry, s *store.Store, e embedder.Embedder, cfg Config) (*Agent, error) {
	infos, err := reg.Infos(context.Background())
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	bound, err := m.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("agent: bind tools: %w", err)
	}
	return &Agent{
		model:    bound,
		registry: reg,
		store:    s,
		embedder: e,
		cfg:      cfg.withDefaults(),
	}, nil
}

// Ask answers one question. The question is recorded and embedded exactly
// once, before any planning, so it survives for analytics even when the
// answer degrades. On planning failure Ask returns BOTH a degraded Response
// (fallback answer, already persisted) and a *PlanningError; a nil Response
// means the question could not even be recorded.
func (a *Agent) Ask(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AskTimeout)
	defer cancel()
	log := logging.FromContext(ctx)

	target, err := req.TargetTable.withDefault()
	if err != nil {
		return nil, err
	}

	queryID, err := a.store.InsertQuery(ctx, req.Actor, req.ProductID, req.UserID, req.Query)
	if err != nil {
		return nil, err
	}
	resp := &Response{QueryID: queryID, Prompt: req.Query}

	vec, err := a.embedQuery(ctx, req.Query)
	if err != nil {
		return a.degrade(ctx, req, resp, &PlanningError{Stage: "embed", Err: err})
	}
	if err := a.store.UpdateQueryEmbedding(ctx, req.Actor, queryID, vec); err != nil {
		return a.degrade(ctx, req, resp, &PlanningError{Stage: "embed", Err: err})
	}

	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt(req.Actor, target, a.cfg.TopK)),
		schema.UserMessage(userPrompt(req, queryID)),
	}

	sqlAttempts := 0
	for turn := 0; turn < a.cfg.MaxTurns; turn++ {
		log.Debug("planning turn",
			"query_id", queryID,
			"turn", turn,
			"context_tokens", budget.EstimateMessages(msgs))
		out, err := a.model.Generate(ctx, msgs)
		if err != nil {
			return a.degrade(ctx, req, resp, &PlanningError{Stage: "model", Err: err})
		}
		msgs = append(msgs, out)

		if len(out.ToolCalls) == 0 {
			resp.Output = out.Content
			if resp.Output == "" {
				resp.Output = FallbackAnswer
				resp.Degraded = true
			}
			if err := a.store.UpdateQueryAnswer(ctx, req.Actor, queryID, resp.Output); err != nil {
				log.Warn("failed to persist answer", "query_id", queryID, "error", err)
			}
			log.Info("question answered",
				"query_id", queryID,
				"actor", string(req.Actor),
				"sql_attempts", sqlAttempts,
				"degraded", resp.Degraded)
			return resp, nil
		}

		for _, tc := range out.ToolCalls {
			result, err := a.registry.Invoke(ctx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				if tc.Function.Name == "execute_sql" {
					sqlAttempts++
					log.Debug("sql attempt failed",
						"query_id", queryID,
						"attempt", sqlAttempts,
						"error", err)
					if sqlAttempts >= a.cfg.MaxSQLAttempts {
						return a.degrade(ctx, req, resp, &PlanningError{Stage: "sql_budget", Attempts: sqlAttempts, Err: err})
					}
				}
				// Feed the failure back so the model can correct itself.
				msgs = append(msgs, schema.ToolMessage("error: "+err.Error(), tc.ID))
				continue
			}
			if tc.Function.Name == "execute_sql" {
				resp.SQLQuery = sqlQueryFromArgs(tc.Function.Arguments)
				resp.Result = result
				// Retrieved rows that identify reviews are backed by the
				// full bodies so the answer is grounded in complete text.
				if g := a.groundingContext(ctx, result); g != "" {
					result += "\n\n" + g
				}
			}
			msgs = append(msgs, schema.ToolMessage(result, tc.ID))
		}
	}

	return a.degrade(ctx, req, resp, &PlanningError{Stage: "turns", Attempts: a.cfg.MaxTurns})
}

// embedQuery embeds the question, retrying once on a transient service
// failure.
func (a *Agent) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := embedder.EmbedOne(ctx, a.embedder, query)
	if err != nil && embedder.IsServiceError(err) && ctx.Err() == nil {
		vec, err = embedder.EmbedOne(ctx, a.embedder, query)
	}
	return vec, err
}

// degrade persists the fallback answer and returns the degraded response
// alongside the planning error.
func (a *Agent) degrade(ctx context.Context, req *Request, resp *Response, perr *PlanningError) (*Response, error) {
	resp.Output = FallbackAnswer
	resp.Degraded = true
	// Persist with a fresh context: the ask deadline may already be the
	// reason we are degrading.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.UpdateQueryAnswer(pctx, req.Actor, resp.QueryID, resp.Output); err != nil {
		logging.FromContext(ctx).Warn("failed to persist fallback answer",
			"query_id", resp.QueryID, "error", err)
	}
	logging.FromContext(ctx).Warn("ask degraded",
		"query_id", resp.QueryID,
		"stage", perr.Stage,
		"error", perr.Err)
	return resp, perr
}

// IsPlanningError reports whether err is (or wraps) a PlanningError.
func IsPlanningError(err error) bool {
	var pe *PlanningError
	return errors.As(err, &pe)
}

// sqlQueryFromArgs extracts the query string from execute_sql arguments,
// best effort.
func sqlQueryFromArgs(argumentsJSON string) string {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return ""
	}
	return args.Query
}
