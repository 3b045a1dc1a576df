// Package insights aggregates recorded buyer questions into categorized,
// seller-facing intelligence. Questions are partitioned into two cohorts by
// the purchase join — window shoppers (queried, never bought) and purchasing
// customers — and a model call groups each cohort's questions into themed
// categories with summaries and suggested actions. The model's JSON output
// is extracted, validated, and repaired before anything reaches a caller.
package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/aqzhen/Revu/internal/budget"
	"github.com/aqzhen/Revu/internal/catalog"
	"github.com/aqzhen/Revu/internal/logging"
	"github.com/aqzhen/Revu/internal/store"
)

// Cohort selects which slice of buyer questions to analyze.
type Cohort string

const (
	// CohortWindowShoppers covers users who asked about the product but
	// have no recorded purchase.
	CohortWindowShoppers Cohort = "window_shoppers"
	// CohortPurchasers covers users who asked and then bought.
	CohortPurchasers Cohort = "purchasers"
)

// purchased maps the cohort onto the purchases.purchased flag.
func (c Cohort) purchased() (bool, error) {
	switch c {
	case CohortWindowShoppers:
		return false, nil
	case CohortPurchasers:
		return true, nil
	default:
		return false, fmt.Errorf("insights: unknown cohort %q (valid values: window_shoppers, purchasers)", c)
	}
}

// ErrNoData means the cohort has no recorded questions for the product.
// Callers map it to an empty result rather than a failure.
var ErrNoData = errors.New("insights: no recorded queries for cohort")

// UncategorizedName is the bucket for questions the model failed to assign.
// Every input question appears in exactly one category, this one included,
// so counts across categories always reconcile with the input.
const UncategorizedName = "UNCATEGORIZED"

// QueryRef identifies one recorded question inside a category. The ids come
// from the store, not the model: model output carries question text only and
// is matched back to the input rows.
type QueryRef struct {
	UserID  int64  `json:"userId"`
	QueryID int64  `json:"queryId"`
	Query   string `json:"query"`
}

// Category is one theme of buyer questions.
type Category struct {
	// Category is the theme name (e.g. "Sizing & Fit").
	Category string `json:"category"`
	// Queries are the recorded questions assigned to this theme.
	Queries []QueryRef `json:"queries"`
	// Summary describes what buyers in this theme want to know.
	Summary string `json:"summary"`
	// Suggestions are actions the seller could take.
	Suggestions []string `json:"suggestions"`
}

// Insights is the full analysis for one product and cohort.
type Insights struct {
	ProductID int64  `json:"product_id"`
	Cohort    Cohort `json:"cohort"`
	// QueryCount is the number of questions analyzed.
	QueryCount int        `json:"query_count"`
	Categories []Category `json:"categories"`
	// Summary and Suggestions roll the per-category fields up across the
	// whole cohort. They are derived deterministically, not by a second
	// model call.
	Summary     string   `json:"summary"`
	Suggestions []string `json:"suggestions"`
}

// Config tunes the insights engine. Zero values take defaults.
type Config struct {
	// MaxCategories caps the number of model-produced categories (default 5).
	// Overflow folds into the UNCATEGORIZED bucket.
	MaxCategories int
	// MaxContextTokens bounds the question list fed to the model.
	MaxContextTokens int
	// Timeout bounds one Compute call (default 60s).
	Timeout time.Duration
	// Catalog, when set, supplies the product description for the
	// categorization prompt.
	Catalog catalog.Catalog
}

func (c Config) withDefaults() Config {
	if c.MaxCategories <= 0 {
		c.MaxCategories = 5
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Engine computes insights. Safe for concurrent use.
type Engine struct {
	model model.BaseChatModel
	store *store.Store
	cfg   Config
}

// NewEngine constructs an insights Engine.
func NewEngine(m model.BaseChatModel, s *store.Store, cfg Config) *Engine {
	return &Engine{model: m, store: s, cfg: cfg.withDefaults()}
}

// Compute analyzes one product's questions for one cohort. Returns ErrNoData
// when the cohort is empty.
func (e *Engine) Compute(ctx context.Context, productID int64, cohort Cohort) (*Insights, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	log := logging.FromContext(ctx)

	purchased, err := cohort.purchased()
	if err != nil {
		return nil, err
	}
	queries, err := e.store.CohortQueries(ctx, productID, purchased)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, ErrNoData
	}

	lines := make([]string, 0, len(queries))
	for _, q := range queries {
		lines = append(lines, q.Query)
	}
	sys := categorizePrompt(cohort, e.cfg.MaxCategories, e.productDescription(ctx, productID))
	lines = budget.TrimLines(lines, budget.Estimate(sys), e.cfg.MaxContextTokens)
	if len(lines) == 0 {
		return nil, ErrNoData
	}
	// TrimLines drops oldest-first, so the surviving lines are the suffix of
	// the query rows.
	kept := queries[len(queries)-len(lines):]
	if len(kept) < len(queries) {
		log.Warn("insights input trimmed",
			"product_id", productID,
			"kept", len(kept),
			"dropped", len(queries)-len(kept))
	}

	user := strings.Join(lines, "\n")
	if purchased {
		// Purchasers own the product, so what reviewers since wrote is
		// relevant context for what these buyers were asking about.
		used := budget.Estimate(sys) + budget.Estimate(user)
		if reviews := e.reviewContext(ctx, productID, used); reviews != "" {
			user += "\n\nRecent reviews of the product, for context only:\n" + reviews
		}
	}

	msgs := []*schema.Message{
		schema.SystemMessage(sys),
		schema.UserMessage(user),
	}
	out, err := e.model.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("insights: categorize call: %w", err)
	}

	categories, err := parseCategories(out.Content, kept, e.cfg.MaxCategories)
	if err != nil {
		return nil, err
	}

	ins := &Insights{
		ProductID:  productID,
		Cohort:     cohort,
		QueryCount: len(kept),
		Categories: categories,
	}
	ins.Summary, ins.Suggestions = rollUp(categories)

	log.Info("insights computed",
		"product_id", productID,
		"cohort", string(cohort),
		"queries", ins.QueryCount,
		"categories", len(categories))
	return ins, nil
}

// productDescription looks the product up in the catalog, best effort. An
// unknown product or missing catalog just means the prompt goes without a
// description.
func (e *Engine) productDescription(ctx context.Context, productID int64) string {
	if e.cfg.Catalog == nil {
		return ""
	}
	p, err := e.cfg.Catalog.Product(ctx, productID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			logging.FromContext(ctx).Warn("insights catalog lookup failed",
				"product_id", productID, "error", err)
		}
		return ""
	}
	return p.Description
}

// reviewContext returns the product's review lines trimmed to the token
// budget left after the questions. Best effort: a fetch failure drops the
// context rather than failing the analysis.
func (e *Engine) reviewContext(ctx context.Context, productID int64, usedTokens int) string {
	reviews, err := e.store.ReviewsByProduct(ctx, productID)
	if err != nil {
		logging.FromContext(ctx).Warn("insights review fetch failed",
			"product_id", productID, "error", err)
		return ""
	}
	lines := make([]string, 0, len(reviews))
	for _, r := range reviews {
		lines = append(lines, fmt.Sprintf("[%d/5] %s", r.Rating, r.Body))
	}
	lines = budget.TrimLines(lines, usedTokens, e.cfg.MaxContextTokens)
	return strings.Join(lines, "\n")
}

// rollUp derives the cohort-wide summary and suggestion list from the
// per-category fields. Suggestions are deduplicated preserving first
// occurrence; the UNCATEGORIZED bucket contributes nothing.
func rollUp(categories []Category) (string, []string) {
	var parts []string
	var suggestions []string
	seen := make(map[string]bool)
	for _, c := range categories {
		if c.Category == UncategorizedName {
			continue
		}
		if c.Summary != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", c.Category, c.Summary))
		}
		for _, sug := range c.Suggestions {
			if sug == "" || seen[sug] {
				continue
			}
			seen[sug] = true
			suggestions = append(suggestions, sug)
		}
	}
	return strings.Join(parts, " "), suggestions
}

// categorizePrompt builds the system prompt for the categorization call.
func categorizePrompt(cohort Cohort, maxCategories int, description string) string {
	audience := "customers who asked about this product but have not purchased it"
	if cohort == CohortPurchasers {
		audience = "customers who asked about this product and went on to purchase it"
	}
	sys := fmt.Sprintf(`You are analyzing questions asked by %s.

The user message lists the questions, one per line, possibly followed by recent product reviews for context. Group ONLY the questions into 1 to %d thematic categories. Respond with ONLY a JSON array, no prose, where each element has exactly these fields:

  {
    "category": "short theme name",
    "queries": ["each question assigned to this theme, verbatim"],
    "summary": "one or two sentences describing what these buyers want to know",
    "suggestions": ["concrete actions the seller could take"]
  }

Every input question must appear in exactly one category's queries array, copied verbatim.`, audience, maxCategories)
	if description != "" {
		sys += "\n\nProduct description, for context:\n" + description
	}
	return sys
}
