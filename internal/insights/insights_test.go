package insights

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/aqzhen/Revu/internal/catalog"
	"github.com/aqzhen/Revu/internal/store"
)

// cannedModel returns a fixed response (or error) for every Generate call.
type cannedModel struct {
	content string
	err     error
	calls   int
	lastIn  []*schema.Message
}

func (m *cannedModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	m.lastIn = in
	if m.err != nil {
		return nil, m.err
	}
	return &schema.Message{Role: schema.Assistant, Content: m.content}, nil
}

func (m *cannedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("canned model: streaming not supported")
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedCohorts records questions from a purchaser (user 1) and a window
// shopper (user 2) against product 10.
func seedCohorts(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	for userID, question := range map[int64]string{
		1: "does it run small?",
		2: "is it machine washable?",
	} {
		if _, err := s.InsertQuery(ctx, store.ActorBuyer, 10, userID, question); err != nil {
			t.Fatalf("InsertQuery() error = %v", err)
		}
	}
	if err := s.UpsertPurchase(ctx, 1, 10, true); err != nil {
		t.Fatalf("UpsertPurchase() error = %v", err)
	}
	if err := s.UpsertPurchase(ctx, 2, 10, false); err != nil {
		t.Fatalf("UpsertPurchase() error = %v", err)
	}
}

func TestCompute_CategorizesCohort(t *testing.T) {
	s := newTestStore(t)
	seedCohorts(t, s)

	m := &cannedModel{content: `Here are the themes:
[
  {
    "category": "Sizing & Fit",
    "queries": ["does it run small?"],
    "summary": "Buyers are unsure about sizing.",
    "suggestions": ["Add a size chart"]
  }
]`}
	e := NewEngine(m, s, Config{})

	ins, err := e.Compute(context.Background(), 10, CohortPurchasers)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if ins.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (purchaser cohort only)", ins.QueryCount)
	}
	if len(ins.Categories) != 1 || ins.Categories[0].Category != "Sizing & Fit" {
		t.Fatalf("Categories = %+v", ins.Categories)
	}
	if !strings.Contains(ins.Summary, "unsure about sizing") {
		t.Errorf("Summary = %q, want rollup of category summaries", ins.Summary)
	}
	if len(ins.Suggestions) != 1 || ins.Suggestions[0] != "Add a size chart" {
		t.Errorf("Suggestions = %v", ins.Suggestions)
	}

	// The window shopper's question never reaches the purchaser analysis.
	sent := m.lastIn[len(m.lastIn)-1].Content
	if strings.Contains(sent, "machine washable") {
		t.Errorf("purchaser prompt contains window-shopper question: %q", sent)
	}
}

func TestCompute_PurchaserCohortSeesReviews(t *testing.T) {
	s := newTestStore(t)
	seedCohorts(t, s)
	if _, err := s.InsertReview(context.Background(), &store.Review{
		ReviewID:  1,
		ProductID: 10,
		Rating:    4,
		Body:      "Runs a little small but great quality.",
	}); err != nil {
		t.Fatalf("InsertReview() error = %v", err)
	}

	m := &cannedModel{content: `[{"category":"Sizing","queries":["does it run small?"],"summary":"s","suggestions":[]}]`}
	e := NewEngine(m, s, Config{})

	if _, err := e.Compute(context.Background(), 10, CohortPurchasers); err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	sent := m.lastIn[len(m.lastIn)-1].Content
	if !strings.Contains(sent, "Runs a little small") {
		t.Errorf("purchaser prompt missing review context: %q", sent)
	}

	// Window shoppers have not bought; their analysis stays question-only.
	m2 := &cannedModel{content: `[{"category":"Care","queries":["is it machine washable?"],"summary":"s","suggestions":[]}]`}
	e2 := NewEngine(m2, s, Config{})
	if _, err := e2.Compute(context.Background(), 10, CohortWindowShoppers); err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	sent2 := m2.lastIn[len(m2.lastIn)-1].Content
	if strings.Contains(sent2, "Runs a little small") {
		t.Errorf("window-shopper prompt should not carry reviews: %q", sent2)
	}
}

func TestCompute_IncludesProductDescription(t *testing.T) {
	s := newTestStore(t)
	seedCohorts(t, s)
	cat := catalog.NewStatic([]catalog.Product{
		{ID: 10, Title: "Trail Jacket", Description: "Lightweight waterproof shell."},
	})

	m := &cannedModel{content: `[{"category":"Sizing","queries":["does it run small?"],"summary":"s","suggestions":[]}]`}
	e := NewEngine(m, s, Config{Catalog: cat})

	if _, err := e.Compute(context.Background(), 10, CohortPurchasers); err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	sys := m.lastIn[0].Content
	if !strings.Contains(sys, "Lightweight waterproof shell.") {
		t.Errorf("system prompt missing product description: %q", sys)
	}

	// An unknown product just goes without the description.
	m2 := &cannedModel{content: `[{"category":"Care","queries":["is it machine washable?"],"summary":"s","suggestions":[]}]`}
	e2 := NewEngine(m2, s, Config{Catalog: cat})
	if _, err := s.InsertQuery(context.Background(), store.ActorBuyer, 77, 2, "any sizes left?"); err != nil {
		t.Fatalf("InsertQuery() error = %v", err)
	}
	if err := s.UpsertPurchase(context.Background(), 2, 77, false); err != nil {
		t.Fatalf("UpsertPurchase() error = %v", err)
	}
	if _, err := e2.Compute(context.Background(), 77, CohortWindowShoppers); err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if strings.Contains(m2.lastIn[0].Content, "Product description") {
		t.Errorf("unknown product should not add a description section")
	}
}

func TestCompute_NoData(t *testing.T) {
	s := newTestStore(t)
	m := &cannedModel{content: "[]"}
	e := NewEngine(m, s, Config{})

	_, err := e.Compute(context.Background(), 99, CohortWindowShoppers)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("error = %v, want ErrNoData", err)
	}
	if m.calls != 0 {
		t.Errorf("model calls = %d, want 0 when cohort is empty", m.calls)
	}
}

func TestCompute_UnknownCohort(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(&cannedModel{}, s, Config{})

	_, err := e.Compute(context.Background(), 10, Cohort("everyone"))
	if err == nil {
		t.Fatal("unknown cohort: error = nil, want error")
	}
}

func TestCompute_ParseErrorCarriesRaw(t *testing.T) {
	s := newTestStore(t)
	seedCohorts(t, s)

	m := &cannedModel{content: "I could not group these questions, sorry."}
	e := NewEngine(m, s, Config{})

	_, err := e.Compute(context.Background(), 10, CohortPurchasers)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if perr.Raw != m.content {
		t.Errorf("Raw = %q, want original model output", perr.Raw)
	}
}

func TestParseCategories_Repair(t *testing.T) {
	input := []store.Query{
		{QueryID: 1, UserID: 11, Query: "q1"},
		{QueryID: 2, UserID: 12, Query: "q2"},
		{QueryID: 3, UserID: 13, Query: "q3"},
	}

	t.Run("unassigned questions land in UNCATEGORIZED", func(t *testing.T) {
		raw := `[{"category": "A", "queries": ["q1"], "summary": "s", "suggestions": []}]`
		cats, err := parseCategories(raw, input, 5)
		if err != nil {
			t.Fatalf("parseCategories() error = %v", err)
		}
		if len(cats) != 2 || cats[1].Category != UncategorizedName {
			t.Fatalf("categories = %+v, want A + UNCATEGORIZED", cats)
		}
		if len(cats[1].Queries) != 2 {
			t.Errorf("UNCATEGORIZED queries = %v, want q2 and q3", cats[1].Queries)
		}
	})

	t.Run("invented and duplicate questions are dropped", func(t *testing.T) {
		raw := `[
		  {"category": "A", "queries": ["q1", "made-up question"], "summary": "s", "suggestions": []},
		  {"category": "B", "queries": ["q1", "q2", "q3"], "summary": "s", "suggestions": []}
		]`
		cats, err := parseCategories(raw, input, 5)
		if err != nil {
			t.Fatalf("parseCategories() error = %v", err)
		}
		total := 0
		seen := map[int64]int{}
		for _, c := range cats {
			total += len(c.Queries)
			for _, q := range c.Queries {
				seen[q.QueryID]++
			}
		}
		if total != len(input) {
			t.Errorf("total assigned = %d, want %d (each input row exactly once)", total, len(input))
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("query id %d assigned %d times", id, n)
			}
		}
	})

	t.Run("identical text from two users stays two entries", func(t *testing.T) {
		dup := []store.Query{
			{QueryID: 1, UserID: 1, Query: "does it run small?"},
			{QueryID: 2, UserID: 2, Query: "does it run small?"},
		}
		raw := `[{"category": "Sizing", "queries": ["does it run small?"], "summary": "s", "suggestions": []}]`
		cats, err := parseCategories(raw, dup, 5)
		if err != nil {
			t.Fatalf("parseCategories() error = %v", err)
		}
		total := 0
		seen := map[int64]int{}
		for _, c := range cats {
			total += len(c.Queries)
			for _, q := range c.Queries {
				seen[q.QueryID]++
			}
		}
		if total != 2 || seen[1] != 1 || seen[2] != 1 {
			t.Errorf("assigned %d entries (ids %v), want both query ids exactly once", total, seen)
		}
		if got := cats[0].Queries[0]; got.QueryID != 1 || got.UserID != 1 {
			t.Errorf("first mention = %+v, want the lowest unconsumed query id", got)
		}
	})

	t.Run("overflow categories fold into UNCATEGORIZED", func(t *testing.T) {
		raw := `[
		  {"category": "A", "queries": ["q1"], "summary": "s", "suggestions": []},
		  {"category": "B", "queries": ["q2"], "summary": "s", "suggestions": []},
		  {"category": "C", "queries": ["q3"], "summary": "s", "suggestions": []}
		]`
		cats, err := parseCategories(raw, input, 2)
		if err != nil {
			t.Fatalf("parseCategories() error = %v", err)
		}
		if len(cats) != 3 {
			t.Fatalf("categories = %+v, want A, B, UNCATEGORIZED", cats)
		}
		last := cats[len(cats)-1]
		if last.Category != UncategorizedName || len(last.Queries) != 1 || last.Queries[0].Query != "q3" {
			t.Errorf("overflow bucket = %+v, want q3 in UNCATEGORIZED", last)
		}
		if last.Queries[0].QueryID != 3 || last.Queries[0].UserID != 13 {
			t.Errorf("overflow ref = %+v, want ids from the input row", last.Queries[0])
		}
	})

	t.Run("nothing valid is a parse error", func(t *testing.T) {
		raw := `[{"category": "", "queries": [], "summary": "", "suggestions": []}]`
		_, err := parseCategories(raw, input, 5)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("error = %v, want *ParseError", err)
		}
	})
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"bare array", `[1,2]`, `[1,2]`, false},
		{"markdown fence", "```json\n[1,2]\n```", `[1,2]`, false},
		{"surrounding prose", `Sure! Here you go: [1,2] hope that helps`, `[1,2]`, false},
		{"no array", `{"a": 1}`, "", true},
		{"empty", ``, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONArray(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReviewPrompts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertQuery(ctx, store.ActorBuyer, 10, 5, "does it run small?"); err != nil {
		t.Fatalf("InsertQuery() error = %v", err)
	}

	m := &cannedModel{content: `["How did the sizing work out for you?", "Was it comfortable?", "Would you buy again?", "extra"]`}
	e := NewEngine(m, s, Config{})

	prompts, err := e.ReviewPrompts(ctx, 5)
	if err != nil {
		t.Fatalf("ReviewPrompts() error = %v", err)
	}
	if len(prompts) != 3 {
		t.Errorf("got %d prompts, want 3 (capped)", len(prompts))
	}

	// The instructions pin the three question types.
	sys := m.lastIn[0].Content
	for _, want := range []string{"rating from 1 to 5", "yes/no question", "open-ended question"} {
		if !strings.Contains(sys, want) {
			t.Errorf("review prompt instructions missing %q:\n%s", want, sys)
		}
	}
}

func TestReviewPrompts_NoData(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(&cannedModel{}, s, Config{})

	_, err := e.ReviewPrompts(context.Background(), 404)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("error = %v, want ErrNoData", err)
	}
}
