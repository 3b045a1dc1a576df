package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/aqzhen/Revu/internal/embedder"
	"github.com/aqzhen/Revu/internal/ingestion"
	"github.com/aqzhen/Revu/internal/store"
	"github.com/aqzhen/Revu/internal/tools"
)

// scriptedModel replays a fixed sequence of assistant messages, one per
// Generate call.
type scriptedModel struct {
	steps []func(msgs []*schema.Message) (*schema.Message, error)
	calls int
}

func (m *scriptedModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if m.calls >= len(m.steps) {
		return nil, fmt.Errorf("scripted model: unexpected call %d", m.calls+1)
	}
	step := m.steps[m.calls]
	m.calls++
	return step(msgs)
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("scripted model: streaming not supported")
}

func (m *scriptedModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// reply returns a step producing a plain assistant answer.
func reply(content string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return &schema.Message{Role: schema.Assistant, Content: content}, nil
	}
}

// toolCall returns a step producing a single tool call.
func toolCall(id, name, args string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return &schema.Message{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{
				{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}},
			},
		}, nil
	}
}

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vec   []float32
	calls int
}

func (e *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

// failingEmbedder always fails with a service error.
type failingEmbedder struct{ calls int }

func (e *failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	e.calls++
	return nil, &embedder.ServiceError{Backend: "test", Err: errors.New("unreachable")}
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

func newTestAgent(t *testing.T, s *store.Store, m model.ToolCallingChatModel, e embedder.Embedder) *Agent {
	t.Helper()
	reg := tools.NewRegistry(tools.NewExecuteSQLTool(s, 0), tools.NewListTablesTool(s))
	a, err := New(m, reg, s, e, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func seedChunks(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	bodies := []string{"fits true to size, very comfortable", "the fabric pills after two washes"}
	for i, body := range bodies {
		if _, err := s.InsertChunk(ctx, int64(i+1), 1, body); err != nil {
			t.Fatalf("InsertChunk() error = %v", err)
		}
		if err := s.UpdateChunkEmbedding(ctx, int64(i+1), 1, []float32{1, 0}); err != nil {
			t.Fatalf("UpdateChunkEmbedding() error = %v", err)
		}
	}
}

func TestAsk_GroundedAnswer(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		toolCall("c1", "execute_sql", `{"query": "SELECT body FROM chunks ORDER BY review_id"}`),
		reply("Reviewers say it fits true to size and is comfortable."),
	}}
	a := newTestAgent(t, s, m, &fixedEmbedder{vec: []float32{1, 0}})

	resp, err := a.Ask(context.Background(), &Request{Actor: store.ActorBuyer, ProductID: 1, UserID: 42, Query: "does it run small?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Degraded {
		t.Error("Degraded = true, want false")
	}
	if resp.Output != "Reviewers say it fits true to size and is comfortable." {
		t.Errorf("Output = %q", resp.Output)
	}
	if resp.SQLQuery == "" || !strings.Contains(resp.SQLQuery, "SELECT body FROM chunks") {
		t.Errorf("SQLQuery = %q, want the executed SQL", resp.SQLQuery)
	}
	if !strings.Contains(resp.Result, "fits true to size") {
		t.Errorf("Result = %q, want retrieved chunk content", resp.Result)
	}
	if resp.Prompt != "does it run small?" {
		t.Errorf("Prompt = %q", resp.Prompt)
	}

	// The question and its answer are persisted.
	queries, err := s.QueriesByUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("QueriesByUser() error = %v", err)
	}
	if len(queries) != 1 || queries[0].QueryID != resp.QueryID {
		t.Fatalf("persisted queries = %+v", queries)
	}
	if queries[0].Answer != resp.Output {
		t.Errorf("persisted answer = %q, want %q", queries[0].Answer, resp.Output)
	}
}

func TestAsk_GroundingBodiesFetched(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)
	if _, err := s.InsertReview(context.Background(), &store.Review{
		ReviewID:  1,
		ProductID: 1,
		Rating:    5,
		Body:      "Bought this jacket in medium and the fit is spot on, even over a sweater.",
	}); err != nil {
		t.Fatalf("InsertReview() error = %v", err)
	}

	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		toolCall("c1", "execute_sql", `{"query": "SELECT review_id, chunk_number FROM chunks ORDER BY review_id"}`),
		func(msgs []*schema.Message) (*schema.Message, error) {
			// The tool message carries the full review body alongside the rows.
			last := msgs[len(msgs)-1]
			if last.Role != schema.Tool {
				return nil, fmt.Errorf("last message role = %v, want tool", last.Role)
			}
			if !strings.Contains(last.Content, "fit is spot on") {
				return nil, fmt.Errorf("tool message missing grounding body: %q", last.Content)
			}
			return &schema.Message{Role: schema.Assistant, Content: "Reviewers say the fit is spot on."}, nil
		},
	}}
	a := newTestAgent(t, s, m, &fixedEmbedder{vec: []float32{1, 0}})

	resp, err := a.Ask(context.Background(), &Request{Actor: store.ActorBuyer, ProductID: 1, UserID: 5, Query: "how is the fit?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Degraded {
		t.Error("Degraded = true, want false")
	}
	// The raw result stays row-shaped; bodies only go to the model.
	if strings.Contains(resp.Result, "fit is spot on") {
		t.Errorf("Result should not carry grounding bodies: %q", resp.Result)
	}
}

func TestAsk_TargetQueriesSteersPrompt(t *testing.T) {
	s := newTestStore(t)

	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		func(msgs []*schema.Message) (*schema.Message, error) {
			sys := msgs[0].Content
			if !strings.Contains(sys, "previously asked questions and their stored answers") {
				return nil, fmt.Errorf("system prompt not targeting prior queries: %q", sys)
			}
			if strings.Contains(sys, "Rank review chunks") {
				return nil, fmt.Errorf("system prompt still targets review chunks: %q", sys)
			}
			return &schema.Message{Role: schema.Assistant, Content: "Someone already asked about sizing; it runs true to size."}, nil
		},
	}}
	a := newTestAgent(t, s, m, &fixedEmbedder{vec: []float32{1, 0}})

	resp, err := a.Ask(context.Background(), &Request{
		Actor:       store.ActorBuyer,
		ProductID:   1,
		UserID:      6,
		Query:       "has anyone asked about sizing?",
		TargetTable: TargetQueries,
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Degraded {
		t.Error("Degraded = true, want false")
	}
}

func TestAsk_InvalidTargetTable(t *testing.T) {
	s := newTestStore(t)
	m := &scriptedModel{}
	a := newTestAgent(t, s, m, &fixedEmbedder{vec: []float32{1, 0}})

	resp, err := a.Ask(context.Background(), &Request{
		Actor:       store.ActorBuyer,
		ProductID:   1,
		UserID:      6,
		Query:       "q",
		TargetTable: TargetTable("everything"),
	})
	if err == nil || resp != nil {
		t.Fatalf("resp = %+v err = %v, want validation error before any recording", resp, err)
	}
	if m.calls != 0 {
		t.Errorf("model calls = %d, want 0", m.calls)
	}
	queries, qerr := s.QueriesByUser(context.Background(), 6)
	if qerr != nil {
		t.Fatalf("QueriesByUser() error = %v", qerr)
	}
	if len(queries) != 0 {
		t.Errorf("recorded queries = %d, want 0 for rejected target", len(queries))
	}
}

func TestAsk_IngestThenAskWithSimilaritySQL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	emb := &fixedEmbedder{vec: []float32{0.6, 0.8}}

	report, err := ingestion.New(s, emb, ingestion.Config{}).Ingest(ctx, []store.Review{{
		ReviewID:  1,
		ProductID: 1,
		Rating:    5,
		Verified:  "buyer",
		Body:      "Great for beginners, very forgiving and durable.",
	}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("Ingest() failures = %+v", report.Failed)
	}

	// The ask is recorded first, so the freshly ingested chunks can be ranked
	// against the question's own stored embedding.
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		toolCall("c1", "execute_sql", `{"query": "SELECT c.review_id, c.body, dot_product(c.chunk_embedding, (SELECT semantic_embedding FROM queries WHERE query_id = 1)) AS similarity FROM chunks c JOIN reviews r ON r.review_id = c.review_id AND r.product_id = 1 ORDER BY similarity DESC LIMIT 10"}`),
		reply("Reviewers call it forgiving and durable, a good beginner pick."),
	}}
	a := newTestAgent(t, s, m, emb)

	resp, err := a.Ask(ctx, &Request{Actor: store.ActorBuyer, ProductID: 1, UserID: 11, Query: "is it good for beginners?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Degraded {
		t.Error("Degraded = true, want false")
	}
	if !strings.Contains(resp.SQLQuery, "dot_product") {
		t.Errorf("SQLQuery = %q, want similarity ranking", resp.SQLQuery)
	}
	if !strings.Contains(resp.Result, "similarity") || !strings.Contains(resp.Result, "forgiving") {
		t.Errorf("Result = %q, want ranked chunk rows", resp.Result)
	}
}

func TestReviewIDsFromResult(t *testing.T) {
	result := `{"columns":["review_id","similarity"],"rows":[[2,0.91],[1,0.88],[2,0.6]],"row_count":3}`
	ids := reviewIDsFromResult(result)
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 1 {
		t.Errorf("ids = %v, want [2 1] deduplicated in row order", ids)
	}
	if got := reviewIDsFromResult(`{"columns":["body"],"rows":[["text"]]}`); got != nil {
		t.Errorf("ids without review_id column = %v, want nil", got)
	}
	if got := reviewIDsFromResult("not json"); got != nil {
		t.Errorf("ids for malformed result = %v, want nil", got)
	}
}

func TestAsk_SQLBudgetExhausted(t *testing.T) {
	s := newTestStore(t)

	badSQL := toolCall("c1", "execute_sql", `{"query": "SELECT nope FROM no_such_table"}`)
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){badSQL, badSQL, badSQL}}
	a := newTestAgent(t, s, m, &fixedEmbedder{vec: []float32{1, 0}})

	resp, err := a.Ask(context.Background(), &Request{Actor: store.ActorBuyer, ProductID: 1, UserID: 7, Query: "is it warm?"})
	if err == nil {
		t.Fatal("Ask() error = nil, want PlanningError")
	}
	var perr *PlanningError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *PlanningError", err)
	}
	if perr.Stage != "sql_budget" || perr.Attempts != DefaultMaxSQLAttempts {
		t.Errorf("stage = %q attempts = %d, want sql_budget and %d", perr.Stage, perr.Attempts, DefaultMaxSQLAttempts)
	}
	// Exactly three model turns: one per failed attempt, none after exhaustion.
	if m.calls != 3 {
		t.Errorf("model calls = %d, want 3", m.calls)
	}
	if resp == nil || !resp.Degraded || resp.Output != FallbackAnswer {
		t.Fatalf("resp = %+v, want degraded fallback", resp)
	}

	// The fallback answer is persisted on the recorded question.
	queries, qerr := s.QueriesByUser(context.Background(), 7)
	if qerr != nil {
		t.Fatalf("QueriesByUser() error = %v", qerr)
	}
	if len(queries) != 1 || queries[0].Answer != FallbackAnswer {
		t.Errorf("persisted = %+v, want fallback answer", queries)
	}
}

func TestAsk_SQLErrorThenRecovery(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		toolCall("c1", "execute_sql", `{"query": "SELECT body FROM chunk"}`), // wrong table
		toolCall("c2", "execute_sql", `{"query": "SELECT body FROM chunks"}`),
		reply("Based on the reviews, it fits true to size."),
	}}
	a := newTestAgent(t, s, m, &fixedEmbedder{vec: []float32{1, 0}})

	resp, err := a.Ask(context.Background(), &Request{Actor: store.ActorBuyer, ProductID: 1, UserID: 3, Query: "sizing?"})
	if err != nil {
		t.Fatalf("Ask() error = %v, want recovery on second attempt", err)
	}
	if resp.Degraded {
		t.Error("Degraded = true after successful recovery")
	}
	if resp.SQLQuery != "SELECT body FROM chunks" {
		t.Errorf("SQLQuery = %q, want corrected query", resp.SQLQuery)
	}
}

func TestAsk_ModelFailure(t *testing.T) {
	s := newTestStore(t)
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		func([]*schema.Message) (*schema.Message, error) {
			return nil, errors.New("upstream 500")
		},
	}}
	a := newTestAgent(t, s, m, &fixedEmbedder{vec: []float32{1, 0}})

	resp, err := a.Ask(context.Background(), &Request{Actor: store.ActorBuyer, ProductID: 1, UserID: 8, Query: "any complaints?"})
	var perr *PlanningError
	if !errors.As(err, &perr) || perr.Stage != "model" {
		t.Fatalf("error = %v, want model-stage PlanningError", err)
	}
	if resp == nil || !resp.Degraded {
		t.Fatalf("resp = %+v, want degraded response", resp)
	}

	// The question was recorded before planning started.
	queries, qerr := s.QueriesByUser(context.Background(), 8)
	if qerr != nil {
		t.Fatalf("QueriesByUser() error = %v", qerr)
	}
	if len(queries) != 1 {
		t.Fatalf("recorded queries = %d, want 1", len(queries))
	}
}

func TestAsk_EmbedFailureRetriesOnce(t *testing.T) {
	s := newTestStore(t)
	fe := &failingEmbedder{}
	m := &scriptedModel{}
	a := newTestAgent(t, s, m, fe)

	resp, err := a.Ask(context.Background(), &Request{Actor: store.ActorBuyer, ProductID: 1, UserID: 9, Query: "q"})
	var perr *PlanningError
	if !errors.As(err, &perr) || perr.Stage != "embed" {
		t.Fatalf("error = %v, want embed-stage PlanningError", err)
	}
	if fe.calls != 2 {
		t.Errorf("embedder calls = %d, want 2 (one retry)", fe.calls)
	}
	if resp == nil || resp.Output != FallbackAnswer {
		t.Fatalf("resp = %+v, want fallback", resp)
	}
	if m.calls != 0 {
		t.Errorf("model calls = %d, want 0 when embedding fails", m.calls)
	}
}

func TestAsk_ListTablesThenAnswer(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		toolCall("c1", "list_tables", `{}`),
		toolCall("c2", "execute_sql", `{"query": "SELECT body FROM chunks"}`),
		reply("The fabric pills after a couple of washes, per one reviewer."),
	}}
	a := newTestAgent(t, s, m, &fixedEmbedder{vec: []float32{1, 0}})

	resp, err := a.Ask(context.Background(), &Request{Actor: store.ActorSeller, ProductID: 1, UserID: 1, Query: "what do buyers complain about?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Degraded {
		t.Error("Degraded = true, want false")
	}

	// Seller questions land in the seller table, not the buyer one.
	buyer, err := s.QueriesByUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("QueriesByUser() error = %v", err)
	}
	if len(buyer) != 0 {
		t.Errorf("buyer queries = %d, want 0 for a seller ask", len(buyer))
	}
}

func TestAsk_EmptyAnswerFallsBack(t *testing.T) {
	s := newTestStore(t)
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){reply("")}}
	a := newTestAgent(t, s, m, &fixedEmbedder{vec: []float32{1, 0}})

	resp, err := a.Ask(context.Background(), &Request{Actor: store.ActorBuyer, ProductID: 1, UserID: 2, Query: "q"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !resp.Degraded || resp.Output != FallbackAnswer {
		t.Errorf("resp = %+v, want fallback for empty model answer", resp)
	}
}
