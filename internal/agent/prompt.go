package agent

import (
	"fmt"

	"github.com/aqzhen/Revu/internal/store"
)

// systemPrompt builds the planning instructions. The question's embedding is
// referenced by a subquery on its recorded row rather than inlined — a
// 768-float literal would dominate the context window for no benefit. The
// target table steers the retrieval directive at review content or at prior
// questions and answers.
func systemPrompt(actor store.Actor, target TargetTable, topK int) string {
	queryTable := "queries"
	if actor == store.ActorSeller {
		queryTable = "seller_queries"
	}
	return fmt.Sprintf(`You are a product review analyst answering questions using a SQL database of customer reviews.

Database tables:
- reviews(product_id, review_id, reviewer_name, reviewer_external_id, created_at, updated_at, verified, rating, title, body)
- chunks(review_id, chunk_number, body, chunk_embedding) — overlapping fragments of review bodies, each with a semantic embedding
- queries / seller_queries(query_id, product_id, user_id, query, semantic_embedding, answer) — previously asked questions
- purchases(user_id, product_id, purchased)

Use the execute_sql tool to retrieve evidence and list_tables if you need to double-check the schema. Rules:

1. Only SELECT statements. Never modify data.
%s
3. Combine similarity ranking with relational filters (rating, verified, created_at) when the question calls for it.
4. If a query fails, read the error and issue a corrected query.
5. Ground your final answer strictly in the rows you retrieved. Quote or paraphrase actual review content. Never invent reviews, ratings, or opinions.
6. If the retrieved rows do not contain enough information to answer, say you don't know.

Answer concisely, in plain prose, as if speaking to a shopper.`, retrievalDirective(target, queryTable, topK))
}

// retrievalDirective is rule 2 of the system prompt, specialized to the
// retrieval target.
func retrievalDirective(target TargetTable, queryTable string, topK int) string {
	if target == TargetQueries {
		return fmt.Sprintf(`2. Answer from previously asked questions and their stored answers. Rank them by semantic similarity with the dot_product function. The current question's embedding is stored on its row; reference it with a subquery, and exclude the current question itself. Example:

   SELECT q.query_id, q.query, q.answer,
          dot_product(q.semantic_embedding,
              (SELECT semantic_embedding FROM %s WHERE query_id = <QUERY_ID>)) AS similarity
   FROM %s q
   WHERE q.product_id = <PRODUCT_ID> AND q.query_id != <QUERY_ID>
   ORDER BY similarity DESC
   LIMIT %d;`, queryTable, queryTable, topK)
	}
	return fmt.Sprintf(`2. Rank review chunks by semantic similarity with the dot_product function. The current question's embedding is stored on its row; reference it with a subquery. Example:

   SELECT c.review_id, c.chunk_number, c.body,
          dot_product(c.chunk_embedding,
              (SELECT semantic_embedding FROM %s WHERE query_id = <QUERY_ID>)) AS similarity
   FROM chunks c
   JOIN reviews r ON r.review_id = c.review_id AND r.product_id = <PRODUCT_ID>
   ORDER BY similarity DESC
   LIMIT %d;`, queryTable, topK)
}

// userPrompt renders the question with the identifiers the SQL needs.
func userPrompt(req *Request, queryID int64) string {
	return fmt.Sprintf("Product ID: %d\nQuery ID: %d\nQuestion: %s", req.ProductID, queryID, req.Query)
}
