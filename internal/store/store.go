// Package store provides the SQLite-backed relational store for reviews,
// review chunks, buyer/seller queries, and purchase records. It owns schema
// lifecycle and all typed reads/writes, including the two-step
// insert-then-embed protocol that guarantees embeddings are computed at most
// once per row. Similarity ranking happens inside SQL via the dot_product
// scalar function registered in vector.go.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Actor identifies who is asking a question. Buyer and seller questions are
// recorded in separate tables so buyer-intent analytics are never polluted
// by seller-originated queries.
type Actor string

const (
	// ActorBuyer is an end customer browsing the storefront.
	ActorBuyer Actor = "buyer"
	// ActorSeller is the merchant asking about their own product.
	ActorSeller Actor = "seller"
)

// queryTable returns the table that records questions for this actor.
func (a Actor) queryTable() (string, error) {
	switch a {
	case ActorBuyer:
		return "queries", nil
	case ActorSeller:
		return "seller_queries", nil
	default:
		return "", fmt.Errorf("store: unknown actor %q (valid values: buyer, seller)", a)
	}
}

// Review is a single product review from the external review feed.
// Reviews are immutable once ingested.
type Review struct {
	// ReviewID is the external, stable review identifier.
	ReviewID int64
	// ProductID is the product this review belongs to.
	ProductID int64
	// ReviewerName is the display name of the reviewer.
	ReviewerName string
	// ReviewerExternalID is the reviewer's identifier in the external system.
	ReviewerExternalID int64
	// CreatedAt / UpdatedAt are the external feed's timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
	// Verified marks whether the reviewer is a verified purchaser.
	Verified string
	// Rating is the star rating, 1–5.
	Rating int
	// Title and Body are the review text.
	Title string
	Body  string
}

// Chunk is a bounded-length substring of a review body with overlap,
// independently embedded for fine-grained similarity search.
type Chunk struct {
	// ReviewID is the owning review.
	ReviewID int64
	// ChunkNumber is 1-based and sequential per review.
	ChunkNumber int
	// Body is the chunk text.
	Body string
	// Embedding is the chunk's vector, nil until the second write lands.
	Embedding []float32
}

// Query is a recorded natural-language question, buyer or seller origin.
type Query struct {
	// QueryID is the store-assigned auto-incrementing id.
	QueryID int64
	// ProductID is the product the question was asked about.
	ProductID int64
	// UserID identifies the asking customer.
	UserID int64
	// Query is the question text.
	Query string
	// Answer is the agent's final answer, empty until answered.
	Answer string
}

// OpError is the typed store error. Schema and connection failures are fatal
// at startup; per-operation failures are surfaced to the caller rather than
// terminating the process.
type OpError struct {
	// Op names the failed store operation (e.g. "insert review").
	Op string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *OpError) Unwrap() error { return e.Err }

// IsOpError reports whether err is (or wraps) a store OpError.
func IsOpError(err error) bool {
	var oe *OpError
	return errors.As(err, &oe)
}

// opErr wraps err in an OpError, preserving nil.
func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// Store is the process-wide relational store. It is safe for concurrent use;
// all operations serialize through a bounded connection pool.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the review database.
// It resolves to ~/.revu/revu.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".revu")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "revu.db"), nil
}

// Open opens (or creates) a Store at the given path and creates the schema
// if it does not already exist. Use ":memory:" for an in-memory database in
// tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance during ingestion; the
	// busy timeout prevents SQLITE_BUSY when chunk writers contend briefly.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, opErr("open "+path, err)
	}
	// Bounded pool: ingestion fans out per chunk, but sqlite allows only one
	// writer at a time, so a small pool avoids head-of-line blocking without
	// pretending the store supports unbounded concurrent writers.
	db.SetMaxOpenConns(10)

	s := &Store{db: db}
	if err := s.CreateTables(context.Background(), false); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying pool for read-only tooling (the agent's SQL
// tool). Writers must go through the typed methods.
func (s *Store) DB() *sql.DB { return s.db }

// CreateTables creates all tables if they do not already exist. An existing
// table is a non-fatal "already exists" condition, handled by IF NOT EXISTS.
// dropFirst drops and recreates every table — data loss is intentional and
// caller-triggered only.
func (s *Store) CreateTables(ctx context.Context, dropFirst bool) error {
	if dropFirst {
		const drop = `
DROP TABLE IF EXISTS reviews;
DROP TABLE IF EXISTS chunks;
DROP TABLE IF EXISTS queries;
DROP TABLE IF EXISTS seller_queries;
DROP TABLE IF EXISTS purchases;
`
		if _, err := s.db.ExecContext(ctx, drop); err != nil {
			return opErr("drop tables", err)
		}
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS reviews (
    product_id           INTEGER NOT NULL,
    review_id            INTEGER NOT NULL,
    reviewer_name        TEXT    NOT NULL,
    reviewer_external_id INTEGER NOT NULL,
    created_at           INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at           INTEGER NOT NULL,
    verified             TEXT    NOT NULL,
    rating               INTEGER NOT NULL CHECK(rating BETWEEN 1 AND 5),
    title                TEXT    NOT NULL,
    body                 TEXT    NOT NULL,
    PRIMARY KEY (product_id, review_id)
);
CREATE TABLE IF NOT EXISTS chunks (
    review_id       INTEGER NOT NULL,
    chunk_number    INTEGER NOT NULL,
    body            TEXT    NOT NULL,
    chunk_embedding TEXT,              -- JSON-encoded vector, filled by the second write
    PRIMARY KEY (review_id, chunk_number)
);
CREATE TABLE IF NOT EXISTS queries (
    query_id           INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id         INTEGER NOT NULL,
    user_id            INTEGER NOT NULL,
    query              TEXT    NOT NULL,
    semantic_embedding TEXT,
    answer             TEXT    NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS seller_queries (
    query_id           INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id         INTEGER NOT NULL,
    user_id            INTEGER NOT NULL,
    query              TEXT    NOT NULL,
    semantic_embedding TEXT,
    answer             TEXT    NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS purchases (
    user_id    INTEGER NOT NULL,
    product_id INTEGER NOT NULL,
    purchased  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, product_id)
);
CREATE INDEX IF NOT EXISTS idx_queries_product ON queries (product_id);
CREATE INDEX IF NOT EXISTS idx_queries_user ON queries (user_id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return opErr("create tables", err)
	}
	return nil
}

// InsertReview inserts a review with insert-ignore-duplicates semantics keyed
// on (product_id, review_id). Re-ingesting the same external review id is a
// silent no-op. Returns true if a new row was inserted.
func (s *Store) InsertReview(ctx context.Context, r *Review) (bool, error) {
	const q = `
INSERT OR IGNORE INTO reviews
    (product_id, review_id, reviewer_name, reviewer_external_id,
     created_at, updated_at, verified, rating, title, body)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		r.ProductID, r.ReviewID, r.ReviewerName, r.ReviewerExternalID,
		r.CreatedAt.Unix(), r.UpdatedAt.Unix(), r.Verified, r.Rating, r.Title, r.Body)
	if err != nil {
		return false, opErr("insert review", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, opErr("insert review rows affected", err)
	}
	return n > 0, nil
}

// InsertChunk inserts a chunk row text-first, without its embedding, and
// reports whether a new row was inserted. Callers must compute and persist
// the embedding (UpdateChunkEmbedding) only when this returns true — the
// affected-rows gate is what keeps re-ingestion from paying embedding cost
// for rows that already existed.
func (s *Store) InsertChunk(ctx context.Context, reviewID int64, chunkNumber int, body string) (bool, error) {
	const q = `INSERT OR IGNORE INTO chunks (review_id, chunk_number, body) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, reviewID, chunkNumber, body)
	if err != nil {
		return false, opErr("insert chunk", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, opErr("insert chunk rows affected", err)
	}
	return n > 0, nil
}

// UpdateChunkEmbedding writes the embedding for a previously inserted chunk.
func (s *Store) UpdateChunkEmbedding(ctx context.Context, reviewID int64, chunkNumber int, embedding []float32) error {
	const q = `UPDATE chunks SET chunk_embedding = ? WHERE review_id = ? AND chunk_number = ?`
	if _, err := s.db.ExecContext(ctx, q, EncodeVector(embedding), reviewID, chunkNumber); err != nil {
		return opErr("update chunk embedding", err)
	}
	return nil
}

// InsertQuery records a question in the actor's query table with a
// placeholder answer and returns the assigned query id. The embedding is
// persisted separately (UpdateQueryEmbedding) once computed.
func (s *Store) InsertQuery(ctx context.Context, actor Actor, productID, userID int64, query string) (int64, error) {
	table, err := actor.queryTable()
	if err != nil {
		return 0, opErr("insert query", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (product_id, user_id, query) VALUES (?, ?, ?)`, table)
	res, err := s.db.ExecContext(ctx, q, productID, userID, query)
	if err != nil {
		return 0, opErr("insert query", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, opErr("insert query id", err)
	}
	return id, nil
}

// UpdateQueryEmbedding writes the semantic embedding for a recorded question.
func (s *Store) UpdateQueryEmbedding(ctx context.Context, actor Actor, queryID int64, embedding []float32) error {
	table, err := actor.queryTable()
	if err != nil {
		return opErr("update query embedding", err)
	}
	q := fmt.Sprintf(`UPDATE %s SET semantic_embedding = ? WHERE query_id = ?`, table)
	if _, err := s.db.ExecContext(ctx, q, EncodeVector(embedding), queryID); err != nil {
		return opErr("update query embedding", err)
	}
	return nil
}

// UpdateQueryAnswer persists the agent's final answer on the recorded
// question. Failed queries keep their placeholder answer and remain
// retrievable — recording happens exactly once per ask, before planning.
func (s *Store) UpdateQueryAnswer(ctx context.Context, actor Actor, queryID int64, answer string) error {
	table, err := actor.queryTable()
	if err != nil {
		return opErr("update query answer", err)
	}
	q := fmt.Sprintf(`UPDATE %s SET answer = ? WHERE query_id = ?`, table)
	if _, err := s.db.ExecContext(ctx, q, answer, queryID); err != nil {
		return opErr("update query answer", err)
	}
	return nil
}

// UnembeddedChunks returns the chunks of a review whose embedding has not
// landed yet, in chunk order. A prior run that failed between the text write
// and the vector write leaves such rows behind; re-ingestion embeds them
// without touching rows that already carry a vector.
func (s *Store) UnembeddedChunks(ctx context.Context, reviewID int64) ([]Chunk, error) {
	const q = `
SELECT chunk_number, body FROM chunks
WHERE  review_id = ? AND chunk_embedding IS NULL
ORDER  BY chunk_number ASC`
	rows, err := s.db.QueryContext(ctx, q, reviewID)
	if err != nil {
		return nil, opErr("unembedded chunks", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c := Chunk{ReviewID: reviewID}
		if err := rows.Scan(&c.ChunkNumber, &c.Body); err != nil {
			return nil, opErr("unembedded chunks scan", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("unembedded chunks rows", err)
	}
	return chunks, nil
}

// ChunkBody returns the stored text of a single chunk.
func (s *Store) ChunkBody(ctx context.Context, reviewID int64, chunkNumber int) (string, error) {
	const q = `SELECT body FROM chunks WHERE review_id = ? AND chunk_number = ?`
	var body string
	err := s.db.QueryRowContext(ctx, q, reviewID, chunkNumber).Scan(&body)
	if err != nil {
		return "", opErr("chunk body", err)
	}
	return body, nil
}

// ReviewBodies returns the full review bodies for the given review ids,
// used to ground the agent's final answer in real stored content.
func (s *Store) ReviewBodies(ctx context.Context, reviewIDs []int64) (map[int64]string, error) {
	bodies := make(map[int64]string, len(reviewIDs))
	const q = `SELECT body FROM reviews WHERE review_id = ?`
	for _, id := range reviewIDs {
		var body string
		err := s.db.QueryRowContext(ctx, q, id).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, opErr("review bodies", err)
		}
		bodies[id] = body
	}
	return bodies, nil
}

// ReviewsByProduct returns all reviews for a product, oldest first.
func (s *Store) ReviewsByProduct(ctx context.Context, productID int64) ([]Review, error) {
	const q = `
SELECT product_id, review_id, reviewer_name, reviewer_external_id,
       created_at, updated_at, verified, rating, title, body
FROM   reviews
WHERE  product_id = ?
ORDER  BY created_at ASC, review_id ASC`
	rows, err := s.db.QueryContext(ctx, q, productID)
	if err != nil {
		return nil, opErr("reviews by product", err)
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		var r Review
		var created, updated int64
		if err := rows.Scan(&r.ProductID, &r.ReviewID, &r.ReviewerName, &r.ReviewerExternalID,
			&created, &updated, &r.Verified, &r.Rating, &r.Title, &r.Body); err != nil {
			return nil, opErr("reviews by product scan", err)
		}
		r.CreatedAt = time.Unix(created, 0)
		r.UpdatedAt = time.Unix(updated, 0)
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("reviews by product rows", err)
	}
	return reviews, nil
}

// QueriesByUser returns a user's recorded buyer questions, oldest first.
// Used to generate review-prompt questions targeting what the user asked.
func (s *Store) QueriesByUser(ctx context.Context, userID int64) ([]Query, error) {
	const q = `
SELECT query_id, product_id, user_id, query, answer
FROM   queries
WHERE  user_id = ?
ORDER  BY query_id ASC`
	return s.scanQueries(ctx, q, userID)
}

// CohortQueries returns the buyer questions for a product partitioned by the
// purchase join: purchased=false selects window shoppers (queried, never
// bought), purchased=true selects purchasing customers. The two cohorts
// partition the set of queries whose user has a purchase row.
func (s *Store) CohortQueries(ctx context.Context, productID int64, purchased bool) ([]Query, error) {
	const q = `
SELECT q.query_id, q.product_id, q.user_id, q.query, q.answer
FROM   queries q
JOIN   purchases p ON q.user_id = p.user_id AND q.product_id = p.product_id
WHERE  q.product_id = ? AND p.purchased = ?
ORDER  BY q.query_id ASC`
	flag := 0
	if purchased {
		flag = 1
	}
	return s.scanQueries(ctx, q, productID, flag)
}

// scanQueries runs a query-returning statement and scans the typed rows.
func (s *Store) scanQueries(ctx context.Context, q string, args ...any) ([]Query, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, opErr("scan queries", err)
	}
	defer rows.Close()

	var out []Query
	for rows.Next() {
		var qr Query
		if err := rows.Scan(&qr.QueryID, &qr.ProductID, &qr.UserID, &qr.Query, &qr.Answer); err != nil {
			return nil, opErr("scan queries row", err)
		}
		out = append(out, qr)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("scan queries rows", err)
	}
	return out, nil
}

// UpsertPurchase records whether a user has purchased a product. Called by
// the external purchase-status refresher before insights are computed.
func (s *Store) UpsertPurchase(ctx context.Context, userID, productID int64, purchased bool) error {
	const q = `
INSERT INTO purchases (user_id, product_id, purchased) VALUES (?, ?, ?)
ON CONFLICT (user_id, product_id) DO UPDATE SET purchased = excluded.purchased`
	flag := 0
	if purchased {
		flag = 1
	}
	if _, err := s.db.ExecContext(ctx, q, userID, productID, flag); err != nil {
		return opErr("upsert purchase", err)
	}
	return nil
}

// Ping verifies the database connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return opErr("ping", s.db.PingContext(ctx))
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return opErr("close", s.db.Close())
}
