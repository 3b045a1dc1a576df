// Package ingestion wires the review feed into the store: each review is
// persisted, split into overlapping chunks, and each newly inserted chunk is
// embedded and updated in place. A failure on one review never aborts the
// batch — the pipeline records it and moves on.
package ingestion

import (
	"context"
	"fmt"

	"github.com/aqzhen/Revu/internal/chunker"
	"github.com/aqzhen/Revu/internal/embedder"
	"github.com/aqzhen/Revu/internal/logging"
	"github.com/aqzhen/Revu/internal/store"
)

// ItemError records a single review that failed to ingest.
type ItemError struct {
	// ReviewID is the external id of the failed review.
	ReviewID int64
	// Err is the cause.
	Err error
}

// Report summarizes one ingestion run. Duplicate reviews count as succeeded:
// re-ingesting an already-stored review is a silent no-op, not a failure.
type Report struct {
	// Succeeded is the number of reviews fully processed (including no-op duplicates).
	Succeeded int
	// Skipped is the number of reviews that were already present.
	Skipped int
	// ChunksEmbedded is the number of new chunks that were embedded this run.
	ChunksEmbedded int
	// Failed lists reviews that could not be ingested.
	Failed []ItemError
}

// Pipeline ingests reviews. It is safe for concurrent use as long as the
// underlying store and embedder are.
type Pipeline struct {
	store    *store.Store
	embedder embedder.Embedder
	// chunkSize and chunkOverlap configure the splitter, in characters.
	chunkSize    int
	chunkOverlap int
}

// Config holds the ingestion pipeline settings.
type Config struct {
	// ChunkSize is the maximum chunk length in characters (0 = default 128).
	ChunkSize int
	// ChunkOverlap is the overlap between consecutive chunks (0 = default 20).
	ChunkOverlap int
}

// New constructs an ingestion Pipeline.
func New(s *store.Store, e embedder.Embedder, cfg Config) *Pipeline {
	size := cfg.ChunkSize
	if size <= 0 {
		size = chunker.DefaultSize
	}
	overlap := cfg.ChunkOverlap
	if overlap <= 0 {
		overlap = chunker.DefaultOverlap
	}
	return &Pipeline{store: s, embedder: e, chunkSize: size, chunkOverlap: overlap}
}

// Ingest processes a batch of reviews for one product. Reviews are handled
// independently: an embedding or store failure on one review is recorded in
// the report and the rest of the batch proceeds. The returned error is
// non-nil only for failures that invalidate the whole run (nil store, ctx
// cancellation).
func (p *Pipeline) Ingest(ctx context.Context, reviews []store.Review) (*Report, error) {
	log := logging.FromContext(ctx)
	report := &Report{}

	for i := range reviews {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("ingestion: canceled after %d reviews: %w", i, err)
		}
		r := &reviews[i]
		embedded, skipped, err := p.ingestOne(ctx, r)
		if err != nil {
			log.Warn("review ingestion failed",
				"review_id", r.ReviewID,
				"product_id", r.ProductID,
				"error", err)
			report.Failed = append(report.Failed, ItemError{ReviewID: r.ReviewID, Err: err})
			continue
		}
		report.Succeeded++
		report.ChunksEmbedded += embedded
		if skipped {
			report.Skipped++
		}
	}

	log.Info("ingestion batch complete",
		"succeeded", report.Succeeded,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
		"chunks_embedded", report.ChunksEmbedded)
	return report, nil
}

// ingestOne persists a single review and embeds its new chunks. It returns
// the number of chunks embedded and whether the review was a duplicate.
func (p *Pipeline) ingestOne(ctx context.Context, r *store.Review) (embedded int, skipped bool, err error) {
	inserted, err := p.store.InsertReview(ctx, r)
	if err != nil {
		return 0, false, err
	}

	// Chunk numbers are 1-based and deterministic for a given body, so a
	// partially embedded review from a failed earlier run converges: rows
	// that landed before are kept, and only rows still missing a vector are
	// embedded below.
	chunks := chunker.Chunk(r.Body, p.chunkSize, p.chunkOverlap)
	for i, text := range chunks {
		if _, err := p.store.InsertChunk(ctx, r.ReviewID, i+1, text); err != nil {
			return 0, !inserted, err
		}
	}

	// Embedding is owed exactly for the rows without a vector: freshly
	// inserted rows plus leftovers from an earlier failed run. Rows that
	// already carry their vector are never re-embedded.
	pending, err := p.store.UnembeddedChunks(ctx, r.ReviewID)
	if err != nil {
		return 0, !inserted, err
	}
	if len(pending) == 0 {
		return 0, !inserted, nil
	}

	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = c.Body
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, !inserted, err
	}
	for i, c := range pending {
		if err := p.store.UpdateChunkEmbedding(ctx, r.ReviewID, c.ChunkNumber, vectors[i]); err != nil {
			return i, !inserted, err
		}
	}
	return len(pending), !inserted, nil
}
