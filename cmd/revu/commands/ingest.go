package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqzhen/Revu/internal/logging"
	"github.com/aqzhen/Revu/internal/store"
)

// NewIngestCmd constructs the `revu ingest` command, which pulls a product's
// reviews from the review platform (or a local JSON file) and stores them
// chunked and embedded.
func NewIngestCmd() *cobra.Command {
	var productID int64
	var file string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a product's reviews into the store",
		Long: `Fetch a product's reviews and index them for retrieval.

Reviews come from the review platform feed (JUDGE_API_TOKEN and SHOP_DOMAIN
must be set) or from a local JSON file with --file. Each review is split
into overlapping chunks and embedded; re-ingesting the same reviews is a
no-op, so the command is safe to run on a schedule.

Required environment variables (feed mode):
  JUDGE_API_TOKEN      Private API token for the review platform
  SHOP_DOMAIN          Shop domain the reviews belong to
  EMBEDDING_*          Embedding backend overrides (see README)

Examples:
  revu ingest --product 101
  revu ingest --product 101 --file reviews.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if productID == 0 {
				return fmt.Errorf("ingest: --product is required")
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = st.Close() }()

			var reviews []store.Review
			if file != "" {
				reviews, err = readReviewFile(log, file, productID)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			} else {
				fetcher, ferr := buildFetcher()
				if ferr != nil {
					return fmt.Errorf("ingest: %w", ferr)
				}
				if fetcher == nil {
					return fmt.Errorf("ingest: JUDGE_API_TOKEN and SHOP_DOMAIN must be set (or use --file)")
				}
				reviews, err = fetcher.FetchProductReviews(ctx, productID)
				if err != nil {
					return fmt.Errorf("ingest: fetch reviews: %w", err)
				}
			}

			pipeline, err := buildPipeline(st)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			report, err := pipeline.Ingest(ctx, reviews)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"ingested %d reviews (%d already present, %d chunks embedded, %d failed)\n",
				report.Succeeded, report.Skipped, report.ChunksEmbedded, len(report.Failed))
			for _, f := range report.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "  review %d: %v\n", f.ReviewID, f.Err)
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("ingest: %d reviews failed", len(report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&productID, "product", 0, "Product ID to ingest reviews for")
	cmd.Flags().StringVar(&file, "file", "", "Read reviews from a JSON file instead of the feed")

	return cmd
}

// fileReview is one review in a --file JSON array. Timestamps are RFC3339;
// unparsable timestamps are logged and fall back to the zero time rather
// than failing the whole file.
type fileReview struct {
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

// readReviewFile loads reviews from a JSON array file. The product id on
// each review is forced to the ingestion target.
func readReviewFile(log *slog.Logger, path string, productID int64) ([]store.Review, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var raw []fileReview
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	parseTime := func(reviewID int64, field, value string) time.Time {
		if value == "" {
			return time.Time{}
		}
		ts, perr := time.Parse(time.RFC3339, value)
		if perr != nil {
			log.Warn("unparseable review timestamp",
				slog.Int64("review_id", reviewID),
				slog.String("field", field),
				slog.String("value", value))
			return time.Time{}
		}
		return ts
	}
	reviews := make([]store.Review, 0, len(raw))
	for _, r := range raw {
		created := parseTime(r.ReviewID, "created_at", r.CreatedAt)
		updated := parseTime(r.ReviewID, "updated_at", r.UpdatedAt)
		reviews = append(reviews, store.Review{
			ReviewID:           r.ReviewID,
			ProductID:          productID,
			ReviewerName:       r.ReviewerName,
			ReviewerExternalID: r.ReviewerExternalID,
			CreatedAt:          created,
			UpdatedAt:          updated,
			Verified:           r.Verified,
			Rating:             r.Rating,
			Title:              r.Title,
			Body:               r.Body,
		})
	}
	return reviews, nil
}
