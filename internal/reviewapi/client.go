// Package reviewapi fetches product reviews from the external review
// platform's REST API. The client paginates through a product's reviews and
// maps them onto the store's review type for ingestion.
package reviewapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aqzhen/Revu/internal/logging"
	"github.com/aqzhen/Revu/internal/store"
)

// Defaults for the review platform client.
const (
	// DefaultBaseURL is the hosted review platform API.
	DefaultBaseURL = "https://judge.me"
	// DefaultPerPage is the platform's page size for review listings.
	DefaultPerPage = 15
	// maxRetries is the per-page retry budget for transient failures.
	maxRetries = 3
)

// Client talks to the review platform. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiToken   string
	shopDomain string
	perPage    int
	client     *http.Client
}

// Config holds the review platform credentials and tuning.
type Config struct {
	// BaseURL overrides the platform endpoint, for tests.
	BaseURL string
	// APIToken is the shop's private API token.
	APIToken string
	// ShopDomain is the shop's domain (e.g. "example.myshopify.com").
	ShopDomain string
	// PerPage overrides the page size (default 15).
	PerPage int
	// Timeout bounds each page request. Defaults to 15s if zero.
	Timeout time.Duration
}

// NewClient constructs a review platform Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("reviewapi: APIToken is required")
	}
	if cfg.ShopDomain == "" {
		return nil, fmt.Errorf("reviewapi: ShopDomain is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiToken:   cfg.APIToken,
		shopDomain: cfg.ShopDomain,
		perPage:    perPage,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// apiReview is the wire shape of one review.
type apiReview struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Rating    int    `json:"rating"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Verified  string `json:"verified"`
	Reviewer  struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"reviewer"`
	ProductExternalID int64 `json:"product_external_id"`
}

// reviewsResponse is the wire shape of one page.
type reviewsResponse struct {
	CurrentPage int         `json:"current_page"`
	PerPage     int         `json:"per_page"`
	Reviews     []apiReview `json:"reviews"`
}

// FetchProductReviews pages through every review for one product and returns
// them mapped for ingestion. Transient page failures are retried with
// backoff; a page that keeps failing aborts the fetch with what was
// collected so far discarded (the caller re-runs; ingestion is idempotent).
func (c *Client) FetchProductReviews(ctx context.Context, productID int64) ([]store.Review, error) {
	log := logging.FromContext(ctx)
	var all []store.Review
	for page := 1; ; page++ {
		batch, err := c.fetchPage(ctx, productID, page)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < c.perPage {
			break
		}
	}
	log.Info("fetched product reviews", "product_id", productID, "count", len(all))
	return all, nil
}

// fetchPage fetches one page with retries on transient failures.
func (c *Client) fetchPage(ctx context.Context, productID int64, page int) ([]store.Review, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			// 500ms, 1s backoff before the second and third attempts.
			backoff := time.Duration(attempt-1) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("reviewapi: fetch page %d: %w", page, ctx.Err())
			case <-time.After(backoff):
			}
		}
		batch, retryable, err := c.doFetchPage(ctx, productID, page)
		if err == nil {
			return batch, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("reviewapi: fetch page %d: %w", page, lastErr)
}

// doFetchPage performs one page request. retryable marks transient failures
// (network errors, HTTP 5xx, 429).
func (c *Client) doFetchPage(ctx context.Context, productID int64, page int) (_ []store.Review, retryable bool, _ error) {
	q := url.Values{}
	q.Set("api_token", c.apiToken)
	q.Set("shop_domain", c.shopDomain)
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("product_id", strconv.FormatInt(productID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/reviews?"+q.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var body reviewsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}

	reviews := make([]store.Review, 0, len(body.Reviews))
	for _, r := range body.Reviews {
		reviews = append(reviews, mapReview(ctx, r, productID))
	}
	return reviews, false, nil
}

// mapReview converts a wire review into the store type. Timestamps arrive as
// RFC 3339; unparseable ones fall back to the zero time rather than failing
// the page, with a warning so bad feed data stays visible.
func mapReview(ctx context.Context, r apiReview, productID int64) store.Review {
	created := parseTimestamp(ctx, r.ID, "created_at", r.CreatedAt)
	updated := parseTimestamp(ctx, r.ID, "updated_at", r.UpdatedAt)
	if r.ProductExternalID != 0 {
		productID = r.ProductExternalID
	}
	return store.Review{
		ReviewID:           r.ID,
		ProductID:          productID,
		ReviewerName:       r.Reviewer.Name,
		ReviewerExternalID: r.Reviewer.ID,
		CreatedAt:          created,
		UpdatedAt:          updated,
		Verified:           r.Verified,
		Rating:             r.Rating,
		Title:              r.Title,
		Body:               r.Body,
	}
}

// parseTimestamp parses an RFC 3339 timestamp, logging and falling back to
// the zero time when the feed sends something else. An empty value is not an
// error.
func parseTimestamp(ctx context.Context, reviewID int64, field, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		logging.FromContext(ctx).Warn("unparseable review timestamp",
			"review_id", reviewID, "field", field, "value", value)
		return time.Time{}
	}
	return ts
}
