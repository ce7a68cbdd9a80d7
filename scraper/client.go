// Package scraper talks to the review scraping backend: it submits scrape
// jobs, polls their status, requests review analyses and tracks the job
// lifecycle of a session.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/remote"
)

// SortNewest is the only sort order the dashboard requests.
const SortNewest = "Newest"

// maxBody caps how much of a backend response is read.
const maxBody = 4 << 20

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	SubmitTimeout  time.Duration
	PollTimeout    time.Duration
	AnalyzeTimeout time.Duration
	UserAgent      string
	Metrics        *Metrics
}

// Client calls the scrape backend. It holds no job state; see Tracker.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	opts       Options
	metrics    *Metrics
}

// NewClient builds a client for the backend at baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("backend url must include a host")
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.AnalyzeTimeout <= 0 {
		opts.AnalyzeTimeout = time.Minute
	}

	return &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   opts.SubmitTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		opts:    opts,
		metrics: opts.Metrics,
	}, nil
}

// WithTransport replaces the HTTP transport.
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

type scrapeRequest struct {
	BusinessName string `json:"business_name"`
	SortOrder    string `json:"sort_order"`
	ReviewLimit  string `json:"review_limit"`
}

type scrapeResponse struct {
	RequestID string `json:"request_id"`
}

type statusResponse struct {
	Status *string `json:"status"`
}

type analyzeRequest struct {
	Restaurant string          `json:"res_name"`
	Reviews    []analyzeReview `json:"reviews"`
}

type analyzeReview struct {
	DateOfReview      string `json:"DateOfReview"`
	StarRating        int    `json:"StarRating"`
	ReviewDescription string `json:"ReviewDescription"`
	Month             string `json:"month_year"`
}

// BusinessName is the name the backend searches for.
func BusinessName(restaurant, location string) string {
	restaurant = strings.TrimSpace(restaurant)
	location = strings.TrimSpace(location)
	if location == "" {
		return restaurant
	}
	return restaurant + " - " + location
}

// Submit asks the backend to scrape up to limit reviews for a restaurant and
// returns the job id.
func (c *Client) Submit(ctx context.Context, restaurant, location string, limit int) (string, error) {
	if strings.TrimSpace(restaurant) == "" {
		return "", fmt.Errorf("submit scrape: restaurant name is required")
	}
	if limit < 1 {
		return "", fmt.Errorf("submit scrape: review limit must be at least 1, got %d", limit)
	}

	payload := scrapeRequest{
		BusinessName: BusinessName(restaurant, location),
		SortOrder:    SortNewest,
		ReviewLimit:  strconv.Itoa(limit),
	}
	status, body, err := c.do(ctx, "scrape", http.MethodPost, c.endpoint("scrape"), payload, c.opts.SubmitTimeout)
	if err != nil {
		return "", err
	}
	if !success(status) {
		err := &RequestError{Op: "submit scrape", StatusCode: status, Body: string(body)}
		c.metrics.IncError("scrape", errorTypeLabel(err))
		return "", err
	}

	var resp scrapeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("submit scrape: decode response: %w", err)
	}
	if resp.RequestID == "" {
		return "", fmt.Errorf("submit scrape: response has no request_id")
	}

	slog.Info("scrape job submitted",
		slog.String("job_id", resp.RequestID),
		slog.String("business_name", payload.BusinessName),
		slog.Int("review_limit", limit),
	)
	return resp.RequestID, nil
}

// Poll fetches the status of a job. Failing to reach the backend, or a
// non-success response, is reported as a remote.UnavailableError and never
// as StateFailed.
func (c *Client) Poll(ctx context.Context, jobID string) (Status, error) {
	if jobID == "" {
		return Status{}, fmt.Errorf("poll status: job id is required")
	}

	status, body, err := c.do(ctx, "status", http.MethodGet, c.endpoint("status", jobID), nil, c.opts.PollTimeout)
	if err != nil {
		return Status{}, err
	}
	if !success(status) {
		err := remote.UnavailableError{
			Op:  "poll status",
			Err: &RequestError{Op: "poll status", StatusCode: status, Body: string(body)},
		}
		c.metrics.IncError("status", errorTypeLabel(err))
		return Status{}, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Status == nil {
		if err == nil {
			err = fmt.Errorf("response has no status")
		}
		err = remote.UnavailableError{Op: "poll status", Err: fmt.Errorf("decode response: %w", err)}
		c.metrics.IncError("status", "decode")
		return Status{}, err
	}

	parsed, err := ParseStatus(*resp.Status)
	if err != nil {
		c.metrics.IncError("status", errorTypeLabel(err))
		return Status{}, err
	}
	c.metrics.IncStatus(parsed.State)
	slog.Debug("job status", slog.String("job_id", jobID), slog.String("status", parsed.String()))
	return parsed, nil
}

// Analyze asks the backend to summarize reviews of a restaurant.
func (c *Client) Analyze(ctx context.Context, restaurant string, reviews []models.Review) (*models.Analysis, error) {
	payload := analyzeRequest{
		Restaurant: restaurant,
		Reviews:    make([]analyzeReview, 0, len(reviews)),
	}
	for _, r := range reviews {
		desc := r.Description
		if !r.HasDescription {
			desc = "nil"
		}
		payload.Reviews = append(payload.Reviews, analyzeReview{
			DateOfReview:      r.DateOfReview.Format(models.DateLayout),
			StarRating:        r.StarRating,
			ReviewDescription: desc,
			Month:             r.MonthBucket,
		})
	}

	status, body, err := c.do(ctx, "analyze", http.MethodPost, c.endpoint("analyze"), payload, c.opts.AnalyzeTimeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		err := &RequestError{Op: "analyze reviews", StatusCode: status, Body: string(body)}
		c.metrics.IncError("analyze", errorTypeLabel(err))
		return nil, err
	}

	var analysis models.Analysis
	if err := json.Unmarshal(body, &analysis); err != nil {
		return nil, fmt.Errorf("analyze reviews: decode response: %w", err)
	}
	slog.Info("reviews analyzed",
		slog.String("restaurant", restaurant),
		slog.Int("reviews", len(reviews)),
		slog.Int("pros", len(analysis.Pros)),
		slog.Int("cons", len(analysis.Cons)),
	)
	return &analysis, nil
}

// RemoveReviews asks the backend to delete the stored reviews of a restaurant.
func (c *Client) RemoveReviews(ctx context.Context, restaurant string) error {
	if restaurant == "" {
		return fmt.Errorf("remove reviews: restaurant name is required")
	}
	status, body, err := c.do(ctx, "remove_review", http.MethodDelete, c.endpoint("remove_review", restaurant), nil, c.opts.SubmitTimeout)
	if err != nil {
		return err
	}
	if !success(status) {
		err := &RequestError{Op: "remove reviews", StatusCode: status, Body: string(body)}
		c.metrics.IncError("remove_review", errorTypeLabel(err))
		return err
	}
	slog.Info("restaurant reviews removed", slog.String("restaurant", restaurant))
	return nil
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL.JoinPath(escaped...).String()
}

// do issues one request and returns the status and body. Only transport
// failures are returned as errors, classified as remote.UnavailableError.
func (c *Client) do(ctx context.Context, endpoint, method, target string, payload any, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: create request: %w", endpoint, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	c.metrics.IncRequest(endpoint)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = remote.Unavailable(endpoint, err, 0)
		c.metrics.IncError(endpoint, errorTypeLabel(err))
		slog.Error("backend request failed",
			slog.String("endpoint", endpoint),
			slog.String("category", errorTypeLabel(err)),
			slog.Any("error", err),
		)
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	c.metrics.ObserveDuration(endpoint, time.Since(start))
	if err != nil {
		err = remote.Unavailable(endpoint, err, 0)
		c.metrics.IncError(endpoint, errorTypeLabel(err))
		return 0, nil, err
	}
	if !success(resp.StatusCode) {
		slog.Error("non-2xx backend response",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
		)
	}
	return resp.StatusCode, data, nil
}

func success(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
