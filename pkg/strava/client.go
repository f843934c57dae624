// Package strava is a thin wrapper over the Strava v3 API for the
// per-activity resources the book generator needs: activity detail, laps,
// comments, photos and streams.
//
// Each fetch is exactly one HTTP round trip. The client never retries:
// Strava charges every round trip against the request quota, success or
// failure, so retries belong to the caller, which re-invokes the idempotent
// batch after the quota window resets.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the Strava v3 API root.
const DefaultBaseURL = "https://www.strava.com/api/v3"

// streamKeys is the time-series set rendered by the book's pace and
// elevation charts.
const streamKeys = "time,distance,latlng,altitude,heartrate,velocity_smooth"

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paceprint_strava_requests_total",
		Help: "Total Strava API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paceprint_strava_request_duration_seconds",
		Help:    "Strava API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paceprint_strava_errors_total",
		Help: "Total Strava API errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL; overridden in
	// tests to point at a mock server.
	BaseURL string

	// Timeout applies per request.
	Timeout time.Duration

	// UserAgent identifies the application to Strava.
	UserAgent string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Timeout:   30 * time.Second,
		UserAgent: "paceprint/1.0",
	}
}

// Client performs single upstream calls for one resource at a time.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     zerolog.Logger
}

// New creates a Strava API client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// FetchActivityDetail fetches the full activity record including splits and
// best efforts.
func (c *Client) FetchActivityDetail(ctx context.Context, token string, activityID int64) (json.RawMessage, error) {
	path := fmt.Sprintf("/activities/%d?include_all_efforts=true", activityID)
	return c.get(ctx, token, path, "activity_detail")
}

// FetchLaps fetches the lap splits of an activity.
func (c *Client) FetchLaps(ctx context.Context, token string, activityID int64) (json.RawMessage, error) {
	path := fmt.Sprintf("/activities/%d/laps", activityID)
	return c.get(ctx, token, path, "laps")
}

// FetchComments fetches the comments on an activity.
func (c *Client) FetchComments(ctx context.Context, token string, activityID int64) (json.RawMessage, error) {
	path := fmt.Sprintf("/activities/%d/comments", activityID)
	return c.get(ctx, token, path, "comments")
}

// FetchPhotos fetches the photo set of an activity at print resolution.
func (c *Client) FetchPhotos(ctx context.Context, token string, activityID int64) (json.RawMessage, error) {
	path := fmt.Sprintf("/activities/%d/photos?size=5000&photo_sources=true", activityID)
	return c.get(ctx, token, path, "photos")
}

// FetchStreams fetches the raw time-series of an activity, keyed by type.
func (c *Client) FetchStreams(ctx context.Context, token string, activityID int64) (json.RawMessage, error) {
	path := fmt.Sprintf("/activities/%d/streams?keys=%s&key_by_type=true", activityID, streamKeys)
	return c.get(ctx, token, path, "streams")
}

// get performs one authenticated round trip and returns the raw JSON body.
func (c *Client) get(ctx context.Context, token, path, endpoint string) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Strava request failed")
		return nil, &APIError{
			Class:    ErrorClassNetwork,
			Endpoint: endpoint,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Endpoint:   endpoint,
			Message:    "read response body",
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Strava request error")
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Endpoint:   endpoint,
			Message:    resp.Status,
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Strava request complete")

	return json.RawMessage(body), nil
}
