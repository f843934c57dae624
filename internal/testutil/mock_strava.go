// Package testutil provides testing utilities for the PacePrint data core.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior of a mock Strava endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockStrava is a configurable mock Strava API server for testing.
type MockStrava struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockStrava creates a new mock Strava server.
func NewMockStrava() *MockStrava {
	mock := &MockStrava{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockStrava) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockStrava) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockStrava) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockStrava) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockStrava) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetActivityDetail configures the detail endpoint of one activity.
func (m *MockStrava) SetActivityDetail(activityID int64, resp MockResponse) {
	m.SetResponse(fmt.Sprintf("/activities/%d", activityID), resp)
}

// SetActivityResource configures a sub-resource endpoint of one activity
// (laps, comments, photos, streams).
func (m *MockStrava) SetActivityResource(activityID int64, resource string, resp MockResponse) {
	m.SetResponse(fmt.Sprintf("/activities/%d/%s", activityID, resource), resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockStrava) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler provides default Strava-like responses.
func (m *MockStrava) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-RateLimit-Limit", "200,2000")
	w.Header().Set("X-RateLimit-Usage", "1,1")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// NewActivityResponse creates a 200 OK response with an activity payload.
func NewActivityResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":      "application/json; charset=utf-8",
			"X-RateLimit-Limit": "200,2000",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"Rate Limit Exceeded"}`,
		Headers: map[string]string{
			"Content-Type":      "application/json; charset=utf-8",
			"X-RateLimit-Limit": "200,2000",
			"X-RateLimit-Usage": "201,201",
		},
	}
}

// NewNotFoundResponse creates a 404 Record Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message":"Record Not Found","errors":[{"resource":"Activity","field":"id","code":"invalid"}]}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"Internal Server Error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
