package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/facegate/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/facegate/internal/service"
)

type stubIndex struct{ size, live int }

func (s stubIndex) Size() int      { return s.size }
func (s stubIndex) LiveCount() int { return s.live }

type stubStore struct{ err error }

func (s stubStore) Ping(context.Context) error { return s.err }

type stubEnroller struct{}

func (stubEnroller) Register(context.Context, service.EnrollRequest) (*service.EnrollResult, error) {
	return &service.EnrollResult{IdentityID: "user_000000000000"}, nil
}

type stubRecognizer struct{}

func (stubRecognizer) Recognize(context.Context, service.MatchRequest) (*service.MatchResult, error) {
	return &service.MatchResult{Matched: false, Reason: "no_face"}, nil
}

func setupRouter(t *testing.T, deps *Dependencies) *Router {
	t.Helper()
	r := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), deps)
	r.Setup()
	t.Cleanup(func() {
		if r.rateLimiter != nil {
			r.rateLimiter.Stop()
		}
	})
	return r
}

func fullDeps() *Dependencies {
	return &Dependencies{
		Enroller:   stubEnroller{},
		Recognizer: stubRecognizer{},
		Index:      stubIndex{size: 3, live: 2},
		Store:      stubStore{},
		Model:      "Facenet512",
		APIKey:     "secret",
		RateLimit:  middleware.RateLimiterConfig{RPS: 100, Burst: 100},
	}
}

func TestRouter_PublicRoutes(t *testing.T) {
	r := setupRouter(t, fullDeps())

	resp, err := r.App().Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = r.App().Test(httptest.NewRequest("GET", "/v1/health", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(3), health["index_size"])
	assert.Equal(t, float64(2), health["live_identities"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRouter_FaceRoutes(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		apiKey     string
		wantStatus int
	}{
		{name: "register without key", path: "/v1/faces/register", wantStatus: 401},
		{name: "recognize with wrong key", path: "/v1/faces/recognize", apiKey: "nope", wantStatus: 401},
		{name: "recognize without image", path: "/v1/faces/recognize", apiKey: "secret", wantStatus: 422},
		{name: "unknown route", path: "/v1/faces/verify", apiKey: "secret", wantStatus: 404},
	}

	r := setupRouter(t, fullDeps())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.path, nil)
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}

			resp, err := r.App().Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestRouter_RateLimitsFaceRoutes(t *testing.T) {
	deps := fullDeps()
	deps.RateLimit = middleware.RateLimiterConfig{RPS: 0.001, Burst: 1}
	r := setupRouter(t, deps)

	send := func() int {
		req := httptest.NewRequest("POST", "/v1/faces/recognize", nil)
		req.Header.Set("Authorization", "Bearer secret")
		resp, err := r.App().Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, 422, send())
	assert.Equal(t, 429, send())

	// health is outside the limited group
	resp, err := r.App().Test(httptest.NewRequest("GET", "/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRouter_WithoutPipelines(t *testing.T) {
	r := setupRouter(t, &Dependencies{Index: stubIndex{}, Store: stubStore{}})

	resp, err := r.App().Test(httptest.NewRequest("POST", "/v1/faces/register", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Nil(t, r.rateLimiter)
}
