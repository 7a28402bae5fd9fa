package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/patudom/cds-app/internal/application/roster"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/domain/student"
	"github.com/patudom/cds-app/internal/infrastructure/external/cosmicds"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/memory"
	"github.com/patudom/cds-app/internal/interface/http/handlers"
	"github.com/patudom/cds-app/internal/stories/hubble"
	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
	"github.com/patudom/cds-app/pkg/retry"
)

var persist = cosmicds.Scope{UpdateDB: true}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	return cfg
}

func newTestServer(t *testing.T, cfg Config, deps Dependencies) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	deps.Store = store
	deps.Logger = logger.Discard()
	srv := httptest.NewServer(NewServer(cfg, deps).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func seedClass(t *testing.T, store *memory.Store) *student.Class {
	t.Helper()
	ctx := context.Background()
	edu := &student.Educator{Username: "educator-hash"}
	require.NoError(t, store.CreateEducator(ctx, edu))
	class, err := student.NewClass("hubble-101", "Period 1", edu.ID, hubble.StoryID)
	require.NoError(t, err)
	require.NoError(t, store.CreateClass(ctx, class))
	return class
}

func newClient(baseURL, apiKey string) *cosmicds.Client {
	return cosmicds.NewClient(cosmicds.ClientConfig{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		SessionSecret: "salt",
		Timeout:       2 * time.Second,
		ReadRetrier:   retry.New(retry.WithMaxAttempts(1)),
		Logger:        logger.Discard(),
	})
}

func do(t *testing.T, method, url, body string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestClientAgainstServer(t *testing.T) {
	srv, store := newTestServer(t, testConfig(), Dependencies{})
	class := seedClass(t, store)
	c := newClient(srv.URL, "")
	ctx := context.Background()

	hash := c.HashUser("student@example.org")
	exists, err := c.UserExists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)

	info, err := c.CreateNewUser(ctx, hash, class.Code, hubble.StoryID)
	require.NoError(t, err)
	assert.Equal(t, hash, info.Student.Username)
	assert.Equal(t, 1, info.ClassSize)
	assert.Equal(t, class.Code, info.ClassInfo["code"])
	studentID := info.Student.ID

	_, err = c.CreateNewUser(ctx, hash, class.Code, hubble.StoryID)
	assert.True(t, errors.Is(err, shared.ErrAlreadyExists))

	isEducator, err := c.IsEducator(ctx, "educator-hash")
	require.NoError(t, err)
	assert.True(t, isEducator)
	isEducator, err = c.IsEducator(ctx, hash)
	require.NoError(t, err)
	assert.False(t, isEducator)

	t.Run("story state merge patches", func(t *testing.T) {
		got, err := c.GetStoryState(ctx, persist, studentID, hubble.StoryID)
		require.NoError(t, err)
		assert.False(t, got.Found)

		_, err = c.PatchStoryState(ctx, persist, studentID, hubble.StoryID, docdiff.Document{
			"x":      float64(1),
			"nested": map[string]any{"a": "b"},
		})
		require.NoError(t, err)
		_, err = c.PatchStoryState(ctx, persist, studentID, hubble.StoryID, docdiff.Document{
			"nested": map[string]any{"a": nil, "c": true},
		})
		require.NoError(t, err)

		got, err = c.GetStoryState(ctx, persist, studentID, hubble.StoryID)
		require.NoError(t, err)
		require.True(t, got.Found)
		want := docdiff.Document{"app": map[string]any{
			"x":      float64(1),
			"nested": map[string]any{"c": true},
		}}
		assert.True(t, docdiff.Equal(want, got.State), "got %v", got.State)
	})

	t.Run("stage state", func(t *testing.T) {
		doc := docdiff.Document{"max_step": float64(3)}
		_, err := c.PutStageState(ctx, persist, studentID, hubble.StoryID, "introduction", doc)
		require.NoError(t, err)

		got, found, err := c.GetStageState(ctx, persist, studentID, hubble.StoryID, "introduction")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, doc, got)

		stages, err := c.GetStages(ctx, studentID)
		require.NoError(t, err)
		assert.Contains(t, stages, "introduction")

		_, err = c.DeleteStageState(ctx, persist, studentID, hubble.StoryID, "introduction")
		require.NoError(t, err)
		_, found, err = c.GetStageState(ctx, persist, studentID, hubble.StoryID, "introduction")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("measurements", func(t *testing.T) {
		_, err := c.PutMeasurements(ctx, persist, studentID, []map[string]any{{"galaxy_id": 7, "velocity": 1200.5}})
		require.NoError(t, err)

		own, err := c.GetMeasurements(ctx, studentID)
		require.NoError(t, err)
		require.Len(t, own, 1)
		assert.Equal(t, float64(7), own[0]["galaxy_id"])

		sample, err := c.GetSampleMeasurements(ctx, studentID)
		require.NoError(t, err)
		assert.Empty(t, sample)

		all, err := c.GetClassMeasurements(ctx, class.ID)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("class size and roster", func(t *testing.T) {
		size, err := c.UpdateClassSize(ctx, class.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, size)

		r, adapter, err := roster.NewService(c, nil, logger.Discard()).Refresh(ctx, class.ID)
		require.NoError(t, err)
		assert.Equal(t, roster.VersionLegacy, adapter.VersionName())
		require.Len(t, r.Entries, 1)
		assert.Equal(t, float64(studentID), r.Entries[0]["student_id"])
		assert.Contains(t, r.Entries[0]["story_state"], "app")
	})
}

func TestAPIKeyAuthentication(t *testing.T) {
	hash, err := handlers.HashKey("k1", bcrypt.MinCost)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.APIKeyHashes = []string{hash}
	srv, store := newTestServer(t, cfg, Dependencies{})
	class := seedClass(t, store)
	sizePath := srv.URL + "/classes/size/" + strconv.Itoa(class.ID)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "k2", http.StatusUnauthorized},
		{"verbatim", "k1", http.StatusOK},
		{"bearer", "Bearer k1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Authorization", tt.header)
			}
			resp, _ := do(t, http.MethodGet, sizePath, "", header)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = newClient(srv.URL, "k1").UpdateClassSize(context.Background(), class.ID)
	assert.NoError(t, err)
}

func TestRequestValidation(t *testing.T) {
	srv, store := newTestServer(t, testConfig(), Dependencies{})
	seedClass(t, store)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"non numeric id", http.MethodGet, "/classes/size/abc", "", http.StatusBadRequest},
		{"patch without app", http.MethodPatch, "/story-state/1/hubbles_law", `{"x": 1}`, http.StatusBadRequest},
		{"patch with bad json", http.MethodPatch, "/story-state/1/hubbles_law", `{`, http.StatusBadRequest},
		{"missing story state", http.MethodGet, "/story-state/1/hubbles_law", "", http.StatusNotFound},
		{"delete missing stage", http.MethodDelete, "/stage-state/1/hubbles_law/introduction", "", http.StatusNotFound},
		{"unknown class code", http.MethodPost, "/students/create", `{"username": "u1", "classroom_code": "nope"}`, http.StatusNotFound},
		{"invalid username", http.MethodPost, "/students/create", `{"username": "has space"}`, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, tt.method, srv.URL+tt.path, tt.body, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestUnknownAccountsAreNull(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), Dependencies{})

	resp, body := do(t, http.MethodGet, srv.URL+"/student/nobody", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "student")
	assert.Nil(t, body["student"])

	resp, body = do(t, http.MethodGet, srv.URL+"/educators/nobody", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["educator"])
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), Dependencies{})

	resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", "", http.Header{"X-Request-Id": {"req-1"}})
	assert.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))

	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	_, err := uuid.Parse(resp.Header.Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("store", func(context.Context) error { return nil })
	srv, _ := newTestServer(t, testConfig(), Dependencies{HealthChecker: checker})

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["healthy"])

	checker.AddCheck("cache", func(context.Context) error { return errors.New("down") })
	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, body = do(t, http.MethodGet, srv.URL+"/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_ready", body["status"])
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	srv, _ := newTestServer(t, cfg, Dependencies{})

	for range 2 {
		resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))
	_, swept := rl.requests["b"]
	assert.False(t, swept)
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	cfg.Host = "::1"
	assert.Equal(t, "[::1]:8080", cfg.Address())
	assert.Equal(t, hubble.StoryID, cfg.DefaultStory)
}
