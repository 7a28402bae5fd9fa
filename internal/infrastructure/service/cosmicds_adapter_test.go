package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patudom/cds-app/internal/application/session"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/infrastructure/external/cosmicds"
	"github.com/patudom/cds-app/pkg/logger"
)

func respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestCosmicDSAdapter(t *testing.T) {
	hash := cosmicds.HashUser("kid@example.org", "salt")
	var putPaths []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /student/"+hash, func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"student": map[string]any{"id": 12}})
	})
	mux.HandleFunc("GET /educators/"+hash, func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"educator": nil})
	})
	mux.HandleFunc("GET /class-for-student-story/12/hubbles_law", func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"class": map[string]any{"id": 300}, "size": 4})
	})
	mux.HandleFunc("GET /story-state/12/hubbles_law", func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"state": map[string]any{"app": map[string]any{"drawer": false}}})
	})
	mux.HandleFunc("GET /story-state/13/hubbles_law", func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"state": map[string]any{"story": map[string]any{}}})
	})
	mux.HandleFunc("GET /measurements/12", func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"measurements": []any{map[string]any{"galaxy_id": 4}}})
	})
	mux.HandleFunc("GET /sample-measurements/12", func(w http.ResponseWriter, r *http.Request) {
		respond(w, map[string]any{"measurements": []any{}})
	})
	mux.HandleFunc("PUT /", func(w http.ResponseWriter, r *http.Request) {
		putPaths = append(putPaths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := cosmicds.NewClient(cosmicds.ClientConfig{BaseURL: srv.URL, SessionSecret: "salt", Logger: logger.Discard()})
	a := NewCosmicDSAdapter(client)
	ctx := context.Background()

	id, err := a.ResolveIdentity(ctx, "kid@example.org", "hubbles_law")
	require.NoError(t, err)
	assert.Equal(t, session.Identity{StudentID: 12, ClassInfo: map[string]any{"id": float64(300)}, ClassSize: 4}, id)

	persist := session.Scope{UpdateDB: true}
	stored, err := a.LoadStoryState(ctx, persist, 12, "hubbles_law")
	require.NoError(t, err)
	assert.True(t, stored.Found)
	assert.Equal(t, false, stored.App["drawer"])

	_, err = a.LoadStoryState(ctx, persist, 13, "hubbles_law")
	assert.True(t, shared.IsDataIntegrity(err))

	student, sample, err := a.LoadMeasurements(ctx, 12)
	require.NoError(t, err)
	assert.Len(t, student, 1)
	assert.Empty(t, sample)

	require.NoError(t, a.SaveMeasurements(ctx, persist, 12, student, sample))
	assert.Equal(t, []string{"/measurements/12", "/sample-measurements/12"}, putPaths)

	require.NoError(t, a.SaveMeasurements(ctx, session.Scope{}, 12, student, sample))
	assert.Len(t, putPaths, 2)
}
