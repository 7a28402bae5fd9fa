package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORY STATE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStoryState handles GET /story-state/{studentID}/{story}.
func (s *Server) handleGetStoryState(w http.ResponseWriter, r *http.Request) {
	studentID, ok := intParam(w, r, "studentID")
	if !ok {
		return
	}
	state, err := s.store.StoryState(r.Context(), studentID, chi.URLParam(r, "story"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

// handlePatchStoryState handles PATCH /story-state/{studentID}/{story}. The
// body is a merge patch of the stored document and must carry an app
// object.
func (s *Server) handlePatchStoryState(w http.ResponseWriter, r *http.Request) {
	studentID, ok := intParam(w, r, "studentID")
	if !ok {
		return
	}
	var patch docdiff.Document
	if !decodeBody(w, r, &patch) {
		return
	}
	if _, isDoc := patch["app"].(map[string]any); !isDoc {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "app must be an object")
		return
	}

	storyName := chi.URLParam(r, "story")
	merged, err := s.store.PatchStoryState(r.Context(), studentID, storyName, patch)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Debug("story state patched",
		logger.StudentID(studentID), logger.Story(storyName),
		logger.PatchID(r.Header.Get("X-Patch-Id")), "keys", docdiff.Leaves(patch))
	writeJSON(w, http.StatusOK, map[string]any{"state": merged})
}

// ══════════════════════════════════════════════════════════════════════════════
// STAGE STATE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetStageState(w http.ResponseWriter, r *http.Request) {
	studentID, ok := intParam(w, r, "studentID")
	if !ok {
		return
	}
	state, err := s.store.StageState(r.Context(), studentID, chi.URLParam(r, "story"), chi.URLParam(r, "stage"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

// handlePutStageState replaces the stage document with the request body.
func (s *Server) handlePutStageState(w http.ResponseWriter, r *http.Request) {
	studentID, ok := intParam(w, r, "studentID")
	if !ok {
		return
	}
	var state docdiff.Document
	if !decodeBody(w, r, &state) {
		return
	}
	if state == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "stage state must be an object")
		return
	}

	err := s.store.SaveStageState(r.Context(), studentID, chi.URLParam(r, "story"), chi.URLParam(r, "stage"), state)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteStageState answers success=false with 404 when there was
// nothing to delete.
func (s *Server) handleDeleteStageState(w http.ResponseWriter, r *http.Request) {
	studentID, ok := intParam(w, r, "studentID")
	if !ok {
		return
	}
	deleted, err := s.store.DeleteStageState(r.Context(), studentID, chi.URLParam(r, "story"), chi.URLParam(r, "stage"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]bool{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetStages handles GET /stages/{studentID}: every stage document of
// the student keyed by stage name.
func (s *Server) handleGetStages(w http.ResponseWriter, r *http.Request) {
	studentID, ok := intParam(w, r, "studentID")
	if !ok {
		return
	}
	stages, err := s.store.StageStates(r.Context(), studentID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if stages == nil {
		stages = map[string]docdiff.Document{}
	}
	writeJSON(w, http.StatusOK, stages)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetRoster handles GET /classes/roster/{classID}. Each row carries
// the student's stored story document untouched, so its shape is whatever
// app generation wrote it. The story defaults to Config.DefaultStory and
// can be chosen with ?story=.
func (s *Server) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	classID, ok := intParam(w, r, "classID")
	if !ok {
		return
	}
	storyName := r.URL.Query().Get("story")
	if storyName == "" {
		storyName = s.config.DefaultStory
	}

	members, err := s.store.ClassStudents(r.Context(), classID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	rows := make([]docdiff.Document, 0, len(members))
	for _, m := range members {
		state, err := s.store.StoryState(r.Context(), m.ID, storyName)
		if errors.Is(err, story.ErrStateNotFound) {
			state = docdiff.Document{}
		} else if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		rows = append(rows, docdiff.Document{
			"student_id":  m.ID,
			"username":    m.Username,
			"story_state": state,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

// ══════════════════════════════════════════════════════════════════════════════
// MEASUREMENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type measurementsBody struct {
	Measurements []docdiff.Document `json:"measurements"`
}

func (s *Server) handleGetMeasurements(w http.ResponseWriter, r *http.Request) {
	s.getMeasurements(w, r, story.MeasurementsStudent)
}

func (s *Server) handleGetSampleMeasurements(w http.ResponseWriter, r *http.Request) {
	s.getMeasurements(w, r, story.MeasurementsSample)
}

func (s *Server) handlePutMeasurements(w http.ResponseWriter, r *http.Request) {
	s.putMeasurements(w, r, story.MeasurementsStudent)
}

func (s *Server) handlePutSampleMeasurements(w http.ResponseWriter, r *http.Request) {
	s.putMeasurements(w, r, story.MeasurementsSample)
}

func (s *Server) getMeasurements(w http.ResponseWriter, r *http.Request, kind story.MeasurementKind) {
	studentID, ok := intParam(w, r, "studentID")
	if !ok {
		return
	}
	list, err := s.store.Measurements(r.Context(), studentID, kind)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeMeasurements(w, list)
}

func (s *Server) putMeasurements(w http.ResponseWriter, r *http.Request, kind story.MeasurementKind) {
	studentID, ok := intParam(w, r, "studentID")
	if !ok {
		return
	}
	var body measurementsBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.store.ReplaceMeasurements(r.Context(), studentID, kind, body.Measurements); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetClassMeasurements handles GET /class-measurements/{classID}.
func (s *Server) handleGetClassMeasurements(w http.ResponseWriter, r *http.Request) {
	classID, ok := intParam(w, r, "classID")
	if !ok {
		return
	}
	list, err := s.store.ClassMeasurements(r.Context(), classID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeMeasurements(w, list)
}

func writeMeasurements(w http.ResponseWriter, list []docdiff.Document) {
	if list == nil {
		list = []docdiff.Document{}
	}
	writeJSON(w, http.StatusOK, measurementsBody{Measurements: list})
}
