package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/internal/domain/student"
	"github.com/patudom/cds-app/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStudent handles GET /student/{hash}. An unknown user is a 200
// with a null student.
func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.StudentByUsername(r.Context(), chi.URLParam(r, "hash"))
	if errors.Is(err, student.ErrStudentNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"student": nil})
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"student": st})
}

// handleGetEducator handles GET /educators/{hash}.
func (s *Server) handleGetEducator(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.EducatorByUsername(r.Context(), chi.URLParam(r, "hash"))
	if errors.Is(err, student.ErrEducatorNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"educator": nil})
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"educator": e})
}

type createStudentRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Institution   string `json:"institution"`
	Email         string `json:"email"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
	ClassroomCode string `json:"classroom_code"`
}

// handleCreateStudent handles POST /students/create.
func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	st, err := student.NewStudent(student.NewStudentParams{
		Username:    req.Username,
		Email:       req.Email,
		Institution: req.Institution,
		Age:         req.Age,
		Gender:      req.Gender,
		ClassCode:   req.ClassroomCode,
	})
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_student", err.Error())
		return
	}
	if err := s.store.CreateStudent(r.Context(), st, req.ClassroomCode); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("student created",
		logger.StudentID(st.ID), logger.ClassID(st.ClassID))
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "student": st})
}

// handleClassForStudentStory handles GET
// /class-for-student-story/{studentID}/{story}.
func (s *Server) handleClassForStudentStory(w http.ResponseWriter, r *http.Request) {
	studentID, ok := intParam(w, r, "studentID")
	if !ok {
		return
	}

	class, err := s.store.ClassForStudentStory(r.Context(), studentID, chi.URLParam(r, "story"))
	if errors.Is(err, student.ErrClassNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"class": nil, "size": 0})
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	size, err := s.store.ClassSize(r.Context(), class.ID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"class": class, "size": size})
}

// handleGetClassSize handles GET /classes/size/{classID}.
func (s *Server) handleGetClassSize(w http.ResponseWriter, r *http.Request) {
	classID, ok := intParam(w, r, "classID")
	if !ok {
		return
	}
	size, err := s.store.ClassSize(r.Context(), classID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"size": size})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// intParam parses a numeric path parameter, answering 400 when it is not
// one.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", name+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return false
	}
	return true
}

// writeStoreError maps repository errors onto status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, student.ErrStudentNotFound),
		errors.Is(err, student.ErrEducatorNotFound),
		errors.Is(err, student.ErrClassNotFound),
		errors.Is(err, story.ErrStateNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, student.ErrStudentAlreadyExists),
		errors.Is(err, student.ErrClassAlreadyExists):
		writeJSONError(w, http.StatusConflict, "already_exists", err.Error())
	default:
		logger.FromContext(r.Context()).Error("store operation failed", "path", r.URL.Path, logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}
