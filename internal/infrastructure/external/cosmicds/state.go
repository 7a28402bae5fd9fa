package cosmicds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

// Result describes the outcome of a write.
type Result struct {
	// Skipped is set when the scope disabled persistence and nothing was
	// sent.
	Skipped bool

	// PatchID identifies the write in the request headers and the logs.
	PatchID string
}

// StoryStateResult is the outcome of GetStoryState.
type StoryStateResult struct {
	// State is the stored story document, nil unless Found.
	State docdiff.Document

	// Found is set when the server holds a record.
	Found bool

	// Skipped is set when the scope disabled persistence.
	Skipped bool
}

// patchIDSource hands out strictly increasing ULIDs.
type patchIDSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newPatchIDSource() *patchIDSource {
	return &patchIDSource{entropy: ulid.Monotonic(ulid.DefaultEntropy(), 0)}
}

func (s *patchIDSource) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func storyPath(studentID int, storyID string) string {
	return fmt.Sprintf("/story-state/%d/%s", studentID, url.PathEscape(storyID))
}

func stagePath(studentID int, storyID, stageID string) string {
	return fmt.Sprintf("/stage-state/%d/%s/%s", studentID, url.PathEscape(storyID), url.PathEscape(stageID))
}

// GetStoryState fetches the stored story document. A missing record is
// not an error; the caller synthesizes a baseline.
func (c *Client) GetStoryState(ctx context.Context, scope Scope, studentID int, storyID string) (StoryStateResult, error) {
	if !scope.Persists() {
		return StoryStateResult{Skipped: true}, nil
	}

	var env stateEnvelope
	err := c.get(ctx, storyPath(studentID, storyID), &env)
	if err != nil && !shared.IsNotFound(err) {
		return StoryStateResult{}, err
	}
	if env.State == nil {
		c.logger.Error("no story state stored", logger.StudentID(studentID), logger.Story(storyID))
		return StoryStateResult{}, nil
	}
	return StoryStateResult{State: env.State, Found: true}, nil
}

// PatchStoryState sends patch as a merge patch of the stored app state.
// Writes are not retried.
func (c *Client) PatchStoryState(ctx context.Context, scope Scope, studentID int, storyID string, patch docdiff.Document) (Result, error) {
	if !scope.Persists() {
		return Result{Skipped: true}, nil
	}

	patchID := c.patchIDs.next()
	req := request{
		method: http.MethodPatch,
		path:   storyPath(studentID, storyID),
		body:   storyPatchDTO{App: patch},
		header: http.Header{"X-Patch-Id": []string{patchID}},
		want:   http.StatusOK,
	}
	if err := c.doRequest(ctx, req, nil); err != nil {
		c.logger.Error("failed to patch story state",
			logger.StudentID(studentID), logger.Story(storyID), logger.PatchID(patchID), logger.Err(err))
		return Result{PatchID: patchID}, err
	}

	c.logger.Debug("story state patched",
		logger.StudentID(studentID), logger.Story(storyID), logger.PatchID(patchID), "keys", docdiff.Leaves(patch))
	return Result{PatchID: patchID}, nil
}

// GetStageState fetches one stage document. The bool is false when the
// server holds none.
func (c *Client) GetStageState(ctx context.Context, scope Scope, studentID int, storyID, stageID string) (docdiff.Document, bool, error) {
	if !scope.Persists() {
		return nil, false, nil
	}

	var env stateEnvelope
	err := c.get(ctx, stagePath(studentID, storyID, stageID), &env)
	if err != nil && !shared.IsNotFound(err) {
		return nil, false, err
	}
	if env.State == nil {
		c.logger.Error("no stage state stored",
			logger.StudentID(studentID), logger.Story(storyID), logger.Stage(stageID))
		return nil, false, nil
	}
	return env.State, true, nil
}

// PutStageState replaces one stage document.
func (c *Client) PutStageState(ctx context.Context, scope Scope, studentID int, storyID, stageID string, state docdiff.Document) (Result, error) {
	if !scope.Persists() {
		return Result{Skipped: true}, nil
	}
	req := request{method: http.MethodPut, path: stagePath(studentID, storyID, stageID), body: state}
	if err := c.doRequest(ctx, req, nil); err != nil {
		c.logger.Error("failed to put stage state",
			logger.StudentID(studentID), logger.Stage(stageID), logger.Err(err))
		return Result{}, err
	}
	return Result{}, nil
}

// DeleteStageState removes one stage document. The server must confirm
// with success=true.
func (c *Client) DeleteStageState(ctx context.Context, scope Scope, studentID int, storyID, stageID string) (Result, error) {
	if !scope.Persists() {
		return Result{Skipped: true}, nil
	}

	var out successDTO
	req := request{method: http.MethodDelete, path: stagePath(studentID, storyID, stageID), want: http.StatusOK}
	if err := c.doRequest(ctx, req, &out); err != nil {
		c.logger.Error("failed to delete stage state",
			logger.StudentID(studentID), logger.Stage(stageID), logger.Err(err))
		return Result{}, err
	}
	if !out.Success {
		return Result{}, shared.WrapError("cosmicds", "DeleteStageState", shared.ErrInvalidFormat,
			"server did not confirm deletion", shared.ErrRemoteInvalidResponse)
	}
	return Result{}, nil
}
