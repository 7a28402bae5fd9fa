package session

import (
	"fmt"

	"github.com/patudom/cds-app/internal/domain/progress"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/pkg/docdiff"
)

// responseRecorder is implemented by stories that mirror responses into
// story-wide buckets.
type responseRecorder interface {
	RecordMultipleChoice(stageID string, resp progress.MultipleChoiceResponse) (int, error)
	RecordFreeResponse(stageID string, resp progress.FreeResponse) error
}

type routeStore interface {
	StoreRoute(path string) (int, error)
}

func (s *Session) stage(stageID string) (progress.StageState, error) {
	st := s.app.Story()
	if st == nil {
		return nil, ErrNotLoaded
	}
	return st.Stage(stageID)
}

// Next moves stageID one step forward if its gate allows.
func (s *Session) Next(stageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stage(stageID)
	if err != nil {
		return false, err
	}
	return s.engine.TransitionNext(st)
}

// Previous moves stageID one step back.
func (s *Session) Previous(stageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stage(stageID)
	if err != nil {
		return false, err
	}
	return s.engine.TransitionPrevious(st)
}

// GoTo moves stageID to the named step. force skips the gate.
func (s *Session) GoTo(stageID, step string, force bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stage(stageID)
	if err != nil {
		return false, err
	}
	target, err := st.Base().CurrentStep.Set().Parse(step)
	if err != nil {
		return false, err
	}
	return s.engine.TransitionTo(st, target, force), nil
}

// CanAdvance reports whether stageID may move one step forward.
func (s *Session) CanAdvance(stageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stage(stageID)
	if err != nil {
		return false, err
	}
	return s.engine.CanTransition(st, progress.Forward()), nil
}

// CurrentStep returns the name of the current step of stageID.
func (s *Session) CurrentStep(stageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stage(stageID)
	if err != nil {
		return "", err
	}
	return st.Base().CurrentStep.Name(), nil
}

// RecordMultipleChoice stores a scored answer and moves the piggybank by
// the score delta. A nil score counts as zero.
func (s *Session) RecordMultipleChoice(stageID, tag string, score, choice *int, tries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := progress.NewMultipleChoiceResponse(tag, score, choice, tries)
	base := s.app.Story()
	if base == nil {
		return 0, ErrNotLoaded
	}

	var delta int
	var err error
	if rec, ok := s.app.StoryState.(responseRecorder); ok {
		delta, err = rec.RecordMultipleChoice(stageID, resp)
	} else {
		delta, err = base.SetMultipleChoice(stageID, resp)
	}
	if err != nil {
		return 0, err
	}

	s.publish(shared.NewResponseRecordedEvent(stageID, tag, shared.ResponseMultipleChoice, resp.Score))
	if delta != 0 {
		s.publish(shared.NewPiggybankChangedEvent(base.StoryID, delta, base.PiggybankTotal))
	}
	return delta, nil
}

// RecordFreeResponse stores a free-text answer.
func (s *Session) RecordFreeResponse(stageID, tag, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := progress.FreeResponse{Tag: tag, Response: text, Initialized: true}
	base := s.app.Story()
	if base == nil {
		return ErrNotLoaded
	}

	var err error
	if rec, ok := s.app.StoryState.(responseRecorder); ok {
		err = rec.RecordFreeResponse(stageID, resp)
	} else {
		err = base.SetFreeResponse(stageID, resp)
	}
	if err != nil {
		return err
	}
	s.publish(shared.NewResponseRecordedEvent(stageID, tag, shared.ResponseFree, 0))
	return nil
}

// StoreRoute records the page the learner navigated to.
func (s *Session) StoreRoute(path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.app.StoryState.(routeStore)
	if !ok {
		return 0, fmt.Errorf("%w: story has no routes", shared.ErrInvalidState)
	}
	idx, err := rs.StoreRoute(path)
	if err != nil {
		return 0, err
	}
	s.publish(shared.NewRouteStoredEvent(s.app.Story().StoryID, path, idx))
	return idx, nil
}

// ReplaceMeasurements installs new measurement lists on a measured story.
func (s *Session) ReplaceMeasurements(student, sample []docdiff.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.app.StoryState.(MeasuredStory)
	if !ok {
		return fmt.Errorf("%w: story has no measurements", shared.ErrInvalidState)
	}
	if err := ms.LoadMeasurementDocuments(student, sample); err != nil {
		return err
	}
	s.publish(shared.NewMeasurementsChangedEvent(s.app.Story().StoryID, len(student)))
	return nil
}

// ClearUser forgets the learner's identity. The session stops persisting
// until it is loaded again.
func (s *Session) ClearUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.app.ClearUser()
	s.loaded = false
}

// Story returns a read-only view of the active story through fn.
func (s *Session) Story(fn func(st story.StoryState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.app.StoryState)
}
