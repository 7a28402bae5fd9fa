// Package story aggregates stage states into stories and stories into the
// per-session application state, and owns the registry that turns untyped
// documents back into typed state.
package story

import (
	"fmt"

	"github.com/patudom/cds-app/internal/domain/progress"
	"github.com/patudom/cds-app/internal/domain/shared"
)

// StoryState is the closed set of story kinds. Every kind embeds Story.
type StoryState interface {
	// Base returns the common story fields.
	Base() *Story
}

// Story holds the fields shared by every story kind.
type Story struct {
	Type           string `json:"type"`
	Title          string `json:"title"`
	StoryID        string `json:"story_id"`
	PiggybankTotal int    `json:"piggybank_total"`
	MaxRouteIndex  *int   `json:"max_route_index"`

	// StageStates is keyed by stage id. It is (de)serialized by the
	// registry, which knows the concrete kinds.
	StageStates map[string]progress.StageState `json:"stage_states"`

	DebugMode bool `json:"-"`
}

// NewStory returns a story with no stages. Registry.NewStory fills them.
func NewStory(storyID, title string) Story {
	return Story{
		StoryID:     storyID,
		Title:       title,
		StageStates: make(map[string]progress.StageState),
	}
}

// Base implements StoryState.
func (s *Story) Base() *Story { return s }

// Stage returns the stage with the given id.
func (s *Story) Stage(stageID string) (progress.StageState, error) {
	st, ok := s.StageStates[stageID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", shared.ErrStageNotFound, stageID)
	}
	return st, nil
}

// SetMultipleChoice records resp in the stage's ledger and moves the
// piggybank by the score delta. The response is stamped with the stage id.
// It returns the applied delta.
func (s *Story) SetMultipleChoice(stageID string, resp progress.MultipleChoiceResponse) (int, error) {
	st, err := s.Stage(stageID)
	if err != nil {
		return 0, err
	}
	resp.Stage = stageID
	delta := st.Base().SetMultipleChoice(resp)
	s.PiggybankTotal += delta
	return delta, nil
}

// SetFreeResponse records resp in the stage's ledger. The response is
// stamped with the stage id.
func (s *Story) SetFreeResponse(stageID string, resp progress.FreeResponse) error {
	st, err := s.Stage(stageID)
	if err != nil {
		return err
	}
	resp.Stage = stageID
	st.Base().SetFreeResponse(resp)
	return nil
}

// HasResponse reports whether any stage holds a response for tag.
func (s *Story) HasResponse(tag string) bool {
	for _, st := range s.StageStates {
		if st.Base().HasResponse(tag) {
			return true
		}
	}
	return false
}

// RaiseMaxRouteIndex lifts MaxRouteIndex to index if index is higher.
func (s *Story) RaiseMaxRouteIndex(index int) int {
	if s.MaxRouteIndex == nil || index > *s.MaxRouteIndex {
		s.MaxRouteIndex = &index
	}
	return *s.MaxRouteIndex
}

// Score sums multiple-choice scores across all stages.
func (s *Story) Score() int {
	total := 0
	for _, st := range s.StageStates {
		total += st.Base().Score()
	}
	return total
}
