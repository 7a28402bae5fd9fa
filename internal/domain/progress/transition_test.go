package progress

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patudom/cds-app/internal/domain/shared"
)

type gatedStage struct {
	Stage
	Selected string `json:"selected"`
}

func newGatedStage() *gatedStage {
	s := &gatedStage{Stage: NewStage("gated", testSteps.First())}
	s.Type = "gated"
	return s
}

func (s *gatedStage) Gates() Gates {
	return Gates{
		"two": func() bool { return s.Selected != "" },
		"four": func() bool {
			return s.HasResponse("q-final")
		},
	}
}

type recordingPublisher struct {
	events []shared.Event
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.events = append(p.events, event)
	return nil
}

func TestEngine_GateBlocksUntilSatisfied(t *testing.T) {
	engine := NewEngine(nil, nil)
	s := newGatedStage()

	moved, err := engine.TransitionNext(s)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, "one", s.CurrentStep.Name())

	s.Selected = "NGC 4414"
	moved, err = engine.TransitionNext(s)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "two", s.CurrentStep.Name())
}

func TestEngine_CanTransitionFailsClosedAtBounds(t *testing.T) {
	engine := NewEngine(nil, nil)
	s := newGatedStage()

	assert.False(t, engine.CanTransition(s, Backward()))

	s.CurrentStep = testSteps.Last()
	assert.False(t, engine.CanTransition(s, Forward()))
	assert.True(t, engine.CanTransition(s, Backward()))
}

func TestEngine_CanTransitionRejectsForeignMarker(t *testing.T) {
	engine := NewEngine(nil, nil)
	s := newGatedStage()

	assert.False(t, engine.CanTransition(s, To(otherSteps.First())))
	assert.False(t, engine.TransitionTo(s, otherSteps.First(), true))
	assert.Equal(t, "one", s.CurrentStep.Name())
}

func TestEngine_MissingGatePermits(t *testing.T) {
	engine := NewEngine(nil, nil)
	s := newGatedStage()

	assert.True(t, engine.CanTransition(s, To(testSteps.MustParse("three"))))
}

func TestEngine_TransitionToIsIdempotent(t *testing.T) {
	engine := NewEngine(nil, nil)
	s := newGatedStage()
	three := testSteps.MustParse("three")

	assert.True(t, engine.TransitionTo(s, three, false))
	first := *s

	assert.True(t, engine.TransitionTo(s, three, false))
	assert.Equal(t, first.CurrentStep, s.CurrentStep)
	assert.Equal(t, first.MaxStep, s.MaxStep)

	four := testSteps.MustParse("four")
	assert.False(t, engine.TransitionTo(s, four, false))
	assert.False(t, engine.TransitionTo(s, four, false))
	assert.Equal(t, "three", s.CurrentStep.Name())
}

func TestEngine_MaxStepNeverDecreases(t *testing.T) {
	engine := NewEngine(nil, nil)
	s := newGatedStage()
	s.Selected = "x"
	s.SetFreeResponse(FreeResponse{Tag: "q-final", Response: "done"})

	sequence := []func(){
		func() { _, _ = engine.TransitionNext(s) },
		func() { _, _ = engine.TransitionNext(s) },
		func() { _, _ = engine.TransitionPrevious(s) },
		func() { engine.TransitionTo(s, testSteps.Last(), false) },
		func() { engine.TransitionTo(s, testSteps.First(), true) },
		func() { _, _ = engine.TransitionNext(s) },
	}

	last := s.MaxStep
	for _, step := range sequence {
		step()
		assert.GreaterOrEqual(t, s.MaxStep, last)
		assert.GreaterOrEqual(t, s.MaxStep, s.CurrentStep.Value())
		last = s.MaxStep
	}
	assert.Equal(t, 4, s.MaxStep)
	assert.Equal(t, "two", s.CurrentStep.Name())
}

func TestEngine_PreviousIsForced(t *testing.T) {
	engine := NewEngine(nil, nil)
	s := newGatedStage()
	s.CurrentStep = testSteps.MustParse("three")

	moved, err := engine.TransitionPrevious(s)
	require.NoError(t, err)
	assert.True(t, moved, "backward navigation ignores the gate of the target")
	assert.Equal(t, "two", s.CurrentStep.Name())
}

func TestEngine_OutOfRangeStepping(t *testing.T) {
	engine := NewEngine(nil, nil)
	s := newGatedStage()

	_, err := engine.TransitionPrevious(s)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	s.CurrentStep = testSteps.Last()
	_, err = engine.TransitionNext(s)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}

func TestEngine_PublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(nil, pub)
	s := newGatedStage()

	_, _ = engine.TransitionNext(s)
	s.Selected = "x"
	_, _ = engine.TransitionNext(s)

	require.Len(t, pub.events, 2)
	assert.Equal(t, shared.EventTransitionBlocked, pub.events[0].EventType())
	assert.Equal(t, shared.EventStepChanged, pub.events[1].EventType())

	changed := pub.events[1].(shared.StepChangedEvent)
	assert.Equal(t, "one", changed.From)
	assert.Equal(t, "two", changed.To)
	assert.Equal(t, 2, changed.MaxStep)
}

func TestStage_ProgressAndRefresh(t *testing.T) {
	s := newGatedStage()
	s.CurrentStep = testSteps.MustParse("two")
	Refresh(s)

	assert.Equal(t, 4, s.DerivedTotalSteps)
	assert.InDelta(t, 0.5, s.DerivedProgress, 1e-9)
	assert.Equal(t, 2, s.MaxStep)
}

func TestStage_DecodeOverDefaults(t *testing.T) {
	s := newGatedStage()
	doc := `{"type":"gated","stage_id":"gated","current_step":3,"max_step":1,
		"selected":"M31","multiple_choice_responses":{"q1":{"tag":"q1","score":null}}}`

	require.NoError(t, json.Unmarshal([]byte(doc), s))
	Refresh(s)

	assert.Equal(t, "three", s.CurrentStep.Name())
	assert.Equal(t, 3, s.MaxStep, "refresh restores the high-water mark")
	assert.Equal(t, "M31", s.Selected)
	assert.Equal(t, 0, s.MultipleChoiceResponses["q1"].Score)
	assert.NotNil(t, s.FreeResponses)
}

func TestStage_StepQueries(t *testing.T) {
	s := newGatedStage()
	s.CurrentStep = testSteps.MustParse("three")

	assert.True(t, s.IsCurrentStep(testSteps.MustParse("three")))
	assert.True(t, s.CurrentStepIn(testSteps.First(), testSteps.MustParse("three")))
	assert.True(t, s.CurrentStepBetween(testSteps.MustParse("two"), Marker{}))
	assert.True(t, s.CurrentStepAtOrBefore(testSteps.Last()))
	assert.True(t, s.CurrentStepAtOrAfter(testSteps.MustParse("three")))
	assert.False(t, s.CurrentStepAtOrAfter(testSteps.Last()))
	assert.False(t, s.CurrentStepAtOrBefore(otherSteps.Last()))
}
