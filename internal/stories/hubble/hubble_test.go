package hubble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patudom/cds-app/internal/domain/progress"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/pkg/docdiff"
)

func newHubbleStory(t *testing.T) *Story {
	t.Helper()
	st, err := NewRegistry(nil).DefaultStory()
	require.NoError(t, err)
	return st.(*Story)
}

func ptr[T any](v T) *T { return &v }

func TestRegister_AllStagesInOrder(t *testing.T) {
	reg := NewRegistry(nil)

	assert.Equal(t, StageOrder, reg.StageKinds())
	assert.Equal(t, []string{StoryID}, reg.StoryKinds())

	s := newHubbleStory(t)
	assert.Equal(t, StoryID, s.Type)
	assert.Equal(t, "Hubble's Law", s.Title)
	assert.Len(t, s.StageStates, len(StageOrder))
	for _, id := range StageOrder {
		assert.Equal(t, id, s.StageStates[id].Base().StageID)
	}
}

func TestStageIndex(t *testing.T) {
	idx, ok := StageIndex(StageExploreData)
	require.True(t, ok)
	assert.Equal(t, 4, idx)

	_, ok = StageIndex("stage_9")
	assert.False(t, ok)
}

func TestDistanceMeasurements_ExampleGalaxyGate(t *testing.T) {
	engine := progress.NewEngine(nil, nil)
	st := NewDistanceMeasurements().(*DistanceMeasurements)
	st.CurrentStep = DistanceMeasurementsMarkers.MustParse("cho_row1")
	target := DistanceMeasurementsMarkers.MustParse("ang_siz2")

	assert.False(t, engine.CanTransition(st, progress.Forward()))
	assert.False(t, engine.TransitionTo(st, target, false))
	assert.Equal(t, "cho_row1", st.CurrentStep.Name())

	st.SelectedExampleGalaxy = map[string]any{"id": float64(1)}
	assert.True(t, engine.TransitionTo(st, target, false))
	assert.Equal(t, "ang_siz2", st.CurrentStep.Name())
	assert.Equal(t, target.Value(), st.MaxStep)
}

func TestSpectra_GalaxyCountGate(t *testing.T) {
	engine := progress.NewEngine(nil, nil)
	st := NewSpectraAndVelocity().(*SpectraAndVelocity)
	st.CurrentStep = SpectraMarkers.MustParse("sel_gal4")

	ok, err := engine.TransitionNext(st)
	require.NoError(t, err)
	assert.False(t, ok)

	st.GalaxiesTotal = 5
	ok, err = engine.TransitionNext(st)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cho_row1", st.CurrentStep.Name())
}

func TestSentinelStages_ProgressReachesOneOnLastRealStep(t *testing.T) {
	st := NewExploreData().(*ExploreData)
	assert.Equal(t, ExploreDataMarkers.Len()-1, st.TotalSteps())

	last := ExploreDataMarkers.Markers()[ExploreDataMarkers.Len()-2]
	st.CurrentStep = last
	assert.InDelta(t, 1.0, st.Progress(), 1e-9)

	st.CurrentStep = ExploreDataMarkers.Last()
	assert.InDelta(t, 1.0, st.Progress(), 1e-9)
}

func TestIntroduction_ProgressFollowsSlideshow(t *testing.T) {
	st := NewIntroduction().(*Introduction)
	assert.Equal(t, IntroSlideshowLength, st.TotalSteps())

	st.IntroSlideshowState.Advance(2)
	st.IntroSlideshowState.Advance(1)
	assert.Equal(t, 1, st.IntroSlideshowState.Step)
	assert.Equal(t, 2, st.IntroSlideshowState.MaxStepCompleted)
	assert.InDelta(t, 3.0/6.0, st.Progress(), 1e-9)
}

func TestProfessionalData_ResponseGates(t *testing.T) {
	engine := progress.NewEngine(nil, nil)
	st := NewProfessionalData().(*ProfessionalData)
	st.CurrentStep = ProfessionalDataMarkers.MustParse("pro_dat1")

	ok, err := engine.TransitionNext(st)
	require.NoError(t, err)
	assert.False(t, ok)

	st.SetFreeResponse(progress.FreeResponse{Tag: "pro-dat1", Response: "older"})
	ok, err = engine.TransitionNext(st)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pro_dat2", st.CurrentStep.Name())
}

func TestProfessionalData_HydratesIntegerStep(t *testing.T) {
	reg := NewRegistry(nil)

	st, err := reg.HydrateStage(docdiff.Document{
		"type":         StageProfessionalData,
		"current_step": float64(3),
		"our_age":      float64(13.2),
	})
	require.NoError(t, err)

	pro := st.(*ProfessionalData)
	assert.Equal(t, "pro_dat2", pro.CurrentStep.Name())
	assert.Equal(t, 3, pro.MaxStep)
	assert.InDelta(t, 13.2, pro.OurAge, 1e-9)
	assert.InDelta(t, 0.15, pro.AgesWithin, 1e-9, "absent fields keep their defaults")
}

func TestStory_RecordMultipleChoiceMirrorsScores(t *testing.T) {
	s := newHubbleStory(t)

	delta, err := s.RecordMultipleChoice(StageExploreData,
		progress.NewMultipleChoiceResponse("tre-dat-mc1", ptr(10), ptr(2), 1))
	require.NoError(t, err)
	assert.Equal(t, 10, delta)
	assert.Equal(t, 10, s.PiggybankTotal)

	entry, ok := s.MCScoring["scores"]["tre-dat-mc1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 10, entry["score"])
	assert.Equal(t, StageExploreData, entry["stage"])

	delta, err = s.RecordMultipleChoice(StageExploreData,
		progress.NewMultipleChoiceResponse("tre-dat-mc1", ptr(5), ptr(1), 2))
	require.NoError(t, err)
	assert.Equal(t, -5, delta)
	assert.Equal(t, 5, s.PiggybankTotal)
}

func TestStory_RecordFreeResponseMirrorsResponses(t *testing.T) {
	s := newHubbleStory(t)

	require.NoError(t, s.RecordFreeResponse(StageClassResults, progress.FreeResponse{Tag: "my-reasoning", Response: "spread"}))

	assert.True(t, s.HasResponse("my-reasoning"))
	entry, ok := s.FreeResponses["responses"]["my-reasoning"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "spread", entry["response"])

	err := s.RecordFreeResponse("stage_9", progress.FreeResponse{Tag: "x"})
	assert.True(t, shared.IsNotFound(err))
}

func TestStory_StoreRoute(t *testing.T) {
	s := newHubbleStory(t)

	idx, err := s.StoreRoute("distance-measurements")
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	idx, err = s.StoreRoute("spectra-and-velocity")
	require.NoError(t, err)
	assert.Equal(t, 3, idx, "max_route_index never lowers")
	require.NotNil(t, s.LastRoute)
	assert.Equal(t, "spectra-and-velocity", *s.LastRoute)

	_, err = s.StoreRoute("nowhere")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestStory_SetMeasurementsRecountsTotals(t *testing.T) {
	s := newHubbleStory(t)

	s.SetMeasurements([]Measurement{
		{GalaxyID: 1, ObsWaveValue: ptr(6800.0), VelocityValue: ptr(9000.0), AngSizeValue: ptr(40.0)},
		{GalaxyID: 2, ObsWaveValue: ptr(6900.0)},
		{GalaxyID: 3},
	})

	spectra := s.StageStates[StageSpectraAndVelocity].(*SpectraAndVelocity)
	assert.Equal(t, 3, spectra.GalaxiesTotal)
	assert.Equal(t, 2, spectra.ObsWaveTotal)
	assert.Equal(t, 1, spectra.VelocitiesTotal)

	distance := s.StageStates[StageDistanceMeasurements].(*DistanceMeasurements)
	assert.Equal(t, 1, distance.AngularSizesTotal)
	assert.Equal(t, 0, distance.DistancesTotal)
	assert.True(t, s.MeasurementsLoaded)
}

func TestStory_DocumentRoundTrip(t *testing.T) {
	reg := NewRegistry(nil)
	app, err := story.NewAppState(reg, story.Flags{UpdateDB: true})
	require.NoError(t, err)

	s := app.StoryState.(*Story)
	_, err = s.StoreRoute("explore-data")
	require.NoError(t, err)
	_, err = s.RecordMultipleChoice(StageSpectraAndVelocity,
		progress.NewMultipleChoiceResponse("which-galaxy-closer", ptr(10), ptr(0), 1))
	require.NoError(t, err)
	s.SetMeasurements([]Measurement{{GalaxyID: 9, ObsWaveValue: ptr(7000.0)}})

	doc, err := app.Document()
	require.NoError(t, err)

	storyDoc, ok := doc["story_state"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, storyDoc, "measurements")
	assert.Equal(t, float64(4), storyDoc["max_route_index"])

	restored, err := reg.HydrateApp(doc, story.Flags{UpdateDB: true})
	require.NoError(t, err)
	again, err := restored.Document()
	require.NoError(t, err)
	assert.True(t, docdiff.Equal(doc, again))

	hs := restored.StoryState.(*Story)
	assert.Equal(t, 10, hs.PiggybankTotal)
	spectra := hs.StageStates[StageSpectraAndVelocity].(*SpectraAndVelocity)
	assert.Equal(t, 1, spectra.GalaxiesTotal, "totals travel in the stage document")
}
