package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patudom/cds-app/internal/domain/progress"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/pkg/docdiff"
)

var (
	warmupSteps = progress.NewMarkerSet("warmup", "wu1", "wu2", "wu3")
	finaleSteps = progress.NewMarkerSet("finale", "fi1", "fi2")
)

type warmupStage struct {
	progress.Stage
	Clicks int `json:"clicks"`
}

func newWarmup() progress.StageState {
	return &warmupStage{Stage: progress.NewStage("warmup", warmupSteps.First())}
}

type finaleStage struct {
	progress.Stage
}

func newFinale() progress.StageState {
	return &finaleStage{Stage: progress.NewStage("finale", finaleSteps.First())}
}

type demoStory struct {
	Story
	LastRoute *string `json:"last_route"`
}

func newDemoStory() StoryState {
	return &demoStory{Story: NewStory("demo", "Demo Story")}
}

func newTestRegistry() *Registry {
	reg := NewRegistry(nil)
	reg.RegisterStage("warmup", newWarmup)
	reg.RegisterStage("finale", newFinale)
	reg.RegisterStory("demo", newDemoStory)
	return reg
}

func TestRegistry_NewStoryFillsEveryStage(t *testing.T) {
	reg := newTestRegistry()

	st, err := reg.NewStory("demo")
	require.NoError(t, err)

	base := st.Base()
	assert.Equal(t, "demo", base.Type)
	require.Len(t, base.StageStates, 2)
	assert.Equal(t, "warmup", base.StageStates["warmup"].Base().Type)
	assert.Equal(t, "finale", base.StageStates["finale"].Base().Type)
}

func TestRegistry_RegisterIsLastWins(t *testing.T) {
	reg := newTestRegistry()
	reg.RegisterStage("warmup", func() progress.StageState {
		s := &warmupStage{Stage: progress.NewStage("warmup", warmupSteps.Last())}
		return s
	})

	assert.Equal(t, []string{"finale", "warmup"}, reg.StageKinds())

	st, err := reg.NewStage("warmup")
	require.NoError(t, err)
	assert.Equal(t, "wu3", st.Base().CurrentStep.Name())
}

func TestRegistry_HydrateStageMissingType(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.HydrateStage(docdiff.Document{"stage_id": "warmup"})
	require.Error(t, err)
	assert.True(t, shared.IsDataIntegrity(err))
}

func TestRegistry_HydrateStageUnknownType(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.HydrateStage(docdiff.Document{"type": "nonexistent"})
	require.Error(t, err)
	assert.True(t, shared.IsUnknownKind(err))
	assert.False(t, shared.IsDataIntegrity(err))
}

func TestRegistry_HydrateStageRoundTrip(t *testing.T) {
	reg := newTestRegistry()

	original, err := reg.NewStage("warmup")
	require.NoError(t, err)
	original.(*warmupStage).Clicks = 4
	original.Base().CurrentStep = warmupSteps.MustParse("wu2")
	original.Base().SetFreeResponse(progress.FreeResponse{Tag: "fr", Response: "text", Stage: "warmup"})
	progress.Refresh(original)

	doc, err := docdiff.FromValue(original)
	require.NoError(t, err)
	doc["type"] = "warmup"

	hydrated, err := reg.HydrateStage(doc)
	require.NoError(t, err)

	again, err := docdiff.FromValue(hydrated)
	require.NoError(t, err)
	assert.Equal(t, doc, again)
	assert.Equal(t, "warmup", again["type"])
	assert.Equal(t, float64(4), again["clicks"])
}

func TestRegistry_HydrateRestampsDiscriminator(t *testing.T) {
	reg := newTestRegistry()

	story, err := reg.HydrateStory(docdiff.Document{
		"type": "demo",
		"stage_states": map[string]any{
			"warmup": map[string]any{"type": "stale", "current_step": float64(2)},
		},
	})
	require.NoError(t, err)

	warmup := story.Base().StageStates["warmup"]
	assert.Equal(t, "warmup", warmup.Base().Type)
	assert.Equal(t, "wu2", warmup.Base().CurrentStep.Name())
	assert.Equal(t, 2, warmup.Base().MaxStep)
}

func TestRegistry_HydrateStoryDropsUnregisteredStages(t *testing.T) {
	reg := newTestRegistry()

	story, err := reg.HydrateStory(docdiff.Document{
		"type":            "demo",
		"piggybank_total": float64(30),
		"last_route":      "finale",
		"stage_states": map[string]any{
			"warmup":  map[string]any{"current_step": "wu3", "clicks": float64(2)},
			"retired": map[string]any{"current_step": float64(1)},
		},
	})
	require.NoError(t, err)

	base := story.Base()
	assert.Equal(t, 30, base.PiggybankTotal)
	assert.NotContains(t, base.StageStates, "retired")
	require.Contains(t, base.StageStates, "finale", "missing registered stages get defaults")
	assert.Equal(t, "fi1", base.StageStates["finale"].Base().CurrentStep.Name())

	warmup := base.StageStates["warmup"].(*warmupStage)
	assert.Equal(t, 2, warmup.Clicks)
	assert.Equal(t, "wu3", warmup.CurrentStep.Name())

	demo := story.(*demoStory)
	require.NotNil(t, demo.LastRoute)
	assert.Equal(t, "finale", *demo.LastRoute)
}

func TestRegistry_HydrateStoryMissingType(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.HydrateStory(docdiff.Document{"title": "?"})
	assert.True(t, shared.IsDataIntegrity(err))
}

func TestRegistry_HydrateAppRoundTrip(t *testing.T) {
	reg := newTestRegistry()
	flags := Flags{UpdateDB: true, ShowTeamInterface: true}

	app, err := NewAppState(reg, flags)
	require.NoError(t, err)
	id := 7
	app.Student.ID = &id
	app.Classroom.ClassInfo = map[string]any{"id": float64(250)}
	app.Classroom.Size = 12
	_, err = app.Story().SetMultipleChoice("warmup", progress.MultipleChoiceResponse{Tag: "q1", Score: 10})
	require.NoError(t, err)

	doc, err := app.Document()
	require.NoError(t, err)
	assert.NotContains(t, doc, "update_db")
	assert.NotContains(t, doc, "show_team_interface")

	restored, err := reg.HydrateApp(doc, flags)
	require.NoError(t, err)
	assert.Equal(t, 7, restored.StudentID())
	assert.True(t, restored.UpdateDB)
	assert.Equal(t, 10, restored.Story().PiggybankTotal)

	classID, ok := restored.Classroom.ClassID()
	require.True(t, ok)
	assert.Equal(t, 250, classID)

	again, err := restored.Document()
	require.NoError(t, err)
	assert.True(t, docdiff.Equal(doc, again))
}

func TestRegistry_HydrateAppKeepsDefaultStoryOnBadType(t *testing.T) {
	reg := newTestRegistry()

	app, err := reg.HydrateApp(docdiff.Document{
		"educator":    true,
		"story_state": map[string]any{"title": "no type"},
	}, Flags{})
	require.NoError(t, err)
	assert.True(t, app.Educator)
	require.NotNil(t, app.Story())
	assert.Equal(t, "demo", app.Story().Type)
}

func TestNewAppState_NoStoryRegistered(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := NewAppState(reg, Flags{})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestStory_SetMultipleChoiceDeltaPolicy(t *testing.T) {
	reg := newTestRegistry()
	st, err := reg.NewStory("demo")
	require.NoError(t, err)
	s := st.Base()

	delta, err := s.SetMultipleChoice("warmup", progress.MultipleChoiceResponse{Tag: "q1", Score: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, delta)

	delta, err = s.SetMultipleChoice("warmup", progress.MultipleChoiceResponse{Tag: "q1", Score: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, delta)
	assert.Equal(t, 10, s.PiggybankTotal)
	assert.Equal(t, "warmup", s.StageStates["warmup"].Base().MultipleChoiceResponses["q1"].Stage)

	_, err = s.SetMultipleChoice("nowhere", progress.MultipleChoiceResponse{Tag: "q1"})
	assert.True(t, shared.IsNotFound(err))
}

func TestStory_RaiseMaxRouteIndex(t *testing.T) {
	s := NewStory("demo", "Demo")

	assert.Equal(t, 2, s.RaiseMaxRouteIndex(2))
	assert.Equal(t, 2, s.RaiseMaxRouteIndex(1))
	assert.Equal(t, 5, s.RaiseMaxRouteIndex(5))
}
