package roster

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

type fakeSource struct {
	mu           sync.Mutex
	roster       []docdiff.Document
	stages       map[int]docdiff.Document
	measurements map[int][]docdiff.Document
	class        []docdiff.Document
	rosterCalls  int
}

func (f *fakeSource) GetRoster(context.Context, int) ([]docdiff.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rosterCalls++
	out := make([]docdiff.Document, len(f.roster))
	for i, r := range f.roster {
		out[i] = docdiff.Clone(r)
	}
	return out, nil
}

func (f *fakeSource) GetStages(_ context.Context, id int) (docdiff.Document, error) {
	s, ok := f.stages[id]
	if !ok {
		return nil, errors.New("stages unavailable")
	}
	return s, nil
}

func (f *fakeSource) GetMeasurements(_ context.Context, id int) ([]docdiff.Document, error) {
	return f.measurements[id], nil
}

func (f *fakeSource) GetClassMeasurements(context.Context, int) ([]docdiff.Document, error) {
	return f.class, nil
}

func doc(t *testing.T, s string) docdiff.Document {
	t.Helper()
	var d docdiff.Document
	require.NoError(t, json.Unmarshal([]byte(s), &d))
	return d
}

const solaraRecord = `{
  "student_id": 1,
  "story_state": {
    "app": {"drawer": false},
    "story": {
      "name": "HubbleDS",
      "free_responses": {"responses": {
        "prob": {"response": "yes", "stage": 1},
        "other": {"response": "x", "stage": 3}
      }},
      "mc_scoring": {"scores": {
        "which": {"score": 10, "tries": 0, "stage": 1}
      }}
    }
  }
}`

const monorepoRecord = `{
  "student_id": 5,
  "story_state": {"app": {
    "drawer": true,
    "story_state": {
      "name": "hubble",
      "measurements": [{"galaxy_id": 1}],
      "stage_states": {
        "introduction": {
          "current_step": 2, "max_step": 3, "total_steps": 4,
          "multiple_choice_responses": {},
          "free_responses": {"a": {"response": "r"}}
        },
        "spectra_&_velocity": {
          "max_step": 1, "total_steps": 0,
          "multiple_choice_responses": {"q": {"score": 10}},
          "free_responses": {}
        }
      }
    }
  }}
}`

func TestSelectAdapter(t *testing.T) {
	solara := doc(t, solaraRecord)
	mono := doc(t, monorepoRecord)

	tests := []struct {
		name    string
		classID int
		raw     []docdiff.Document
		want    Version
	}{
		{"old class", 100, []docdiff.Document{mono}, VersionLegacy},
		{"empty intermediate class", 250, nil, VersionSolara},
		{"empty current class", 400, nil, VersionMonorepo},
		{"shape wins over id", 250, []docdiff.Document{mono}, VersionMonorepo},
		{"solara shape on new id", 400, []docdiff.Document{solara}, VersionSolara},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := SelectAdapter(tt.classID, tt.raw, &fakeSource{}, logger.Discard())
			assert.Equal(t, tt.want, a.VersionName())
		})
	}
}

func TestFactory_VersionNameBeforeTransform(t *testing.T) {
	f := NewFactory(&fakeSource{}, 100, logger.Discard())

	_, err := f.VersionName()
	assert.ErrorIs(t, err, ErrNotInitialized)

	f.TransformRoster(context.Background(), nil)
	v, err := f.VersionName()
	require.NoError(t, err)
	assert.Equal(t, VersionLegacy, v)
}

func TestLegacyAdapter_Passthrough(t *testing.T) {
	raw := []docdiff.Document{doc(t, `{"student_id": 3, "story_state": {"stages": {"1": {"progress": 1}}}}`)}
	f := NewFactory(&fakeSource{}, 100, logger.Discard())

	out := f.TransformRoster(context.Background(), raw)
	require.Len(t, out, 1)
	assert.Equal(t, raw[0], out[0])

	out[0]["student_id"] = 99
	assert.Equal(t, float64(3), raw[0]["student_id"])
}

func TestSolaraAdapter_RegroupsByStage(t *testing.T) {
	src := &fakeSource{stages: map[int]docdiff.Document{1: {"1": map[string]any{"progress": 0.5}}}}
	second := doc(t, solaraRecord)
	second["student_id"] = float64(2)
	raw := []docdiff.Document{doc(t, solaraRecord), second}

	f := NewFactory(src, 250, logger.Discard())
	out := f.TransformRoster(context.Background(), raw)
	v, _ := f.VersionName()
	assert.Equal(t, VersionSolara, v)
	require.Len(t, out, 2)

	entry := out[0]
	assert.Equal(t, docdiff.Document{"drawer": false}, entry["app_state"])

	story := asDoc(entry["story_state"])
	require.NotNil(t, story)
	assert.NotContains(t, story, "free_responses")
	assert.Equal(t, docdiff.Document{
		"1": docdiff.Document{"prob": "yes"},
		"3": docdiff.Document{"other": "x"},
	}, story["responses"])
	assert.Equal(t, docdiff.Document{
		"1": docdiff.Document{"which": map[string]any{"score": float64(10), "tries": float64(0), "stage": float64(1)}},
	}, story["mc_scoring"])
	assert.Equal(t, src.stages[1], story["stages"])

	// GetStages failed for the second student.
	assert.Equal(t, docdiff.Document{}, asDoc(out[1]["story_state"])["stages"])
}

func TestSolaraAdapter_BrokenRecordBecomesPlaceholder(t *testing.T) {
	raw := []docdiff.Document{
		doc(t, `{"student_id": 7, "story_state": {"app": {}}}`),
		doc(t, solaraRecord),
	}
	src := &fakeSource{stages: map[int]docdiff.Document{
		7: {"1": map[string]any{"progress": 0.5}},
		1: {"1": map[string]any{"progress": 1.0}},
	}}
	a := &SolaraAdapter{src: src, logger: logger.Discard()}

	out := a.TransformRoster(context.Background(), raw)
	require.Len(t, out, 2)
	assert.Equal(t, placeholder(float64(7)), out[0])
	assert.Equal(t, src.stages[1], asDoc(out[1]["story_state"])["stages"])
}

func TestGroupByStage_WithoutStagesIsPassthrough(t *testing.T) {
	items := docdiff.Document{"q": map[string]any{"score": 1}}
	assert.Equal(t, items, groupByStage(items))
}

func TestMonorepoAdapter_TransformsEveryStudent(t *testing.T) {
	broken := doc(t, monorepoRecord)
	broken["student_id"] = float64(6)
	states := asDoc(asDoc(asDoc(asDoc(broken["story_state"])["app"])["story_state"])["stage_states"])
	states["bonus_stage"] = map[string]any{"max_step": 1, "total_steps": 1}

	third := doc(t, monorepoRecord)
	third["student_id"] = float64(8)
	delete(asDoc(asDoc(third["story_state"])["app"])["story_state"].(map[string]any), "measurements")

	src := &fakeSource{measurements: map[int][]docdiff.Document{8: {{"galaxy_id": float64(9)}}}}
	f := NewFactory(src, 400, logger.Discard())
	out := f.TransformRoster(context.Background(), []docdiff.Document{doc(t, monorepoRecord), broken, third})
	require.Len(t, out, 3)

	entry := out[0]
	assert.Equal(t, docdiff.Document{"drawer": true}, entry["app_state"])
	story := asDoc(entry["story_state"])
	assert.NotContains(t, story, "stage_states")

	stages := asDoc(story["stages"])
	intro := asDoc(stages["introduction"])
	assert.Equal(t, 0, intro["index"])
	assert.InDelta(t, 0.5, intro["progress"], 1e-9)
	assert.NotContains(t, intro, "free_responses")
	assert.Equal(t, float64(3), asDoc(intro["state"])["max_step"])
	assert.Equal(t, float64(2), intro["marker"])

	spectra := asDoc(stages["spectra_&_velocity"])
	assert.Equal(t, 1, spectra["index"])
	assert.Equal(t, float64(0), spectra["progress"])
	assert.NotContains(t, spectra, "marker")

	assert.Equal(t, docdiff.Document{"1": map[string]any{"q": map[string]any{"score": float64(10)}}}, story["mc_scoring"])
	assert.Equal(t, docdiff.Document{
		"0": docdiff.Document{"a": "r"},
		"1": docdiff.Document{},
	}, story["responses"])

	assert.Equal(t, float64(6), out[1]["student_id"])
	assert.Equal(t, docdiff.Document{"stages": docdiff.Document{}}, out[1]["story_state"])
	assert.Equal(t, float64(8), out[2]["student_id"])

	a := f.Adapter()
	m, err := a.StudentMeasurements(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []docdiff.Document{{"galaxy_id": float64(1)}}, m)

	m, err = a.StudentMeasurements(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, []docdiff.Document{{"galaxy_id": float64(9)}}, m)

	class, err := a.ClassMeasurements(context.Background(), 400)
	require.NoError(t, err)
	assert.Len(t, class, 1)
}

func TestMonorepoAdapter_ClassMeasurementsFallBackToAPI(t *testing.T) {
	src := &fakeSource{class: []docdiff.Document{{"galaxy_id": float64(2)}}}
	a := &MonorepoAdapter{src: src, logger: logger.Discard()}
	a.TransformRoster(context.Background(), nil)

	class, err := a.ClassMeasurements(context.Background(), 400)
	require.NoError(t, err)
	assert.Equal(t, src.class, class)
}

func TestSummarize(t *testing.T) {
	entries := []docdiff.Document{
		doc(t, `{
		  "student_id": 1,
		  "story_state": {
		    "mc_scoring": {"1": {"q": {"score": 10}, "r": {"score": 5}}},
		    "responses": {"0": {"a": "hi", "b": ""}},
		    "stages": {
		      "introduction": {"index": 0, "progress": 1},
		      "spectra_&_velocity": {"index": 1, "progress": 0.5},
		      "distance_introduction": {"index": 2, "progress": 0}
		    }
		  }
		}`),
		placeholder(float64(2)),
		{"story_state": docdiff.Document{}},
	}

	sum := Summarize(VersionMonorepo, entries)
	require.Len(t, sum.Students, 2)

	s := sum.Students[0]
	assert.Equal(t, 1, s.StudentID)
	assert.Equal(t, float64(15), s.Score)
	assert.Equal(t, 2, s.Answered)
	assert.Equal(t, 1, s.FreeResponses)
	assert.Equal(t, 1, s.MaxStageIndex)
	assert.InDelta(t, 100*1.5/7, s.PercentComplete, 1e-9)

	empty := sum.Students[1]
	assert.Equal(t, -1, empty.MaxStageIndex)
	assert.Zero(t, empty.PercentComplete)

	assert.InDelta(t, 7.5, sum.AverageScore, 1e-9)
	assert.InDelta(t, 1.0, sum.AverageAnswered, 1e-9)
	assert.InDelta(t, 100*1.5/7/2, sum.AverageComplete, 1e-9)
}

type memCache struct {
	mu   sync.Mutex
	data map[int]*Roster
}

func (c *memCache) Get(_ context.Context, id int) (*Roster, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[id], nil
}

func (c *memCache) Set(_ context.Context, r *Roster) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[r.ClassID] = r
	return nil
}

func TestService_UsesCache(t *testing.T) {
	src := &fakeSource{roster: []docdiff.Document{doc(t, monorepoRecord)}}
	cache := &memCache{data: map[int]*Roster{}}
	svc := NewService(src, cache, logger.Discard())

	r, err := svc.Get(context.Background(), 400)
	require.NoError(t, err)
	assert.Equal(t, VersionMonorepo, r.Version)
	assert.Len(t, r.Entries, 1)

	again, err := svc.Get(context.Background(), 400)
	require.NoError(t, err)
	assert.Same(t, r, again)
	assert.Equal(t, 1, src.rosterCalls)

	_, a, err := svc.Refresh(context.Background(), 400)
	require.NoError(t, err)
	assert.Equal(t, VersionMonorepo, a.VersionName())
	assert.Equal(t, 2, src.rosterCalls)
}

func TestService_Measurements(t *testing.T) {
	second := doc(t, monorepoRecord)
	second["student_id"] = float64(8)
	delete(asDoc(asDoc(second["story_state"])["app"])["story_state"].(map[string]any), "measurements")

	src := &fakeSource{
		roster:       []docdiff.Document{doc(t, monorepoRecord), second},
		measurements: map[int][]docdiff.Document{8: {{"galaxy_id": float64(9)}}},
		class:        []docdiff.Document{{"galaxy_id": float64(100)}},
	}
	m, err := NewService(src, nil, logger.Discard()).Measurements(context.Background(), 400)
	require.NoError(t, err)

	assert.Equal(t, VersionMonorepo, m.Version)
	// Embedded measurements win over the class endpoint.
	assert.Equal(t, []docdiff.Document{{"galaxy_id": float64(1)}}, m.Class)
	assert.Equal(t, map[int][]docdiff.Document{
		5: {{"galaxy_id": float64(1)}},
		8: {{"galaxy_id": float64(9)}},
	}, m.Students)
}

func TestService_MeasurementsOfIntermediateClass(t *testing.T) {
	src := &fakeSource{
		roster:       []docdiff.Document{doc(t, solaraRecord)},
		measurements: map[int][]docdiff.Document{1: {{"galaxy_id": float64(3)}}},
		class:        []docdiff.Document{{"galaxy_id": float64(3)}, {"galaxy_id": float64(4)}},
	}
	m, err := NewService(src, nil, logger.Discard()).Measurements(context.Background(), 250)
	require.NoError(t, err)

	assert.Equal(t, VersionSolara, m.Version)
	assert.Equal(t, src.class, m.Class)
	assert.Equal(t, map[int][]docdiff.Document{1: {{"galaxy_id": float64(3)}}}, m.Students)
}
