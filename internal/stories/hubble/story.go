package hubble

import (
	"fmt"
	"log/slog"

	"github.com/patudom/cds-app/internal/domain/progress"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/pkg/docdiff"
)

// StoryID is the discriminator of the Hubble story.
const StoryID = "hubbles_law"

// Routes are the story's pages in order. The index of the furthest page
// reached is kept as max_route_index.
var Routes = []string{
	"/",
	"spectra-and-velocity",
	"distance-introduction",
	"distance-measurements",
	"explore-data",
	"class-results",
	"prodata",
}

// Measurement is one galaxy measurement of a learner. Measurements are
// stored apart from the story state and never travel in its document.
type Measurement struct {
	StudentID         int      `json:"student_id"`
	ClassID           *int     `json:"class_id"`
	GalaxyID          int      `json:"galaxy_id"`
	MeasurementNumber *string  `json:"measurement_number"`
	ObsWaveValue      *float64 `json:"obs_wave_value"`
	VelocityValue     *float64 `json:"velocity_value"`
	AngSizeValue      *float64 `json:"ang_size_value"`
	EstDistValue      *float64 `json:"est_dist_value"`
	Brightness        float64  `json:"brightness"`
}

// Completed reports whether every measured value is present.
func (m Measurement) Completed() bool {
	return m.ObsWaveValue != nil && m.VelocityValue != nil &&
		m.AngSizeValue != nil && m.EstDistValue != nil
}

// Story is the state of the Hubble's Law story.
type Story struct {
	story.Story

	Measurements        []Measurement `json:"-"`
	ExampleMeasurements []Measurement `json:"-"`
	ClassMeasurements   []Measurement `json:"-"`
	MeasurementsLoaded  bool          `json:"-"`

	Calculations            map[string]any `json:"calculations"`
	ValidationFailureCounts map[string]any `json:"validation_failure_counts"`
	HasBestFitGalaxy        bool           `json:"has_best_fit_galaxy"`
	BestFitSlope            *float64       `json:"best_fit_slope"`
	EnoughStudentsReady     bool           `json:"enough_students_ready"`
	ClassDataStudents       []int          `json:"class_data_students"`
	ClassDataInfo           map[string]any `json:"class_data_info"`
	ShowSnackbar            bool           `json:"show_snackbar"`
	SnackbarMessage         string         `json:"snackbar_message"`
	Stage4ClassDataStudents []int          `json:"stage_4_class_data_students"`
	Stage5ClassDataStudents []int          `json:"stage_5_class_data_students"`
	LastRoute               *string        `json:"last_route"`

	// Story-wide response buckets read by older dashboards.
	MCScoring     map[string]map[string]any `json:"mc_scoring"`
	FreeResponses map[string]map[string]any `json:"free_responses"`
}

// NewStory returns the default Hubble story without stages.
func NewStory() story.StoryState {
	return &Story{
		Story:                   story.NewStory(StoryID, "Hubble's Law"),
		Measurements:            []Measurement{},
		ExampleMeasurements:     []Measurement{},
		ClassMeasurements:       []Measurement{},
		Calculations:            map[string]any{},
		ValidationFailureCounts: map[string]any{},
		ClassDataStudents:       []int{},
		ClassDataInfo:           map[string]any{},
		Stage4ClassDataStudents: []int{},
		Stage5ClassDataStudents: []int{},
		MCScoring:               map[string]map[string]any{"scores": {}},
		FreeResponses:           map[string]map[string]any{"responses": {}},
	}
}

// RecordMultipleChoice stores the response in its stage and in the
// story-wide scores bucket, and moves the piggybank by the score delta.
func (s *Story) RecordMultipleChoice(stageID string, resp progress.MultipleChoiceResponse) (int, error) {
	delta, err := s.Story.SetMultipleChoice(stageID, resp)
	if err != nil {
		return 0, err
	}

	stored := s.StageStates[stageID].Base().MultipleChoiceResponses[resp.Tag]
	if s.MCScoring == nil {
		s.MCScoring = map[string]map[string]any{}
	}
	if s.MCScoring["scores"] == nil {
		s.MCScoring["scores"] = map[string]any{}
	}
	s.MCScoring["scores"][resp.Tag] = map[string]any{
		"score":  stored.Score,
		"choice": stored.Choice,
		"tries":  stored.Tries,
		"stage":  stageID,
	}
	return delta, nil
}

// RecordFreeResponse stores the response in its stage and in the story-wide
// responses bucket.
func (s *Story) RecordFreeResponse(stageID string, resp progress.FreeResponse) error {
	if err := s.Story.SetFreeResponse(stageID, resp); err != nil {
		return err
	}

	if s.FreeResponses == nil {
		s.FreeResponses = map[string]map[string]any{}
	}
	if s.FreeResponses["responses"] == nil {
		s.FreeResponses["responses"] = map[string]any{}
	}
	s.FreeResponses["responses"][resp.Tag] = map[string]any{
		"response": resp.Response,
		"stage":    stageID,
	}
	return nil
}

// StoreRoute remembers the page the learner is on and raises
// max_route_index to its position.
func (s *Story) StoreRoute(path string) (int, error) {
	for i, route := range Routes {
		if route == path {
			p := path
			s.LastRoute = &p
			return s.RaiseMaxRouteIndex(i), nil
		}
	}
	return 0, fmt.Errorf("%w: route %q", shared.ErrInvalidInput, path)
}

// SetMeasurements replaces the learner's measurements and recounts the
// stage totals that depend on them.
func (s *Story) SetMeasurements(measurements []Measurement) {
	s.Measurements = append([]Measurement(nil), measurements...)
	s.MeasurementsLoaded = true
	s.RecountMeasurements()
}

// RecountMeasurements refreshes the per-stage measurement totals.
func (s *Story) RecountMeasurements() {
	var obsWaves, velocities, angSizes, distances int
	for _, m := range s.Measurements {
		if m.ObsWaveValue != nil {
			obsWaves++
		}
		if m.VelocityValue != nil {
			velocities++
		}
		if m.AngSizeValue != nil {
			angSizes++
		}
		if m.EstDistValue != nil {
			distances++
		}
	}

	if st, ok := s.StageStates[StageSpectraAndVelocity].(*SpectraAndVelocity); ok {
		st.GalaxiesTotal = len(s.Measurements)
		st.ObsWaveTotal = obsWaves
		st.VelocitiesTotal = velocities
	}
	if st, ok := s.StageStates[StageDistanceMeasurements].(*DistanceMeasurements); ok {
		st.AngularSizesTotal = angSizes
		st.DistancesTotal = distances
	}
}

// SetExampleMeasurements replaces the measurements of the example galaxy.
func (s *Story) SetExampleMeasurements(measurements []Measurement) {
	s.ExampleMeasurements = append([]Measurement(nil), measurements...)
}

// LoadMeasurementDocuments decodes the learner's measurements and example
// measurements as the state API returns them.
func (s *Story) LoadMeasurementDocuments(student, sample []docdiff.Document) error {
	measurements, err := decodeMeasurements(student)
	if err != nil {
		return fmt.Errorf("decode measurements: %w", err)
	}
	examples, err := decodeMeasurements(sample)
	if err != nil {
		return fmt.Errorf("decode sample measurements: %w", err)
	}
	s.SetExampleMeasurements(examples)
	s.SetMeasurements(measurements)
	return nil
}

// MeasurementDocuments encodes both measurement lists. ok is false until
// they were loaded, so nothing unloaded is ever written back.
func (s *Story) MeasurementDocuments() (student, sample []docdiff.Document, ok bool, err error) {
	if !s.MeasurementsLoaded {
		return nil, nil, false, nil
	}
	if student, err = encodeMeasurements(s.Measurements); err != nil {
		return nil, nil, false, err
	}
	if sample, err = encodeMeasurements(s.ExampleMeasurements); err != nil {
		return nil, nil, false, err
	}
	return student, sample, true, nil
}

func decodeMeasurements(docs []docdiff.Document) ([]Measurement, error) {
	out := make([]Measurement, 0, len(docs))
	for i, doc := range docs {
		var m Measurement
		if err := docdiff.Decode(doc, &m); err != nil {
			return nil, fmt.Errorf("measurement %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func encodeMeasurements(ms []Measurement) ([]docdiff.Document, error) {
	out := make([]docdiff.Document, 0, len(ms))
	for _, m := range ms {
		doc, err := docdiff.FromValue(m)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// StageKinds maps every stage id of the story to its factory.
func StageKinds() map[string]story.StageFactory {
	return map[string]story.StageFactory{
		StageIntroduction:         NewIntroduction,
		StageSpectraAndVelocity:   NewSpectraAndVelocity,
		StageDistanceIntroduction: NewDistanceIntroduction,
		StageDistanceMeasurements: NewDistanceMeasurements,
		StageExploreData:          NewExploreData,
		StageClassResults:         NewClassResults,
		StageProfessionalData:     NewProfessionalData,
	}
}

// Register adds the story and all of its stages to reg.
func Register(reg *story.Registry) {
	kinds := StageKinds()
	for _, id := range StageOrder {
		reg.RegisterStage(id, kinds[id])
	}
	reg.RegisterStory(StoryID, NewStory)
}

// NewRegistry returns a registry holding only the Hubble story.
func NewRegistry(logger *slog.Logger) *story.Registry {
	reg := story.NewRegistry(logger)
	Register(reg)
	return reg
}
