package hubble

import (
	"github.com/patudom/cds-app/internal/domain/progress"
)

// Slideshow tracks a slideshow embedded in a stage.
type Slideshow struct {
	Step             int `json:"step"`
	MaxStepCompleted int `json:"max_step_completed"`
}

// Advance moves the slideshow to step and records the furthest step reached.
func (s *Slideshow) Advance(step int) {
	if step < 0 {
		step = 0
	}
	s.Step = step
	if step > s.MaxStepCompleted {
		s.MaxStepCompleted = step
	}
}

func slideshowProgress(s Slideshow, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(s.MaxStepCompleted+1) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}

// withoutSentinel is the step count of a family whose last marker only
// exists to gate the real last step.
func withoutSentinel(set *progress.MarkerSet) int {
	return set.Len() - 1
}

// ══════════════════════════════════════════════════════════════════════════════
// INTRODUCTION
// ══════════════════════════════════════════════════════════════════════════════

// Introduction is driven by its slideshow rather than by markers.
type Introduction struct {
	progress.Stage
	IntroSlideshowState Slideshow `json:"intro_slideshow_state"`
}

// NewIntroduction returns the default introduction stage.
func NewIntroduction() progress.StageState {
	return &Introduction{Stage: progress.NewStage(StageIntroduction, IntroductionMarkers.First())}
}

// TotalSteps is the slideshow length.
func (s *Introduction) TotalSteps() int { return IntroSlideshowLength }

// Progress follows the furthest slide reached.
func (s *Introduction) Progress() float64 {
	return slideshowProgress(s.IntroSlideshowState, s.TotalSteps())
}

// ══════════════════════════════════════════════════════════════════════════════
// SPECTRA & VELOCITY
// ══════════════════════════════════════════════════════════════════════════════

// SpectraAndVelocity is the galaxy selection and velocity stage.
type SpectraAndVelocity struct {
	progress.Stage
	GalaxiesTotal           int            `json:"gals_total"`
	ObsWaveTotal            int            `json:"obs_wave_total"`
	VelocitiesTotal         int            `json:"velocities_total"`
	SelectedGalaxy          map[string]any `json:"selected_galaxy"`
	SelectedExampleGalaxy   map[string]any `json:"selected_example_galaxy"`
	DopplerCalcComplete     bool           `json:"doppler_calc_complete"`
	ShowDopplerDialog       bool           `json:"show_doppler_dialog"`
	ReflectionComplete      bool           `json:"reflection_complete"`
	DotplotTutorialFinished bool           `json:"dotplot_tutorial_finished"`

	WWTReady bool `json:"-"`
}

// NewSpectraAndVelocity returns the default spectra stage.
func NewSpectraAndVelocity() progress.StageState {
	return &SpectraAndVelocity{
		Stage:                 progress.NewStage(StageSpectraAndVelocity, SpectraMarkers.First()),
		SelectedGalaxy:        map[string]any{},
		SelectedExampleGalaxy: map[string]any{},
	}
}

// TotalSteps ignores the trailing sentinel.
func (s *SpectraAndVelocity) TotalSteps() int { return withoutSentinel(SpectraMarkers) }

// Progress implements progress.StageState.
func (s *SpectraAndVelocity) Progress() float64 {
	return progress.StepProgress(s.CurrentStep, s.TotalSteps())
}

// Gates implements progress.StageState.
func (s *SpectraAndVelocity) Gates() progress.Gates {
	return progress.Gates{
		"cho_row1": func() bool { return s.GalaxiesTotal >= 5 },
		"dop_cal2": func() bool { return len(s.SelectedExampleGalaxy) > 0 },
		"int_dot1": func() bool { return s.DopplerCalcComplete },
		"dot_seq5": func() bool { return s.DotplotTutorialFinished },
		"rem_gal1": func() bool { return s.ObsWaveTotal >= 5 },
		"ref_vel1": func() bool { return s.VelocitiesTotal >= 5 },
		"end_sta1": func() bool { return s.ReflectionComplete },
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DISTANCE INTRODUCTION
// ══════════════════════════════════════════════════════════════════════════════

// DistanceIntroduction is driven by its slideshow.
type DistanceIntroduction struct {
	progress.Stage
	DistanceSlideshowState Slideshow `json:"distance_slideshow_state"`
}

// NewDistanceIntroduction returns the default distance introduction stage.
func NewDistanceIntroduction() progress.StageState {
	return &DistanceIntroduction{Stage: progress.NewStage(StageDistanceIntroduction, DistanceIntroductionMarkers.First())}
}

// TotalSteps is the slideshow length.
func (s *DistanceIntroduction) TotalSteps() int { return DistanceSlideshowLength }

// Progress follows the furthest slide reached.
func (s *DistanceIntroduction) Progress() float64 {
	return slideshowProgress(s.DistanceSlideshowState, s.TotalSteps())
}

// ══════════════════════════════════════════════════════════════════════════════
// DISTANCE MEASUREMENTS
// ══════════════════════════════════════════════════════════════════════════════

// DistanceMeasurements is the angular size and distance stage.
type DistanceMeasurements struct {
	progress.Stage
	ExampleAngularSizesTotal    int            `json:"example_angular_sizes_total"`
	AngularSizesTotal           int            `json:"angular_sizes_total"`
	DosDontsTutorialOpened      bool           `json:"dosdonts_tutorial_opened"`
	SelectedGalaxy              map[string]any `json:"selected_galaxy"`
	SelectedExampleGalaxy       map[string]any `json:"selected_example_galaxy"`
	ShowRuler                   bool           `json:"show_ruler"`
	MeasTheta                   float64        `json:"meas_theta"`
	RulerClickCount             int            `json:"ruler_click_count"`
	NMeas                       int            `json:"n_meas"`
	DistancesTotal              int            `json:"distances_total"`
	FillEstDistValues           bool           `json:"fill_est_dist_values"`
	ShowDotplotLines            bool           `json:"show_dotplot_lines"`
	AngularSizeLine             *float64       `json:"angular_size_line"`
	DistanceLine                *float64       `json:"distance_line"`
	AngMeasConsensusAnswered    bool           `json:"ang_meas_consensus_answered"`
	AngMeasDistRelationAnswered bool           `json:"ang_meas_dist_relation_answered"`
	AngMeasConsensus2Answered   bool           `json:"ang_meas_consensus_2_answered"`

	BadMeasurement bool `json:"-"`
	WWTReady       bool `json:"-"`
}

// NewDistanceMeasurements returns the default distance measurements stage.
func NewDistanceMeasurements() progress.StageState {
	return &DistanceMeasurements{
		Stage:                 progress.NewStage(StageDistanceMeasurements, DistanceMeasurementsMarkers.First()),
		SelectedGalaxy:        map[string]any{},
		SelectedExampleGalaxy: map[string]any{},
		ShowDotplotLines:      true,
	}
}

// TotalSteps ignores the trailing sentinel.
func (s *DistanceMeasurements) TotalSteps() int { return withoutSentinel(DistanceMeasurementsMarkers) }

// Progress implements progress.StageState.
func (s *DistanceMeasurements) Progress() float64 {
	return progress.StepProgress(s.CurrentStep, s.TotalSteps())
}

// Gates implements progress.StageState.
func (s *DistanceMeasurements) Gates() progress.Gates {
	return progress.Gates{
		"cho_row1":  func() bool { return s.WWTReady },
		"ang_siz2":  func() bool { return len(s.SelectedExampleGalaxy) > 0 },
		"ang_siz4":  func() bool { return s.RulerClickCount == 1 },
		"ang_siz5":  func() bool { return s.NMeas > 0 },
		"dot_seq3":  func() bool { return s.AngMeasConsensusAnswered },
		"ang_siz5a": func() bool { return s.AngMeasConsensusAnswered },
		"dot_seq5":  func() bool { return s.DosDontsTutorialOpened },
		"fil_rem1":  func() bool { return s.AngularSizesTotal >= 5 },
		"end_sta3":  func() bool { return s.DistancesTotal >= 5 },
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPLORE DATA
// ══════════════════════════════════════════════════════════════════════════════

// ExploreData is the Hubble diagram stage.
type ExploreData struct {
	progress.Stage
	ShowHubbleSlideshowDialog bool      `json:"show_hubble_slideshow_dialog"`
	HubbleSlideshowFinished   bool      `json:"hubble_slideshow_finished"`
	HubbleSlideshowState      Slideshow `json:"hubble_slideshow_state"`
	DrawClickCount            int       `json:"draw_click_count"`
	BestFitClickCount         int       `json:"best_fit_click_count"`
	BestFitGalVel             float64   `json:"best_fit_gal_vel"`
	BestFitGalDist            float64   `json:"best_fit_gal_dist"`
	ClassDataDisplayed        bool      `json:"class_data_displayed"`
	TreDataMC1Answered        bool      `json:"tre_data_mc1_answered"`
	TreDataMC3Answered        bool      `json:"tre_data_mc3_answered"`
	GalaxyTrendAnswered       bool      `json:"galaxy_trend_answered"`
}

// NewExploreData returns the default explore data stage.
func NewExploreData() progress.StageState {
	return &ExploreData{
		Stage:          progress.NewStage(StageExploreData, ExploreDataMarkers.First()),
		BestFitGalVel:  100,
		BestFitGalDist: 8000,
	}
}

// TotalSteps ignores the trailing sentinel.
func (s *ExploreData) TotalSteps() int { return withoutSentinel(ExploreDataMarkers) }

// Progress implements progress.StageState.
func (s *ExploreData) Progress() float64 {
	return progress.StepProgress(s.CurrentStep, s.TotalSteps())
}

// Gates implements progress.StageState.
func (s *ExploreData) Gates() progress.Gates {
	return progress.Gates{
		"tre_dat2": func() bool { return s.TreDataMC1Answered },
		"tre_dat3": func() bool { return s.ClassDataDisplayed },
		"rel_vel1": func() bool { return s.TreDataMC3Answered },
		"hub_exp1": func() bool { return s.GalaxyTrendAnswered },
		"tre_lin1": func() bool { return s.HubbleSlideshowFinished },
		"bes_fit1": func() bool { return s.DrawClickCount > 0 },
		"age_uni1": func() bool { return s.BestFitClickCount > 0 },
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASS RESULTS AND UNCERTAINTY
// ══════════════════════════════════════════════════════════════════════════════

// ClassResults compares the learner's age estimate with the class.
type ClassResults struct {
	progress.Stage
	StudentDataLoaded bool `json:"student_data_loaded"`
	ClassDataLoaded   bool `json:"class_data_loaded"`
	AgeSliderUsed     bool `json:"age_slider_used"`
}

// NewClassResults returns the default class results stage.
func NewClassResults() progress.StageState {
	return &ClassResults{Stage: progress.NewStage(StageClassResults, ClassResultsMarkers.First())}
}

// TotalSteps ignores the trailing sentinel.
func (s *ClassResults) TotalSteps() int { return withoutSentinel(ClassResultsMarkers) }

// Progress implements progress.StageState.
func (s *ClassResults) Progress() float64 {
	return progress.StepProgress(s.CurrentStep, s.TotalSteps())
}

// Gates implements progress.StageState.
func (s *ClassResults) Gates() progress.Gates {
	return progress.Gates{
		"fin_cla1": func() bool { return s.StudentDataLoaded },
		"cla_res1": func() bool { return s.ClassDataLoaded },
		"cla_age2": func() bool { return s.AgeSliderUsed },
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFESSIONAL DATA
// ══════════════════════════════════════════════════════════════════════════════

// ProfessionalData compares the class result with published values.
type ProfessionalData struct {
	progress.Stage
	OurAge               float64 `json:"our_age"`
	ClassAge             float64 `json:"class_age"`
	AgesWithin           float64 `json:"ages_within"`
	AllowTooCloseCorrect bool    `json:"allow_too_close_correct"`
	FitLineShown         bool    `json:"fit_line_shown"`
}

// NewProfessionalData returns the default professional data stage.
func NewProfessionalData() progress.StageState {
	return &ProfessionalData{
		Stage:                progress.NewStage(StageProfessionalData, ProfessionalDataMarkers.First()),
		AgesWithin:           0.15,
		AllowTooCloseCorrect: true,
	}
}

// Gates implements progress.StageState.
func (s *ProfessionalData) Gates() progress.Gates {
	return progress.Gates{
		"pro_dat2": func() bool { return s.HasResponse("pro-dat1") },
		"pro_dat4": func() bool { return s.HasResponse("pro-dat2") },
		"pro_dat5": func() bool { return s.HasResponse("pro-dat4") },
		"pro_dat7": func() bool { return s.HasResponse("pro-dat6") },
		"pro_dat8": func() bool { return s.HasResponse("pro-dat7") },
		"sto_fin1": func() bool { return s.HasResponse("pro-dat9") },
	}
}
