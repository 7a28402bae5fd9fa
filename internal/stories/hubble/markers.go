// Package hubble defines the stage and story kinds of the "Hubble's Law"
// story: the step markers of every stage, the gates that hold learners on a
// step until its task is done, and the story-level fields that travel with
// the learner's state.
package hubble

import "github.com/patudom/cds-app/internal/domain/progress"

// Stage ids double as registry discriminators.
const (
	StageIntroduction         = "introduction"
	StageSpectraAndVelocity   = "spectra_&_velocity"
	StageDistanceIntroduction = "distance_introduction"
	StageDistanceMeasurements = "distance_measurements"
	StageExploreData          = "explore_data"
	StageClassResults         = "class_results_and_uncertainty"
	StageProfessionalData     = "professional_data"
)

// StageOrder lists stage ids in story order. The position is the stage
// index used by dashboards.
var StageOrder = []string{
	StageIntroduction,
	StageSpectraAndVelocity,
	StageDistanceIntroduction,
	StageDistanceMeasurements,
	StageExploreData,
	StageClassResults,
	StageProfessionalData,
}

// StageIndex returns the dashboard index of a stage id.
func StageIndex(stageID string) (int, bool) {
	for i, id := range StageOrder {
		if id == stageID {
			return i, true
		}
	}
	return 0, false
}

// Slideshow lengths of the slideshow-driven stages.
const (
	IntroSlideshowLength    = 6
	DistanceSlideshowLength = 5
)

var (
	IntroductionMarkers = progress.NewMarkerSet(StageIntroduction,
		"int_sli1", "end_intro1",
	)

	SpectraMarkers = progress.NewMarkerSet(StageSpectraAndVelocity,
		"mee_gui1", "sel_gal1", "sel_gal2", "not_gal1", "sel_gal3", "sel_gal4",
		"cho_row1", "mee_spe1", "res_wav1", "obs_wav1", "obs_wav2",
		"dop_cal0", "dop_cal2", "dop_cal4", "dop_cal5", "che_mea1",
		"int_dot1", "dot_seq1", "dot_seq2", "dot_seq3", "dot_seq4", "dot_seq4a",
		"dot_seq5", "dot_seq6", "dot_seq7", "dot_seq8", "dot_seq10", "dot_seq11",
		"rem_vel1", "ref_dat1", "rem_gal1", "dop_cal6", "ref_vel1",
		// end_sta1 is a sentinel so the last real step can carry an exit gate.
		"end_sta1",
	)

	DistanceIntroductionMarkers = progress.NewMarkerSet(StageDistanceIntroduction,
		"mea_dis1",
	)

	DistanceMeasurementsMarkers = progress.NewMarkerSet(StageDistanceMeasurements,
		"ang_siz1", "cho_row1", "ang_siz2", "ang_siz2b", "ang_siz3", "ang_siz4",
		"ang_siz5", "est_dis1", "est_dis2", "est_dis3", "est_dis4",
		"dot_seq1", "dot_seq2", "dot_seq3", "dot_seq4", "dot_seq4a", "ang_siz5a",
		"dot_seq5", "dot_seq5a", "dot_seq5b", "dot_seq5c", "rep_rem1", "fil_rem1",
		"end_sta3",
	)

	ExploreDataMarkers = progress.NewMarkerSet(StageExploreData,
		"wwt_wait", "exp_dat1", "tre_dat1", "tre_dat2", "tre_dat3", "rel_vel1",
		"hub_exp1", "tre_lin1", "tre_lin2", "bes_fit1", "age_uni1", "hyp_gal1",
		"age_rac1", "age_uni2", "age_uni3", "age_uni4", "you_age1", "sho_est1",
		"sho_est2", "end_sta4",
	)

	ClassResultsMarkers = progress.NewMarkerSet(StageClassResults,
		"ran_var1", "fin_cla1", "cla_res1", "rel_age1", "cla_age1", "cla_age2",
		"lea_unc1", "mos_lik1", "con_int1", "con_int2", "end_sta5",
	)

	ProfessionalDataMarkers = progress.NewMarkerSet(StageProfessionalData,
		"pro_dat0", "pro_dat1", "pro_dat2", "pro_dat4", "pro_dat5", "pro_dat6",
		"pro_dat7", "pro_dat8", "pro_dat9", "sto_fin1", "sto_fin2", "sto_fin3",
	)
)
