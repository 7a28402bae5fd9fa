package progress

// Gate is a completion condition that must hold before a marker can become
// the current step.
type Gate func() bool

// Gates maps marker names to their gate. A marker without an entry is open.
type Gates map[string]Gate

// StageState is the closed set of stage kinds. Every kind embeds Stage, which
// supplies the defaults; a kind overrides Gates, TotalSteps or Progress when
// it needs to.
type StageState interface {
	// Base returns the common stage fields.
	Base() *Stage

	// Gates returns the gate predicates of this kind.
	Gates() Gates

	// TotalSteps returns the number of steps used for progress.
	TotalSteps() int

	// Progress returns completion in (0, 1].
	Progress() float64
}

// Stage holds the fields shared by every stage kind.
type Stage struct {
	Type        string `json:"type"`
	StageID     string `json:"stage_id"`
	CurrentStep Marker `json:"current_step"`

	// MaxStep is the highest 1-based step value ever current. It is raised
	// on every step mutation and never lowered.
	MaxStep int `json:"max_step"`

	// Derived values, recomputed by Refresh before every encode.
	DerivedTotalSteps int     `json:"total_steps"`
	DerivedProgress   float64 `json:"progress"`

	Ledger
}

// NewStage returns a stage positioned on initial.
func NewStage(stageID string, initial Marker) Stage {
	return Stage{
		StageID:     stageID,
		CurrentStep: initial,
		MaxStep:     initial.Value(),
		Ledger: Ledger{
			FreeResponses:           make(map[string]FreeResponse),
			MultipleChoiceResponses: make(map[string]MultipleChoiceResponse),
		},
	}
}

// Base implements StageState.
func (s *Stage) Base() *Stage { return s }

// Gates implements StageState. The base stage has no gates.
func (s *Stage) Gates() Gates { return nil }

// TotalSteps implements StageState: the size of the marker family.
func (s *Stage) TotalSteps() int {
	if s.CurrentStep.IsZero() {
		return 0
	}
	return s.CurrentStep.Set().Len()
}

// Progress implements StageState.
func (s *Stage) Progress() float64 {
	return StepProgress(s.CurrentStep, s.TotalSteps())
}

// StepProgress is (index+1)/total, capped at 1.
func StepProgress(current Marker, total int) float64 {
	if total <= 0 || current.IsZero() {
		return 0
	}
	p := float64(current.Index()+1) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}

// setStep moves the current step and raises the high-water mark.
func (s *Stage) setStep(m Marker) {
	s.CurrentStep = m
	s.RaiseMaxStep(m.Value())
}

// RaiseMaxStep lifts MaxStep to v if v is higher.
func (s *Stage) RaiseMaxStep(v int) {
	if v > s.MaxStep {
		s.MaxStep = v
	}
}

// IsCurrentStep reports whether m is the current step.
func (s *Stage) IsCurrentStep(m Marker) bool {
	return s.CurrentStep.Equal(m)
}

// CurrentStepIn reports whether the current step is one of steps.
func (s *Stage) CurrentStepIn(steps ...Marker) bool {
	for _, m := range steps {
		if s.CurrentStep.Equal(m) {
			return true
		}
	}
	return false
}

// CurrentStepBetween reports start <= current <= end. A zero end means the
// last marker of the family.
func (s *Stage) CurrentStepBetween(start, end Marker) bool {
	if end.IsZero() && !s.CurrentStep.IsZero() {
		end = s.CurrentStep.Set().Last()
	}
	return s.CurrentStep.IsBetween(start, end)
}

// CurrentStepAtOrBefore reports current <= end.
func (s *Stage) CurrentStepAtOrBefore(end Marker) bool {
	c, err := Compare(s.CurrentStep, end)
	return err == nil && c <= 0
}

// CurrentStepAtOrAfter reports current >= start.
func (s *Stage) CurrentStepAtOrAfter(start Marker) bool {
	c, err := Compare(s.CurrentStep, start)
	return err == nil && c >= 0
}

// Refresh recomputes the derived fields of st and re-establishes the
// high-water mark after a decode.
func Refresh(st StageState) {
	base := st.Base()
	base.RaiseMaxStep(base.CurrentStep.Value())
	base.DerivedTotalSteps = st.TotalSteps()
	base.DerivedProgress = st.Progress()
	if base.FreeResponses == nil {
		base.FreeResponses = make(map[string]FreeResponse)
	}
	if base.MultipleChoiceResponses == nil {
		base.MultipleChoiceResponses = make(map[string]MultipleChoiceResponse)
	}
}
