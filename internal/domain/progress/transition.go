package progress

import (
	"log/slog"

	"github.com/patudom/cds-app/internal/domain/shared"
)

// Target names the step a transition wants to reach: an explicit marker,
// the next step, or the previous one.
type Target struct {
	Marker Marker
	Next   bool
	Prev   bool
}

// To targets an explicit marker.
func To(m Marker) Target { return Target{Marker: m} }

// Forward targets the step after the current one.
func Forward() Target { return Target{Next: true} }

// Backward targets the step before the current one.
func Backward() Target { return Target{Prev: true} }

// Engine moves stages between steps. It is the single place gates are
// consulted; observers learn about changes through the publisher.
type Engine struct {
	logger    *slog.Logger
	publisher shared.EventPublisher
}

// NewEngine creates an engine. A nil logger uses slog.Default and a nil
// publisher discards events.
func NewEngine(logger *slog.Logger, publisher shared.EventPublisher) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &Engine{
		logger:    logger.With(slog.String("component", "transition_engine")),
		publisher: publisher,
	}
}

// resolve turns a target into a concrete marker. ok is false when the target
// falls outside the marker family.
func resolve(base *Stage, t Target) (Marker, bool) {
	current := base.CurrentStep
	switch {
	case t.Next:
		next, err := current.Next()
		return next, err == nil
	case t.Prev:
		prev, err := current.Previous()
		return prev, err == nil
	}
	if t.Marker.IsZero() || t.Marker.Set() != current.Set() {
		return Marker{}, false
	}
	return t.Marker, true
}

// CanTransition reports whether st may move to t. Next at the last step and
// previous at the first step fail closed; otherwise the target's gate
// decides and a missing gate permits.
func (e *Engine) CanTransition(st StageState, t Target) bool {
	target, ok := resolve(st.Base(), t)
	if !ok {
		return false
	}
	if gate, found := st.Gates()[target.Name()]; found && gate != nil {
		return gate()
	}
	return true
}

// TransitionTo sets the current step to target when force is set or the
// gate permits. Otherwise it logs and leaves the stage untouched. Calling it
// again with the same target changes nothing.
func (e *Engine) TransitionTo(st StageState, target Marker, force bool) bool {
	base := st.Base()
	if target.IsZero() || target.Set() != base.CurrentStep.Set() {
		e.logger.Error("transition target belongs to another stage",
			slog.String("stage_id", base.StageID),
			slog.String("target", target.String()),
		)
		return false
	}

	if !force && !e.CanTransition(st, To(target)) {
		e.logger.Warn("conditions not met to transition",
			slog.String("stage_id", base.StageID),
			slog.String("from", base.CurrentStep.Name()),
			slog.String("to", target.Name()),
		)
		e.publish(shared.NewTransitionBlockedEvent(base.StageID, base.CurrentStep.Name(), target.Name()))
		return false
	}

	if base.CurrentStep.Equal(target) {
		return true
	}

	from := base.CurrentStep
	base.setStep(target)
	e.publish(shared.NewStepChangedEvent(base.StageID, from.Name(), target.Name(), base.MaxStep, force))

	e.logger.Debug("step changed",
		slog.String("stage_id", base.StageID),
		slog.String("from", from.Name()),
		slog.String("to", target.Name()),
		slog.Int("max_step", base.MaxStep),
	)
	return true
}

// TransitionNext moves one step forward, honouring gates. It fails with
// ErrMarkerOutOfRange at the last step.
func (e *Engine) TransitionNext(st StageState) (bool, error) {
	next, err := st.Base().CurrentStep.Next()
	if err != nil {
		return false, err
	}
	return e.TransitionTo(st, next, false), nil
}

// TransitionPrevious moves one step back. Backward navigation is never
// gated. It fails with ErrMarkerOutOfRange at the first step.
func (e *Engine) TransitionPrevious(st StageState) (bool, error) {
	prev, err := st.Base().CurrentStep.Previous()
	if err != nil {
		return false, err
	}
	return e.TransitionTo(st, prev, true), nil
}

func (e *Engine) publish(event shared.Event) {
	if err := e.publisher.Publish(event); err != nil {
		e.logger.Warn("failed to publish event",
			slog.String("event", string(event.EventType())),
			slog.String("error", err.Error()),
		)
	}
}
