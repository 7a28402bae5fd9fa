package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Observers subscribe to these instead of watching
// state fields directly.
const (
	// Progress events
	EventStepChanged        EventType = "progress.step_changed"
	EventTransitionBlocked  EventType = "progress.transition_blocked"
	EventResponseRecorded   EventType = "progress.response_recorded"
	EventPiggybankChanged   EventType = "progress.piggybank_changed"
	EventRouteStored        EventType = "progress.route_stored"
	EventMeasurementsChange EventType = "progress.measurements_changed"

	// Sync events
	EventStateLoaded   EventType = "sync.state_loaded"
	EventStateSynced   EventType = "sync.state_synced"
	EventStateSyncFail EventType = "sync.state_sync_failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// StepChangedEvent is emitted after a stage's current step was mutated.
type StepChangedEvent struct {
	BaseEvent
	StageID string `json:"stage_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	MaxStep int    `json:"max_step"`
	Forced  bool   `json:"forced"`
}

// Payload implements Event interface.
func (e StepChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"stage_id": e.StageID,
		"from":     e.From,
		"to":       e.To,
		"max_step": e.MaxStep,
		"forced":   e.Forced,
	}
}

// NewStepChangedEvent creates a new StepChangedEvent.
func NewStepChangedEvent(stageID, from, to string, maxStep int, forced bool) StepChangedEvent {
	return StepChangedEvent{
		BaseEvent: NewBaseEvent(EventStepChanged, stageID),
		StageID:   stageID,
		From:      from,
		To:        to,
		MaxStep:   maxStep,
		Forced:    forced,
	}
}

// TransitionBlockedEvent is emitted when a gate refuses a transition.
type TransitionBlockedEvent struct {
	BaseEvent
	StageID string `json:"stage_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// Payload implements Event interface.
func (e TransitionBlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"stage_id": e.StageID,
		"from":     e.From,
		"to":       e.To,
	}
}

// NewTransitionBlockedEvent creates a new TransitionBlockedEvent.
func NewTransitionBlockedEvent(stageID, from, to string) TransitionBlockedEvent {
	return TransitionBlockedEvent{
		BaseEvent: NewBaseEvent(EventTransitionBlocked, stageID),
		StageID:   stageID,
		From:      from,
		To:        to,
	}
}

// ResponseKind distinguishes the two response ledgers.
type ResponseKind string

const (
	ResponseFree           ResponseKind = "free"
	ResponseMultipleChoice ResponseKind = "multiple_choice"
)

// ResponseRecordedEvent is emitted when a response is upserted.
type ResponseRecordedEvent struct {
	BaseEvent
	StageID string       `json:"stage_id"`
	Tag     string       `json:"tag"`
	Kind    ResponseKind `json:"kind"`
	Score   int          `json:"score,omitempty"`
}

// Payload implements Event interface.
func (e ResponseRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"stage_id": e.StageID,
		"tag":      e.Tag,
		"kind":     string(e.Kind),
		"score":    e.Score,
	}
}

// NewResponseRecordedEvent creates a new ResponseRecordedEvent.
func NewResponseRecordedEvent(stageID, tag string, kind ResponseKind, score int) ResponseRecordedEvent {
	return ResponseRecordedEvent{
		BaseEvent: NewBaseEvent(EventResponseRecorded, stageID),
		StageID:   stageID,
		Tag:       tag,
		Kind:      kind,
		Score:     score,
	}
}

// PiggybankChangedEvent is emitted when the story-level score total moves.
type PiggybankChangedEvent struct {
	BaseEvent
	StoryID  string `json:"story_id"`
	Delta    int    `json:"delta"`
	NewTotal int    `json:"new_total"`
}

// Payload implements Event interface.
func (e PiggybankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"story_id":  e.StoryID,
		"delta":     e.Delta,
		"new_total": e.NewTotal,
	}
}

// NewPiggybankChangedEvent creates a new PiggybankChangedEvent.
func NewPiggybankChangedEvent(storyID string, delta, newTotal int) PiggybankChangedEvent {
	return PiggybankChangedEvent{
		BaseEvent: NewBaseEvent(EventPiggybankChanged, storyID),
		StoryID:   storyID,
		Delta:     delta,
		NewTotal:  newTotal,
	}
}

// RouteStoredEvent is emitted when the learner's location is remembered.
type RouteStoredEvent struct {
	BaseEvent
	StoryID       string `json:"story_id"`
	Route         string `json:"route"`
	MaxRouteIndex int    `json:"max_route_index"`
}

// Payload implements Event interface.
func (e RouteStoredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"story_id":        e.StoryID,
		"route":           e.Route,
		"max_route_index": e.MaxRouteIndex,
	}
}

// NewRouteStoredEvent creates a new RouteStoredEvent.
func NewRouteStoredEvent(storyID, route string, maxRouteIndex int) RouteStoredEvent {
	return RouteStoredEvent{
		BaseEvent:     NewBaseEvent(EventRouteStored, storyID),
		StoryID:       storyID,
		Route:         route,
		MaxRouteIndex: maxRouteIndex,
	}
}

// MeasurementsChangedEvent is emitted after a stage replaced its measurement list.
type MeasurementsChangedEvent struct {
	BaseEvent
	StoryID string `json:"story_id"`
	Count   int    `json:"count"`
}

// Payload implements Event interface.
func (e MeasurementsChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"story_id": e.StoryID,
		"count":    e.Count,
	}
}

// NewMeasurementsChangedEvent creates a new MeasurementsChangedEvent.
func NewMeasurementsChangedEvent(storyID string, count int) MeasurementsChangedEvent {
	return MeasurementsChangedEvent{
		BaseEvent: NewBaseEvent(EventMeasurementsChange, storyID),
		StoryID:   storyID,
		Count:     count,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Sync Events
// ═══════════════════════════════════════════════════════════════════════════

// StateSyncedEvent is emitted after a successful write to the remote store.
type StateSyncedEvent struct {
	BaseEvent
	StudentID int    `json:"student_id"`
	StoryID   string `json:"story_id"`
	PatchID   string `json:"patch_id"`
	Full      bool   `json:"full"`
	Keys      int    `json:"keys"`
}

// Payload implements Event interface.
func (e StateSyncedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"story_id":   e.StoryID,
		"patch_id":   e.PatchID,
		"full":       e.Full,
		"keys":       e.Keys,
	}
}

// NewStateSyncedEvent creates a new StateSyncedEvent.
func NewStateSyncedEvent(studentID int, storyID, patchID string, full bool, keys int) StateSyncedEvent {
	return StateSyncedEvent{
		BaseEvent: NewBaseEvent(EventStateSynced, storyID),
		StudentID: studentID,
		StoryID:   storyID,
		PatchID:   patchID,
		Full:      full,
		Keys:      keys,
	}
}

// StateSyncFailedEvent is emitted when a write did not reach the remote store.
type StateSyncFailedEvent struct {
	BaseEvent
	StudentID int    `json:"student_id"`
	StoryID   string `json:"story_id"`
	PatchID   string `json:"patch_id"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e StateSyncFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"story_id":   e.StoryID,
		"patch_id":   e.PatchID,
		"reason":     e.Reason,
	}
}

// NewStateSyncFailedEvent creates a new StateSyncFailedEvent.
func NewStateSyncFailedEvent(studentID int, storyID, patchID, reason string) StateSyncFailedEvent {
	return StateSyncFailedEvent{
		BaseEvent: NewBaseEvent(EventStateSyncFail, storyID),
		StudentID: studentID,
		StoryID:   storyID,
		PatchID:   patchID,
		Reason:    reason,
	}
}

// StateLoadedEvent is emitted once the session finished its initial load.
type StateLoadedEvent struct {
	BaseEvent
	StudentID   int    `json:"student_id"`
	StoryID     string `json:"story_id"`
	Synthesized bool   `json:"synthesized"`
}

// Payload implements Event interface.
func (e StateLoadedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"story_id":    e.StoryID,
		"synthesized": e.Synthesized,
	}
}

// NewStateLoadedEvent creates a new StateLoadedEvent.
func NewStateLoadedEvent(studentID int, storyID string, synthesized bool) StateLoadedEvent {
	return StateLoadedEvent{
		BaseEvent:   NewBaseEvent(EventStateLoaded, storyID),
		StudentID:   studentID,
		StoryID:     storyID,
		Synthesized: synthesized,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
