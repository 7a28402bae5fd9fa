package story

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/patudom/cds-app/internal/domain/progress"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/pkg/docdiff"
)

// StageFactory builds a stage kind positioned on its default marker.
type StageFactory func() progress.StageState

// StoryFactory builds a story kind without its stages.
type StoryFactory func() StoryState

// Registry maps discriminators to stage and story kinds. It is built once at
// startup and handed to everything that hydrates documents.
type Registry struct {
	mu sync.RWMutex

	stages     map[string]StageFactory
	stageOrder []string
	stories    map[string]StoryFactory
	storyOrder []string

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		stages:  make(map[string]StageFactory),
		stories: make(map[string]StoryFactory),
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// RegisterStage adds or replaces a stage kind. The discriminator is also the
// stage id used as key in a story's stage_states.
func (r *Registry) RegisterStage(discriminator string, factory StageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stageOrder = moveToEnd(r.stageOrder, discriminator)
	r.stages[discriminator] = factory
}

// RegisterStory adds or replaces a story kind.
func (r *Registry) RegisterStory(discriminator string, factory StoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.storyOrder = moveToEnd(r.storyOrder, discriminator)
	r.stories[discriminator] = factory
}

func moveToEnd(order []string, key string) []string {
	out := order[:0:0]
	for _, k := range order {
		if k != key {
			out = append(out, k)
		}
	}
	return append(out, key)
}

// StageKinds returns stage discriminators in registration order.
func (r *Registry) StageKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.stageOrder...)
}

// StoryKinds returns story discriminators in registration order.
func (r *Registry) StoryKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.storyOrder...)
}

// NewStage builds the default state of a stage kind.
func (r *Registry) NewStage(discriminator string) (progress.StageState, error) {
	r.mu.RLock()
	factory, ok := r.stages[discriminator]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stage %q", shared.ErrUnregisteredKind, discriminator)
	}

	st := factory()
	st.Base().Type = discriminator
	progress.Refresh(st)
	return st, nil
}

// NewStory builds the default state of a story kind with every registered
// stage present.
func (r *Registry) NewStory(discriminator string) (StoryState, error) {
	r.mu.RLock()
	factory, ok := r.stories[discriminator]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: story %q", shared.ErrUnregisteredKind, discriminator)
	}

	st := factory()
	base := st.Base()
	base.Type = discriminator
	if base.StageStates == nil {
		base.StageStates = make(map[string]progress.StageState)
	}
	if err := r.fillStages(base); err != nil {
		return nil, err
	}
	return st, nil
}

// DefaultStory builds the last registered story kind. A process serves a
// single story, so cmd wiring registers exactly one.
func (r *Registry) DefaultStory() (StoryState, error) {
	kinds := r.StoryKinds()
	if len(kinds) == 0 {
		return nil, shared.ErrNoStoryRegistered
	}
	if len(kinds) > 1 {
		r.logger.Warn("several story kinds registered, using the last one",
			slog.Any("kinds", kinds),
		)
	}
	return r.NewStory(kinds[len(kinds)-1])
}

func (r *Registry) fillStages(s *Story) error {
	for _, kind := range r.StageKinds() {
		if _, ok := s.StageStates[kind]; ok {
			continue
		}
		st, err := r.NewStage(kind)
		if err != nil {
			return err
		}
		s.StageStates[kind] = st
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HYDRATION
// ══════════════════════════════════════════════════════════════════════════════

func discriminatorOf(doc docdiff.Document) (string, bool) {
	raw, ok := doc["type"]
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok && s != ""
}

// HydrateStage builds a typed stage from a document carrying a type field.
// A missing type is a data-integrity error; an unknown type is logged and
// reported as ErrUnknownKind so batch callers can skip the record.
func (r *Registry) HydrateStage(doc docdiff.Document) (progress.StageState, error) {
	kind, ok := discriminatorOf(doc)
	if !ok {
		return nil, shared.WrapError("story", "HydrateStage", shared.ErrDataIntegrity,
			"stage document has no type field", shared.ErrMissingDiscriminator)
	}
	return r.hydrateStageAs(kind, doc)
}

func (r *Registry) hydrateStageAs(kind string, doc docdiff.Document) (progress.StageState, error) {
	st, err := r.NewStage(kind)
	if err != nil {
		r.logger.Warn("stage type not found in registry", slog.String("type", kind))
		return nil, err
	}
	if err := docdiff.Decode(doc, st); err != nil {
		return nil, shared.WrapError("story", "HydrateStage", shared.ErrDataIntegrity,
			fmt.Sprintf("stage %q does not match its kind", kind), err)
	}

	// The embedded value may be stale or absent.
	st.Base().Type = kind
	progress.Refresh(st)
	return st, nil
}

// HydrateStory builds a typed story from a document carrying a type field.
// Stage entries are keyed by stage id; unregistered ones are dropped with a
// warning and registered ones that are missing get defaults.
func (r *Registry) HydrateStory(doc docdiff.Document) (StoryState, error) {
	kind, ok := discriminatorOf(doc)
	if !ok {
		return nil, shared.WrapError("story", "HydrateStory", shared.ErrDataIntegrity,
			"story document has no type field", shared.ErrMissingDiscriminator)
	}

	r.mu.RLock()
	factory, known := r.stories[kind]
	r.mu.RUnlock()
	if !known {
		r.logger.Warn("story type not found in registry", slog.String("type", kind))
		return nil, fmt.Errorf("%w: story %q", shared.ErrUnregisteredKind, kind)
	}

	fields := make(docdiff.Document, len(doc))
	for k, v := range doc {
		if k != "stage_states" {
			fields[k] = v
		}
	}

	st := factory()
	if err := docdiff.Decode(fields, st); err != nil {
		return nil, shared.WrapError("story", "HydrateStory", shared.ErrDataIntegrity,
			fmt.Sprintf("story %q does not match its kind", kind), err)
	}

	base := st.Base()
	base.Type = kind
	base.StageStates = make(map[string]progress.StageState)

	if raw, ok := doc["stage_states"].(map[string]any); ok {
		for stageID, stageDoc := range raw {
			stageFields, ok := stageDoc.(map[string]any)
			if !ok {
				r.logger.Warn("stage entry is not an object", slog.String("stage_id", stageID))
				continue
			}
			stage, err := r.hydrateStageAs(stageID, stageFields)
			if err != nil {
				if !shared.IsUnknownKind(err) {
					r.logger.Warn("dropping unreadable stage",
						slog.String("stage_id", stageID),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			base.StageStates[stageID] = stage
		}
	}

	if err := r.fillStages(base); err != nil {
		return nil, err
	}
	return st, nil
}

// HydrateApp rebuilds a session state from its document. The session flags
// are not part of the document and come from flags. A story document that
// cannot be hydrated is logged and replaced by the default story.
func (r *Registry) HydrateApp(doc docdiff.Document, flags Flags) (*AppState, error) {
	app, err := NewAppState(r, flags)
	if err != nil {
		return nil, err
	}

	fields := make(docdiff.Document, len(doc))
	for k, v := range doc {
		if k != "story_state" {
			fields[k] = v
		}
	}
	if err := docdiff.Decode(fields, app); err != nil {
		return nil, shared.WrapError("story", "HydrateApp", shared.ErrDataIntegrity,
			"app document is malformed", err)
	}
	app.UpdateDB = flags.UpdateDB
	app.ShowTeamInterface = flags.ShowTeamInterface
	if app.Classroom.ClassInfo == nil {
		app.Classroom.ClassInfo = map[string]any{}
	}

	if storyDoc, ok := doc["story_state"].(map[string]any); ok {
		st, err := r.HydrateStory(storyDoc)
		switch {
		case err == nil:
			st.Base().DebugMode = flags.DebugMode
			app.StoryState = st
		case shared.IsDataIntegrity(err):
			r.logger.Warn("no usable type field in story state data",
				slog.String("error", err.Error()),
			)
		default:
			r.logger.Warn("keeping default story", slog.String("error", err.Error()))
		}
	}

	return app, nil
}
