// Package session owns the state of one learner's running app: it loads
// the stored story state, applies learner commands to it under a single
// lock, and pushes changes back to the remote store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/patudom/cds-app/internal/domain/progress"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

// ErrNotLoaded is returned by operations that need a loaded session.
var ErrNotLoaded = errors.New("session is not loaded")

// MeasuredStory is implemented by stories that keep learner measurements
// apart from their document.
type MeasuredStory interface {
	LoadMeasurementDocuments(student, sample []docdiff.Document) error
	MeasurementDocuments() (student, sample []docdiff.Document, ok bool, err error)
}

// Config configures a Session.
type Config struct {
	Registry  *story.Registry
	Remote    Remote
	Flags     story.Flags
	Publisher shared.EventPublisher
	Logger    *slog.Logger
}

// Session is the single writer of one AppState. Event handlers run
// synchronously under the session lock and must not call back into it.
type Session struct {
	reg       *story.Registry
	remote    Remote
	flags     story.Flags
	publisher shared.EventPublisher
	engine    *progress.Engine
	logger    *slog.Logger

	mu     sync.Mutex
	app    *story.AppState
	loaded bool
}

// New creates a session holding a fresh state of the registry's default
// story.
func New(cfg Config) (*Session, error) {
	if cfg.Registry == nil {
		return nil, errors.New("session: registry is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("session: remote is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = shared.NopPublisher{}
	}

	app, err := story.NewAppState(cfg.Registry, cfg.Flags)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger.With(logger.Component("session"))
	return &Session{
		reg:       cfg.Registry,
		remote:    cfg.Remote,
		flags:     cfg.Flags,
		publisher: cfg.Publisher,
		engine:    progress.NewEngine(log, cfg.Publisher),
		logger:    log,
		app:       app,
	}, nil
}

// Load resolves ref to a student and installs the stored story state. When
// the remote has no record, or persistence is off, the fresh state stays
// and becomes the baseline the first sync writes in full.
func (s *Session) Load(ctx context.Context, ref string) error {
	s.mu.Lock()
	storyID := s.app.Story().StoryID
	s.mu.Unlock()

	id, err := s.remote.ResolveIdentity(ctx, ref, storyID)
	if err != nil {
		s.logger.Warn("no student to load state for", "ref", ref, logger.Err(err))
		return fmt.Errorf("resolve identity: %w", err)
	}
	log := s.logger.With(logger.StudentID(id.StudentID), logger.Story(storyID))

	scope := Scope{UpdateDB: s.flags.UpdateDB, Educator: id.Educator}
	stored, err := s.remote.LoadStoryState(ctx, scope, id.StudentID, storyID)
	if err != nil {
		return fmt.Errorf("load story state: %w", err)
	}

	var app *story.AppState
	if stored.Found {
		app, err = s.reg.HydrateApp(stored.App, s.flags)
		if err != nil {
			return fmt.Errorf("hydrate story state: %w", err)
		}
	} else {
		if app, err = story.NewAppState(s.reg, s.flags); err != nil {
			return err
		}
	}
	sid := id.StudentID
	app.Student.ID = &sid
	app.Classroom = story.Classroom{ClassInfo: id.ClassInfo, Size: id.ClassSize}
	if app.Classroom.ClassInfo == nil {
		app.Classroom.ClassInfo = map[string]any{}
	}
	app.Educator = id.Educator

	if ms, ok := app.StoryState.(MeasuredStory); ok {
		student, sample, err := s.remote.LoadMeasurements(ctx, sid)
		if err == nil {
			err = ms.LoadMeasurementDocuments(student, sample)
		}
		if err != nil {
			log.Error("failed to load measurements", logger.Err(err))
		}
	}

	s.mu.Lock()
	s.app = app
	s.loaded = true
	s.publish(shared.NewStateLoadedEvent(sid, storyID, !stored.Found))
	s.mu.Unlock()

	log.Info("session loaded", "synthesized", !stored.Found, "educator", id.Educator)
	return nil
}

// Loaded reports whether Load completed.
func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Scope returns the persistence scope of the loaded user.
func (s *Session) Scope() Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Scope{UpdateDB: s.flags.UpdateDB, Educator: s.app.Educator}
}

// Update runs fn with exclusive access to the state.
func (s *Session) Update(fn func(app *story.AppState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.app)
}

// Snapshot is a deep copy of everything the sync loop persists.
type Snapshot struct {
	StudentID int
	StoryID   string
	Scope     Scope

	// App is the app state document.
	App docdiff.Document

	// Measurements holds the encoded measurement lists; nil when the story
	// has none or they were never loaded.
	Measurements docdiff.Document
}

// Snapshot encodes the current state.
func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.app.Document()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		StudentID: s.app.StudentID(),
		StoryID:   s.app.Story().StoryID,
		Scope:     Scope{UpdateDB: s.flags.UpdateDB, Educator: s.app.Educator},
		App:       doc,
	}
	if ms, ok := s.app.StoryState.(MeasuredStory); ok {
		student, sample, loaded, err := ms.MeasurementDocuments()
		if err != nil {
			return Snapshot{}, fmt.Errorf("encode measurements: %w", err)
		}
		if loaded {
			snap.Measurements = docdiff.Document{
				"measurements":        toList(student),
				"sample_measurements": toList(sample),
			}
		}
	}
	return snap, nil
}

func toList(docs []docdiff.Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}

func fromList(v any) []docdiff.Document {
	items, _ := v.([]any)
	out := make([]docdiff.Document, 0, len(items))
	for _, item := range items {
		if doc, ok := item.(docdiff.Document); ok {
			out = append(out, doc)
		}
	}
	return out
}

// Push writes a story state patch and, when measurements is non-nil, the
// measurement lists. Every part is attempted; the error joins the failed
// ones.
func (s *Session) Push(ctx context.Context, snap Snapshot, patch docdiff.Document, measurements docdiff.Document) (WriteResult, error) {
	log := s.logger.With(logger.StudentID(snap.StudentID), logger.Story(snap.StoryID))

	var errs []error
	var res WriteResult
	if len(patch) > 0 {
		var err error
		res, err = s.remote.PatchStoryState(ctx, snap.Scope, snap.StudentID, snap.StoryID, patch)
		if err != nil {
			errs = append(errs, fmt.Errorf("story state: %w", err))
		}
	}
	if measurements != nil {
		err := s.remote.SaveMeasurements(ctx, snap.Scope, snap.StudentID,
			fromList(measurements["measurements"]), fromList(measurements["sample_measurements"]))
		if err != nil {
			errs = append(errs, fmt.Errorf("measurements: %w", err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Error("failed to write state", logger.PatchID(res.PatchID), logger.Err(err))
		return res, err
	}
	return res, nil
}

// Publish sends event to the session's observers.
func (s *Session) Publish(event shared.Event) {
	s.publish(event)
}

func (s *Session) publish(event shared.Event) {
	if err := s.publisher.Publish(event); err != nil {
		s.logger.Warn("event handler failed", "event", string(event.EventType()), logger.Err(err))
	}
}
