// Package roster normalizes class rosters stored by three generations of
// the app into one shape. Every transformed entry has
//
//	student_id
//	app_state
//	story_state.stages       {stage key: progress record}
//	story_state.mc_scoring   {stage key: {tag: score record}}
//	story_state.responses    {stage key: {tag: response text}}
//
// Which generation wrote a class is decided from its id and the shape of
// its first record.
package roster

import (
	"context"
	"errors"
	"log/slog"

	"github.com/patudom/cds-app/pkg/docdiff"
)

// Version names a storage generation.
type Version string

const (
	VersionLegacy   Version = "legacy"
	VersionSolara   Version = "solara"
	VersionMonorepo Version = "monorepo"
)

// Class id boundaries between generations.
const (
	FirstSolaraClass   = 215
	FirstMonorepoClass = 335
)

// ErrNotInitialized is returned by Factory.VersionName before the first
// transform.
var ErrNotInitialized = errors.New("roster adapter not initialized, transform a roster first")

// Source is the state API as the dashboard reads it.
type Source interface {
	GetRoster(ctx context.Context, classID int) ([]docdiff.Document, error)
	GetStages(ctx context.Context, studentID int) (docdiff.Document, error)
	GetMeasurements(ctx context.Context, studentID int) ([]docdiff.Document, error)
	GetClassMeasurements(ctx context.Context, classID int) ([]docdiff.Document, error)
}

// Adapter turns raw roster records of one generation into entries.
type Adapter interface {
	VersionName() Version

	// TransformRoster never fails as a whole: a record that cannot be
	// transformed becomes a placeholder entry.
	TransformRoster(ctx context.Context, raw []docdiff.Document) []docdiff.Document

	StudentMeasurements(ctx context.Context, studentID int) ([]docdiff.Document, error)
	ClassMeasurements(ctx context.Context, classID int) ([]docdiff.Document, error)
}

// SelectAdapter picks the adapter for classID. Classes below
// FirstSolaraClass are legacy. An empty roster is decided by id alone;
// otherwise a first record that nests stage_states under
// story_state.app.story_state is monorepo and anything else solara.
func SelectAdapter(classID int, raw []docdiff.Document, src Source, log *slog.Logger) Adapter {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.Int("class_id", classID))

	if classID < FirstSolaraClass {
		log.Debug("using legacy roster adapter")
		return &LegacyAdapter{src: src}
	}
	if len(raw) == 0 {
		if classID < FirstMonorepoClass {
			log.Debug("empty roster, using solara adapter")
			return &SolaraAdapter{src: src, logger: log}
		}
		log.Debug("empty roster, using monorepo adapter")
		return &MonorepoAdapter{src: src, logger: log}
	}

	if _, ok := docdiff.Lookup(raw[0], "story_state", "app", "story_state", "stage_states"); ok {
		log.Debug("using monorepo roster adapter")
		return &MonorepoAdapter{src: src, logger: log}
	}
	log.Debug("using solara roster adapter")
	return &SolaraAdapter{src: src, logger: log}
}

// Factory selects the adapter on the first transform and delegates to it.
type Factory struct {
	src     Source
	classID int
	logger  *slog.Logger
	adapter Adapter
}

// NewFactory creates a factory for classID.
func NewFactory(src Source, classID int, log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{src: src, classID: classID, logger: log}
}

// TransformRoster selects the adapter for raw and transforms it.
func (f *Factory) TransformRoster(ctx context.Context, raw []docdiff.Document) []docdiff.Document {
	f.adapter = SelectAdapter(f.classID, raw, f.src, f.logger)
	return f.adapter.TransformRoster(ctx, raw)
}

// VersionName returns the version of the selected adapter.
func (f *Factory) VersionName() (Version, error) {
	if f.adapter == nil {
		return "", ErrNotInitialized
	}
	return f.adapter.VersionName(), nil
}

// Adapter returns the selected adapter, or nil before the first transform.
func (f *Factory) Adapter() Adapter {
	return f.adapter
}

func placeholder(studentID any) docdiff.Document {
	return docdiff.Document{
		"student_id":  studentID,
		"story_state": docdiff.Document{"stages": docdiff.Document{}},
	}
}

func asDoc(v any) docdiff.Document {
	d, _ := v.(docdiff.Document)
	return d
}

// studentID reads an integer id from a decoded record.
func studentID(rec docdiff.Document) (int, bool) {
	switch id := rec["student_id"].(type) {
	case float64:
		return int(id), true
	case int:
		return id, true
	}
	return 0, false
}
