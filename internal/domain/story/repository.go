package story

import (
	"context"
	"errors"

	"github.com/patudom/cds-app/pkg/docdiff"
)

var (
	ErrStateNotFound = errors.New("state not found")
)

// MeasurementKind separates a student's own galaxy measurements from the
// example ones every student measures first.
type MeasurementKind string

const (
	MeasurementsStudent MeasurementKind = "student"
	MeasurementsSample  MeasurementKind = "sample"
)

// StateRepository stores story and stage documents per student.
type StateRepository interface {
	// StoryState returns the stored {"app": ...} document, or
	// ErrStateNotFound.
	StoryState(ctx context.Context, studentID int, storyName string) (docdiff.Document, error)

	SaveStoryState(ctx context.Context, studentID int, storyName string, state docdiff.Document) error

	// PatchStoryState merges patch into the stored document atomically and
	// returns the result. A missing document is patched from empty.
	PatchStoryState(ctx context.Context, studentID int, storyName string, patch docdiff.Document) (docdiff.Document, error)

	// StageState returns ErrStateNotFound when there is none.
	StageState(ctx context.Context, studentID int, storyName, stageName string) (docdiff.Document, error)

	SaveStageState(ctx context.Context, studentID int, storyName, stageName string, state docdiff.Document) error

	// DeleteStageState reports whether a document was removed.
	DeleteStageState(ctx context.Context, studentID int, storyName, stageName string) (bool, error)

	// StageStates returns every stage document of studentID keyed by stage.
	StageStates(ctx context.Context, studentID int) (map[string]docdiff.Document, error)
}

// MeasurementRepository stores galaxy measurements.
type MeasurementRepository interface {
	Measurements(ctx context.Context, studentID int, kind MeasurementKind) ([]docdiff.Document, error)

	ReplaceMeasurements(ctx context.Context, studentID int, kind MeasurementKind, m []docdiff.Document) error

	// ClassMeasurements returns the student measurements of every member
	// of classID ordered by student.
	ClassMeasurements(ctx context.Context, classID int) ([]docdiff.Document, error)
}
