package session

import (
	"context"

	"github.com/patudom/cds-app/pkg/docdiff"
)

// Scope tells the remote whether this session persists at all. Writes
// and story reads are skipped when UpdateDB is off or the user is an
// educator.
type Scope struct {
	UpdateDB bool
	Educator bool
}

// Identity is who the session belongs to.
type Identity struct {
	StudentID int
	ClassInfo map[string]any
	ClassSize int
	Educator  bool
}

// StoredState is what the remote holds for a story. Found is false when
// there is no record or the scope skipped the read.
type StoredState struct {
	App   docdiff.Document
	Found bool
}

// WriteResult describes one story state write.
type WriteResult struct {
	Skipped bool
	PatchID string
}

// Remote is the student state store the session loads from and writes to.
type Remote interface {
	// ResolveIdentity maps a login reference (email or username) to the
	// registered student.
	ResolveIdentity(ctx context.Context, ref, storyID string) (Identity, error)

	LoadStoryState(ctx context.Context, scope Scope, studentID int, storyID string) (StoredState, error)
	PatchStoryState(ctx context.Context, scope Scope, studentID int, storyID string, patch docdiff.Document) (WriteResult, error)

	LoadMeasurements(ctx context.Context, studentID int) (student, sample []docdiff.Document, err error)
	SaveMeasurements(ctx context.Context, scope Scope, studentID int, student, sample []docdiff.Document) error
}
