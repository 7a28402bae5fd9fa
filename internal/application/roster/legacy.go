package roster

import (
	"context"

	"github.com/patudom/cds-app/pkg/docdiff"
)

// LegacyAdapter serves classes whose records already have the canonical
// shape. Measurements come from the side-channel endpoints.
type LegacyAdapter struct {
	src Source
}

func (a *LegacyAdapter) VersionName() Version { return VersionLegacy }

// TransformRoster returns copies of the records unchanged.
func (a *LegacyAdapter) TransformRoster(_ context.Context, raw []docdiff.Document) []docdiff.Document {
	out := make([]docdiff.Document, len(raw))
	for i, rec := range raw {
		out[i] = docdiff.Clone(rec)
	}
	return out
}

func (a *LegacyAdapter) StudentMeasurements(ctx context.Context, studentID int) ([]docdiff.Document, error) {
	return a.src.GetMeasurements(ctx, studentID)
}

func (a *LegacyAdapter) ClassMeasurements(ctx context.Context, classID int) ([]docdiff.Document, error) {
	return a.src.GetClassMeasurements(ctx, classID)
}
