package roster

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

// SolaraAdapter serves classes written by the intermediate app, which kept
// the story under story_state.story and flat response buckets keyed by tag.
type SolaraAdapter struct {
	src    Source
	logger *slog.Logger
}

func (a *SolaraAdapter) VersionName() Version { return VersionSolara }

func (a *SolaraAdapter) TransformRoster(ctx context.Context, raw []docdiff.Document) []docdiff.Document {
	out := make([]docdiff.Document, 0, len(raw))
	var transformed []docdiff.Document
	for _, rec := range raw {
		entry, err := a.transformStudent(rec)
		if err != nil {
			a.logger.Error("failed to transform roster record", slog.Any("student_id", rec["student_id"]), logger.Err(err))
			out = append(out, placeholder(rec["student_id"]))
			continue
		}
		out = append(out, entry)
		transformed = append(transformed, entry)
	}
	// Placeholders keep their empty stages.
	a.addStages(ctx, transformed)
	return out
}

func (a *SolaraAdapter) transformStudent(rec docdiff.Document) (docdiff.Document, error) {
	wrapper := asDoc(rec["story_state"])
	if wrapper == nil {
		return nil, fmt.Errorf("story_state is %T, want object", rec["story_state"])
	}
	story := asDoc(docdiff.Clone(wrapper)["story"])
	if story == nil {
		return nil, fmt.Errorf("story_state.story missing")
	}

	app := asDoc(wrapper["app"])
	if app == nil {
		app = docdiff.Document{}
	}

	entry := docdiff.Clone(rec)
	entry["app_state"] = docdiff.Clone(app)
	entry["story_state"] = story

	if fr := asDoc(story["free_responses"]); fr != nil {
		if items := asDoc(fr["responses"]); items != nil {
			story["responses"] = responseText(groupByStage(items))
		}
	}
	delete(story, "free_responses")

	if mc := asDoc(story["mc_scoring"]); mc != nil {
		if scores := asDoc(mc["scores"]); scores != nil {
			story["mc_scoring"] = groupByStage(scores)
		}
	}
	return entry, nil
}

// groupByStage regroups {tag: {stage: s, ...}} into {s: {tag: {...}}}.
// Entries without a stage are dropped; when none has one, items is
// returned unchanged.
func groupByStage(items docdiff.Document) docdiff.Document {
	grouped := docdiff.Document{}
	for tag, v := range items {
		item := asDoc(v)
		if item == nil {
			continue
		}
		stage, ok := item["stage"]
		if !ok || stage == nil {
			continue
		}
		key := fmt.Sprint(stage)
		bucket := asDoc(grouped[key])
		if bucket == nil {
			bucket = docdiff.Document{}
			grouped[key] = bucket
		}
		bucket[tag] = item
	}
	if len(grouped) == 0 {
		return items
	}
	return grouped
}

// responseText reduces grouped free responses to their text.
func responseText(grouped docdiff.Document) docdiff.Document {
	out := make(docdiff.Document, len(grouped))
	for stage, v := range grouped {
		bucket := asDoc(v)
		if bucket == nil {
			out[stage] = v
			continue
		}
		out[stage] = freeResponseText(bucket)
	}
	return out
}

func (a *SolaraAdapter) addStages(ctx context.Context, entries []docdiff.Document) {
	for _, entry := range entries {
		story := asDoc(entry["story_state"])
		if story == nil {
			continue
		}
		id, ok := studentID(entry)
		if !ok {
			story["stages"] = docdiff.Document{}
			continue
		}
		stages, err := a.src.GetStages(ctx, id)
		if err != nil {
			a.logger.Error("failed to fetch stages", logger.StudentID(id), logger.Err(err))
			stages = docdiff.Document{}
		}
		if stages == nil {
			stages = docdiff.Document{}
		}
		story["stages"] = stages
	}
}

func (a *SolaraAdapter) StudentMeasurements(ctx context.Context, studentID int) ([]docdiff.Document, error) {
	return a.src.GetMeasurements(ctx, studentID)
}

func (a *SolaraAdapter) ClassMeasurements(ctx context.Context, classID int) ([]docdiff.Document, error) {
	return a.src.GetClassMeasurements(ctx, classID)
}

// sortedKeys returns the keys of d in order.
func sortedKeys(d docdiff.Document) []string {
	return slices.Sorted(maps.Keys(d))
}
