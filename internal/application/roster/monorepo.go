package roster

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

// StageIndex maps monorepo stage keys to their dashboard position.
var StageIndex = map[string]int{
	"introduction":                  0,
	"spectra_&_velocity":            1,
	"distance_introduction":         2,
	"distance_measurements":         3,
	"explore_data":                  4,
	"class_results_and_uncertainty": 5,
	"professional_data":             6,
}

// MonorepoAdapter serves classes written by the current app, which stores
// the whole app document under story_state.app with per-stage states.
//
// Measurements travel inside the roster record, so the adapter keeps the
// ones it saw during the last transform.
type MonorepoAdapter struct {
	src    Source
	logger *slog.Logger

	mu           sync.RWMutex
	measurements map[int][]docdiff.Document
}

func (a *MonorepoAdapter) VersionName() Version { return VersionMonorepo }

func (a *MonorepoAdapter) TransformRoster(_ context.Context, raw []docdiff.Document) []docdiff.Document {
	out := make([]docdiff.Document, 0, len(raw))
	seen := make(map[int][]docdiff.Document)
	for _, rec := range raw {
		entry, err := a.transformStudent(rec)
		if err != nil {
			a.logger.Error("failed to transform roster record", slog.Any("student_id", rec["student_id"]), logger.Err(err))
			entry = placeholder(rec["student_id"])
		} else if id, ok := studentID(entry); ok {
			if m, ok := embeddedMeasurements(entry); ok {
				seen[id] = m
			}
		}
		out = append(out, entry)
	}

	a.mu.Lock()
	a.measurements = seen
	a.mu.Unlock()
	return out
}

func (a *MonorepoAdapter) transformStudent(rec docdiff.Document) (docdiff.Document, error) {
	entry := docdiff.Clone(rec)

	wrapper := asDoc(entry["story_state"])
	app := asDoc(wrapper["app"])
	if app == nil {
		return nil, fmt.Errorf("story_state.app missing")
	}
	story := asDoc(app["story_state"])
	if story == nil {
		return nil, fmt.Errorf("story_state.app.story_state missing")
	}
	delete(app, "story_state")
	stages := asDoc(story["stage_states"])
	if stages == nil {
		return nil, fmt.Errorf("stage_states missing")
	}
	delete(story, "stage_states")

	mcScoring := docdiff.Document{}
	responses := docdiff.Document{}
	for _, key := range sortedKeys(stages) {
		stage := asDoc(stages[key])
		if stage == nil {
			return nil, fmt.Errorf("stage %q is %T, want object", key, stages[key])
		}
		index, ok := StageIndex[key]
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", key)
		}
		progress, err := stageProgress(stage)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", key, err)
		}
		a.logger.Debug("stage progress", logger.Stage(key), slog.Float64("progress", progress))

		pos := strconv.Itoa(index)
		if mc := asDoc(stage["multiple_choice_responses"]); len(mc) > 0 {
			mcScoring[pos] = mc
		}
		responses[pos] = freeResponseText(asDoc(stage["free_responses"]))
		delete(stage, "multiple_choice_responses")
		delete(stage, "free_responses")

		state := docdiff.Clone(stage)
		if step, ok := stage["current_step"]; ok {
			stage["marker"] = step
		}
		stage["index"] = index
		stage["progress"] = progress
		stage["state"] = state
	}

	story["mc_scoring"] = mcScoring
	story["responses"] = responses
	story["stages"] = stages
	entry["app_state"] = app
	entry["story_state"] = story
	return entry, nil
}

// freeResponseText reduces {tag: free response} to {tag: text}.
func freeResponseText(items docdiff.Document) docdiff.Document {
	out := make(docdiff.Document, len(items))
	for tag, v := range items {
		text := ""
		if r := asDoc(v); r != nil {
			text, _ = r["response"].(string)
		}
		out[tag] = text
	}
	return out
}

// stageProgress is the share of steps completed: (max_step-1)/total_steps.
// A stage without steps has no progress.
func stageProgress(stage docdiff.Document) (float64, error) {
	maxStep, ok := number(stage["max_step"])
	if !ok {
		return 0, fmt.Errorf("max_step missing")
	}
	total, ok := number(stage["total_steps"])
	if !ok {
		return 0, fmt.Errorf("total_steps missing")
	}
	if total <= 0 {
		return 0, nil
	}
	return (maxStep - 1) / total, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func embeddedMeasurements(entry docdiff.Document) ([]docdiff.Document, bool) {
	v, ok := docdiff.Lookup(entry, "story_state", "measurements")
	if !ok {
		return nil, false
	}
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]docdiff.Document, 0, len(list))
	for _, item := range list {
		if d := asDoc(item); d != nil {
			out = append(out, d)
		}
	}
	return out, true
}

// StudentMeasurements returns the measurements embedded in the student's
// roster record, or asks the API when the record carried none.
func (a *MonorepoAdapter) StudentMeasurements(ctx context.Context, studentID int) ([]docdiff.Document, error) {
	a.mu.RLock()
	m, ok := a.measurements[studentID]
	a.mu.RUnlock()
	if ok {
		return m, nil
	}
	return a.src.GetMeasurements(ctx, studentID)
}

// ClassMeasurements joins the embedded measurements of the last roster,
// falling back to the API when no record carried any.
func (a *MonorepoAdapter) ClassMeasurements(ctx context.Context, classID int) ([]docdiff.Document, error) {
	a.mu.RLock()
	out := []docdiff.Document{}
	for _, id := range slices.Sorted(maps.Keys(a.measurements)) {
		out = append(out, a.measurements[id]...)
	}
	empty := len(a.measurements) == 0
	a.mu.RUnlock()

	if empty {
		return a.src.GetClassMeasurements(ctx, classID)
	}
	return out, nil
}
