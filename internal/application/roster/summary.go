package roster

import (
	"fmt"
	"strconv"

	"github.com/patudom/cds-app/pkg/docdiff"
)

// TotalStages is the number of stages a complete story has.
var TotalStages = len(StageIndex)

// StudentSummary condenses one roster entry.
type StudentSummary struct {
	StudentID       int     `json:"student_id" yaml:"student_id"`
	Score           float64 `json:"score" yaml:"score"`
	Answered        int     `json:"answered" yaml:"answered"`
	FreeResponses   int     `json:"free_responses" yaml:"free_responses"`
	MaxStageIndex   int     `json:"max_stage_index" yaml:"max_stage_index"`
	PercentComplete float64 `json:"percent_complete" yaml:"percent_complete"`
}

// ClassSummary aggregates a roster.
type ClassSummary struct {
	Version         Version          `json:"version" yaml:"version"`
	Students        []StudentSummary `json:"students" yaml:"students"`
	AverageScore    float64          `json:"average_score" yaml:"average_score"`
	AverageAnswered float64          `json:"average_answered" yaml:"average_answered"`
	AverageComplete float64          `json:"average_complete" yaml:"average_complete"`
}

// Summarize aggregates canonical entries. Entries without a student id are
// skipped.
func Summarize(version Version, entries []docdiff.Document) ClassSummary {
	sum := ClassSummary{Version: version, Students: []StudentSummary{}}
	for _, entry := range entries {
		id, ok := studentID(entry)
		if !ok {
			continue
		}
		s := SummarizeStudent(entry)
		s.StudentID = id
		sum.Students = append(sum.Students, s)
	}

	n := float64(len(sum.Students))
	if n == 0 {
		return sum
	}
	for _, s := range sum.Students {
		sum.AverageScore += s.Score
		sum.AverageAnswered += float64(s.Answered)
		sum.AverageComplete += s.PercentComplete
	}
	sum.AverageScore /= n
	sum.AverageAnswered /= n
	sum.AverageComplete /= n
	return sum
}

// SummarizeStudent condenses the story_state of one canonical entry.
func SummarizeStudent(entry docdiff.Document) StudentSummary {
	s := StudentSummary{MaxStageIndex: -1}
	story := asDoc(entry["story_state"])
	if story == nil {
		return s
	}

	for _, bucket := range asDoc(story["mc_scoring"]) {
		for _, v := range asDoc(bucket) {
			rec := asDoc(v)
			if rec == nil {
				continue
			}
			s.Answered++
			if score, ok := number(rec["score"]); ok {
				s.Score += score
			}
		}
	}

	for _, bucket := range asDoc(story["responses"]) {
		for _, v := range asDoc(bucket) {
			if responseGiven(v) {
				s.FreeResponses++
			}
		}
	}

	var progress float64
	for key, v := range asDoc(story["stages"]) {
		stage := asDoc(v)
		if stage == nil {
			continue
		}
		p, _ := number(stage["progress"])
		p = min(max(p, 0), 1)
		progress += p
		if idx, ok := stageIndex(key, stage); ok && p > 0 && idx > s.MaxStageIndex {
			s.MaxStageIndex = idx
		}
	}
	s.PercentComplete = 100 * progress / float64(TotalStages)
	return s
}

func responseGiven(v any) bool {
	text, _ := v.(string)
	return text != ""
}

// stageIndex reads the index of a stage record, falling back to the stage
// key, which is either a stage name or a position.
func stageIndex(key string, stage docdiff.Document) (int, bool) {
	if idx, ok := number(stage["index"]); ok {
		return int(idx), true
	}
	if idx, ok := StageIndex[key]; ok {
		return idx, true
	}
	if idx, err := strconv.Atoi(key); err == nil {
		return idx, true
	}
	return 0, false
}

// String renders the summary on one line for logs.
func (s StudentSummary) String() string {
	return fmt.Sprintf("student %d: score=%.0f answered=%d responses=%d stage=%d complete=%.1f%%",
		s.StudentID, s.Score, s.Answered, s.FreeResponses, s.MaxStageIndex, s.PercentComplete)
}
