package progress

import (
	"encoding/json"
	"math"
)

// FreeResponse is a free-text answer keyed by tag.
type FreeResponse struct {
	Tag         string `json:"tag"`
	Response    string `json:"response"`
	Initialized bool   `json:"initialized"`
	Stage       string `json:"stage"`
}

// MultipleChoiceResponse is a scored answer keyed by tag.
// Score is never negative and never null.
type MultipleChoiceResponse struct {
	Tag           string `json:"tag"`
	Score         int    `json:"score"`
	Choice        *int   `json:"choice"`
	Tries         int    `json:"tries"`
	WrongAttempts int    `json:"wrong_attempts"`
	Stage         string `json:"stage"`
}

// NewMultipleChoiceResponse builds a response, coercing a missing score to 0.
func NewMultipleChoiceResponse(tag string, score *int, choice *int, tries int) MultipleChoiceResponse {
	resp := MultipleChoiceResponse{Tag: tag, Choice: choice, Tries: tries}
	if score != nil && *score > 0 {
		resp.Score = *score
	}
	return resp
}

// UnmarshalJSON coerces a null or missing score to 0.
func (r *MultipleChoiceResponse) UnmarshalJSON(data []byte) error {
	type alias MultipleChoiceResponse
	var wire struct {
		alias
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*r = MultipleChoiceResponse(wire.alias)
	r.Score = 0
	if wire.Score != nil && *wire.Score > 0 {
		r.Score = int(math.Trunc(*wire.Score))
	}
	return nil
}

// Ledger holds the two keyed response stores of one stage.
type Ledger struct {
	FreeResponses           map[string]FreeResponse           `json:"free_responses"`
	MultipleChoiceResponses map[string]MultipleChoiceResponse `json:"multiple_choice_responses"`
}

// HasResponse reports whether tag has a non-empty free response or a
// multiple-choice response with a positive score. Free responses win when
// both ledgers hold the tag.
func (l *Ledger) HasResponse(tag string) bool {
	if fr, ok := l.FreeResponses[tag]; ok {
		return fr.Response != ""
	}
	if mc, ok := l.MultipleChoiceResponses[tag]; ok {
		return mc.Score > 0
	}
	return false
}

// SetFreeResponse upserts a free response.
func (l *Ledger) SetFreeResponse(resp FreeResponse) {
	if l.FreeResponses == nil {
		l.FreeResponses = make(map[string]FreeResponse)
	}
	l.FreeResponses[resp.Tag] = resp
}

// SetMultipleChoice upserts a multiple-choice response and returns the score
// that should be added to a running total: the full score for a new tag, the
// difference to the previous score otherwise.
func (l *Ledger) SetMultipleChoice(resp MultipleChoiceResponse) int {
	if resp.Score < 0 {
		resp.Score = 0
	}
	if l.MultipleChoiceResponses == nil {
		l.MultipleChoiceResponses = make(map[string]MultipleChoiceResponse)
	}

	prev, existed := l.MultipleChoiceResponses[resp.Tag]
	l.MultipleChoiceResponses[resp.Tag] = resp
	if !existed {
		return resp.Score
	}
	return resp.Score - prev.Score
}

// Score sums the multiple-choice scores.
func (l *Ledger) Score() int {
	total := 0
	for _, mc := range l.MultipleChoiceResponses {
		total += mc.Score
	}
	return total
}

// Answered counts multiple-choice responses with a positive score.
func (l *Ledger) Answered() int {
	n := 0
	for _, mc := range l.MultipleChoiceResponses {
		if mc.Score > 0 {
			n++
		}
	}
	return n
}
