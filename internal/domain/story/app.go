package story

import (
	"fmt"

	"github.com/patudom/cds-app/internal/domain/progress"
	"github.com/patudom/cds-app/pkg/docdiff"
)

// Student identifies the learner.
type Student struct {
	ID *int `json:"id"`
}

// Classroom is the learner's class context.
type Classroom struct {
	ClassInfo map[string]any `json:"class_info"`
	Size      int            `json:"size"`
}

// ClassID returns the numeric class id from ClassInfo.
func (c Classroom) ClassID() (int, bool) {
	switch id := c.ClassInfo["id"].(type) {
	case int:
		return id, true
	case float64:
		return int(id), true
	}
	return 0, false
}

// Speech holds text-to-speech preferences.
type Speech struct {
	Pitch    float64 `json:"pitch"`
	Rate     float64 `json:"rate"`
	Autoread bool    `json:"autoread"`
	Voice    *string `json:"voice"`
}

// Flags are session switches fixed at start. They are never serialized.
type Flags struct {
	UpdateDB          bool
	ShowTeamInterface bool
	DebugMode         bool
}

// AppState is the root aggregate of one session.
type AppState struct {
	StoryState StoryState `json:"story_state"`

	Drawer               bool      `json:"drawer"`
	SpeedMenu            bool      `json:"speed_menu"`
	LoadingStatusMessage string    `json:"loading_status_message"`
	Student              Student   `json:"student"`
	Classroom            Classroom `json:"classroom"`
	AllowAdvancing       bool      `json:"allow_advancing"`
	Speech               Speech    `json:"speech"`
	Educator             bool      `json:"educator"`

	UpdateDB          bool `json:"-"`
	ShowTeamInterface bool `json:"-"`
}

// NewAppState builds a fresh session state holding the registry's default
// story.
func NewAppState(reg *Registry, flags Flags) (*AppState, error) {
	st, err := reg.DefaultStory()
	if err != nil {
		return nil, err
	}
	st.Base().DebugMode = flags.DebugMode

	return &AppState{
		StoryState:        st,
		Drawer:            true,
		Classroom:         Classroom{ClassInfo: map[string]any{}},
		AllowAdvancing:    true,
		Speech:            Speech{Pitch: 1.0, Rate: 1.0},
		UpdateDB:          flags.UpdateDB,
		ShowTeamInterface: flags.ShowTeamInterface,
	}, nil
}

// Flags returns the session switches.
func (a *AppState) Flags() Flags {
	f := Flags{UpdateDB: a.UpdateDB, ShowTeamInterface: a.ShowTeamInterface}
	if a.StoryState != nil {
		f.DebugMode = a.StoryState.Base().DebugMode
	}
	return f
}

// Story returns the active story's common fields, or nil.
func (a *AppState) Story() *Story {
	if a.StoryState == nil {
		return nil
	}
	return a.StoryState.Base()
}

// StudentID returns the learner id, or 0 when unknown.
func (a *AppState) StudentID() int {
	if a.Student.ID == nil {
		return 0
	}
	return *a.Student.ID
}

// ClearUser forgets the identity and classroom.
func (a *AppState) ClearUser() {
	zero := 0
	a.Student.ID = &zero
	a.Classroom = Classroom{ClassInfo: map[string]any{}}
}

// Document encodes the state with freshly computed derived stage fields.
func (a *AppState) Document() (docdiff.Document, error) {
	if s := a.Story(); s != nil {
		for _, st := range s.StageStates {
			progress.Refresh(st)
		}
	}
	doc, err := docdiff.FromValue(a)
	if err != nil {
		return nil, fmt.Errorf("encode app state: %w", err)
	}
	return doc, nil
}
