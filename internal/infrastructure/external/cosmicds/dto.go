package cosmicds

import (
	"encoding/json"

	"github.com/patudom/cds-app/pkg/docdiff"
)

// StudentDTO is a student record as the API returns it. Only the fields
// the session reads are typed; the rest stay in Extra.
type StudentDTO struct {
	ID       int    `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`

	Extra map[string]any `json:"-"`
}

// UnmarshalJSON keeps unknown fields in Extra.
func (s *StudentDTO) UnmarshalJSON(data []byte) error {
	type plain StudentDTO
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &p.Extra); err != nil {
		return err
	}
	delete(p.Extra, "id")
	delete(p.Extra, "username")
	delete(p.Extra, "email")
	*s = StudentDTO(p)
	return nil
}

type studentEnvelope struct {
	Student *StudentDTO `json:"student"`
}

type educatorEnvelope struct {
	Educator map[string]any `json:"educator"`
}

type classForStudentDTO struct {
	Class map[string]any `json:"class"`
	Size  int            `json:"size"`
}

type classSizeDTO struct {
	Size int `json:"size"`
}

// CreateStudentDTO is the body of POST /students/create.
type CreateStudentDTO struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Institution   string `json:"institution"`
	Email         string `json:"email"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
	ClassroomCode string `json:"classroom_code"`
}

type stateEnvelope struct {
	State docdiff.Document `json:"state"`
}

type storyPatchDTO struct {
	App docdiff.Document `json:"app"`
}

type successDTO struct {
	Success bool `json:"success"`
}

type measurementsEnvelope struct {
	Measurements []docdiff.Document `json:"measurements"`
}

// APIErrorDTO is the optional error body of a failed request.
type APIErrorDTO struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e APIErrorDTO) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
