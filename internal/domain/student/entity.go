package student

import (
	"errors"
	"strings"
	"time"
)

// Student is a registered student account.
type Student struct {
	ID          int       `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Institution string    `json:"institution,omitempty"`
	Age         int       `json:"age,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	ClassID     int       `json:"class_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Educator is an instructor account. Educators never persist story state.
type Educator struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Class groups students that work through one story together.
type Class struct {
	ID         int       `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	EducatorID int       `json:"educator_id"`
	StoryName  string    `json:"story_name"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrInvalidUsername  = errors.New("invalid username: must be 1-100 chars without whitespace")
	ErrInvalidAge       = errors.New("invalid age: must be non-negative")
	ErrInvalidClassCode = errors.New("invalid class code")

	ErrStudentNotFound      = errors.New("student not found")
	ErrStudentAlreadyExists = errors.New("student already exists")
	ErrEducatorNotFound     = errors.New("educator not found")
	ErrClassNotFound        = errors.New("class not found")
	ErrClassAlreadyExists   = errors.New("class already exists")
)

// NewStudentParams holds what a registration request carries.
type NewStudentParams struct {
	Username    string
	Email       string
	Institution string
	Age         int
	Gender      string
	ClassCode   string
}

// NewStudent validates params and returns an unsaved student. The class is
// resolved by the repository from ClassCode.
func NewStudent(params NewStudentParams) (*Student, error) {
	if !validUsername(params.Username) {
		return nil, ErrInvalidUsername
	}
	if params.Age < 0 {
		return nil, ErrInvalidAge
	}
	if strings.TrimSpace(params.ClassCode) != params.ClassCode {
		return nil, ErrInvalidClassCode
	}

	email := params.Email
	if email == "" {
		email = params.Username
	}
	return &Student{
		Username:    params.Username,
		Email:       email,
		Institution: params.Institution,
		Age:         params.Age,
		Gender:      params.Gender,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// NewClass validates and returns an unsaved class.
func NewClass(code, name string, educatorID int, storyName string) (*Class, error) {
	code = strings.TrimSpace(code)
	if code == "" || strings.ContainsAny(code, " \t\r\n") {
		return nil, ErrInvalidClassCode
	}
	if name == "" {
		name = code
	}
	return &Class{
		Code:       code,
		Name:       name,
		EducatorID: educatorID,
		StoryName:  storyName,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func validUsername(s string) bool {
	return len(s) >= 1 && len(s) <= 100 && !strings.ContainsAny(s, " \t\n\r")
}
