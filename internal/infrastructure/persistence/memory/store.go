// Package memory keeps the state server's data in process memory. It backs
// tests and single-process demos.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/internal/domain/student"
	"github.com/patudom/cds-app/pkg/docdiff"
)

type stateKey struct {
	studentID int
	story     string
	stage     string
}

type measurementKey struct {
	studentID int
	kind      story.MeasurementKind
}

// Store implements student.Repository, story.StateRepository and
// story.MeasurementRepository. Documents are cloned on the way in and out.
type Store struct {
	mu sync.RWMutex

	nextStudent  int
	nextEducator int
	nextClass    int

	students     map[int]*student.Student
	educators    map[int]*student.Educator
	classes      map[int]*student.Class
	states       map[stateKey]docdiff.Document
	measurements map[measurementKey][]docdiff.Document
}

// New creates an empty store.
func New() *Store {
	return &Store{
		students:     make(map[int]*student.Student),
		educators:    make(map[int]*student.Educator),
		classes:      make(map[int]*student.Class),
		states:       make(map[stateKey]docdiff.Document),
		measurements: make(map[measurementKey][]docdiff.Document),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// accounts
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) CreateStudent(_ context.Context, st *student.Student, classCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.students {
		if existing.Username == st.Username {
			return student.ErrStudentAlreadyExists
		}
	}
	if classCode != "" {
		class := s.classByCode(classCode)
		if class == nil {
			return student.ErrClassNotFound
		}
		st.ClassID = class.ID
	}

	s.nextStudent++
	st.ID = s.nextStudent
	cp := *st
	s.students[st.ID] = &cp
	return nil
}

func (s *Store) StudentByUsername(_ context.Context, username string) (*student.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.students {
		if st.Username == username {
			cp := *st
			return &cp, nil
		}
	}
	return nil, student.ErrStudentNotFound
}

func (s *Store) StudentByID(_ context.Context, id int) (*student.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return nil, student.ErrStudentNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *Store) CreateEducator(_ context.Context, e *student.Educator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEducator++
	e.ID = s.nextEducator
	cp := *e
	s.educators[e.ID] = &cp
	return nil
}

func (s *Store) EducatorByUsername(_ context.Context, username string) (*student.Educator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.educators {
		if e.Username == username {
			cp := *e
			return &cp, nil
		}
	}
	return nil, student.ErrEducatorNotFound
}

func (s *Store) CreateClass(_ context.Context, c *student.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classByCode(c.Code) != nil {
		return student.ErrClassAlreadyExists
	}
	s.nextClass++
	c.ID = s.nextClass
	cp := *c
	s.classes[c.ID] = &cp
	return nil
}

func (s *Store) classByCode(code string) *student.Class {
	for _, c := range s.classes {
		if c.Code == code {
			return c
		}
	}
	return nil
}

func (s *Store) ClassForStudentStory(_ context.Context, studentID int, storyName string) (*student.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[studentID]
	if !ok {
		return nil, student.ErrStudentNotFound
	}
	c, ok := s.classes[st.ClassID]
	if !ok || c.StoryName != storyName {
		return nil, student.ErrClassNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ClassSize(_ context.Context, classID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.classes[classID]; !ok {
		return 0, student.ErrClassNotFound
	}
	return len(s.members(classID)), nil
}

func (s *Store) ClassStudents(_ context.Context, classID int) ([]*student.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.classes[classID]; !ok {
		return nil, student.ErrClassNotFound
	}
	out := []*student.Student{}
	for _, id := range s.members(classID) {
		cp := *s.students[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) members(classID int) []int {
	ids := []int{}
	for _, id := range slices.Sorted(maps.Keys(s.students)) {
		if s.students[id].ClassID == classID {
			ids = append(ids, id)
		}
	}
	return ids
}

// ─────────────────────────────────────────────────────────────────────────────
// state
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) StoryState(_ context.Context, studentID int, storyName string) (docdiff.Document, error) {
	return s.load(stateKey{studentID: studentID, story: storyName})
}

func (s *Store) SaveStoryState(_ context.Context, studentID int, storyName string, state docdiff.Document) error {
	s.save(stateKey{studentID: studentID, story: storyName}, state)
	return nil
}

func (s *Store) PatchStoryState(_ context.Context, studentID int, storyName string, patch docdiff.Document) (docdiff.Document, error) {
	key := stateKey{studentID: studentID, story: storyName}

	s.mu.Lock()
	defer s.mu.Unlock()
	merged := docdiff.Apply(s.states[key], patch)
	s.states[key] = merged
	return docdiff.Clone(merged), nil
}

func (s *Store) StageState(_ context.Context, studentID int, storyName, stageName string) (docdiff.Document, error) {
	return s.load(stateKey{studentID: studentID, story: storyName, stage: stageName})
}

func (s *Store) SaveStageState(_ context.Context, studentID int, storyName, stageName string, state docdiff.Document) error {
	s.save(stateKey{studentID: studentID, story: storyName, stage: stageName}, state)
	return nil
}

func (s *Store) DeleteStageState(_ context.Context, studentID int, storyName, stageName string) (bool, error) {
	key := stateKey{studentID: studentID, story: storyName, stage: stageName}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[key]
	delete(s.states, key)
	return ok, nil
}

func (s *Store) StageStates(_ context.Context, studentID int) (map[string]docdiff.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]docdiff.Document)
	for key, doc := range s.states {
		if key.studentID == studentID && key.stage != "" {
			out[key.stage] = docdiff.Clone(doc)
		}
	}
	return out, nil
}

func (s *Store) load(key stateKey) (docdiff.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.states[key]
	if !ok {
		return nil, story.ErrStateNotFound
	}
	return docdiff.Clone(doc), nil
}

func (s *Store) save(key stateKey, doc docdiff.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = docdiff.Clone(doc)
}

// ─────────────────────────────────────────────────────────────────────────────
// measurements
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) Measurements(_ context.Context, studentID int, kind story.MeasurementKind) ([]docdiff.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneList(s.measurements[measurementKey{studentID, kind}]), nil
}

func (s *Store) ReplaceMeasurements(_ context.Context, studentID int, kind story.MeasurementKind, m []docdiff.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measurements[measurementKey{studentID, kind}] = cloneList(m)
	return nil
}

func (s *Store) ClassMeasurements(_ context.Context, classID int) ([]docdiff.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.classes[classID]; !ok {
		return nil, student.ErrClassNotFound
	}
	out := []docdiff.Document{}
	for _, id := range s.members(classID) {
		out = append(out, cloneList(s.measurements[measurementKey{id, story.MeasurementsStudent}])...)
	}
	return out, nil
}

func cloneList(list []docdiff.Document) []docdiff.Document {
	out := make([]docdiff.Document, len(list))
	for i, d := range list {
		out[i] = docdiff.Clone(d)
	}
	return out
}
