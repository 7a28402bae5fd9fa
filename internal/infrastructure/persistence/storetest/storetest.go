// Package storetest runs the same behavioural checks against every
// persistence.Store backend.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/internal/domain/student"
	"github.com/patudom/cds-app/internal/infrastructure/persistence"
	"github.com/patudom/cds-app/pkg/docdiff"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) persistence.Store) {
	t.Run("accounts", func(t *testing.T) { testAccounts(t, open(t)) })
	t.Run("story state", func(t *testing.T) { testStoryState(t, open(t)) })
	t.Run("stage state", func(t *testing.T) { testStageState(t, open(t)) })
	t.Run("measurements", func(t *testing.T) { testMeasurements(t, open(t)) })
}

func seedClass(t *testing.T, s persistence.Store) *student.Class {
	t.Helper()
	ctx := context.Background()

	edu := &student.Educator{Username: "educator-hash"}
	require.NoError(t, s.CreateEducator(ctx, edu))

	class, err := student.NewClass("hubble-101", "Period 1", edu.ID, "hubbles_law")
	require.NoError(t, err)
	require.NoError(t, s.CreateClass(ctx, class))
	require.NotZero(t, class.ID)
	return class
}

func enroll(t *testing.T, s persistence.Store, username, code string) *student.Student {
	t.Helper()
	st, err := student.NewStudent(student.NewStudentParams{Username: username, ClassCode: code})
	require.NoError(t, err)
	require.NoError(t, s.CreateStudent(context.Background(), st, code))
	return st
}

func testAccounts(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	class := seedClass(t, s)

	dup, _ := student.NewClass("hubble-101", "", 1, "hubbles_law")
	assert.ErrorIs(t, s.CreateClass(ctx, dup), student.ErrClassAlreadyExists)

	a := enroll(t, s, "alice", class.Code)
	b := enroll(t, s, "bob", class.Code)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, class.ID, a.ClassID)

	again, _ := student.NewStudent(student.NewStudentParams{Username: "alice"})
	assert.ErrorIs(t, s.CreateStudent(ctx, again, ""), student.ErrStudentAlreadyExists)

	lost, _ := student.NewStudent(student.NewStudentParams{Username: "carol"})
	assert.ErrorIs(t, s.CreateStudent(ctx, lost, "nope"), student.ErrClassNotFound)

	got, err := s.StudentByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "bob", got.Email)

	_, err = s.StudentByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, student.ErrStudentNotFound)

	byID, err := s.StudentByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	edu, err := s.EducatorByUsername(ctx, "educator-hash")
	require.NoError(t, err)
	assert.Equal(t, class.EducatorID, edu.ID)
	_, err = s.EducatorByUsername(ctx, "alice")
	assert.ErrorIs(t, err, student.ErrEducatorNotFound)

	c, err := s.ClassForStudentStory(ctx, a.ID, "hubbles_law")
	require.NoError(t, err)
	assert.Equal(t, class.ID, c.ID)
	_, err = s.ClassForStudentStory(ctx, a.ID, "other_story")
	assert.ErrorIs(t, err, student.ErrClassNotFound)

	size, err := s.ClassSize(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	members, err := s.ClassStudents(ctx, class.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].Username)
	assert.Equal(t, "bob", members[1].Username)
}

func testStoryState(t *testing.T, s persistence.Store) {
	ctx := context.Background()

	_, err := s.StoryState(ctx, 1, "hubbles_law")
	assert.ErrorIs(t, err, story.ErrStateNotFound)

	initial := docdiff.Document{"app": map[string]any{
		"drawer":      false,
		"story_state": map[string]any{"piggybank_total": float64(0), "title": "Hubble"},
	}}
	require.NoError(t, s.SaveStoryState(ctx, 1, "hubbles_law", initial))

	merged, err := s.PatchStoryState(ctx, 1, "hubbles_law", docdiff.Document{"app": map[string]any{
		"drawer":      nil,
		"story_state": map[string]any{"piggybank_total": float64(10)},
	}})
	require.NoError(t, err)

	want := docdiff.Document{"app": map[string]any{
		"story_state": map[string]any{"piggybank_total": float64(10), "title": "Hubble"},
	}}
	assert.True(t, docdiff.Equal(want, merged), "merged: %v", merged)

	stored, err := s.StoryState(ctx, 1, "hubbles_law")
	require.NoError(t, err)
	assert.True(t, docdiff.Equal(want, stored), "stored: %v", stored)

	fresh, err := s.PatchStoryState(ctx, 2, "hubbles_law", docdiff.Document{"app": map[string]any{"x": float64(1)}})
	require.NoError(t, err)
	assert.True(t, docdiff.Equal(docdiff.Document{"app": map[string]any{"x": float64(1)}}, fresh))
}

func testStageState(t *testing.T, s persistence.Store) {
	ctx := context.Background()

	_, err := s.StageState(ctx, 1, "hubbles_law", "introduction")
	assert.ErrorIs(t, err, story.ErrStateNotFound)

	doc := docdiff.Document{"max_step": float64(3), "total_steps": float64(4)}
	require.NoError(t, s.SaveStageState(ctx, 1, "hubbles_law", "introduction", doc))
	require.NoError(t, s.SaveStageState(ctx, 1, "hubbles_law", "explore_data", docdiff.Document{"max_step": float64(1)}))

	got, err := s.StageState(ctx, 1, "hubbles_law", "introduction")
	require.NoError(t, err)
	assert.True(t, docdiff.Equal(doc, got))

	all, err := s.StageStates(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	deleted, err := s.DeleteStageState(ctx, 1, "hubbles_law", "introduction")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteStageState(ctx, 1, "hubbles_law", "introduction")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testMeasurements(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	class := seedClass(t, s)
	a := enroll(t, s, "alice", class.Code)
	b := enroll(t, s, "bob", class.Code)

	empty, err := s.Measurements(ctx, a.ID, story.MeasurementsStudent)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.ReplaceMeasurements(ctx, a.ID, story.MeasurementsStudent, []docdiff.Document{
		{"galaxy_id": float64(1), "velocity_value": float64(5000)},
		{"galaxy_id": float64(2)},
	}))
	require.NoError(t, s.ReplaceMeasurements(ctx, a.ID, story.MeasurementsSample, []docdiff.Document{
		{"galaxy_id": float64(9), "measurement_number": "first"},
	}))
	require.NoError(t, s.ReplaceMeasurements(ctx, b.ID, story.MeasurementsStudent, []docdiff.Document{
		{"galaxy_id": float64(3)},
	}))

	got, err := s.Measurements(ctx, a.ID, story.MeasurementsStudent)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(1), got[0]["galaxy_id"])

	sample, err := s.Measurements(ctx, a.ID, story.MeasurementsSample)
	require.NoError(t, err)
	assert.Len(t, sample, 1)

	require.NoError(t, s.ReplaceMeasurements(ctx, a.ID, story.MeasurementsStudent, []docdiff.Document{{"galaxy_id": float64(4)}}))
	class2, err := s.ClassMeasurements(ctx, class.ID)
	require.NoError(t, err)
	require.Len(t, class2, 2)
	assert.Equal(t, float64(4), class2[0]["galaxy_id"])
	assert.Equal(t, float64(3), class2[1]["galaxy_id"])
}
