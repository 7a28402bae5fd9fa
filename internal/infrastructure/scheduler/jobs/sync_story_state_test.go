package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/patudom/cds-app/internal/application/session"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/infrastructure/scheduler"
	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type push struct {
	patch        docdiff.Document
	measurements docdiff.Document
}

type fakeSession struct {
	loaded bool
	snap   session.Snapshot
	err    error
	pushes []push
	events []shared.Event
}

func (f *fakeSession) Loaded() bool { return f.loaded }

func (f *fakeSession) Snapshot() (session.Snapshot, error) {
	s := f.snap
	s.App = docdiff.Clone(f.snap.App)
	if f.snap.Measurements != nil {
		s.Measurements = docdiff.Clone(f.snap.Measurements)
	}
	return s, nil
}

func (f *fakeSession) Push(_ context.Context, _ session.Snapshot, patch, measurements docdiff.Document) (session.WriteResult, error) {
	f.pushes = append(f.pushes, push{patch: patch, measurements: measurements})
	if f.err != nil {
		return session.WriteResult{PatchID: "failed"}, f.err
	}
	return session.WriteResult{PatchID: "p" + string(rune('0'+len(f.pushes)))}, nil
}

func (f *fakeSession) Publish(e shared.Event) { f.events = append(f.events, e) }

func newJob(s StateSession) *SyncStoryStateJob {
	return NewSyncStoryStateJob(s, logger.Discard(), SyncStoryStateConfig{})
}

func TestSyncJob_WaitsForLoad(t *testing.T) {
	fs := &fakeSession{}
	job := newJob(fs)

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, fs.pushes)
	assert.Equal(t, int64(0), job.Stats().Runs)
	assert.Equal(t, 2*time.Second, job.Interval())
}

func TestSyncJob_FullWriteThenDiffs(t *testing.T) {
	fs := &fakeSession{
		loaded: true,
		snap: session.Snapshot{
			StudentID: 5,
			StoryID:   "hubbles_law",
			App:       docdiff.Document{"drawer": true, "story_state": docdiff.Document{"piggybank_total": 0.0}},
		},
	}
	job := newJob(fs)
	ctx := context.Background()

	require.NoError(t, job.Run(ctx))
	require.Len(t, fs.pushes, 1)
	assert.Equal(t, fs.snap.App, fs.pushes[0].patch)

	// nothing changed: no write
	require.NoError(t, job.Run(ctx))
	assert.Len(t, fs.pushes, 1)

	fs.snap.App["story_state"].(docdiff.Document)["piggybank_total"] = 10.0
	require.NoError(t, job.Run(ctx))
	require.Len(t, fs.pushes, 2)
	assert.Equal(t, docdiff.Document{"story_state": docdiff.Document{"piggybank_total": 10.0}}, fs.pushes[1].patch)
	assert.Nil(t, fs.pushes[1].measurements)

	stats := job.Stats()
	assert.Equal(t, int64(3), stats.Runs)
	assert.Equal(t, int64(2), stats.Writes)
	assert.Equal(t, int64(1), stats.FullWrites)
	assert.Equal(t, "p2", stats.LastPatchID)

	require.Len(t, fs.events, 2)
	first := fs.events[0].(shared.StateSyncedEvent)
	assert.True(t, first.Full)
	second := fs.events[1].(shared.StateSyncedEvent)
	assert.False(t, second.Full)
	assert.Equal(t, 1, second.Keys)
}

func TestSyncJob_FailedWriteKeepsBaseline(t *testing.T) {
	fs := &fakeSession{
		loaded: true,
		snap:   session.Snapshot{StudentID: 5, StoryID: "hubbles_law", App: docdiff.Document{"a": 1.0, "b": 1.0}},
	}
	job := newJob(fs)
	ctx := context.Background()
	require.NoError(t, job.Run(ctx))

	fs.snap.App["a"] = 2.0
	fs.err = shared.ErrRemoteUnavailable
	err := job.Run(ctx)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	failed := fs.events[len(fs.events)-1].(shared.StateSyncFailedEvent)
	assert.Equal(t, "failed", failed.PatchID)

	fs.snap.App["b"] = 2.0
	fs.err = nil
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, docdiff.Document{"a": 2.0, "b": 2.0}, fs.pushes[len(fs.pushes)-1].patch)
	assert.Equal(t, int64(1), job.Stats().Failures)
}

func TestSyncJob_MeasurementsOnlyWhenChanged(t *testing.T) {
	fs := &fakeSession{
		loaded: true,
		snap: session.Snapshot{
			StudentID:    5,
			StoryID:      "hubbles_law",
			App:          docdiff.Document{"drawer": true},
			Measurements: docdiff.Document{"measurements": []any{}, "sample_measurements": []any{}},
		},
	}
	job := newJob(fs)
	ctx := context.Background()

	require.NoError(t, job.Run(ctx))
	require.Len(t, fs.pushes, 1)
	assert.NotNil(t, fs.pushes[0].measurements)

	fs.snap.Measurements["measurements"] = []any{map[string]any{"galaxy_id": 1.0}}
	require.NoError(t, job.Run(ctx))
	require.Len(t, fs.pushes, 2)
	assert.Empty(t, fs.pushes[1].patch)
	assert.Len(t, fs.pushes[1].measurements["measurements"], 1)
}

func TestSyncJob_NewStudentForcesFullWrite(t *testing.T) {
	fs := &fakeSession{
		loaded: true,
		snap:   session.Snapshot{StudentID: 5, App: docdiff.Document{"drawer": true}},
	}
	job := newJob(fs)
	require.NoError(t, job.Run(context.Background()))

	fs.snap.StudentID = 6
	require.NoError(t, job.Run(context.Background()))
	require.Len(t, fs.pushes, 2)
	assert.Equal(t, docdiff.Document{"drawer": true}, fs.pushes[1].patch)
	assert.Equal(t, int64(2), job.Stats().FullWrites)
}

func TestSyncJob_UnderScheduler(t *testing.T) {
	fs := &fakeSession{
		loaded: true,
		snap:   session.Snapshot{StudentID: 5, App: docdiff.Document{"drawer": true}},
	}
	job := NewSyncStoryStateJob(fs, logger.Discard(), SyncStoryStateConfig{Interval: 5 * time.Millisecond})
	s := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: logger.Discard(), TickInterval: time.Millisecond})
	require.NoError(t, s.Register(job, scheduler.NewImmediateIntervalSchedule(job.Interval())))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return job.Stats().Runs >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, int64(1), job.Stats().Writes)
	assert.False(t, errors.Is(s.GetHistory(1)[0].Error, context.Canceled))
}
