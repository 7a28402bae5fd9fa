package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/patudom/cds-app/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func newTestScheduler() *Scheduler {
	return NewScheduler(SchedulerConfig{
		Logger:        logger.Discard(),
		TickInterval:  5 * time.Millisecond,
		EnableMetrics: true,
	})
}

func TestRegister_Validation(t *testing.T) {
	s := newTestScheduler()
	job := funcJob{name: "a", run: func(context.Context) error { return nil }}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Unregister("missing"), ErrJobNotFound)
	require.NoError(t, s.Unregister("a"))
}

func TestScheduler_RunsImmediateJobRepeatedly(t *testing.T) {
	s := newTestScheduler()
	var runs atomic.Int32
	done := make(chan struct{})
	var once sync.Once
	job := funcJob{name: "tick", run: func(context.Context) error {
		if runs.Add(1) == 3 {
			once.Do(func() { close(done) })
		}
		return nil
	}}
	require.NoError(t, s.Register(job, NewImmediateIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run three times")
	}
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	info := s.ListJobs()
	require.Len(t, info, 1)
	assert.GreaterOrEqual(t, info[0].RunCount, int64(3))
	assert.Equal(t, "@every 10ms (immediate)", info[0].Schedule)
	assert.GreaterOrEqual(t, s.GetMetrics().Snapshot().TotalSuccesses, int64(3))
}

func TestScheduler_NeverOverlapsAJob(t *testing.T) {
	s := newTestScheduler()
	var active, maxActive, runs atomic.Int32
	release := make(chan struct{})
	job := funcJob{name: "slow", run: func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		if runs.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	}}
	require.NoError(t, s.Register(job, NewImmediateIntervalSchedule(time.Millisecond)))
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobInFlight)
	close(release)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Positive(t, s.ListJobs()[0].SkipCount)
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	job := funcJob{name: "blocking", run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	require.NoError(t, s.Register(job, &IntervalSchedule{Interval: time.Hour, Immediate: true}))
	require.NoError(t, s.Start(context.Background()))

	<-started
	require.NoError(t, s.Stop())

	history := s.GetHistory(0)
	require.Len(t, history, 1)
	assert.ErrorIs(t, history[0].Error, context.Canceled)
}

func TestScheduler_SetEnabled(t *testing.T) {
	s := newTestScheduler()
	var runs atomic.Int32
	job := funcJob{name: "paused", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))
	assert.ErrorIs(t, s.SetEnabled("missing", false), ErrJobNotFound)
	require.NoError(t, s.SetEnabled("paused", false))

	assert.False(t, s.IsRunning())
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runs.Load())

	require.NoError(t, s.SetEnabled("paused", true))
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestRunNow_RecordsFailure(t *testing.T) {
	s := newTestScheduler()
	boom := errors.New("boom")
	var completed []JobResult
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r) })
	require.NoError(t, s.Register(funcJob{name: "fail", run: func(context.Context) error { return boom }}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "fail")
	assert.ErrorIs(t, err, boom)
	assert.True(t, res.Manual)
	assert.False(t, res.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalFailures)
	assert.Equal(t, int64(1), snap.FailuresByJob["fail"])
	assert.Empty(t, completed)
}

func TestCronSchedule(t *testing.T) {
	cs, err := ParseCron(Weekdays7AM)
	require.NoError(t, err)

	// Saturday 2024-06-01 10:00 UTC -> Monday 07:00
	from := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 3, 7, 0, 0, 0, time.UTC), cs.Next(from))

	every := MustParseCron(Every10Minutes)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 10, 0, 0, time.UTC), every.Next(from))
	assert.Equal(t, time.Date(2024, 6, 1, 10, 10, 0, 0, time.UTC), every.Next(from.Add(3*time.Minute)))

	list := MustParseCron("5,35 1-2 * * *")
	assert.Equal(t, time.Date(2024, 6, 2, 1, 5, 0, 0, time.UTC), list.Next(from))

	for _, bad := range []string{"* * * *", "61 * * * *", "*/0 * * * *", "a * * * *", "5-1 * * * *"} {
		_, err := ParseCron(bad)
		assert.Error(t, err, bad)
	}
}
