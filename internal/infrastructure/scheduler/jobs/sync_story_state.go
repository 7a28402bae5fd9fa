// Package jobs contains the scheduled jobs of the CosmicDS services.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patudom/cds-app/internal/application/session"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

// StateSession is the part of a session the sync job drives.
type StateSession interface {
	Loaded() bool
	Snapshot() (session.Snapshot, error)
	Push(ctx context.Context, snap session.Snapshot, patch, measurements docdiff.Document) (session.WriteResult, error)
	Publish(event shared.Event)
}

// SyncStoryStateConfig contains configuration for the sync job.
type SyncStoryStateConfig struct {
	// Interval between runs, used by the scheduler registration.
	Interval time.Duration

	// Timeout bounds one write.
	Timeout time.Duration
}

// DefaultSyncStoryStateConfig returns sensible defaults.
func DefaultSyncStoryStateConfig() SyncStoryStateConfig {
	return SyncStoryStateConfig{
		Interval: 2 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// SyncStats is a summary of the job's runs.
type SyncStats struct {
	Runs         int64
	Writes       int64
	FullWrites   int64
	Failures     int64
	LastPatchID  string
	LastSyncedAt time.Time
}

// SyncStoryStateJob keeps the remote copy of one session's state current.
// Its first run after the session loads writes the whole document; later
// runs send only what changed since the last successful write. A failed
// write leaves the baseline where it was, so the next run resends the
// same changes together with anything newer.
type SyncStoryStateJob struct {
	session StateSession
	config  SyncStoryStateConfig
	logger  *slog.Logger

	mu               sync.Mutex
	lastStudentID    int
	lastApp          docdiff.Document
	lastMeasurements docdiff.Document

	stats atomic.Pointer[SyncStats]
}

// NewSyncStoryStateJob creates a sync job for s.
func NewSyncStoryStateJob(s StateSession, log *slog.Logger, config SyncStoryStateConfig) *SyncStoryStateJob {
	if log == nil {
		log = slog.Default()
	}
	defaults := DefaultSyncStoryStateConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	j := &SyncStoryStateJob{session: s, config: config, logger: log.With(logger.Component("sync"))}
	j.stats.Store(&SyncStats{})
	return j
}

func (j *SyncStoryStateJob) Name() string { return "sync_story_state" }

func (j *SyncStoryStateJob) Description() string {
	return "Writes story state changes of the session to the state API"
}

// Interval returns the configured run interval.
func (j *SyncStoryStateJob) Interval() time.Duration { return j.config.Interval }

// Stats returns a copy of the run summary.
func (j *SyncStoryStateJob) Stats() SyncStats {
	return *j.stats.Load()
}

// Run performs one sync cycle. It does nothing until the session loaded.
func (j *SyncStoryStateJob) Run(ctx context.Context) error {
	if !j.session.Loaded() {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	stats := j.Stats()
	stats.Runs++
	defer func() { j.stats.Store(&stats) }()

	snap, err := j.session.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	full := j.lastApp == nil || snap.StudentID != j.lastStudentID
	var patch, measurements docdiff.Document
	if full {
		patch = snap.App
		measurements = snap.Measurements
	} else {
		patch = docdiff.Diff(j.lastApp, snap.App)
		if snap.Measurements != nil && !docdiff.Equal(j.lastMeasurements, snap.Measurements) {
			measurements = snap.Measurements
		}
	}
	if len(patch) == 0 && measurements == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	log := j.logger.With(logger.StudentID(snap.StudentID), logger.Story(snap.StoryID))
	res, err := j.session.Push(ctx, snap, patch, measurements)
	if err != nil {
		stats.Failures++
		j.session.Publish(shared.NewStateSyncFailedEvent(snap.StudentID, snap.StoryID, res.PatchID, err.Error()))
		return fmt.Errorf("sync story state: %w", err)
	}

	j.lastStudentID = snap.StudentID
	j.lastApp = snap.App
	if snap.Measurements != nil {
		j.lastMeasurements = snap.Measurements
	}
	if res.Skipped {
		return nil
	}

	stats.Writes++
	if full {
		stats.FullWrites++
	}
	stats.LastPatchID = res.PatchID
	stats.LastSyncedAt = time.Now()

	keys := docdiff.Leaves(patch)
	j.session.Publish(shared.NewStateSyncedEvent(snap.StudentID, snap.StoryID, res.PatchID, full, keys))
	log.Debug("story state synced", logger.PatchID(res.PatchID), "full", full, "keys", keys)
	return nil
}
