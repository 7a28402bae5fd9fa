package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/patudom/cds-app/internal/application/roster"
	"github.com/patudom/cds-app/pkg/logger"
)

// RosterRefresher is the part of roster.Service the job drives.
type RosterRefresher interface {
	Refresh(ctx context.Context, classID int) (*roster.Roster, roster.Adapter, error)
}

// ClassLocker serializes refreshes of one class across processes.
// redis.RosterCache implements it.
type ClassLocker interface {
	TryLockClass(ctx context.Context, classID int, owner string) (bool, error)
	UnlockClass(ctx context.Context, classID int, owner string) error
}

// RefreshRostersConfig contains configuration for the roster job.
type RefreshRostersConfig struct {
	// Classes to refresh on every run.
	Classes []int

	// Timeout bounds the refresh of one class.
	Timeout time.Duration
}

// DefaultRefreshRostersConfig returns sensible defaults.
func DefaultRefreshRostersConfig() RefreshRostersConfig {
	return RefreshRostersConfig{Timeout: 30 * time.Second}
}

// RosterStats is a summary of the job's runs.
type RosterStats struct {
	Runs      int64
	Refreshed int64
	Skipped   int64
	Failures  int64
	Versions  map[int]roster.Version
}

// RefreshRostersJob re-fetches and re-transforms class rosters so that
// dashboards read them from the cache. A class locked by another process
// is skipped for this run.
type RefreshRostersJob struct {
	rosters RosterRefresher
	locker  ClassLocker
	config  RefreshRostersConfig
	logger  *slog.Logger
	owner   string

	stats atomic.Pointer[RosterStats]
}

// NewRefreshRostersJob creates the job. locker may be nil.
func NewRefreshRostersJob(rosters RosterRefresher, locker ClassLocker, log *slog.Logger, config RefreshRostersConfig) *RefreshRostersJob {
	if log == nil {
		log = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRefreshRostersConfig().Timeout
	}
	j := &RefreshRostersJob{
		rosters: rosters,
		locker:  locker,
		config:  config,
		logger:  log.With(logger.Component("roster_refresh")),
		owner:   "refresh-" + ulid.Make().String(),
	}
	j.stats.Store(&RosterStats{Versions: map[int]roster.Version{}})
	return j
}

func (j *RefreshRostersJob) Name() string { return "refresh_rosters" }

func (j *RefreshRostersJob) Description() string {
	return fmt.Sprintf("Refreshes the cached rosters of %d classes", len(j.config.Classes))
}

// Stats returns a copy of the run summary.
func (j *RefreshRostersJob) Stats() RosterStats {
	s := *j.stats.Load()
	versions := make(map[int]roster.Version, len(s.Versions))
	for k, v := range s.Versions {
		versions[k] = v
	}
	s.Versions = versions
	return s
}

// Run refreshes every configured class. Failures of single classes are
// joined into the returned error; the remaining classes still run.
func (j *RefreshRostersJob) Run(ctx context.Context) error {
	stats := j.Stats()
	stats.Runs++
	defer func() { j.stats.Store(&stats) }()

	var errs []error
	for _, classID := range j.config.Classes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		version, refreshed, err := j.refresh(ctx, classID)
		switch {
		case err != nil:
			stats.Failures++
			errs = append(errs, fmt.Errorf("class %d: %w", classID, err))
		case !refreshed:
			stats.Skipped++
		default:
			stats.Refreshed++
			stats.Versions[classID] = version
		}
	}
	return errors.Join(errs...)
}

func (j *RefreshRostersJob) refresh(ctx context.Context, classID int) (roster.Version, bool, error) {
	log := j.logger.With(logger.ClassID(classID))
	if j.locker != nil {
		ok, err := j.locker.TryLockClass(ctx, classID, j.owner)
		if err != nil {
			return "", false, fmt.Errorf("lock: %w", err)
		}
		if !ok {
			log.Debug("roster refresh already running elsewhere")
			return "", false, nil
		}
		defer func() {
			if err := j.locker.UnlockClass(context.WithoutCancel(ctx), classID, j.owner); err != nil {
				log.Warn("roster unlock failed", logger.Err(err))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	start := time.Now()
	r, _, err := j.rosters.Refresh(ctx, classID)
	if err != nil {
		return "", false, err
	}
	log.Debug("roster refreshed", slog.String("version", string(r.Version)), logger.Latency(time.Since(start)))
	return r.Version, true, nil
}
