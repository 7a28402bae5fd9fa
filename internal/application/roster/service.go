package roster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

// Roster is a transformed class roster.
type Roster struct {
	ClassID   int                `json:"class_id" yaml:"class_id"`
	Version   Version            `json:"version" yaml:"version"`
	Entries   []docdiff.Document `json:"entries" yaml:"entries"`
	FetchedAt time.Time          `json:"fetched_at" yaml:"fetched_at"`
}

// Cache stores transformed rosters. Get returns nil on a miss.
type Cache interface {
	Get(ctx context.Context, classID int) (*Roster, error)
	Set(ctx context.Context, r *Roster) error
}

// Service fetches and transforms rosters, going through an optional cache.
type Service struct {
	src    Source
	cache  Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service. cache may be nil.
func NewService(src Source, cache Cache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{src: src, cache: cache, logger: log.With(logger.Component("roster")), now: time.Now}
}

// Get returns the roster of classID, from the cache when it has one.
func (s *Service) Get(ctx context.Context, classID int) (*Roster, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, classID)
		if err != nil {
			s.logger.Warn("roster cache read failed", logger.ClassID(classID), logger.Err(err))
		} else if cached != nil {
			return cached, nil
		}
	}
	r, _, err := s.Refresh(ctx, classID)
	return r, err
}

// Refresh fetches and transforms the roster of classID, stores it in the
// cache and returns it with the adapter that produced it.
func (s *Service) Refresh(ctx context.Context, classID int) (*Roster, Adapter, error) {
	raw, err := s.src.GetRoster(ctx, classID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch roster %d: %w", classID, err)
	}

	f := NewFactory(s.src, classID, s.logger)
	entries := f.TransformRoster(ctx, raw)
	r := &Roster{
		ClassID:   classID,
		Version:   f.Adapter().VersionName(),
		Entries:   entries,
		FetchedAt: s.now().UTC(),
	}
	s.logger.Info("roster transformed",
		logger.ClassID(classID),
		slog.String("version", string(r.Version)),
		slog.Int("students", len(entries)),
	)

	if s.cache != nil {
		if err := s.cache.Set(ctx, r); err != nil {
			s.logger.Warn("roster cache write failed", logger.ClassID(classID), logger.Err(err))
		}
	}
	return r, f.Adapter(), nil
}

// Measurements are the galaxy measurements of a class, per student and
// for the whole class.
type Measurements struct {
	ClassID  int                        `json:"class_id" yaml:"class_id"`
	Version  Version                    `json:"version" yaml:"version"`
	Class    []docdiff.Document         `json:"class" yaml:"class"`
	Students map[int][]docdiff.Document `json:"students" yaml:"students"`
}

// Measurements refreshes the roster of classID and reads its measurements
// from wherever its storage generation keeps them. A student whose
// measurements cannot be read is logged and left out.
func (s *Service) Measurements(ctx context.Context, classID int) (*Measurements, error) {
	r, adapter, err := s.Refresh(ctx, classID)
	if err != nil {
		return nil, err
	}

	class, err := adapter.ClassMeasurements(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("class measurements %d: %w", classID, err)
	}
	m := &Measurements{
		ClassID:  classID,
		Version:  r.Version,
		Class:    class,
		Students: make(map[int][]docdiff.Document, len(r.Entries)),
	}
	for _, entry := range r.Entries {
		id, ok := studentID(entry)
		if !ok {
			continue
		}
		student, err := adapter.StudentMeasurements(ctx, id)
		if err != nil {
			s.logger.Warn("student measurements unavailable", logger.ClassID(classID), logger.StudentID(id), logger.Err(err))
			continue
		}
		m.Students[id] = student
	}
	return m, nil
}
