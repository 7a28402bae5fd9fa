// Package persistence selects the storage backend of the state server.
package persistence

import (
	"context"

	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/internal/domain/student"
)

// Store is everything the state server persists.
type Store interface {
	student.Repository
	story.StateRepository
	story.MeasurementRepository

	Ping(ctx context.Context) error
	Close() error
}
