package memory

import (
	"testing"

	"github.com/patudom/cds-app/internal/infrastructure/persistence"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) persistence.Store { return New() })
}
