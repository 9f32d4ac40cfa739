// Package file provides a file-based persistence implementation: one JSON
// document per record under a root directory.
package file

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/dukex/inbox/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	activityRepo  *ActivityRepository
	triggerRepo   *TriggerRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		activityRepo:  NewActivityRepository(cleanRoot),
		triggerRepo:   NewTriggerRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
	}
}

func (fp *Persistence) ActivityRepository() persistence.ActivityRepository {
	return fp.activityRepo
}

func (fp *Persistence) TriggerRepository() persistence.TriggerRepository {
	return fp.triggerRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

type clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
