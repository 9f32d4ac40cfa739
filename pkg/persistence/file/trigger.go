package file

import (
	"context"
	"sort"
	"sync"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
)

// TriggerRepository handles workflow trigger file operations.
type TriggerRepository struct {
	mu       sync.RWMutex
	triggers collection[models.WorkflowTrigger]
	now      clock
}

// NewTriggerRepository creates a new trigger repository.
func NewTriggerRepository(root string) *TriggerRepository {
	return &TriggerRepository{
		triggers: newCollection[models.WorkflowTrigger](root, "triggers"),
		now:      utcNow,
	}
}

// List returns matching triggers, oldest first.
func (r *TriggerRepository) List(_ context.Context, filter persistence.TriggerFilter) ([]*models.WorkflowTrigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.triggers.readAll()
	if err != nil {
		return nil, persistence.NewTriggerError("List", "", err)
	}

	matched := make([]*models.WorkflowTrigger, 0, len(all))

	for _, trigger := range all {
		if filter.Matches(trigger) {
			matched = append(matched, trigger)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}

		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	return matched, nil
}

func (r *TriggerRepository) ByID(_ context.Context, id string) (*models.WorkflowTrigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byID("ByID", id)
}

func (r *TriggerRepository) byID(op, id string) (*models.WorkflowTrigger, error) {
	trigger, err := r.triggers.read(id)
	if err != nil {
		return nil, persistence.NewTriggerError(op, id, err)
	}

	if trigger == nil {
		return nil, persistence.NewTriggerError(op, id, persistence.ErrTriggerNotFound)
	}

	return trigger, nil
}

func (r *TriggerRepository) Create(_ context.Context, trigger *models.WorkflowTrigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if trigger.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return persistence.NewTriggerError("Create", "", err)
		}

		trigger.ID = id
	}

	now := r.now()
	trigger.CreatedAt = now
	trigger.UpdatedAt = now

	created, err := r.triggers.create(trigger.ID, trigger)
	if err != nil {
		return persistence.NewTriggerError("Create", trigger.ID, err)
	}

	if !created {
		return persistence.NewTriggerError("Create", trigger.ID, persistence.ErrTriggerAlreadyExists)
	}

	return nil
}

func (r *TriggerRepository) Update(_ context.Context, trigger *models.WorkflowTrigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.byID("Update", trigger.ID)
	if err != nil {
		return err
	}

	trigger.CreatedAt = existing.CreatedAt
	trigger.UpdatedAt = r.now()

	if err := r.triggers.write(trigger.ID, trigger); err != nil {
		return persistence.NewTriggerError("Update", trigger.ID, err)
	}

	return nil
}

func (r *TriggerRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed, err := r.triggers.remove(id)
	if err != nil {
		return persistence.NewTriggerError("Delete", id, err)
	}

	if !removed {
		return persistence.NewTriggerError("Delete", id, persistence.ErrTriggerNotFound)
	}

	return nil
}

func (r *TriggerRepository) SetEnabled(_ context.Context, id string, enabled bool) (*models.WorkflowTrigger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trigger, err := r.byID("SetEnabled", id)
	if err != nil {
		return nil, err
	}

	trigger.Enabled = enabled
	trigger.UpdatedAt = r.now()

	if err := r.triggers.write(id, trigger); err != nil {
		return nil, persistence.NewTriggerError("SetEnabled", id, err)
	}

	return trigger, nil
}
