package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
)

// sourceKeyRecord claims a natural key for one activity.
type sourceKeyRecord struct {
	ActivityID string `json:"activity_id"`
}

// ActivityRepository handles activity-related file operations. An activity
// is written first and then claims its natural key with an exclusive link;
// the loser of a concurrent insert removes its copy and returns the winner.
type ActivityRepository struct {
	mu         sync.Mutex
	activities collection[models.Activity]
	keys       collection[sourceKeyRecord]
	now        clock
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(root string) *ActivityRepository {
	return &ActivityRepository{
		activities: newCollection[models.Activity](root, "activities"),
		keys:       newCollection[sourceKeyRecord](root, "activity_keys"),
		now:        utcNow,
	}
}

func keyID(platform models.Platform, sourceKey string) string {
	sum := sha256.Sum256([]byte(string(platform) + "\x00" + sourceKey))

	return hex.EncodeToString(sum[:])
}

func (r *ActivityRepository) Insert(_ context.Context, activity *models.Activity) (*models.Activity, bool, error) {
	if activity.SourceKey == "" {
		return nil, false, persistence.NewActivityError("Insert", activity.ID, fmt.Errorf("source key is required"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *activity
	if stored.ID == "" {
		stored.ID = persistence.NewActivityID()
	}

	if stored.DispatchStatus == "" {
		stored.DispatchStatus = models.DispatchStatusPending
	}

	stored.CreatedAt = r.now()

	if err := r.activities.write(stored.ID, &stored); err != nil {
		return nil, false, persistence.NewActivityError("Insert", stored.ID, err)
	}

	key := keyID(stored.Platform, stored.SourceKey)

	claimed, err := r.keys.create(key, &sourceKeyRecord{ActivityID: stored.ID})
	if err != nil || !claimed {
		_, _ = r.activities.remove(stored.ID)
	}

	if err != nil {
		return nil, false, persistence.NewActivityError("Insert", stored.ID, err)
	}

	if !claimed {
		existing, err := r.byKey(key)
		if err != nil {
			return nil, false, persistence.NewActivityError("Insert", stored.ID, err)
		}

		return existing, false, nil
	}

	return &stored, true, nil
}

func (r *ActivityRepository) byKey(key string) (*models.Activity, error) {
	record, err := r.keys.read(key)
	if err != nil {
		return nil, err
	}

	if record == nil {
		return nil, persistence.ErrActivityNotFound
	}

	activity, err := r.activities.read(record.ActivityID)
	if err != nil {
		return nil, err
	}

	if activity == nil {
		return nil, persistence.ErrActivityNotFound
	}

	return activity, nil
}

func (r *ActivityRepository) ByID(_ context.Context, id string) (*models.Activity, error) {
	activity, err := r.activities.read(id)
	if err != nil {
		return nil, persistence.NewActivityError("ByID", id, err)
	}

	if activity == nil {
		return nil, persistence.NewActivityError("ByID", id, persistence.ErrActivityNotFound)
	}

	return activity, nil
}

// Query returns matching activities, newest first.
func (r *ActivityRepository) Query(_ context.Context, filter persistence.ActivityFilter) ([]*models.Activity, error) {
	all, err := r.activities.readAll()
	if err != nil {
		return nil, persistence.NewActivityError("Query", "", err)
	}

	matched := make([]*models.Activity, 0, len(all))

	for _, activity := range all {
		if filter.Matches(activity) {
			matched = append(matched, activity)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}

		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	limit, offset := persistence.PageBounds(filter.Limit, filter.Offset)

	return paginate(matched, limit, offset), nil
}

func (r *ActivityRepository) Stats(_ context.Context, since time.Time) (*models.ActivityStats, error) {
	all, err := r.activities.readAll()
	if err != nil {
		return nil, persistence.NewActivityError("Stats", "", err)
	}

	stats := &models.ActivityStats{
		ByPlatform:  make(map[string]int64),
		ByEventType: make(map[string]int64),
	}

	filter := persistence.ActivityFilter{Since: since}

	for _, activity := range all {
		if !filter.Matches(activity) {
			continue
		}

		stats.Total++
		stats.ByPlatform[string(activity.Platform)]++
		stats.ByEventType[activity.EventType]++
	}

	return stats, nil
}

func (r *ActivityRepository) SetDispatchStatus(_ context.Context, id string, status models.DispatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, err := r.activities.read(id)
	if err != nil {
		return persistence.NewActivityError("SetDispatchStatus", id, err)
	}

	if activity == nil {
		return persistence.NewActivityError("SetDispatchStatus", id, persistence.ErrActivityNotFound)
	}

	activity.DispatchStatus = status

	if err := r.activities.write(id, activity); err != nil {
		return persistence.NewActivityError("SetDispatchStatus", id, err)
	}

	return nil
}

func (r *ActivityRepository) ClaimRedispatch(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, err := r.activities.read(id)
	if err != nil {
		return false, persistence.NewActivityError("ClaimRedispatch", id, err)
	}

	if activity == nil {
		return false, persistence.NewActivityError("ClaimRedispatch", id, persistence.ErrActivityNotFound)
	}

	if activity.DispatchStatus != models.DispatchStatusFailed {
		return false, nil
	}

	activity.DispatchStatus = models.DispatchStatusPending

	if err := r.activities.write(id, activity); err != nil {
		return false, persistence.NewActivityError("ClaimRedispatch", id, err)
	}

	return true, nil
}
