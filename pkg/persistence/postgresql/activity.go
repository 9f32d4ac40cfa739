package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
)

const activityColumns = `
	id
  , platform
  , event_type
  , user_id
  , channel_id
  , source_key
  , data
  , timestamp
  , dispatch_status
  , created_at`

// ActivityRepository handles activity-related database operations.
type ActivityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(db *sql.DB, logger *slog.Logger) *ActivityRepository {
	return &ActivityRepository{db: db, logger: logger}
}

// Insert relies on the (platform, source_key) unique constraint: a
// conflicting insert is a no-op and the existing row is returned instead.
func (r *ActivityRepository) Insert(ctx context.Context, activity *models.Activity) (*models.Activity, bool, error) {
	if activity.SourceKey == "" {
		return nil, false, persistence.NewActivityError("Insert", activity.ID, errors.New("source key is required"))
	}

	stored := *activity
	if stored.ID == "" {
		stored.ID = persistence.NewActivityID()
	}

	if stored.DispatchStatus == "" {
		stored.DispatchStatus = models.DispatchStatusPending
	}

	dataJSON, err := json.Marshal(stored.Data)
	if err != nil {
		return nil, false, persistence.NewActivityError("Insert", stored.ID, fmt.Errorf("failed to marshal data: %w", err))
	}

	query := `
		INSERT INTO activities (id, platform, event_type, user_id, channel_id, source_key, data, timestamp, dispatch_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (platform, source_key) DO NOTHING
		RETURNING` + activityColumns

	row := r.db.QueryRowContext(ctx, query,
		stored.ID,
		stored.Platform,
		stored.EventType,
		nullString(stored.UserID),
		nullString(stored.ChannelID),
		stored.SourceKey,
		dataJSON,
		stored.Timestamp,
		stored.DispatchStatus,
	)

	inserted, err := scanActivity(row)
	if err == nil {
		return inserted, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, persistence.NewActivityError("Insert", stored.ID, err)
	}

	existing, err := scanActivity(r.db.QueryRowContext(ctx,
		`SELECT`+activityColumns+` FROM activities WHERE platform = $1 AND source_key = $2`,
		stored.Platform, stored.SourceKey))
	if err != nil {
		return nil, false, persistence.NewActivityError("Insert", stored.ID, fmt.Errorf("failed to load existing activity: %w", err))
	}

	return existing, false, nil
}

func (r *ActivityRepository) ByID(ctx context.Context, id string) (*models.Activity, error) {
	activity, err := scanActivity(r.db.QueryRowContext(ctx, `SELECT`+activityColumns+` FROM activities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewActivityError("ByID", id, persistence.ErrActivityNotFound)
		}

		return nil, persistence.NewActivityError("ByID", id, err)
	}

	return activity, nil
}

// Query returns matching activities, newest first.
func (r *ActivityRepository) Query(ctx context.Context, filter persistence.ActivityFilter) ([]*models.Activity, error) {
	where := activityWhere(filter.Platform, filter.EventType, filter.ChannelID, filter.Since)
	limit, offset := persistence.PageBounds(filter.Limit, filter.Offset)

	query := `SELECT` + activityColumns + ` FROM activities` + where.String() +
		` ORDER BY timestamp DESC, id DESC LIMIT ` + where.placeholder(limit) + ` OFFSET ` + where.placeholder(offset)

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, persistence.NewActivityError("Query", "", fmt.Errorf("failed to query activities: %w", err))
	}

	defer closeRows(ctx, r.logger, rows)

	activities := make([]*models.Activity, 0)

	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, persistence.NewActivityError("Query", "", err)
		}

		activities = append(activities, activity)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewActivityError("Query", "", fmt.Errorf("error iterating activities: %w", err))
	}

	return activities, nil
}

func (r *ActivityRepository) Stats(ctx context.Context, since time.Time) (*models.ActivityStats, error) {
	stats := &models.ActivityStats{
		ByPlatform:  make(map[string]int64),
		ByEventType: make(map[string]int64),
	}

	where := activityWhere("", "", "", since)

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`+where.String(), where.args...).Scan(&stats.Total)
	if err != nil {
		return nil, persistence.NewActivityError("Stats", "", fmt.Errorf("failed to count activities: %w", err))
	}

	if err := r.countBy(ctx, "platform", where, stats.ByPlatform); err != nil {
		return nil, persistence.NewActivityError("Stats", "", err)
	}

	if err := r.countBy(ctx, "event_type", where, stats.ByEventType); err != nil {
		return nil, persistence.NewActivityError("Stats", "", err)
	}

	return stats, nil
}

// countBy groups activities by a fixed column name.
func (r *ActivityRepository) countBy(ctx context.Context, column string, where whereClause, into map[string]int64) error {
	query := `SELECT ` + column + `, COUNT(*) FROM activities` + where.String() + ` GROUP BY ` + column

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return fmt.Errorf("failed to count activities by %s: %w", column, err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			key   string
			count int64
		)

		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}

		into[key] = count
	}

	return rows.Err()
}

func (r *ActivityRepository) SetDispatchStatus(ctx context.Context, id string, status models.DispatchStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE activities SET dispatch_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return persistence.NewActivityError("SetDispatchStatus", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewActivityError("SetDispatchStatus", id, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 0 {
		return persistence.NewActivityError("SetDispatchStatus", id, persistence.ErrActivityNotFound)
	}

	return nil
}

func (r *ActivityRepository) ClaimRedispatch(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE activities SET dispatch_status = 'pending' WHERE id = $1 AND dispatch_status = 'failed'`, id)
	if err != nil {
		return false, persistence.NewActivityError("ClaimRedispatch", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewActivityError("ClaimRedispatch", id, fmt.Errorf("failed to get rows affected: %w", err))
	}

	return rowsAffected == 1, nil
}

func activityWhere(platform models.Platform, eventType, channelID string, since time.Time) whereClause {
	var where whereClause

	if platform != "" {
		where.add("platform = $%d", platform)
	}

	if eventType != "" {
		where.add("event_type = $%d", eventType)
	}

	if channelID != "" {
		where.add("channel_id = $%d", channelID)
	}

	if !since.IsZero() {
		where.add("timestamp >= $%d", since)
	}

	return where
}

func scanActivity(row scanner) (*models.Activity, error) {
	var (
		activity  models.Activity
		userID    sql.NullString
		channelID sql.NullString
		dataJSON  []byte
	)

	err := row.Scan(
		&activity.ID,
		&activity.Platform,
		&activity.EventType,
		&userID,
		&channelID,
		&activity.SourceKey,
		&dataJSON,
		&activity.Timestamp,
		&activity.DispatchStatus,
		&activity.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	activity.UserID = userID.String
	activity.ChannelID = channelID.String
	activity.Timestamp = activity.Timestamp.UTC()
	activity.CreatedAt = activity.CreatedAt.UTC()

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &activity.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity data: %w", err)
		}
	}

	return &activity, nil
}
