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
	"github.com/lib/pq"
)

const triggerColumns = `
	id
  , name
  , description
  , platform
  , event_type
  , conditions
  , ai_agent_config
  , enabled
  , created_at
  , updated_at`

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// TriggerRepository handles workflow trigger database operations.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTriggerRepository creates a new trigger repository.
func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

// List returns matching triggers, oldest first.
func (r *TriggerRepository) List(ctx context.Context, filter persistence.TriggerFilter) ([]*models.WorkflowTrigger, error) {
	var where whereClause

	if filter.Platform != "" {
		where.add("platform = $%d", filter.Platform)
	}

	if filter.EventType != "" {
		where.add("event_type = $%d", filter.EventType)
	}

	if filter.EnabledOnly {
		where.add("enabled = $%d", true)
	}

	query := `SELECT` + triggerColumns + ` FROM workflow_triggers` + where.String() + ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, persistence.NewTriggerError("List", "", fmt.Errorf("failed to query triggers: %w", err))
	}

	defer closeRows(ctx, r.logger, rows)

	triggers := make([]*models.WorkflowTrigger, 0)

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, persistence.NewTriggerError("List", "", err)
		}

		triggers = append(triggers, trigger)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewTriggerError("List", "", fmt.Errorf("error iterating triggers: %w", err))
	}

	return triggers, nil
}

func (r *TriggerRepository) ByID(ctx context.Context, id string) (*models.WorkflowTrigger, error) {
	trigger, err := scanTrigger(r.db.QueryRowContext(ctx, `SELECT`+triggerColumns+` FROM workflow_triggers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTriggerError("ByID", id, persistence.ErrTriggerNotFound)
		}

		return nil, persistence.NewTriggerError("ByID", id, err)
	}

	return trigger, nil
}

func (r *TriggerRepository) Create(ctx context.Context, trigger *models.WorkflowTrigger) error {
	if trigger.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return persistence.NewTriggerError("Create", "", err)
		}

		trigger.ID = id
	}

	now := time.Now().UTC()
	trigger.CreatedAt = now
	trigger.UpdatedAt = now

	conditionsJSON, agentJSON, err := marshalTrigger(trigger)
	if err != nil {
		return persistence.NewTriggerError("Create", trigger.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_triggers (id, name, description, platform, event_type, conditions, ai_agent_config, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		trigger.ID,
		trigger.Name,
		trigger.Description,
		trigger.Platform,
		trigger.EventType,
		conditionsJSON,
		agentJSON,
		trigger.Enabled,
		trigger.CreatedAt,
		trigger.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewTriggerError("Create", trigger.ID, persistence.ErrTriggerAlreadyExists)
		}

		return persistence.NewTriggerError("Create", trigger.ID, fmt.Errorf("failed to save trigger: %w", err))
	}

	return nil
}

func (r *TriggerRepository) Update(ctx context.Context, trigger *models.WorkflowTrigger) error {
	trigger.UpdatedAt = time.Now().UTC()

	conditionsJSON, agentJSON, err := marshalTrigger(trigger)
	if err != nil {
		return persistence.NewTriggerError("Update", trigger.ID, err)
	}

	err = r.db.QueryRowContext(ctx, `
		UPDATE workflow_triggers SET
			name = $2,
			description = $3,
			platform = $4,
			event_type = $5,
			conditions = $6,
			ai_agent_config = $7,
			enabled = $8,
			updated_at = $9
		WHERE id = $1
		RETURNING created_at`,
		trigger.ID,
		trigger.Name,
		trigger.Description,
		trigger.Platform,
		trigger.EventType,
		conditionsJSON,
		agentJSON,
		trigger.Enabled,
		trigger.UpdatedAt,
	).Scan(&trigger.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewTriggerError("Update", trigger.ID, persistence.ErrTriggerNotFound)
		}

		return persistence.NewTriggerError("Update", trigger.ID, fmt.Errorf("failed to update trigger: %w", err))
	}

	trigger.CreatedAt = trigger.CreatedAt.UTC()

	return nil
}

func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_triggers WHERE id = $1`, id)
	if err != nil {
		return persistence.NewTriggerError("Delete", id, fmt.Errorf("failed to delete trigger: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewTriggerError("Delete", id, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 0 {
		return persistence.NewTriggerError("Delete", id, persistence.ErrTriggerNotFound)
	}

	return nil
}

func (r *TriggerRepository) SetEnabled(ctx context.Context, id string, enabled bool) (*models.WorkflowTrigger, error) {
	trigger, err := scanTrigger(r.db.QueryRowContext(ctx, `
		UPDATE workflow_triggers SET enabled = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING`+triggerColumns, id, enabled))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTriggerError("SetEnabled", id, persistence.ErrTriggerNotFound)
		}

		return nil, persistence.NewTriggerError("SetEnabled", id, err)
	}

	return trigger, nil
}

func marshalTrigger(trigger *models.WorkflowTrigger) ([]byte, []byte, error) {
	conditionsJSON := []byte(trigger.Conditions)
	if len(conditionsJSON) == 0 {
		conditionsJSON = []byte("{}")
	}

	if !json.Valid(conditionsJSON) {
		return nil, nil, errors.New("conditions are not valid JSON")
	}

	agentJSON, err := json.Marshal(trigger.AgentConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal agent config: %w", err)
	}

	return conditionsJSON, agentJSON, nil
}

func scanTrigger(row scanner) (*models.WorkflowTrigger, error) {
	var (
		trigger        models.WorkflowTrigger
		conditionsJSON []byte
		agentJSON      []byte
	)

	err := row.Scan(
		&trigger.ID,
		&trigger.Name,
		&trigger.Description,
		&trigger.Platform,
		&trigger.EventType,
		&conditionsJSON,
		&agentJSON,
		&trigger.Enabled,
		&trigger.CreatedAt,
		&trigger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	trigger.Conditions = json.RawMessage(conditionsJSON)
	trigger.CreatedAt = trigger.CreatedAt.UTC()
	trigger.UpdatedAt = trigger.UpdatedAt.UTC()

	if len(agentJSON) > 0 {
		if err := json.Unmarshal(agentJSON, &trigger.AgentConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent config: %w", err)
		}
	}

	return &trigger, nil
}
