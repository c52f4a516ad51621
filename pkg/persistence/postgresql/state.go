package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StateRepository stores active states and the event log.
type StateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStateRepository creates a new state repository.
func NewStateRepository(db *sql.DB, logger *slog.Logger) *StateRepository {
	return &StateRepository{db: db, logger: logger}
}

// GetAll returns every active state ordered by instance key.
func (r *StateRepository) GetAll(ctx context.Context) ([]models.RunState, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT payload FROM active_states ORDER BY instance_key")
	if err != nil {
		return nil, fmt.Errorf("failed to query active states: %w", err)
	}

	defer func(ctx context.Context, r *StateRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	states := make([]models.RunState, 0)

	for rows.Next() {
		var payload []byte

		err := rows.Scan(&payload)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active state: %w", err)
		}

		var state models.RunState

		err = json.Unmarshal(payload, &state)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal active state: %w", err)
		}

		states = append(states, state)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating active states: %w", err)
	}

	return states, nil
}

// Get reads the active state of instance through q.
func (r *StateRepository) Get(ctx context.Context, q querier, instance models.WorkflowInstance) (*models.RunState, error) {
	var payload []byte

	err := q.QueryRowContext(ctx, "SELECT payload FROM active_states WHERE instance_key = $1", instance.Key()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("ActiveState", instance.Key(), persistence.ErrActiveStateNotFound)
		}

		return nil, persistence.NewInstanceError("ActiveState", instance.Key(), err)
	}

	var state models.RunState

	err = json.Unmarshal(payload, &state)
	if err != nil {
		return nil, persistence.NewInstanceError("ActiveState", instance.Key(), err)
	}

	return &state, nil
}

// Store upserts the active state.
func (r *StateRepository) Store(ctx context.Context, q querier, state models.RunState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal active state: %w", err)
	}

	query := `
		INSERT INTO active_states (
			instance_key, component_id, workflow_id, parameter, state, counter, state_timestamp, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instance_key) DO UPDATE SET
			state = EXCLUDED.state,
			counter = EXCLUDED.counter,
			state_timestamp = EXCLUDED.state_timestamp,
			payload = EXCLUDED.payload
	`

	_, err = q.ExecContext(ctx, query,
		state.Instance.Key(),
		state.Instance.Workflow.ComponentID,
		state.Instance.Workflow.ID,
		state.Instance.Parameter,
		string(state.State),
		state.Counter,
		state.Timestamp,
		string(payload),
	)
	if err != nil {
		return persistence.NewInstanceError("StoreActiveState", state.Instance.Key(), err)
	}

	return nil
}

// Delete archives an instance by removing its active state.
func (r *StateRepository) Delete(ctx context.Context, q querier, instance models.WorkflowInstance) error {
	_, err := q.ExecContext(ctx, "DELETE FROM active_states WHERE instance_key = $1", instance.Key())
	if err != nil {
		return persistence.NewInstanceError("DeleteActiveState", instance.Key(), err)
	}

	return nil
}

// Append records an applied event. A duplicate counter violates the primary key.
func (r *StateRepository) Append(ctx context.Context, q querier, event events.SequenceEvent) error {
	instance := event.Event.GetInstance()

	payload, err := events.Marshal(event.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = q.ExecContext(ctx,
		"INSERT INTO run_events (instance_key, counter, event_type, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)",
		instance.Key(),
		event.Counter,
		string(event.Event.GetType()),
		string(payload),
		event.Timestamp,
	)
	if err != nil {
		return persistence.NewInstanceError("AppendEvent", instance.Key(), err)
	}

	return nil
}

// Events returns the event log of instance ordered by counter.
func (r *StateRepository) Events(ctx context.Context, instance models.WorkflowInstance) ([]events.SequenceEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT counter, payload, occurred_at FROM run_events WHERE instance_key = $1 ORDER BY counter",
		instance.Key(),
	)
	if err != nil {
		return nil, persistence.NewInstanceError("Events", instance.Key(), err)
	}

	defer func(ctx context.Context, r *StateRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	log := make([]events.SequenceEvent, 0)

	for rows.Next() {
		var (
			sequenced events.SequenceEvent
			payload   []byte
		)

		err := rows.Scan(&sequenced.Counter, &payload, &sequenced.Timestamp)
		if err != nil {
			return nil, persistence.NewInstanceError("Events", instance.Key(), err)
		}

		sequenced.Event, err = events.Unmarshal(payload)
		if err != nil {
			return nil, persistence.NewInstanceError("Events", instance.Key(), err)
		}

		sequenced.Timestamp = sequenced.Timestamp.UTC()
		log = append(log, sequenced)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewInstanceError("Events", instance.Key(), err)
	}

	return log, nil
}

type transaction struct {
	tx   *sql.Tx
	repo *StateRepository
}

func (t *transaction) ActiveState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	return t.repo.Get(ctx, t.tx, instance)
}

func (t *transaction) StoreActiveState(ctx context.Context, state models.RunState) error {
	return t.repo.Store(ctx, t.tx, state)
}

func (t *transaction) DeleteActiveState(ctx context.Context, instance models.WorkflowInstance) error {
	return t.repo.Delete(ctx, t.tx, instance)
}

func (t *transaction) AppendEvent(ctx context.Context, event events.SequenceEvent) error {
	return t.repo.Append(ctx, t.tx, event)
}
