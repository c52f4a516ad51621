// Package redis implements persistence.Persistence on Redis. Documents are stored
// as JSON strings, instance keys are enumerated through Sets and event logs are
// Sorted Sets scored by counter. Transactions use WATCH on the state keys they read.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

// Persistence stores workflows and instance state in Redis.
type Persistence struct {
	client goredis.UniversalClient
	logger *slog.Logger
	owned  bool
}

// NewPersistence connects to the Redis server described by redisURL
// (redis://[user:password@]host:port/db).
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := goredis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	p := NewPersistenceWithClient(logger, client)
	p.owned = true

	return p, nil
}

// NewPersistenceWithClient wraps an existing client. The caller owns the client lifecycle.
func NewPersistenceWithClient(logger *slog.Logger, client goredis.UniversalClient) *Persistence {
	return &Persistence{client: client, logger: logger}
}

// Close closes the client when it was created by NewPersistence.
func (p *Persistence) Close(_ context.Context) error {
	if !p.owned {
		return nil
	}

	err := p.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

// HealthCheck verifies the Redis connection is alive.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	keys, err := p.client.SMembers(ctx, workflowIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	sort.Strings(keys)

	workflows := make([]*models.Workflow, 0, len(keys))

	for _, key := range keys {
		id, err := models.ParseWorkflowKey(key)
		if err != nil {
			return nil, err
		}

		workflow, err := p.Workflow(ctx, id)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (p *Persistence) Workflow(ctx context.Context, id models.WorkflowID) (*models.Workflow, error) {
	body, err := p.client.Get(ctx, workflowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewWorkflowError("Workflow", id.Key(), persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("Workflow", id.Key(), err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("Workflow", id.Key(), err)
	}

	return &workflow, nil
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	body, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID.Key(), err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, workflowKey(workflow.ID), body, 0)
		pipe.SAdd(ctx, workflowIDsKey, workflow.ID.Key())

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID.Key(), err)
	}

	return nil
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id models.WorkflowID) error {
	var deleted *goredis.IntCmd

	_, err := p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		deleted = pipe.Del(ctx, workflowKey(id))
		pipe.SRem(ctx, workflowIDsKey, id.Key())

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id.Key(), err)
	}

	if deleted.Val() == 0 {
		return persistence.NewWorkflowError("DeleteWorkflow", id.Key(), persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (p *Persistence) ActiveStates(ctx context.Context) ([]models.RunState, error) {
	keys, err := p.client.SMembers(ctx, stateIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active states: %w", err)
	}

	sort.Strings(keys)

	states := make([]models.RunState, 0, len(keys))

	for _, key := range keys {
		instance, err := models.ParseInstanceKey(key)
		if err != nil {
			return nil, err
		}

		state, err := readState(ctx, p.client, instance)
		if err != nil {
			if persistence.IsActiveStateNotFound(err) {
				p.logger.DebugContext(ctx, "active state removed while listing", "instance", key)

				continue
			}

			return nil, err
		}

		states = append(states, *state)
	}

	return states, nil
}

func (p *Persistence) ActiveState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	return readState(ctx, p.client, instance)
}

func (p *Persistence) Events(ctx context.Context, instance models.WorkflowInstance) ([]events.SequenceEvent, error) {
	members, err := p.client.ZRange(ctx, eventsKey(instance), 0, -1).Result()
	if err != nil {
		return nil, persistence.NewInstanceError("Events", instance.Key(), err)
	}

	log := make([]events.SequenceEvent, 0, len(members))

	for _, member := range members {
		var event events.SequenceEvent

		err := json.Unmarshal([]byte(member), &event)
		if err != nil {
			return nil, persistence.NewInstanceError("Events", instance.Key(), err)
		}

		log = append(log, event)
	}

	return log, nil
}

// RunInTransaction runs fn under optimistic locking. Every state key read or
// written by fn is watched; a concurrent change fails the commit with persistence.ErrConflict.
func (p *Persistence) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx persistence.Transaction) error) error {
	err := p.client.Watch(ctx, func(rtx *goredis.Tx) error {
		t := &transaction{rtx: rtx, states: make(map[string]*models.RunState)}

		err := fn(ctx, t)
		if err != nil {
			return err
		}

		_, err = rtx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return t.flush(ctx, pipe)
		})

		return err
	})
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: %w", persistence.ErrConflict, err)
	}

	return err
}

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func readState(ctx context.Context, client getter, instance models.WorkflowInstance) (*models.RunState, error) {
	body, err := client.Get(ctx, stateKey(instance)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewInstanceError("ActiveState", instance.Key(), persistence.ErrActiveStateNotFound)
		}

		return nil, persistence.NewInstanceError("ActiveState", instance.Key(), err)
	}

	var state models.RunState

	err = json.Unmarshal(body, &state)
	if err != nil {
		return nil, persistence.NewInstanceError("ActiveState", instance.Key(), err)
	}

	return &state, nil
}

type transaction struct {
	rtx    *goredis.Tx
	states map[string]*models.RunState
	order  []models.WorkflowInstance
	events []events.SequenceEvent
}

func (t *transaction) ActiveState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	if pending, ok := t.states[instance.Key()]; ok {
		if pending == nil {
			return nil, persistence.NewInstanceError("ActiveState", instance.Key(), persistence.ErrActiveStateNotFound)
		}

		state := *pending

		return &state, nil
	}

	err := t.rtx.Watch(ctx, stateKey(instance)).Err()
	if err != nil {
		return nil, persistence.NewInstanceError("ActiveState", instance.Key(), err)
	}

	return readState(ctx, t.rtx, instance)
}

func (t *transaction) StoreActiveState(ctx context.Context, state models.RunState) error {
	err := t.track(ctx, state.Instance)
	if err != nil {
		return err
	}

	t.states[state.Instance.Key()] = &state

	return nil
}

func (t *transaction) DeleteActiveState(ctx context.Context, instance models.WorkflowInstance) error {
	err := t.track(ctx, instance)
	if err != nil {
		return err
	}

	t.states[instance.Key()] = nil

	return nil
}

func (t *transaction) AppendEvent(_ context.Context, event events.SequenceEvent) error {
	t.events = append(t.events, event)

	return nil
}

func (t *transaction) track(ctx context.Context, instance models.WorkflowInstance) error {
	if _, ok := t.states[instance.Key()]; ok {
		return nil
	}

	err := t.rtx.Watch(ctx, stateKey(instance)).Err()
	if err != nil {
		return persistence.NewInstanceError("Watch", instance.Key(), err)
	}

	t.order = append(t.order, instance)

	return nil
}

func (t *transaction) flush(ctx context.Context, pipe goredis.Pipeliner) error {
	for _, instance := range t.order {
		state := t.states[instance.Key()]
		if state == nil {
			pipe.Del(ctx, stateKey(instance))
			pipe.SRem(ctx, stateIDsKey, instance.Key())

			continue
		}

		body, err := json.Marshal(state)
		if err != nil {
			return persistence.NewInstanceError("StoreActiveState", instance.Key(), err)
		}

		pipe.Set(ctx, stateKey(instance), body, 0)
		pipe.SAdd(ctx, stateIDsKey, instance.Key())
	}

	for _, event := range t.events {
		body, err := json.Marshal(event)
		if err != nil {
			return persistence.NewInstanceError("AppendEvent", event.Event.GetInstance().Key(), err)
		}

		pipe.ZAdd(ctx, eventsKey(event.Event.GetInstance()), goredis.Z{
			Score:  float64(event.Counter),
			Member: string(body),
		})
	}

	return nil
}

// FlushAll removes every tideflow key from the current database.
func (p *Persistence) FlushAll(ctx context.Context) error {
	iter := p.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()

	for iter.Next(ctx) {
		err := p.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
		}
	}

	return iter.Err()
}
