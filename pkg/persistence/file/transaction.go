package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
)

// transaction keeps pending writes in memory; a nil entry in states marks a deletion.
type transaction struct {
	persistence *Persistence
	states      map[string]*models.RunState
	order       []models.WorkflowInstance
	events      []events.SequenceEvent
}

func (tx *transaction) ActiveState(_ context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	if pending, ok := tx.states[instance.Key()]; ok {
		if pending == nil {
			return nil, persistence.NewInstanceError("ActiveState", instance.Key(), persistence.ErrActiveStateNotFound)
		}

		state := *pending

		return &state, nil
	}

	return tx.persistence.activeState(instance)
}

func (tx *transaction) StoreActiveState(_ context.Context, state models.RunState) error {
	tx.track(state.Instance)
	tx.states[state.Instance.Key()] = &state

	return nil
}

func (tx *transaction) DeleteActiveState(_ context.Context, instance models.WorkflowInstance) error {
	tx.track(instance)
	tx.states[instance.Key()] = nil

	return nil
}

func (tx *transaction) AppendEvent(_ context.Context, event events.SequenceEvent) error {
	tx.events = append(tx.events, event)

	return nil
}

func (tx *transaction) track(instance models.WorkflowInstance) {
	if _, ok := tx.states[instance.Key()]; !ok {
		tx.order = append(tx.order, instance)
	}
}

func (tx *transaction) commit() error {
	fp := tx.persistence

	for _, event := range tx.events {
		err := fp.appendLine(eventsPath(event.Event.GetInstance()), event)
		if err != nil {
			return persistence.NewInstanceError("AppendEvent", event.Event.GetInstance().Key(), err)
		}
	}

	for _, instance := range tx.order {
		state := tx.states[instance.Key()]
		if state == nil {
			err := removeIfExists(fp, statePath(instance))
			if err != nil {
				return persistence.NewInstanceError("DeleteActiveState", instance.Key(), err)
			}

			continue
		}

		err := fp.writeJSON(statePath(instance), state)
		if err != nil {
			return persistence.NewInstanceError("StoreActiveState", instance.Key(), err)
		}
	}

	return nil
}

func removeIfExists(fp *Persistence, rel string) error {
	err := os.Remove(filepath.Join(fp.root, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}
