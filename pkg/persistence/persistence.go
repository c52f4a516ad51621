// Package persistence defines the storage contract of the scheduler: workflow
// configuration, the active run state of every instance and its event log.
package persistence

import (
	"context"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
)

// Persistence stores workflows and instance state. Instance state is only
// written through RunInTransaction.
type Persistence interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	Workflow(ctx context.Context, id models.WorkflowID) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id models.WorkflowID) error

	// ActiveStates returns the state of every instance that has not been archived.
	ActiveStates(ctx context.Context) ([]models.RunState, error)

	// ActiveState returns ErrActiveStateNotFound for unknown or archived instances.
	ActiveState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error)

	// Events returns the event log of an instance ordered by counter. The log
	// outlives archival.
	Events(ctx context.Context, instance models.WorkflowInstance) ([]events.SequenceEvent, error)

	// RunInTransaction runs fn atomically. When another writer touched the same
	// instance concurrently the transaction fails with ErrConflict and nothing is written.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Transaction is the view of storage inside RunInTransaction.
type Transaction interface {
	ActiveState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error)
	StoreActiveState(ctx context.Context, state models.RunState) error
	DeleteActiveState(ctx context.Context, instance models.WorkflowInstance) error
	AppendEvent(ctx context.Context, event events.SequenceEvent) error
}
