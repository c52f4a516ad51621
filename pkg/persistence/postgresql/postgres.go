// Package postgresql provides PostgreSQL persistence for workflows and instance state.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

// PostgreSQL error codes reported as persistence.ErrConflict.
const (
	serializationFailure = "40001"
	uniqueViolation      = "23505"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	workflowRepo *WorkflowRepository
	stateRepo    *StateRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:           database,
		logger:       logger,
		workflowRepo: NewWorkflowRepository(database, logger),
		stateRepo:    NewStateRepository(database, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Workflows returns all workflows from the database.
func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return p.workflowRepo.GetAll(ctx)
}

// Workflow returns a workflow by its identifier.
func (p *Persistence) Workflow(ctx context.Context, id models.WorkflowID) (*models.Workflow, error) {
	return p.workflowRepo.GetByID(ctx, id)
}

// SaveWorkflow inserts or replaces a workflow.
func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.workflowRepo.Save(ctx, workflow)
}

// DeleteWorkflow removes a workflow. Instances already running keep their execution description.
func (p *Persistence) DeleteWorkflow(ctx context.Context, id models.WorkflowID) error {
	return p.workflowRepo.Delete(ctx, id)
}

func (p *Persistence) ActiveStates(ctx context.Context) ([]models.RunState, error) {
	return p.stateRepo.GetAll(ctx)
}

func (p *Persistence) ActiveState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	return p.stateRepo.Get(ctx, p.db, instance)
}

func (p *Persistence) Events(ctx context.Context, instance models.WorkflowInstance) ([]events.SequenceEvent, error) {
	return p.stateRepo.Events(ctx, instance)
}

// RunInTransaction runs fn inside a SERIALIZABLE transaction. Serialization
// failures and duplicate event counters are reported as persistence.ErrConflict.
func (p *Persistence) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx persistence.Transaction) error) error {
	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(ctx, &transaction{tx: sqlTx, repo: p.stateRepo})
	if err != nil {
		rollbackErr := sqlTx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			p.logger.WarnContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}

		return classify(err)
	}

	err = sqlTx.Commit()
	if err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// classify maps retryable PostgreSQL errors onto persistence.ErrConflict.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case serializationFailure, uniqueViolation:
			return fmt.Errorf("%w: %w", persistence.ErrConflict, err)
		}
	}

	return err
}
