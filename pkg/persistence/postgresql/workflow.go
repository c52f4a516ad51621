package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const selectWorkflow = `
	SELECT
		component_id
	  , id
	  , schedule
	  , docker_image
	  , docker_args
	  , docker_termination_logging
	  , secret
	  , service_account
	  , commit_sha
	  , env
	  , created_at
	  , updated_at
	FROM workflows
`

// GetAll returns all workflows ordered by key.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, selectWorkflow+" ORDER BY component_id, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func(ctx context.Context, r *WorkflowRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id models.WorkflowID) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, selectWorkflow+" WHERE component_id = $1 AND id = $2", id.ComponentID, id.ID)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("Workflow", id.Key(), persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("Workflow", id.Key(), err)
	}

	return workflow, nil
}

// Save saves a workflow to the database.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	args := workflow.DockerArgs
	if args == nil {
		args = []string{}
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal docker args: %w", err)
	}

	env := workflow.Env
	if env == nil {
		env = map[string]string{}
	}

	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal env: %w", err)
	}

	var secretJSON []byte
	if workflow.Secret != nil {
		secretJSON, err = json.Marshal(workflow.Secret)
		if err != nil {
			return fmt.Errorf("failed to marshal secret: %w", err)
		}
	}

	query := `
		INSERT INTO workflows (
			component_id, id, schedule, docker_image, docker_args, docker_termination_logging,
			secret, service_account, commit_sha, env, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (component_id, id) DO UPDATE SET
			schedule = EXCLUDED.schedule,
			docker_image = EXCLUDED.docker_image,
			docker_args = EXCLUDED.docker_args,
			docker_termination_logging = EXCLUDED.docker_termination_logging,
			secret = EXCLUDED.secret,
			service_account = EXCLUDED.service_account,
			commit_sha = EXCLUDED.commit_sha,
			env = EXCLUDED.env,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID.ComponentID,
		workflow.ID.ID,
		workflow.Schedule,
		workflow.DockerImage,
		string(argsJSON),
		workflow.DockerTerminationLogging,
		nullableJSON(secretJSON),
		nullableString(workflow.ServiceAccount),
		nullableString(workflow.CommitSha),
		string(envJSON),
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID.Key(), err)
	}

	return nil
}

// Delete removes a workflow by its identifier.
func (r *WorkflowRepository) Delete(ctx context.Context, id models.WorkflowID) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE component_id = $1 AND id = $2", id.ComponentID, id.ID)
	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id.Key(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id.Key(), err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("DeleteWorkflow", id.Key(), persistence.ErrWorkflowNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow       models.Workflow
		argsJSON       []byte
		secretJSON     []byte
		envJSON        []byte
		serviceAccount sql.NullString
		commitSha      sql.NullString
	)

	err := row.Scan(
		&workflow.ID.ComponentID,
		&workflow.ID.ID,
		&workflow.Schedule,
		&workflow.DockerImage,
		&argsJSON,
		&workflow.DockerTerminationLogging,
		&secretJSON,
		&serviceAccount,
		&commitSha,
		&envJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(argsJSON, &workflow.DockerArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal docker args: %w", err)
	}

	if len(workflow.DockerArgs) == 0 {
		workflow.DockerArgs = nil
	}

	err = json.Unmarshal(envJSON, &workflow.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal env: %w", err)
	}

	if len(workflow.Env) == 0 {
		workflow.Env = nil
	}

	if len(secretJSON) > 0 {
		workflow.Secret = &models.Secret{}

		err = json.Unmarshal(secretJSON, workflow.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal secret: %w", err)
		}
	}

	if serviceAccount.Valid {
		workflow.ServiceAccount = &serviceAccount.String
	}

	if commitSha.Valid {
		workflow.CommitSha = &commitSha.String
	}

	workflow.CreatedAt = workflow.CreatedAt.UTC()
	workflow.UpdatedAt = workflow.UpdatedAt.UTC()

	return &workflow, nil
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *value, Valid: true}
}

// nullableJSON passes JSON as text; lib/pq would send a []byte as bytea.
func nullableJSON(value []byte) sql.NullString {
	if len(value) == 0 {
		return sql.NullString{}
	}

	return sql.NullString{String: string(value), Valid: true}
}
