package services

import (
	"errors"
	"testing"
	"time"

	"github.com/dukex/tideflow/pkg/mocks"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/persistence/file"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflow(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	assert.NotNil(t, service)
	assert.Equal(t, persistence, service.persistence)
}

func TestWorkflow_HealthCheck(t *testing.T) {
	healthy := NewWorkflow(file.NewPersistence(t.TempDir()))
	message, ok := healthy.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)

	store := &mocks.MockPersistence{}
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	message, ok = NewWorkflow(store).HealthCheck(t.Context())
	assert.False(t, ok)
	assert.Contains(t, message, "connection refused")
}

func TestWorkflow_SaveCreatesThenUpdates(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	saved, created, err := service.Save(t.Context(), testutil.Workflow())
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, saved.CreatedAt.IsZero())

	createdAt := saved.CreatedAt

	updated, created, err := service.Save(t.Context(), testutil.Workflow(func(w *models.Workflow) {
		w.DockerImage = "ghcr.io/acme/report:1.3.0"
	}))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, createdAt, updated.CreatedAt)

	fetched, err := service.FetchByID(t.Context(), testutil.Instance().Workflow)
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/acme/report:1.3.0", fetched.DockerImage)
}

func TestWorkflow_SaveValidation(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	tests := []struct {
		name     string
		workflow *models.Workflow
		err      error
	}{
		{name: "nil workflow", workflow: nil, err: ErrWorkflowNil},
		{
			name:     "bad schedule",
			workflow: testutil.Workflow(func(w *models.Workflow) { w.Schedule = "sometimes" }),
			err:      ErrInvalidWorkflow,
		},
		{
			name:     "bad image",
			workflow: testutil.Workflow(func(w *models.Workflow) { w.DockerImage = "Not A Valid:Image" }),
			err:      ErrInvalidWorkflow,
		},
		{
			name:     "separator in id",
			workflow: testutil.Workflow(func(w *models.Workflow) { w.ID.ID = "daily#report" }),
			err:      ErrInvalidWorkflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := service.Save(t.Context(), tt.workflow)
			require.ErrorIs(t, err, tt.err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestWorkflow_ListWorkflows(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	for _, id := range []models.WorkflowID{
		models.NewWorkflowID("billing", "daily-report"),
		models.NewWorkflowID("billing", "monthly-report"),
		models.NewWorkflowID("search", "reindex"),
	} {
		_, _, err := service.Save(t.Context(), testutil.Workflow(func(w *models.Workflow) { w.ID = id }))
		require.NoError(t, err)
	}

	all, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.TotalCount)
	assert.False(t, all.HasNextPage)

	page, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{ComponentID: "billing", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalCount)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Workflows, 1)
	assert.Equal(t, "daily-report", page.Workflows[0].ID.ID)

	_, err = service.ListWorkflows(t.Context(), ListWorkflowsRequest{Limit: 500})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestWorkflow_Delete(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))
	id := testutil.Instance().Workflow

	_, _, err := service.Save(t.Context(), testutil.Workflow())
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), id))

	_, err = service.FetchByID(t.Context(), id)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	assert.True(t, IsNotFoundError(err))
}

func TestWorkflow_UpcomingExecutions(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	_, _, err := service.Save(t.Context(), testutil.Workflow())
	require.NoError(t, err)

	upcoming, err := service.UpcomingExecutions(t.Context(), testutil.Instance().Workflow, testutil.DefaultTimestamp, 2)
	require.NoError(t, err)
	assert.Equal(t, []UpcomingExecution{
		{At: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Parameter: "2024-03-02"},
		{At: time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), Parameter: "2024-03-03"},
	}, upcoming)

	_, err = service.UpcomingExecutions(t.Context(), testutil.Instance().Workflow, testutil.DefaultTimestamp, 0)
	require.ErrorIs(t, err, ErrInvalidRequest)
}
