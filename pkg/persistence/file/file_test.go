package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/persistence/persistencetest"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence_Contract(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return NewPersistence("file://" + t.TempDir())
	})
}

func TestPersistence_HealthCheckMissingRoot(t *testing.T) {
	p := NewPersistence(filepath.Join(t.TempDir(), "missing"))

	err := p.HealthCheck(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPersistence_EscapesKeysInFileNames(t *testing.T) {
	root := t.TempDir()
	p := NewPersistence(root)
	ctx := context.Background()

	instance := models.NewWorkflowInstance(models.NewWorkflowID("billing", "daily-report"), "2024/03/01#eu")
	state := testutil.NewRunState(models.StateQueued, testutil.WithInstance(instance))

	err := p.RunInTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		return tx.StoreActiveState(ctx, state)
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, statesDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "billing%23daily-report%232024%2F03%2F01%23eu.json", entries[0].Name())

	loaded, err := p.ActiveState(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, instance, loaded.Instance)
}

func TestTransaction_ReadsItsOwnWrites(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()
	state := testutil.NewRunState(models.StateRunning)

	err := p.RunInTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		require.NoError(t, tx.StoreActiveState(ctx, state))

		current, err := tx.ActiveState(ctx, state.Instance)
		require.NoError(t, err)
		assert.Equal(t, models.StateRunning, current.State)

		require.NoError(t, tx.DeleteActiveState(ctx, state.Instance))

		_, err = tx.ActiveState(ctx, state.Instance)
		require.ErrorIs(t, err, persistence.ErrActiveStateNotFound)

		return nil
	})
	require.NoError(t, err)

	_, err = p.ActiveState(ctx, state.Instance)
	require.ErrorIs(t, err, persistence.ErrActiveStateNotFound)
}
