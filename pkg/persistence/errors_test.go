package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		workflow  bool
		state     bool
		conflict  bool
		contained string
	}{
		{
			name:      "workflow error",
			err:       persistence.NewWorkflowError("Workflow", "billing#report", persistence.ErrWorkflowNotFound),
			workflow:  true,
			contained: "Workflow operation failed for workflow billing#report",
		},
		{
			name:      "instance error",
			err:       persistence.NewInstanceError("ActiveState", "billing#report#2024", persistence.ErrActiveStateNotFound),
			state:     true,
			contained: "instance billing#report#2024",
		},
		{
			name:      "wrapped conflict",
			err:       fmt.Errorf("commit: %w", persistence.NewInstanceError("StoreActiveState", "a#b#c", persistence.ErrConflict)),
			conflict:  true,
			contained: "transaction conflict",
		},
		{
			name: "unrelated",
			err:  errors.New("disk full"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.workflow, persistence.IsWorkflowNotFound(tt.err))
			assert.Equal(t, tt.state, persistence.IsActiveStateNotFound(tt.err))
			assert.Equal(t, tt.conflict, persistence.IsConflict(tt.err))
			assert.Contains(t, tt.err.Error(), tt.contained)
		})
	}
}
