package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukex/tideflow/pkg/eventbus"
	"github.com/dukex/tideflow/pkg/mocks"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence/file"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func setupTestApp(t *testing.T, bus eventbus.Publisher) *fiber.App {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.SaveWorkflow(t.Context(), testutil.Workflow()))

	api := NewAPI(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		store,
		bus,
		clockwork.NewFakeClockAt(testutil.DefaultTimestamp),
		noop.NewMeterProvider().Meter("test"),
	)

	app, err := api.App()
	require.NoError(t, err)

	return app
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t, eventbus.Noop{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Tideflow API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t, eventbus.Noop{})

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestAPI_ReadinessFailsWithoutPersistence(t *testing.T) {
	store := &mocks.MockPersistence{}
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	api := NewAPI(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		store,
		eventbus.Noop{},
		clockwork.NewFakeClockAt(testutil.DefaultTimestamp),
		noop.NewMeterProvider().Meter("test"),
	)

	app, err := api.App()
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_TriggerPublishesTransition(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.MatchedBy(func(transition eventbus.Transition) bool {
		return transition.Instance == testutil.Instance() &&
			transition.From == models.StateNew &&
			transition.To == models.StateQueued
	})).Return(nil).Once()

	app := setupTestApp(t, bus)

	req := httptest.NewRequest(http.MethodPost, "/instances/billing/daily-report/2024-03-01/trigger",
		strings.NewReader(`{"type": "adhoc", "id": "alice"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	bus.AssertExpectations(t)
}
