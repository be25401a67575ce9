package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/serroba/datafactory/internal/collector"
	"github.com/serroba/datafactory/internal/handlers"
	"github.com/serroba/datafactory/internal/keymanager"
	"github.com/serroba/datafactory/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingStatus struct{}

func (failingStatus) Status(...string) (keymanager.Snapshot, error) {
	return keymanager.Snapshot{}, errors.New("boom")
}

func newKeys(t *testing.T) *keymanager.Manager {
	t.Helper()

	m, err := keymanager.New([]keymanager.ServiceConfig{
		{
			ID:     "etherscan",
			Limits: []keymanager.Limit{{Class: keymanager.PerDay, Capacity: 100000}},
			Credentials: []keymanager.CredentialConfig{
				{Credential: keymanager.Credential{Key: "ether-one"}},
				{Credential: keymanager.Credential{Key: "ether-two"}},
			},
		},
		{
			ID:     "fred",
			Limits: []keymanager.Limit{{Class: keymanager.PerMinute, Capacity: 120}},
			Credentials: []keymanager.CredentialConfig{
				{Credential: keymanager.Credential{Key: "fred-one"}},
			},
		},
	})
	require.NoError(t, err)

	return m
}

func newHandler(t *testing.T, keys handlers.StatusReader) (*handlers.StatusHandler, *monitoring.Tracker, *monitoring.Alerts) {
	t.Helper()

	tracker := monitoring.NewTracker(nil)
	alerts := monitoring.NewAlerts()

	return handlers.NewStatusHandler(keys, tracker, alerts, zap.NewNop()), tracker, alerts
}

func TestStatusHandler_Status(t *testing.T) {
	t.Run("returns every service", func(t *testing.T) {
		keys := newKeys(t)
		h, _, _ := newHandler(t, keys)

		handle, err := keys.Acquire("fred")
		require.NoError(t, err)
		require.NoError(t, keys.Report(handle, keymanager.OutcomeSuccess))

		resp, err := h.Status(context.Background(), nil)

		require.NoError(t, err)
		require.Len(t, resp.Body.Services, 2)
		assert.Equal(t, "etherscan", resp.Body.Services[0].Service)

		fred := resp.Body.Services[1]
		assert.Equal(t, 0, fred.Cursor)
		assert.Equal(t, int64(1), fred.Credentials[0].Windows[0].Used)
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		h, _, _ := newHandler(t, failingStatus{})

		_, err := h.Status(context.Background(), nil)

		var se huma.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.GetStatus())
	})
}

func TestStatusHandler_ServiceStatus(t *testing.T) {
	h, _, _ := newHandler(t, newKeys(t))

	t.Run("known service", func(t *testing.T) {
		resp, err := h.ServiceStatus(context.Background(), &handlers.ServiceStatusRequest{Service: "etherscan"})

		require.NoError(t, err)
		assert.Equal(t, "etherscan", resp.Body.Service)
		assert.Len(t, resp.Body.Credentials, 2)
	})

	t.Run("unknown service is a 404", func(t *testing.T) {
		_, err := h.ServiceStatus(context.Background(), &handlers.ServiceStatusRequest{Service: "binance"})

		var se huma.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.GetStatus())
	})
}

func TestStatusHandler_CallsAndAlerts(t *testing.T) {
	h, tracker, alerts := newHandler(t, newKeys(t))

	tracker.Record(collector.Attempt{Source: "fred_dgs10", Service: "fred", At: time.Now()})
	tracker.Record(collector.Attempt{Source: "fred_dgs10", Service: "fred", At: time.Now(), Err: errors.New("timeout")})

	calls, err := h.Calls(context.Background(), &handlers.CallsRequest{Window: 60})
	require.NoError(t, err)
	require.Len(t, calls.Body.Services, 1)
	assert.Equal(t, 60, calls.Body.WindowMinutes)
	assert.InDelta(t, 0.5, calls.Body.Services[0].ErrorRate, 1e-9)

	alerts.Evaluate(keymanager.Snapshot{}, tracker.Metrics(time.Hour))

	resp, err := h.Alerts(context.Background(), &handlers.AlertsRequest{Since: 10})
	require.NoError(t, err)
	require.Len(t, resp.Body.Alerts, 1)
	assert.Equal(t, monitoring.AlertErrorRate, resp.Body.Alerts[0].Type)
}

func TestRegisterRoutes(t *testing.T) {
	_, api := humatest.New(t)
	h, _, _ := newHandler(t, newKeys(t))
	handlers.RegisterRoutes(api, h)

	t.Run("status", func(t *testing.T) {
		resp := api.Get("/status")
		require.Equal(t, http.StatusOK, resp.Code)

		var body keymanager.Snapshot
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Len(t, body.Services, 2)
	})

	t.Run("unknown service", func(t *testing.T) {
		resp := api.Get("/status/binance")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("calls default window", func(t *testing.T) {
		resp := api.Get("/calls")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), `"windowMinutes":60`)
	})

	t.Run("alerts rejects out of range", func(t *testing.T) {
		resp := api.Get("/alerts?since=0")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}
