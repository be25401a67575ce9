package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/datafactory/internal/keymanager"
	"github.com/serroba/datafactory/internal/monitoring"
	"go.uber.org/zap"
)

// StatusReader is the read side of the key manager.
type StatusReader interface {
	Status(services ...string) (keymanager.Snapshot, error)
}

// StatusHandler serves the key manager dashboard endpoints.
type StatusHandler struct {
	keys    StatusReader
	tracker *monitoring.Tracker
	alerts  *monitoring.Alerts
	logger  *zap.Logger
	now     func() time.Time
}

func NewStatusHandler(
	keys StatusReader,
	tracker *monitoring.Tracker,
	alerts *monitoring.Alerts,
	logger *zap.Logger,
) *StatusHandler {
	return &StatusHandler{
		keys:    keys,
		tracker: tracker,
		alerts:  alerts,
		logger:  logger,
		now:     time.Now,
	}
}

func (h *StatusHandler) Status(_ context.Context, _ *struct{}) (*StatusResponse, error) {
	snap, err := h.keys.Status()
	if err != nil {
		h.logger.Error("status", zap.Error(err))

		return nil, huma.Error500InternalServerError("failed to read status")
	}

	return &StatusResponse{Body: snap}, nil
}

func (h *StatusHandler) ServiceStatus(_ context.Context, req *ServiceStatusRequest) (*ServiceStatusResponse, error) {
	snap, err := h.keys.Status(req.Service)
	if err != nil {
		if errors.Is(err, keymanager.ErrUnknownService) {
			return nil, huma.Error404NotFound("unknown service " + req.Service)
		}

		h.logger.Error("service status", zap.String("service", req.Service), zap.Error(err))

		return nil, huma.Error500InternalServerError("failed to read status")
	}

	ps, ok := snap.Service(req.Service)
	if !ok {
		return nil, huma.Error404NotFound("unknown service " + req.Service)
	}

	return &ServiceStatusResponse{Body: ps}, nil
}

func (h *StatusHandler) Calls(_ context.Context, req *CallsRequest) (*CallsResponse, error) {
	resp := &CallsResponse{}
	resp.Body.WindowMinutes = req.Window
	resp.Body.Services = h.tracker.Metrics(time.Duration(req.Window) * time.Minute)

	return resp, nil
}

func (h *StatusHandler) Alerts(_ context.Context, req *AlertsRequest) (*AlertsResponse, error) {
	resp := &AlertsResponse{}
	resp.Body.Alerts = h.alerts.Active(h.now().Add(-time.Duration(req.Since) * time.Minute))

	return resp, nil
}
