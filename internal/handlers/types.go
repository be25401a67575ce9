package handlers

import (
	"github.com/serroba/datafactory/internal/keymanager"
	"github.com/serroba/datafactory/internal/monitoring"
)

// StatusResponse is the status of every registered service.
type StatusResponse struct {
	Body keymanager.Snapshot
}

// ServiceStatusRequest selects one service.
type ServiceStatusRequest struct {
	Service string `doc:"Service identifier" example:"etherscan" path:"service"`
}

type ServiceStatusResponse struct {
	Body keymanager.PoolStatus
}

type CallsRequest struct {
	Window int `default:"60" doc:"Minutes of history used for rates" minimum:"1" maximum:"1440" query:"window"`
}

type CallsResponse struct {
	Body struct {
		WindowMinutes int                      `json:"windowMinutes"`
		Services      []monitoring.CallMetrics `json:"services"`
	}
}

type AlertsRequest struct {
	Since int `default:"10" doc:"Only alerts raised in the last N minutes" minimum:"1" maximum:"1440" query:"since"`
}

type AlertsResponse struct {
	Body struct {
		Alerts []monitoring.Alert `json:"alerts"`
	}
}
