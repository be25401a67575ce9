package monitoring

import (
	"github.com/serroba/datafactory/internal/keymanager"
)

const (
	TopicSnapshots = "keymanager.snapshots"
	TopicAlerts    = "keymanager.alerts"

	EventSnapshot = "snapshot"
	EventAlert    = "alert"
)

// SnapshotEvent carries a key manager snapshot to the monitoring consumer.
type SnapshotEvent struct {
	ID       string              `json:"id"`
	Snapshot keymanager.Snapshot `json:"snapshot"`
}

type AlertEvent struct {
	Alert Alert `json:"alert"`
}
