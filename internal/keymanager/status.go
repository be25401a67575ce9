package keymanager

import (
	"time"
)

// Level is the alerting band of a credential, derived from its highest utilization.
type Level string

const (
	LevelOK        Level = "OK"
	LevelWarning   Level = "WARNING"
	LevelCritical  Level = "CRITICAL"
	LevelOverLimit Level = "OVER_LIMIT"
)

const (
	warningRatio  = 0.80
	criticalRatio = 0.95
)

// LevelFor maps a utilization ratio to its band.
func LevelFor(utilization float64) Level {
	switch {
	case utilization > 1:
		return LevelOverLimit
	case utilization >= criticalRatio:
		return LevelCritical
	case utilization >= warningRatio:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Snapshot is a point-in-time view of every pool, for dashboards and alerting.
type Snapshot struct {
	TakenAt  time.Time    `json:"takenAt"`
	Services []PoolStatus `json:"services"`
}

// Service returns the status of one service from the snapshot.
func (s Snapshot) Service(id string) (PoolStatus, bool) {
	for _, ps := range s.Services {
		if ps.Service == id {
			return ps, true
		}
	}

	return PoolStatus{}, false
}

type PoolStatus struct {
	Service     string             `json:"service"`
	Threshold   float64            `json:"threshold"`
	Policy      string             `json:"policy"`
	Cursor      int                `json:"cursor"`
	Exhausted   bool               `json:"exhausted"`
	Outcomes    OutcomeCounts      `json:"outcomes"`
	Credentials []CredentialStatus `json:"credentials"`
}

type CredentialStatus struct {
	Index       int            `json:"index"`
	ID          string         `json:"id"`
	Route       string         `json:"route,omitempty"`
	Active      bool           `json:"active"`
	Resting     bool           `json:"resting"`
	Level       Level          `json:"level"`
	Utilization float64        `json:"utilization"`
	UsageTotal  int64          `json:"usageTotal"`
	Windows     []WindowStatus `json:"windows"`
}

type WindowStatus struct {
	Class       Class     `json:"class"`
	Used        int64     `json:"used"`
	Capacity    int64     `json:"capacity"`
	Utilization float64   `json:"utilization"`
	Percentage  float64   `json:"percentage"`
	ResetsAt    time.Time `json:"resetsAt"`
}

func recordStatus(rec *Record, now time.Time, threshold float64) CredentialStatus {
	cs := CredentialStatus{
		ID:          rec.Credential().ID(),
		Resting:     rec.IsResting(now, threshold),
		Utilization: rec.Utilization(now),
		UsageTotal:  rec.UsageTotal(),
		Windows:     make([]WindowStatus, 0, len(rec.Counters())),
	}

	if route := rec.Route(); route != nil {
		cs.Route = route.ID()
	}

	cs.Level = LevelFor(cs.Utilization)

	for _, c := range rec.Counters() {
		u := c.Utilization(now)
		cs.Windows = append(cs.Windows, WindowStatus{
			Class:       c.Class(),
			Used:        c.Count(now),
			Capacity:    c.Capacity(),
			Utilization: u,
			Percentage:  roundPercent(u),
			ResetsAt:    c.ResetsAt(),
		})
	}

	return cs
}

func roundPercent(u float64) float64 {
	return float64(int64(u*10000+0.5)) / 100
}
