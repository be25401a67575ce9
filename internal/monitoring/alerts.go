package monitoring

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/datafactory/internal/keymanager"
)

const (
	alertHistorySize = 100
	// DefaultErrorRate is the recent error rate above which a service alerts.
	DefaultErrorRate = 0.10
)

type AlertType string

const (
	AlertErrorRate        AlertType = "api_error_rate"
	AlertCredentialLevel  AlertType = "credential_level"
	AlertServiceExhausted AlertType = "service_exhausted"
)

type Alert struct {
	ID         string           `json:"id"`
	Type       AlertType        `json:"type"`
	Severity   keymanager.Level `json:"severity"`
	Service    string           `json:"service"`
	Credential string           `json:"credential,omitempty"`
	Message    string           `json:"message"`
	Value      float64          `json:"value"`
	RaisedAt   time.Time        `json:"raisedAt"`
}

func (a Alert) key() string {
	return string(a.Type) + "|" + a.Service + "|" + a.Credential
}

// Alerts evaluates alert rules and remembers the raised alerts. A condition
// alerts once and only alerts again after it has cleared.
type Alerts struct {
	mu        sync.Mutex
	history   []Alert
	active    map[string]bool
	errorRate float64
	now       func() time.Time
}

type AlertsOption func(*Alerts)

func WithErrorRate(rate float64) AlertsOption {
	return func(a *Alerts) { a.errorRate = rate }
}

func WithAlertsClock(now func() time.Time) AlertsOption {
	return func(a *Alerts) { a.now = now }
}

func NewAlerts(opts ...AlertsOption) *Alerts {
	a := &Alerts{
		active:    make(map[string]bool),
		errorRate: DefaultErrorRate,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Evaluate checks the snapshot and call metrics and returns the alerts raised
// by this evaluation.
func (a *Alerts) Evaluate(snap keymanager.Snapshot, calls []CallMetrics) []Alert {
	now := a.now()
	current := a.conditions(snap, calls)

	a.mu.Lock()
	defer a.mu.Unlock()

	var raised []Alert

	firing := make(map[string]bool, len(current))

	for _, alert := range current {
		k := alert.key()
		firing[k] = true

		if a.active[k] {
			continue
		}

		alert.ID = uuid.NewString()
		alert.RaisedAt = now
		raised = append(raised, alert)
		a.history = appendBounded(a.history, alert, alertHistorySize)
	}

	a.active = firing

	return raised
}

func (a *Alerts) conditions(snap keymanager.Snapshot, calls []CallMetrics) []Alert {
	var out []Alert

	for _, m := range calls {
		if m.RecentCalls > 0 && m.ErrorRate > a.errorRate {
			out = append(out, Alert{
				Type:     AlertErrorRate,
				Severity: keymanager.LevelWarning,
				Service:  m.Service,
				Message:  fmt.Sprintf("%s error rate %.1f%% over %d recent calls", m.Service, m.ErrorRate*100, m.RecentCalls),
				Value:    m.ErrorRate,
			})
		}
	}

	for _, pool := range snap.Services {
		if pool.Exhausted {
			out = append(out, Alert{
				Type:     AlertServiceExhausted,
				Severity: keymanager.LevelCritical,
				Service:  pool.Service,
				Message:  fmt.Sprintf("all %d %s credentials are resting", len(pool.Credentials), pool.Service),
				Value:    1,
			})
		}

		for _, cred := range pool.Credentials {
			if cred.Level != keymanager.LevelCritical && cred.Level != keymanager.LevelOverLimit {
				continue
			}

			out = append(out, Alert{
				Type:       AlertCredentialLevel,
				Severity:   cred.Level,
				Service:    pool.Service,
				Credential: cred.ID,
				Message:    fmt.Sprintf("%s credential %s at %.1f%% of its quota", pool.Service, cred.ID, cred.Utilization*100),
				Value:      cred.Utilization,
			})
		}
	}

	return out
}

// Active returns the alerts raised at or after since, newest first.
func (a *Alerts) Active(since time.Time) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Alert, 0, len(a.history))

	for _, alert := range a.history {
		if !alert.RaisedAt.Before(since) {
			out = append(out, alert)
		}
	}

	slices.Reverse(out)

	return out
}
