// Package monitoring tracks calls made by the collectors, evaluates alert
// rules over key manager snapshots and reports both to the rest of the system.
package monitoring

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/serroba/datafactory/internal/collector"
	"github.com/serroba/datafactory/internal/keymanager"
)

const (
	historySize      = 1000
	errorHistorySize = 100
)

type ErrorEntry struct {
	At      time.Time `json:"at"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
}

// CallMetrics summarises the calls of one service.
type CallMetrics struct {
	Service       string         `json:"service"`
	Total         int64          `json:"total"`
	Success       int64          `json:"success"`
	Errors        int64          `json:"errors"`
	LastCall      *time.Time     `json:"lastCall,omitempty"`
	LastSuccess   *time.Time     `json:"lastSuccess,omitempty"`
	LastError     *time.Time     `json:"lastError,omitempty"`
	RecentCalls   int            `json:"recentCalls"`
	SuccessRate   float64        `json:"successRate"`
	ErrorRate     float64        `json:"errorRate"`
	AvgResponseMs float64        `json:"avgResponseMs"`
	ErrorTypes    map[string]int `json:"errorTypes,omitempty"`
	RecentErrors  []ErrorEntry   `json:"recentErrors,omitempty"`
}

type serviceCalls struct {
	total, success, errors int64
	lastCall               time.Time
	lastSuccess            time.Time
	lastError              time.Time
	history                []collector.Attempt
	errorLog               []ErrorEntry
	errorTypes             map[string]int
}

// Tracker keeps per-service call statistics with bounded history.
type Tracker struct {
	mu       sync.Mutex
	services map[string]*serviceCalls
	now      func() time.Time
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}

	return &Tracker{services: make(map[string]*serviceCalls), now: now}
}

// Record implements collector.Recorder. Attempts are grouped by service, or
// by source name for keyless sources.
func (t *Tracker) Record(c collector.Attempt) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.services[c.Key()]
	if !ok {
		s = &serviceCalls{errorTypes: make(map[string]int)}
		t.services[c.Key()] = s
	}

	s.total++
	s.lastCall = c.At

	if c.Err == nil {
		s.success++
		s.lastSuccess = c.At
	} else {
		s.errors++
		s.lastError = c.At
		kind := errorType(c)
		s.errorTypes[kind]++
		s.errorLog = appendBounded(s.errorLog, ErrorEntry{At: c.At, Type: kind, Message: c.Err.Error()}, errorHistorySize)
	}

	s.history = appendBounded(s.history, c, historySize)
}

// Metrics summarises every service. Rates and averages only consider calls
// made within the last window.
func (t *Tracker) Metrics(window time.Duration) []CallMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	since := t.now().Add(-window)
	out := make([]CallMetrics, 0, len(t.services))

	for id, s := range t.services {
		out = append(out, s.metrics(id, since))
	}

	slices.SortFunc(out, func(a, b CallMetrics) int { return strings.Compare(a.Service, b.Service) })

	return out
}

func (s *serviceCalls) metrics(id string, since time.Time) CallMetrics {
	m := CallMetrics{
		Service:     id,
		Total:       s.total,
		Success:     s.success,
		Errors:      s.errors,
		LastCall:    timePtr(s.lastCall),
		LastSuccess: timePtr(s.lastSuccess),
		LastError:   timePtr(s.lastError),
		ErrorTypes:  maps.Clone(s.errorTypes),
	}

	var ok int
	var elapsed time.Duration

	for _, c := range s.history {
		if c.At.Before(since) {
			continue
		}

		m.RecentCalls++
		elapsed += c.Duration

		if c.Err == nil {
			ok++
		}
	}

	if m.RecentCalls > 0 {
		m.SuccessRate = float64(ok) / float64(m.RecentCalls)
		m.ErrorRate = 1 - m.SuccessRate
		m.AvgResponseMs = float64(elapsed.Milliseconds()) / float64(m.RecentCalls)
	}

	if n := len(s.errorLog); n > 0 {
		m.RecentErrors = slices.Clone(s.errorLog[max(0, n-10):])
	}

	return m
}

func errorType(c collector.Attempt) string {
	var status *collector.StatusError

	switch {
	case errors.As(c.Err, &status):
		return fmt.Sprintf("http_%d", status.Code)
	case c.Outcome == keymanager.OutcomeNotSent:
		return "not_sent"
	case errors.Is(c.Err, collector.ErrNoData):
		return "no_data"
	default:
		return "request"
	}
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = slices.Delete(s, 0, len(s)-limit)
	}

	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}
