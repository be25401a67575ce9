package keymanager

import (
	"time"

	"github.com/serroba/datafactory/internal/egress"
)

// Credential is the secret material handed to data-source adapters.
type Credential struct {
	Key    string
	Secret string
}

// ID returns a short, non-secret identifier for logs and dashboards.
func (c Credential) ID() string {
	const visible = 6

	runes := []rune(c.Key)
	if len(runes) <= visible {
		return c.Key
	}

	return string(runes[:visible]) + "…"
}

// Record is one credential, its optional paired egress route and a counter per
// quota class the credential is bound by.
//
// Whether a record is resting is never stored; it is recomputed from the counters.
type Record struct {
	credential Credential
	route      *egress.Route
	counters   []*Counter
	usage      int64
}

// NewRecord creates a record owning the given counters.
func NewRecord(cred Credential, route *egress.Route, counters ...*Counter) *Record {
	return &Record{
		credential: cred,
		route:      route,
		counters:   counters,
	}
}

func (r *Record) Credential() Credential { return r.credential }
func (r *Record) Route() *egress.Route   { return r.route }
func (r *Record) Counters() []*Counter   { return r.counters }

// UsageTotal returns how many calls were ever charged to the record.
func (r *Record) UsageTotal() int64 { return r.usage }

// IsResting reports whether any counter has reached threshold in its current window.
func (r *Record) IsResting(now time.Time, threshold float64) bool {
	for _, c := range r.counters {
		if c.Utilization(now) >= threshold {
			return true
		}
	}

	return false
}

// RecordUsage charges one call against every counter of the record.
func (r *Record) RecordUsage(now time.Time) {
	for _, c := range r.counters {
		c.TryConsume(now)
	}

	r.usage++
}

// Utilization returns the highest utilization across the record's counters.
func (r *Record) Utilization(now time.Time) float64 {
	var highest float64

	for _, c := range r.counters {
		highest = max(highest, c.Utilization(now))
	}

	return highest
}
