package keymanager

import (
	"fmt"
	"time"
)

// Pool holds the credentials registered for one service and the rotation
// policy applied to them. A Pool is not safe for concurrent use on its own;
// Manager serializes all access.
type Pool struct {
	service   string
	records   []*Record
	cursor    int
	threshold float64
	policy    ChargePolicy
	outcomes  OutcomeCounts
}

// NewPool builds the pool for cfg with every window starting at now.
func NewPool(cfg ServiceConfig, now time.Time) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		service:   cfg.ID,
		records:   make([]*Record, 0, len(cfg.Credentials)),
		cursor:    -1,
		threshold: cfg.threshold(),
		policy:    cfg.Policy,
	}

	for i, cred := range cfg.Credentials {
		limits := mergeLimits(cfg.Limits, cred.Limits)
		if len(limits) == 0 {
			return nil, fmt.Errorf("%w: %s: credential %d is not bound by any quota class", ErrInvalidConfig, cfg.ID, i)
		}

		counters := make([]*Counter, 0, len(limits))
		for _, l := range limits {
			counters = append(counters, NewCounter(l.Class, l.Capacity, now))
		}

		p.records = append(p.records, NewRecord(cred.Credential, cred.Route, counters...))
	}

	return p, nil
}

func (p *Pool) Service() string      { return p.service }
func (p *Pool) Threshold() float64   { return p.threshold }
func (p *Pool) Policy() ChargePolicy { return p.policy }
func (p *Pool) Len() int             { return len(p.records) }

// Record returns the record at index i, or nil when out of range.
func (p *Pool) Record(i int) *Record {
	if i < 0 || i >= len(p.records) {
		return nil
	}

	return p.records[i]
}

// Acquire returns the index of the next record that is not resting, scanning
// round-robin from the record after the one handed out last. It returns
// ErrExhausted when every record is resting.
func (p *Pool) Acquire(now time.Time) (int, error) {
	n := len(p.records)

	for step := 1; step <= n; step++ {
		i := (p.cursor + step) % n
		if !p.records[i].IsResting(now, p.threshold) {
			p.cursor = i

			return i, nil
		}
	}

	return -1, fmt.Errorf("%w: %s", ErrExhausted, p.service)
}

// Report charges the call made with record i according to the pool's policy.
func (p *Pool) Report(i int, outcome Outcome, now time.Time) error {
	rec := p.Record(i)
	if rec == nil {
		return fmt.Errorf("%w: %s has no credential %d", ErrInvalidHandle, p.service, i)
	}

	p.outcomes.add(outcome)

	if p.policy.charges(outcome) {
		rec.RecordUsage(now)
	}

	return nil
}

// Exhausted reports whether every record is resting at now.
func (p *Pool) Exhausted(now time.Time) bool {
	for _, rec := range p.records {
		if !rec.IsResting(now, p.threshold) {
			return false
		}
	}

	return true
}

// Status returns a snapshot of every record in the pool.
func (p *Pool) Status(now time.Time) PoolStatus {
	status := PoolStatus{
		Service:     p.service,
		Threshold:   p.threshold,
		Policy:      p.policy.String(),
		Cursor:      p.cursor,
		Exhausted:   true,
		Outcomes:    p.outcomes,
		Credentials: make([]CredentialStatus, 0, len(p.records)),
	}

	for i, rec := range p.records {
		cs := recordStatus(rec, now, p.threshold)
		cs.Index = i
		cs.Active = i == p.cursor

		if !cs.Resting {
			status.Exhausted = false
		}

		status.Credentials = append(status.Credentials, cs)
	}

	return status
}
