// Package keymanager allocates API credentials, and the egress routes paired
// with them, to data-source adapters without exceeding the per-minute, per-day
// or per-month quotas each provider enforces.
//
// Adapters call Acquire before every outbound request and Report once the
// request is done. A credential rests once any of its windows reaches the
// service threshold and becomes available again when that window resets; both
// transitions are computed lazily from wall-clock time, there are no timers.
package keymanager

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/serroba/datafactory/internal/egress"
)

// Handle identifies the credential handed out by Acquire. It is passed back to
// Report once the call has been made.
type Handle struct {
	owner      *Manager
	service    string
	index      int
	credential Credential
	route      *egress.Route
}

func (h Handle) Service() string        { return h.service }
func (h Handle) Index() int             { return h.index }
func (h Handle) Credential() Credential { return h.credential }

// Route returns the paired egress route, or nil for direct calls.
func (h Handle) Route() *egress.Route { return h.route }

// Manager owns one Pool per configured service.
//
// All operations take a single mutex and never block on I/O. Acquire and Report
// are separate critical sections: callers racing on the same service may all be
// handed a credential that is still active before any of them reports, so a
// window can overshoot its threshold by up to the number of concurrent callers.
// The counters keep recording past capacity, so overshoot stays visible in Status.
type Manager struct {
	mu    sync.Mutex
	pools map[string]*Pool
	ids   []string
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New builds a manager for the given services. The set of services is fixed
// for the lifetime of the manager.
func New(services []ServiceConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		pools: make(map[string]*Pool, len(services)),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	start := m.now()

	for _, cfg := range services {
		if _, dup := m.pools[cfg.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate service %q", ErrInvalidConfig, cfg.ID)
		}

		pool, err := NewPool(cfg, start)
		if err != nil {
			return nil, err
		}

		m.pools[cfg.ID] = pool
		m.ids = append(m.ids, cfg.ID)
	}

	slices.Sort(m.ids)

	return m, nil
}

// Services returns the registered service ids in sorted order.
func (m *Manager) Services() []string {
	return slices.Clone(m.ids)
}

// Has reports whether service is registered.
func (m *Manager) Has(service string) bool {
	_, ok := m.pools[service]

	return ok
}

// Acquire hands out the next usable credential for service. It fails with
// ErrUnknownService for unregistered services and with ErrExhausted when
// every credential of the service is resting.
func (m *Manager) Acquire(service string) (Handle, error) {
	pool, ok := m.pools[service]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i, err := pool.Acquire(m.now())
	if err != nil {
		return Handle{}, err
	}

	rec := pool.Record(i)

	return Handle{
		owner:      m,
		service:    service,
		index:      i,
		credential: rec.Credential(),
		route:      rec.Route(),
	}, nil
}

// Report records the outcome of a call made with h. Reporting the same handle
// twice charges the credential twice.
func (m *Manager) Report(h Handle, outcome Outcome) error {
	if h.owner != m {
		return fmt.Errorf("%w: issued by another manager", ErrInvalidHandle)
	}

	pool, ok := m.pools[h.service]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, h.service)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return pool.Report(h.index, outcome, m.now())
}

// Status returns a snapshot of the given services, or of all services when
// none are named.
func (m *Manager) Status(services ...string) (Snapshot, error) {
	ids := m.ids
	if len(services) > 0 {
		ids = services
	}

	for _, id := range ids {
		if _, ok := m.pools[id]; !ok {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownService, id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snap := Snapshot{
		TakenAt:  now,
		Services: make([]PoolStatus, 0, len(ids)),
	}

	for _, id := range ids {
		snap.Services = append(snap.Services, m.pools[id].Status(now))
	}

	return snap, nil
}
