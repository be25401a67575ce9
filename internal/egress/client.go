package egress

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const directRoute = "direct"

// ErrNotSent marks a request that failed locally before it left the process.
var ErrNotSent = errors.New("request not sent")

// Clients hands out one http.Client per egress route. Every client is paced by
// a token bucket so a single proxy is never hit faster than the configured rate,
// whichever credential happens to be paired with it.
type Clients struct {
	mu      sync.Mutex
	clients map[string]*http.Client
	limit   rate.Limit
	burst   int
	timeout time.Duration
}

// Option configures Clients.
type Option func(*Clients)

// WithRate limits each route to rps requests per second with the given burst.
// A non-positive rps disables pacing.
func WithRate(rps float64, burst int) Option {
	return func(c *Clients) {
		if rps <= 0 {
			c.limit = rate.Inf

			return
		}

		c.limit = rate.Limit(rps)
		c.burst = max(burst, 1)
	}
}

// WithTimeout sets the overall per-request timeout of the returned clients.
func WithTimeout(d time.Duration) Option {
	return func(c *Clients) { c.timeout = d }
}

// NewClients creates an empty client cache.
func NewClients(opts ...Option) *Clients {
	c := &Clients{
		clients: make(map[string]*http.Client),
		limit:   rate.Inf,
		burst:   1,
		timeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// For returns the client that sends requests through route, or directly when
// route is nil. Clients are cached so connections are reused across calls.
func (c *Clients) For(route *Route) *http.Client {
	id := directRoute
	if route != nil {
		id = route.URL().String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[id]; ok {
		return client
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if route != nil {
		base.Proxy = http.ProxyURL(route.URL())
	}

	client := &http.Client{
		Timeout: c.timeout,
		Transport: &pacedTransport{
			limiter: rate.NewLimiter(c.limit, c.burst),
			next:    base,
		},
	}
	c.clients[id] = client

	return client
}

// Shutdown closes idle connections of every cached client.
func (c *Clients) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, client := range c.clients {
		client.CloseIdleConnections()
	}

	return nil
}

type pacedTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotSent, err)
	}

	return t.next.RoundTrip(req)
}

func (t *pacedTransport) CloseIdleConnections() {
	if ci, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}
