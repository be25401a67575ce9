package egress_test

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/serroba/datafactory/internal/egress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClients_For(t *testing.T) {
	t.Run("caches one client per route", func(t *testing.T) {
		clients := egress.NewClients()
		a := &egress.Route{Host: "1.1.1.1", Port: 80}
		b := &egress.Route{Host: "2.2.2.2", Port: 80}

		assert.Same(t, clients.For(a), clients.For(&egress.Route{Host: "1.1.1.1", Port: 80}))
		assert.NotSame(t, clients.For(a), clients.For(b))
		assert.Same(t, clients.For(nil), clients.For(nil))
		assert.NoError(t, clients.Shutdown())
	})

	t.Run("routes sharing host and port keep separate sessions", func(t *testing.T) {
		clients := egress.NewClients()
		a := &egress.Route{Host: "geo.iproyal.com", Port: 12321, Username: "user", Password: "pass_session-a"}
		b := &egress.Route{Host: "geo.iproyal.com", Port: 12321, Username: "user", Password: "pass_session-b"}

		assert.NotSame(t, clients.For(a), clients.For(b))
		assert.Same(t, clients.For(a), clients.For(a))
	})

	t.Run("sends requests through the proxy with credentials", func(t *testing.T) {
		var gotHost, gotAuth string

		proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHost = r.Host
			gotAuth = r.Header.Get("Proxy-Authorization")
			w.WriteHeader(http.StatusNoContent)
		}))
		defer proxy.Close()

		host, port, err := net.SplitHostPort(proxy.Listener.Addr().String())
		require.NoError(t, err)

		p, err := strconv.Atoi(port)
		require.NoError(t, err)

		route := &egress.Route{Host: host, Port: p, Username: "user", Password: "pass"}
		client := egress.NewClients(egress.WithTimeout(2 * time.Second)).For(route)

		resp, err := client.Get("http://api.provider.invalid/v1/ticker")
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "api.provider.invalid", gotHost)
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")), gotAuth)
	})

	t.Run("paces requests per route", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := egress.NewClients(egress.WithRate(20, 1)).For(nil)

		start := time.Now()

		for range 3 {
			resp, err := client.Get(srv.URL)
			require.NoError(t, err)
			resp.Body.Close()
		}

		// burst of one, then two waits of 50ms
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})

	t.Run("cancelled pacing is reported as not sent", func(t *testing.T) {
		client := egress.NewClients(egress.WithRate(0.001, 1)).For(nil)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		// the first request takes the only token
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1/", nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}

		req, err = http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1/", nil)
		require.NoError(t, err)

		_, err = client.Do(req)

		assert.ErrorIs(t, err, egress.ErrNotSent)
	})
}
