package collector_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/serroba/datafactory/internal/collector"
	"github.com/serroba/datafactory/internal/egress"
	"github.com/serroba/datafactory/internal/keymanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSource(t *testing.T, cfg collector.HTTPSourceConfig) *collector.HTTPSource {
	t.Helper()

	if cfg.Name == "" {
		cfg.Name = "test"
	}

	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}

	src, err := collector.NewHTTPSource(cfg)
	require.NoError(t, err)

	return src
}

func TestHTTPSource_Collect(t *testing.T) {
	t.Parallel()

	t.Run("extracts nested fields and numeric strings", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"price":"42.5","volume":1000},"observations":[{"value":"1.1"},{"value":"2.2"}]}`))
		}))
		defer srv.Close()

		src := newSource(t, collector.HTTPSourceConfig{
			URL: srv.URL,
			Fields: map[string]string{
				"btc_price":  "data.price",
				"btc_volume": "data.volume",
				"first_obs":  "observations.0.value",
				"last_obs":   "observations.-1.value",
				"missing":    "data.nope",
			},
		})

		fields, err := src.Collect(context.Background(), collector.Call{Client: srv.Client()})
		require.NoError(t, err)
		assert.Equal(t, collector.Fields{
			"btc_price":  42.5,
			"btc_volume": 1000,
			"first_obs":  1.1,
			"last_obs":   2.2,
		}, fields)
	})

	t.Run("drops non-finite values", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"nan":"NaN","inf":"-Inf","v":"3"}`))
		}))
		defer srv.Close()

		src := newSource(t, collector.HTTPSourceConfig{
			URL:    srv.URL,
			Fields: map[string]string{"nan": "nan", "inf": "inf", "v": "v"},
		})

		fields, err := src.Collect(context.Background(), collector.Call{Client: srv.Client()})
		require.NoError(t, err)
		assert.Equal(t, collector.Fields{"v": 3}, fields)

		_, err = json.Marshal(fields)
		assert.NoError(t, err)
	})

	t.Run("only non-finite values is no data", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"v":"NaN"}`))
		}))
		defer srv.Close()

		src := newSource(t, collector.HTTPSourceConfig{URL: srv.URL, Fields: map[string]string{"col": "v"}})

		_, err := src.Collect(context.Background(), collector.Call{Client: srv.Client()})
		assert.ErrorIs(t, err, collector.ErrNoData)
	})

	t.Run("passes the credential key", func(t *testing.T) {
		t.Parallel()

		var gotPath, gotQuery, gotHeader string

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.Query().Get("apikey")
			gotHeader = r.Header.Get("X-Api-Key")
			_, _ = w.Write([]byte(`{"v":1}`))
		}))
		defer srv.Close()

		src := newSource(t, collector.HTTPSourceConfig{
			URL:       srv.URL + "/v1/{key}/quote",
			KeyParam:  "apikey",
			KeyHeader: "X-Api-Key",
			Fields:    map[string]string{"v": "v"},
		})

		_, err := src.Collect(context.Background(), collector.Call{
			Client:     srv.Client(),
			Credential: keymanager.Credential{Key: "abc123"},
		})
		require.NoError(t, err)
		assert.Equal(t, "/v1/abc123/quote", gotPath)
		assert.Equal(t, "abc123", gotQuery)
		assert.Equal(t, "abc123", gotHeader)
	})

	t.Run("non 2xx is a status error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		src := newSource(t, collector.HTTPSourceConfig{URL: srv.URL, Fields: map[string]string{"v": "v"}})

		_, err := src.Collect(context.Background(), collector.Call{Client: srv.Client()})

		var status *collector.StatusError
		require.ErrorAs(t, err, &status)
		assert.Equal(t, http.StatusTooManyRequests, status.Code)
		assert.NotErrorIs(t, err, egress.ErrNotSent)
	})

	t.Run("no matching fields", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"other":"x"}`))
		}))
		defer srv.Close()

		src := newSource(t, collector.HTTPSourceConfig{URL: srv.URL, Fields: map[string]string{"v": "v"}})

		_, err := src.Collect(context.Background(), collector.Call{Client: srv.Client()})
		assert.ErrorIs(t, err, collector.ErrNoData)
	})
}

func TestNewHTTPSource_Validation(t *testing.T) {
	t.Parallel()

	valid := collector.HTTPSourceConfig{
		Name:     "fred",
		URL:      "https://api.example.com",
		Interval: time.Minute,
		Fields:   map[string]string{"v": "v"},
	}

	tests := []struct {
		name   string
		mutate func(*collector.HTTPSourceConfig)
	}{
		{"no name", func(c *collector.HTTPSourceConfig) { c.Name = "" }},
		{"no url", func(c *collector.HTTPSourceConfig) { c.URL = "" }},
		{"no interval", func(c *collector.HTTPSourceConfig) { c.Interval = 0 }},
		{"no fields", func(c *collector.HTTPSourceConfig) { c.Fields = nil }},
		{"bad url", func(c *collector.HTTPSourceConfig) { c.URL = "http://[::1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tt.mutate(&cfg)

			_, err := collector.NewHTTPSource(cfg)
			assert.Error(t, err)
		})
	}
}

func TestLoadSources(t *testing.T) {
	t.Parallel()

	t.Run("decodes sources", func(t *testing.T) {
		t.Parallel()

		doc := `
sources:
  - name: fred_dgs10
    service: fred
    interval: 5m
    timeout: 10s
    url: https://api.stlouisfed.org/fred/series/observations?series_id=DGS10&file_type=json
    key_param: api_key
    fields:
      dgs10: observations.-1.value
  - name: fear_greed
    interval: 1h
    url: https://api.alternative.me/fng/
    fields:
      fear_greed: data.0.value
`

		sources, err := collector.LoadSources(strings.NewReader(doc))
		require.NoError(t, err)
		require.Len(t, sources, 2)

		assert.Equal(t, "fred_dgs10", sources[0].Name())
		assert.Equal(t, "fred", sources[0].Service())
		assert.Equal(t, 5*time.Minute, sources[0].Interval())
		assert.Equal(t, "", sources[1].Service())
		assert.Equal(t, time.Hour, sources[1].Interval())
	})

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()

		sources, err := collector.LoadSources(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, sources)
	})

	t.Run("duplicate names", func(t *testing.T) {
		t.Parallel()

		doc := `
sources:
  - {name: a, interval: 1m, url: "http://x", fields: {v: v}}
  - {name: a, interval: 1m, url: "http://x", fields: {v: v}}
`

		_, err := collector.LoadSources(strings.NewReader(doc))
		assert.ErrorContains(t, err, "duplicate source")
	})
}
