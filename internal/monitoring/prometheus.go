package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector exposes credential usage as Prometheus metrics, read from a fresh
// snapshot on every scrape.
type Collector struct {
	keys        StatusReader
	logger      *zap.Logger
	utilization *prometheus.Desc
	resting     *prometheus.Desc
	usage       *prometheus.Desc
}

func NewCollector(keys StatusReader, logger *zap.Logger) *Collector {
	return &Collector{
		keys:   keys,
		logger: logger,
		utilization: prometheus.NewDesc(
			"datafactory_credential_utilization",
			"Used share of a credential's quota window.",
			[]string{"service", "index", "credential", "class"}, nil,
		),
		resting: prometheus.NewDesc(
			"datafactory_credential_resting",
			"1 when the credential is resting.",
			[]string{"service", "index", "credential"}, nil,
		),
		usage: prometheus.NewDesc(
			"datafactory_credential_usage_total",
			"Calls charged to the credential since start.",
			[]string{"service", "index", "credential"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.utilization
	ch <- c.resting
	ch <- c.usage
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap, err := c.keys.Status()
	if err != nil {
		c.logger.Error("collect key manager status", zap.Error(err))

		return
	}

	for _, pool := range snap.Services {
		for _, cred := range pool.Credentials {
			index := strconv.Itoa(cred.Index)

			for _, w := range cred.Windows {
				ch <- prometheus.MustNewConstMetric(c.utilization, prometheus.GaugeValue, w.Utilization,
					pool.Service, index, cred.ID, string(w.Class))
			}

			resting := 0.0
			if cred.Resting {
				resting = 1
			}

			ch <- prometheus.MustNewConstMetric(c.resting, prometheus.GaugeValue, resting, pool.Service, index, cred.ID)
			ch <- prometheus.MustNewConstMetric(c.usage, prometheus.CounterValue, float64(cred.UsageTotal), pool.Service, index, cred.ID)
		}
	}
}
