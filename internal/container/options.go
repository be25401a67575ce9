// Package container wires the application with samber/do. Each *Package
// function registers the providers of one concern.
package container

import (
	"strings"
	"time"
)

// Options are the server flags, parsed by humacli.
type Options struct {
	Port           int    `default:"8888"       help:"Port to listen on"                                          short:"p"`
	KeyFile        string `default:"apikey.txt" help:"Credential file with one [SECTION] per provider"             short:"k"`
	ProxyFile      string `default:""           help:"Egress proxy list, HOST:PORT:USER:PASS per line"`
	ProxyServices  string `default:"binance"    help:"Comma separated services whose credentials go through proxies"`
	ChargeReached  string `default:""           help:"Comma separated services not charged for calls that never left"`
	ThresholdPct   int    `default:"95"         help:"Window utilization percentage at which a credential rests"`
	SourcesFile    string `default:"sources.yaml" help:"YAML file declaring the HTTP data sources"                short:"s"`
	RedisAddr      string `default:""           help:"Redis server address, empty runs without Redis"             short:"r"`
	DatabaseURL    string `default:""           help:"PostgreSQL URL, empty keeps rows in memory"                  short:"d"`
	LogFormat      string `default:"console"    help:"Log format: console or json"`
	StatusInterval int    `default:"60"         help:"Seconds between status reports"`
	RouteRPS       int    `default:"0"          help:"Requests per second allowed through one egress route, 0 for unlimited"`
}

func (o *Options) Threshold() float64 {
	return float64(o.ThresholdPct) / 100
}

func (o *Options) ReportInterval() time.Duration {
	return time.Duration(max(o.StatusInterval, 1)) * time.Second
}

func splitList(s string) []string {
	var out []string

	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}

// ConsumerOptions configure the monitoring consumer from the environment.
type ConsumerOptions struct {
	RedisAddr     string `envconfig:"REDIS_ADDR"     default:"localhost:6379"`
	ConsumerGroup string `envconfig:"CONSUMER_GROUP" default:"datafactory-monitor"`
	LogFormat     string `envconfig:"LOG_FORMAT"     default:"console"`
}
