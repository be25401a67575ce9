package config

import (
	"strings"

	"github.com/serroba/datafactory/internal/keymanager"
)

// ServiceSpec describes how one credential-file section maps to a service.
type ServiceSpec struct {
	// Section is the upper-case header in the credential file, without brackets.
	Section string
	Service string
	Class   keymanager.Class
	// DefaultLimit applies when a line carries no limit of its own.
	DefaultLimit int64
	// Secret marks layouts whose second field is an API secret.
	Secret bool
	// Fields is the number of positional fields the layout defines.
	Fields int
}

func (s ServiceSpec) limitField() int {
	if s.Secret {
		return 2
	}

	return 1
}

// Catalog is keyed by section name.
type Catalog map[string]ServiceSpec

// DefaultCatalog lists the providers the data factory knows about.
func DefaultCatalog() Catalog {
	specs := []ServiceSpec{
		{Section: "BINANCE", Service: "binance", Class: keymanager.PerMinute, DefaultLimit: 1200, Secret: true, Fields: 4},
		{Section: "DELTA_EXCHANGE", Service: "delta", Class: keymanager.PerMinute, DefaultLimit: 50, Secret: true, Fields: 3},
		{Section: "CRYPTOPANIC", Service: "cryptopanic", Class: keymanager.PerMonth, DefaultLimit: 100, Fields: 2},
		{Section: "ETHERSCAN", Service: "etherscan", Class: keymanager.PerDay, DefaultLimit: 100000, Fields: 2},
		{Section: "ALPHAVANTAGE", Service: "alphavantage", Class: keymanager.PerDay, DefaultLimit: 25, Fields: 2},
		{Section: "FRED", Service: "fred", Class: keymanager.PerMinute, DefaultLimit: 120, Fields: 2},
		{Section: "COINGECKO", Service: "coingecko", Class: keymanager.PerMonth, DefaultLimit: 10000, Fields: 2},
	}

	c := make(Catalog, len(specs))
	for _, s := range specs {
		c[s.Section] = s
	}

	return c
}

// Lookup finds the catalog entry for a section header, case-insensitively.
func (c Catalog) Lookup(section string) (ServiceSpec, bool) {
	s, ok := c[strings.ToUpper(strings.TrimSpace(section))]

	return s, ok
}

// ForService finds the entry registered for a service id.
func (c Catalog) ForService(service string) (ServiceSpec, bool) {
	for _, s := range c {
		if s.Service == service {
			return s, true
		}
	}

	return ServiceSpec{}, false
}
