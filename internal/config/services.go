package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"sort"

	"github.com/serroba/datafactory/internal/egress"
	"github.com/serroba/datafactory/internal/keymanager"
	"go.uber.org/multierr"
)

// Sources names the inputs the key manager configuration is assembled from.
type Sources struct {
	KeyFile   string
	ProxyFile string
	// ProxyServices lists the services whose credentials are paired with proxies.
	ProxyServices []string
	// ChargeReached lists the services that are not charged for calls that
	// never left the process.
	ChargeReached []string
	Threshold     float64
	Catalog       Catalog
}

// Result is what Load produced. Warnings hold rejected lines and missing
// optional files; they never prevent the manager from being built.
type Result struct {
	Services []keymanager.ServiceConfig
	Routes   []egress.Route
	Warnings error
}

// Load reads the credential and proxy files and builds one ServiceConfig per
// service that has at least one credential. A missing file is reported as a
// warning and treated as empty.
func Load(src Sources) (Result, error) {
	catalog := src.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	var res Result

	creds, err := readFile(src.KeyFile, func(r io.Reader) (Credentials, error) {
		return ParseKeys(r, catalog)
	})
	if err != nil && !isWarning(err) {
		return Result{}, err
	}

	res.Warnings = multierr.Append(res.Warnings, err)

	if src.ProxyFile != "" {
		routes, err := readFile(src.ProxyFile, ParseProxies)
		if err != nil && !isWarning(err) {
			return Result{}, err
		}

		res.Warnings = multierr.Append(res.Warnings, err)
		res.Routes = routes
	}

	services := make([]string, 0, len(creds))
	for service := range creds {
		services = append(services, service)
	}

	sort.Strings(services)

	for _, service := range services {
		spec, _ := catalog.ForService(service)

		policy := keymanager.ChargeAll
		if slices.Contains(src.ChargeReached, service) {
			policy = keymanager.ChargeReached
		}

		list := creds[service]
		if slices.Contains(src.ProxyServices, service) {
			PairRoutes(list, res.Routes)
		}

		res.Services = append(res.Services, keymanager.ServiceConfig{
			ID:          service,
			Limits:      []keymanager.Limit{{Class: spec.Class, Capacity: spec.DefaultLimit}},
			Threshold:   src.Threshold,
			Policy:      policy,
			Credentials: list,
		})
	}

	return res, nil
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, fmt.Errorf("%w: %s", errMissingFile, path)
		}

		return zero, err
	}
	defer f.Close()

	return parse(f)
}

var errMissingFile = errors.New("file not found")

// isWarning reports whether err only carries line errors or missing files.
func isWarning(err error) bool {
	for _, e := range multierr.Errors(err) {
		if !errors.Is(e, errMissingFile) && !errors.Is(e, ErrInvalidLine) && !errors.Is(e, egress.ErrInvalidRoute) {
			return false
		}
	}

	return true
}
