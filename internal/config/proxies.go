package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/serroba/datafactory/internal/egress"
	"github.com/serroba/datafactory/internal/keymanager"
	"go.uber.org/multierr"
)

// ParseProxies reads one HOST:PORT:USERNAME:PASSWORD route per line.
// Like ParseKeys it keeps the valid routes when some lines are rejected.
func ParseProxies(r io.Reader) ([]egress.Route, error) {
	var (
		routes  []egress.Route
		errs    error
		lineNum int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		route, err := egress.ParseRoute(line)
		if err != nil {
			errs = multierr.Append(errs, &LineError{Line: lineNum, Err: err})

			continue
		}

		routes = append(routes, route)
	}

	if err := scanner.Err(); err != nil {
		return routes, multierr.Append(errs, fmt.Errorf("read proxies: %w", err))
	}

	return routes, errs
}

// PairRoutes assigns routes to credentials round-robin: credential i is sent
// through routes[i mod len(routes)]. Credentials are left direct when there
// are no routes.
func PairRoutes(creds []keymanager.CredentialConfig, routes []egress.Route) {
	if len(routes) == 0 {
		return
	}

	for i := range creds {
		route := routes[i%len(routes)]
		creds[i].Route = &route
	}
}
