package egress

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var ErrInvalidRoute = errors.New("invalid egress route")

// Route is an authenticated HTTP proxy that outbound calls can be sent through.
type Route struct {
	Host     string
	Port     int
	Username string
	Password string
}

// ParseRoute parses a proxy line in HOST:PORT:USERNAME:PASSWORD form.
// Username and password may be omitted for open proxies.
func ParseRoute(line string) (Route, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) != 2 && len(parts) < 4 {
		return Route{}, fmt.Errorf("%w: want HOST:PORT[:USER:PASS], got %d fields", ErrInvalidRoute, len(parts))
	}

	host := strings.TrimSpace(parts[0])
	if host == "" {
		return Route{}, fmt.Errorf("%w: empty host", ErrInvalidRoute)
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || port <= 0 || port > 65535 {
		return Route{}, fmt.Errorf("%w: bad port %q", ErrInvalidRoute, parts[1])
	}

	route := Route{Host: host, Port: port}

	if len(parts) >= 4 {
		route.Username = parts[2]
		// passwords may themselves contain colons
		route.Password = strings.Join(parts[3:], ":")
	}

	return route, nil
}

// ID identifies the route without exposing its credentials.
func (r Route) ID() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// URL returns the proxy URL including credentials.
func (r Route) URL() *url.URL {
	u := &url.URL{
		Scheme: "http",
		Host:   r.ID(),
	}

	if r.Username != "" {
		u.User = url.UserPassword(r.Username, r.Password)
	}

	return u
}

// String returns the proxy URL with the password redacted.
func (r Route) String() string {
	return r.URL().Redacted()
}
