// Package config reads the credential and proxy files the key manager is built from.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/serroba/datafactory/internal/keymanager"
	"go.uber.org/multierr"
)

var ErrInvalidLine = errors.New("invalid line")

// LineError locates a rejected line in an input file.
type LineError struct {
	Line    int
	Section string
	Err     error
}

func (e *LineError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}

	return fmt.Sprintf("line %d in [%s]: %v", e.Line, e.Section, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Credentials maps a service id to its credentials in file order.
type Credentials map[string][]keymanager.CredentialConfig

// ParseKeys reads a credential file made of [SECTION] headers followed by
// colon separated credential lines. Blank lines and lines starting with # are
// ignored, as are sections missing from the catalog.
//
// Bad lines do not stop parsing: the valid credentials are returned together
// with every line error combined.
func ParseKeys(r io.Reader, catalog Catalog) (Credentials, error) {
	creds := make(Credentials)

	var (
		errs    error
		spec    ServiceSpec
		known   bool
		section string
		lineNum int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToUpper(line[1 : len(line)-1])
			spec, known = catalog.Lookup(section)

			continue
		}

		if !known {
			continue
		}

		cred, err := parseCredential(line, spec)
		if err != nil {
			errs = multierr.Append(errs, &LineError{Line: lineNum, Section: section, Err: err})

			continue
		}

		creds[spec.Service] = append(creds[spec.Service], cred)
	}

	if err := scanner.Err(); err != nil {
		return creds, multierr.Append(errs, fmt.Errorf("read credentials: %w", err))
	}

	return creds, errs
}

// parseCredential splits KEY[:SECRET][:LIMIT][:...] and picks up extra
// class=capacity fields, e.g. "KEY:5:day=100".
func parseCredential(line string, spec ServiceSpec) (keymanager.CredentialConfig, error) {
	var (
		positional []string
		extra      []keymanager.Limit
	)

	for i, field := range strings.Split(line, ":") {
		field = strings.TrimSpace(field)

		// the key itself may end in base64 padding
		name, value, found := strings.Cut(field, "=")
		class, err := keymanager.ParseClass(name)

		if i == 0 || !found || err != nil {
			positional = append(positional, field)

			continue
		}

		limit, err := parseCapacity(class, value)
		if err != nil {
			return keymanager.CredentialConfig{}, err
		}

		extra = append(extra, limit)
	}

	if len(positional) == 0 || positional[0] == "" {
		return keymanager.CredentialConfig{}, fmt.Errorf("%w: empty key", ErrInvalidLine)
	}

	if len(positional) > spec.Fields {
		return keymanager.CredentialConfig{}, fmt.Errorf("%w: %s takes at most %d fields, got %d",
			ErrInvalidLine, spec.Service, spec.Fields, len(positional))
	}

	cred := keymanager.CredentialConfig{
		Credential: keymanager.Credential{Key: positional[0]},
	}

	if spec.Secret {
		if len(positional) < 2 || positional[1] == "" {
			return keymanager.CredentialConfig{}, fmt.Errorf("%w: %s needs KEY:SECRET", ErrInvalidLine, spec.Service)
		}

		cred.Credential.Secret = positional[1]
	}

	capacity := spec.DefaultLimit

	if i := spec.limitField(); i < len(positional) && positional[i] != "" {
		n, err := strconv.ParseInt(positional[i], 10, 64)
		if err != nil || n < 0 {
			return keymanager.CredentialConfig{}, fmt.Errorf("%w: bad limit %q", ErrInvalidLine, positional[i])
		}

		capacity = n
	}

	cred.Limits = append([]keymanager.Limit{{Class: spec.Class, Capacity: capacity}}, extra...)

	for _, l := range extra {
		if l.Class == spec.Class {
			return keymanager.CredentialConfig{}, fmt.Errorf("%w: %s limit given twice", ErrInvalidLine, l.Class)
		}
	}

	return cred, nil
}

func parseCapacity(class keymanager.Class, value string) (keymanager.Limit, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return keymanager.Limit{}, fmt.Errorf("%w: bad %s capacity %q", ErrInvalidLine, class, value)
	}

	return keymanager.Limit{Class: class, Capacity: n}, nil
}
