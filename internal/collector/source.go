// Package collector runs the data-source adapters. Every source polls on its own
// interval, borrowing a credential from the key manager for each call and
// merging what it collected into the shared metrics row.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/serroba/datafactory/internal/keymanager"
)

var (
	ErrNoData = errors.New("no data in response")
	// ErrUnknownSource is returned by Runner.Tick for a source it does not run.
	ErrUnknownSource = errors.New("unknown source")
)

// Fields are metric values keyed by row column.
type Fields map[string]float64

// Row is the shared record every source writes into. Rows are bucketed by minute.
type Row struct {
	Time   time.Time
	Fields Fields
}

// RowWriter persists rows. Writes for the same Time merge their fields.
type RowWriter interface {
	Write(ctx context.Context, row Row) error
}

// Call carries what a source needs for one outbound request.
type Call struct {
	Client     *http.Client
	Credential keymanager.Credential
}

// Source is one data-source adapter.
type Source interface {
	Name() string
	// Service names the key manager service to borrow credentials from.
	// Keyless sources return an empty string.
	Service() string
	Interval() time.Duration
	Collect(ctx context.Context, call Call) (Fields, error)
}

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}
