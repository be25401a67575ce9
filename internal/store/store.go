// Package store persists the shared metrics row and the monitoring snapshots.
package store

import "errors"

var ErrNotFound = errors.New("not found")
