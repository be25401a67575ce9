package keymanager

import "errors"

var (
	// ErrUnknownService is returned for a service that was never registered.
	ErrUnknownService = errors.New("unknown service")
	// ErrExhausted means every credential of the service is resting right now.
	// It clears on its own once a window resets; callers should skip this tick.
	ErrExhausted = errors.New("all credentials exhausted")
	// ErrInvalidHandle is returned when reporting a handle this manager did not issue.
	ErrInvalidHandle = errors.New("invalid handle")
	ErrNoCredentials = errors.New("service has no credentials")
	ErrInvalidConfig = errors.New("invalid key manager config")
)
