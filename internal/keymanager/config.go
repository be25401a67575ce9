package keymanager

import (
	"fmt"

	"github.com/serroba/datafactory/internal/egress"
)

// DefaultThreshold is the utilization at which a credential starts resting.
const DefaultThreshold = 0.95

// Limit is a capacity for one quota class.
type Limit struct {
	Class    Class
	Capacity int64
}

// CredentialConfig describes one credential of a service. Limits override the
// service's capacity for the same class or bind the credential to an extra class.
type CredentialConfig struct {
	Credential Credential
	Route      *egress.Route
	Limits     []Limit
}

// ServiceConfig is the constructor-time description of one external service.
type ServiceConfig struct {
	ID          string
	Limits      []Limit
	Threshold   float64
	Policy      ChargePolicy
	Credentials []CredentialConfig
}

func (c ServiceConfig) threshold() float64 {
	if c.Threshold == 0 {
		return DefaultThreshold
	}

	return c.Threshold
}

func (c ServiceConfig) validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty service id", ErrInvalidConfig)
	}

	if c.Threshold < 0 {
		return fmt.Errorf("%w: %s: negative threshold", ErrInvalidConfig, c.ID)
	}

	if len(c.Credentials) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCredentials, c.ID)
	}

	if err := validateLimits(c.ID, c.Limits); err != nil {
		return err
	}

	for i, cred := range c.Credentials {
		if cred.Credential.Key == "" {
			return fmt.Errorf("%w: %s: credential %d has an empty key", ErrInvalidConfig, c.ID, i)
		}

		if err := validateLimits(c.ID, cred.Limits); err != nil {
			return err
		}
	}

	return nil
}

func validateLimits(service string, limits []Limit) error {
	seen := make(map[Class]bool, len(limits))

	for _, l := range limits {
		if l.Class.Duration() == 0 {
			return fmt.Errorf("%w: %s: unknown quota class %q", ErrInvalidConfig, service, l.Class)
		}

		if l.Capacity < 0 {
			return fmt.Errorf("%w: %s: negative %s capacity", ErrInvalidConfig, service, l.Class)
		}

		if seen[l.Class] {
			return fmt.Errorf("%w: %s: duplicate %s limit", ErrInvalidConfig, service, l.Class)
		}

		seen[l.Class] = true
	}

	return nil
}

// mergeLimits applies credential overrides on top of the service limits,
// keeping the service order and appending classes only the credential has.
func mergeLimits(service, overrides []Limit) []Limit {
	merged := make([]Limit, 0, len(service)+len(overrides))
	used := make(map[Class]bool, len(overrides))

	for _, l := range service {
		for _, o := range overrides {
			if o.Class == l.Class {
				l = o
				used[o.Class] = true

				break
			}
		}

		merged = append(merged, l)
	}

	for _, o := range overrides {
		if !used[o.Class] {
			merged = append(merged, o)
		}
	}

	return merged
}
