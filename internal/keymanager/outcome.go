package keymanager

import (
	"fmt"
	"strings"
)

// Outcome is the result of an outbound call made with an acquired credential.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is a call that reached the provider but failed.
	OutcomeFailure
	// OutcomeNotSent is a call that failed locally before leaving the process.
	OutcomeNotSent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeNotSent:
		return "not_sent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ChargePolicy decides which outcomes consume quota.
type ChargePolicy int

const (
	// ChargeAll charges every reported call, whatever its outcome.
	ChargeAll ChargePolicy = iota
	// ChargeReached skips calls reported as OutcomeNotSent.
	ChargeReached
)

// ParseChargePolicy accepts "all" and "reached".
func ParseChargePolicy(s string) (ChargePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ChargeAll, nil
	case "reached":
		return ChargeReached, nil
	default:
		return ChargeAll, fmt.Errorf("%w: unknown charge policy %q", ErrInvalidConfig, s)
	}
}

func (p ChargePolicy) String() string {
	if p == ChargeReached {
		return "reached"
	}

	return "all"
}

func (p ChargePolicy) charges(o Outcome) bool {
	return p == ChargeAll || o != OutcomeNotSent
}

// OutcomeCounts tallies reported outcomes for one service.
type OutcomeCounts struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
	NotSent int64 `json:"notSent"`
}

func (c *OutcomeCounts) add(o Outcome) {
	switch o {
	case OutcomeSuccess:
		c.Success++
	case OutcomeFailure:
		c.Failure++
	case OutcomeNotSent:
		c.NotSent++
	}
}
