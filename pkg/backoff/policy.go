package backoff

import (
	"errors"
	"time"
)

// Reference policy values.
const (
	// DefaultFloor is the delay before the first retry after a healthy session.
	DefaultFloor = 0 * time.Second

	// DefaultIncrement is added to the delay for every consecutive failure.
	DefaultIncrement = 30 * time.Second

	// DefaultCeiling bounds the delay.
	DefaultCeiling = 300 * time.Second
)

// Policy errors.
var (
	ErrNegativeDuration  = errors.New("backoff: durations must not be negative")
	ErrCeilingBelowFloor = errors.New("backoff: ceiling must not be below floor")
)

// Policy maps a consecutive failure count to a wait duration.
// The zero value waits zero for every count.
type Policy struct {
	Floor     time.Duration `mapstructure:"floor" validate:"gte=0"`
	Increment time.Duration `mapstructure:"increment" validate:"gte=0"`
	Ceiling   time.Duration `mapstructure:"ceiling" validate:"gtefield=Floor"`
}

// DefaultPolicy returns the reference reconnect policy.
func DefaultPolicy() Policy {
	return Policy{
		Floor:     DefaultFloor,
		Increment: DefaultIncrement,
		Ceiling:   DefaultCeiling,
	}
}

// Validate checks that the policy is monotonic and bounded.
func (p Policy) Validate() error {
	if p.Floor < 0 || p.Increment < 0 || p.Ceiling < 0 {
		return ErrNegativeDuration
	}
	if p.Ceiling < p.Floor {
		return ErrCeilingBelowFloor
	}
	return nil
}

// Delay returns the wait before the next attempt after failures consecutive
// failures. Delay(0) is Floor; the result never exceeds Ceiling.
func (p Policy) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}

	// Compare in the division domain so large counts cannot overflow.
	if p.Increment > 0 && time.Duration(failures) > (p.Ceiling-p.Floor)/p.Increment {
		return p.Ceiling
	}

	d := p.Floor + p.Increment*time.Duration(failures)
	if d > p.Ceiling {
		return p.Ceiling
	}
	return d
}
