package logic

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every error returned from Config.Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the timing thresholds for one button.
// It is copied into the classifier and never modified afterwards.
type Config struct {
	// Debounce is how long a raw level must be stable before it is accepted.
	// Only applies to polled input.
	Debounce time.Duration

	// ShortPressMax is the exclusive upper bound of a short press hold. A
	// release between ShortPressMax and LongPressMin still counts as a press
	// but settles the sequence at once instead of waiting for followers.
	ShortPressMax time.Duration

	// LongPressMin is the inclusive lower bound of a long press hold, and
	// the hold time after which HOLD is emitted.
	LongPressMin time.Duration

	// MultiPressInterval is the gap window: the longest a button may stay
	// released between presses of the same sequence.
	MultiPressInterval time.Duration

	// EnableMultiPress controls whether a short press waits for followers.
	// When false every short press is emitted on release.
	EnableMultiPress bool

	// MaxMultiPress settles a sequence as soon as it reaches this many presses.
	// Zero means unlimited.
	MaxMultiPress int

	// MaxSampleGap is the largest expected interval between two samples.
	// A larger gap is reported as missed samples. Zero disables the check.
	MaxSampleGap time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Debounce:           20 * time.Millisecond,
		ShortPressMax:      500 * time.Millisecond,
		LongPressMin:       1000 * time.Millisecond,
		MultiPressInterval: 175 * time.Millisecond,
		EnableMultiPress:   true,
	}
}

// Validate checks the threshold invariants.
func (c Config) Validate() error {
	if c.Debounce < 0 {
		return fmt.Errorf("%w: debounce must not be negative", ErrInvalidConfig)
	}
	if c.ShortPressMax <= 0 {
		return fmt.Errorf("%w: short press max must be positive", ErrInvalidConfig)
	}
	if c.ShortPressMax >= c.LongPressMin {
		return fmt.Errorf("%w: short press max (%v) must be below long press min (%v)",
			ErrInvalidConfig, c.ShortPressMax, c.LongPressMin)
	}
	if c.MultiPressInterval <= 0 {
		return fmt.Errorf("%w: multi press interval must be positive", ErrInvalidConfig)
	}
	if c.MaxMultiPress < 0 || c.MaxMultiPress == 1 {
		return fmt.Errorf("%w: max multi press must be 0 (unlimited) or at least 2, got %d",
			ErrInvalidConfig, c.MaxMultiPress)
	}
	if c.MaxSampleGap < 0 {
		return fmt.Errorf("%w: max sample gap must not be negative", ErrInvalidConfig)
	}
	return nil
}
