// Package gpio provides button input from GPIO lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"strings"
)

// Reader reads the logical level of every configured button.
type Reader interface {
	// Read returns one level per button, in button order.
	// true means pressed; active-low inversion is already applied.
	Read() ([]bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Bias selects the line bias applied when requesting a line.
type Bias string

const (
	BiasAsIs     Bias = ""
	BiasPullUp   Bias = "pull-up"
	BiasPullDown Bias = "pull-down"
	BiasDisabled Bias = "disabled"
)

// ParseBias validates a bias name.
func ParseBias(s string) (Bias, error) {
	switch b := Bias(strings.ToLower(strings.TrimSpace(s))); b {
	case BiasAsIs, BiasPullUp, BiasPullDown, BiasDisabled:
		return b, nil
	default:
		return "", fmt.Errorf("invalid bias %q (must be pull-up, pull-down, disabled or empty)", s)
	}
}

// LineConfig describes how button lines are requested.
type LineConfig struct {
	// Chip is the GPIO chip name, e.g. "gpiochip0".
	Chip string
	// Pins are line offsets (BCM numbers on a Raspberry Pi), one per button.
	Pins []int
	// ActiveLow marks buttons that pull the line low when pressed.
	ActiveLow bool
	Bias      Bias
}

// Validate checks the line config.
func (c LineConfig) Validate() error {
	if c.Chip == "" {
		return fmt.Errorf("gpio chip must not be empty")
	}
	if len(c.Pins) == 0 {
		return fmt.Errorf("at least one pin is required")
	}
	seen := make(map[int]bool, len(c.Pins))
	for i, p := range c.Pins {
		if p < 0 {
			return fmt.Errorf("pin %d: offset must be non-negative, got %d", i, p)
		}
		if seen[p] {
			return fmt.Errorf("pin %d: offset %d listed twice", i, p)
		}
		seen[p] = true
	}
	return nil
}

// Default line settings: a single button on BCM 17, wired to ground with the
// internal pull-up enabled.
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17
)
