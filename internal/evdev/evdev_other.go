//go:build !linux

package evdev

import (
	"context"
	"errors"
)

// Run is not supported on non-Linux platforms.
func (s *Source) Run(ctx context.Context) error {
	return errors.New("evdev: not supported on this platform (requires Linux)")
}
