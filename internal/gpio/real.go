//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"

	"github.com/sweeney/button-handler/internal/edge"
)

const consumer = "button-handler"

// lineOptions builds the request options shared by readers and watchers.
func lineOptions(cfg LineConfig) []gpiocdev.LineReqOption {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithConsumer(consumer)}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	switch cfg.Bias {
	case BiasPullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case BiasPullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	case BiasDisabled:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	}
	return opts
}

// closeLines returns the lines to plain inputs before releasing them so the
// pins are left in their boot default direction.
func closeLines(lines *gpiocdev.Lines) error {
	var errs []error
	if err := lines.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure lines: %w", err))
	}
	if err := lines.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close lines: %w", err))
	}
	return errors.Join(errs...)
}

// RealReader polls button levels from actual hardware using the Linux GPIO
// character device.
type RealReader struct {
	lines  *gpiocdev.Lines
	values []int
}

// NewRealReader requests the configured lines as inputs.
func NewRealReader(cfg LineConfig) (*RealReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lines, err := gpiocdev.RequestLines(cfg.Chip, cfg.Pins, lineOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("request lines %v on %s: %w", cfg.Pins, cfg.Chip, err)
	}

	return &RealReader{
		lines:  lines,
		values: make([]int, len(cfg.Pins)),
	}, nil
}

// Read returns the logical level of every button. Active-low inversion is
// done by the kernel, so 1 always means pressed.
func (r *RealReader) Read() ([]bool, error) {
	if err := r.lines.Values(r.values); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	levels := make([]bool, len(r.values))
	for i, v := range r.values {
		levels[i] = v == 1
	}
	return levels, nil
}

// Close releases GPIO resources.
func (r *RealReader) Close() error {
	if r.lines == nil {
		return nil
	}
	return closeLines(r.lines)
}

// EdgeWatcher pushes kernel-reported line edges into an edge queue.
// The kernel debounces the lines, so edges need no further filtering.
type EdgeWatcher struct {
	lines   *gpiocdev.Lines
	buttons map[int]int // line offset -> button number
	queue   *edge.Queue
	logger  *zap.SugaredLogger
}

// NewEdgeWatcher requests the configured lines with edge detection on both
// edges. A positive debounce enables kernel debouncing.
func NewEdgeWatcher(cfg LineConfig, debounce time.Duration, queue *edge.Queue, logger *zap.SugaredLogger) (*EdgeWatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &EdgeWatcher{
		buttons: make(map[int]int, len(cfg.Pins)),
		queue:   queue,
		logger:  logger,
	}
	for i, p := range cfg.Pins {
		w.buttons[p] = i
	}

	opts := append(lineOptions(cfg),
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(w.handle),
	)
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	lines, err := gpiocdev.RequestLines(cfg.Chip, cfg.Pins, opts...)
	if err != nil {
		return nil, fmt.Errorf("request edge lines %v on %s: %w", cfg.Pins, cfg.Chip, err)
	}
	w.lines = lines
	return w, nil
}

func (w *EdgeWatcher) handle(evt gpiocdev.LineEvent) {
	button, ok := w.buttons[evt.Offset]
	if !ok {
		return
	}
	// Rising is inactive to active, which already accounts for active-low.
	pressed := evt.Type == gpiocdev.LineEventRisingEdge
	if !w.queue.Push(button, pressed) {
		w.logger.Warnw("edge queue full, dropping edge",
			"button", button, "offset", evt.Offset, "seqno", evt.Seqno)
	}
}

// Close stops edge detection and releases the lines.
func (w *EdgeWatcher) Close() error {
	if w.lines == nil {
		return nil
	}
	return closeLines(w.lines)
}
