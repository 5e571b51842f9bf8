package logic

import (
	"errors"
	"fmt"
	"time"
)

// Handler owns one classifier per button and merges their output into a
// single event set.
type Handler struct {
	classifiers   []*Classifier
	startTime     time.Time
	lastHeartbeat time.Time
}

// NewHandler creates a handler for buttons numbered 0..buttons-1. Buttons
// listed in overrides use their own thresholds, the rest use defaults.
// The startTime is used for calculating uptime in heartbeat events.
func NewHandler(buttons int, defaults Config, overrides map[int]Config, startTime time.Time) (*Handler, error) {
	if buttons < 1 {
		return nil, fmt.Errorf("button count must be at least 1, got %d", buttons)
	}
	for n := range overrides {
		if n < 0 || n >= buttons {
			return nil, fmt.Errorf("config for button %d, but only %d buttons", n, buttons)
		}
	}

	h := &Handler{
		classifiers:   make([]*Classifier, buttons),
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
	for i := range h.classifiers {
		cfg, ok := overrides[i]
		if !ok {
			cfg = defaults
		}
		c, err := NewClassifier(i, cfg)
		if err != nil {
			return nil, fmt.Errorf("button %d: %w", i, err)
		}
		h.classifiers[i] = c
	}
	return h, nil
}

// Process takes one polled level per button, in button order.
// Anomalies from several buttons are joined; events are valid either way.
func (h *Handler) Process(levels []bool, t time.Time) ([]Event, error) {
	if len(levels) != len(h.classifiers) {
		return nil, fmt.Errorf("got %d levels for %d buttons", len(levels), len(h.classifiers))
	}

	var events []Event
	var errs []error
	for i, c := range h.classifiers {
		ev, err := c.Process(Input{Pressed: levels[i], Time: t})
		events = append(events, ev...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return events, errors.Join(errs...)
}

// ProcessEdge routes an edge to its button.
func (h *Handler) ProcessEdge(e Edge) ([]Event, error) {
	c, err := h.Classifier(e.Button)
	if err != nil {
		return nil, err
	}
	events, err := c.ProcessEdge(e)
	return events, err
}

// Tick evaluates timeouts on every button.
func (h *Handler) Tick(now time.Time) ([]Event, error) {
	var events []Event
	var errs []error
	for _, c := range h.classifiers {
		ev, err := c.Tick(now)
		events = append(events, ev...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return events, errors.Join(errs...)
}

// Reset abandons every in-progress sequence. Use it when input was lost,
// e.g. after an edge queue overflow.
func (h *Handler) Reset() {
	for _, c := range h.classifiers {
		c.Reset()
	}
}

// Classifier returns the classifier for button n.
func (h *Handler) Classifier(n int) (*Classifier, error) {
	if n < 0 || n >= len(h.classifiers) {
		return nil, fmt.Errorf("unknown button %d", n)
	}
	return h.classifiers[n], nil
}

// Buttons returns the number of buttons.
func (h *Handler) Buttons() int {
	return len(h.classifiers)
}

// IsBaselined reports whether every button has a stable baseline.
func (h *Handler) IsBaselined() bool {
	for _, c := range h.classifiers {
		if !c.IsBaselined() {
			return false
		}
	}
	return true
}

// States returns a view of every button, in button order.
func (h *Handler) States() []ButtonState {
	out := make([]ButtonState, len(h.classifiers))
	for i, c := range h.classifiers {
		out[i] = c.State()
	}
	return out
}

// Counts returns the action counters summed over all buttons.
func (h *Handler) Counts() ActionCounts {
	var total ActionCounts
	for _, c := range h.classifiers {
		total = total.Add(c.Counts())
	}
	return total
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed or
// if interval is <= 0 (disabled).
func (h *Handler) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(h.lastHeartbeat) < interval {
		return nil
	}

	h.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(h.startTime),
		Counts:    h.Counts(),
	}
}
