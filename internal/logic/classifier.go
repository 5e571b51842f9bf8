package logic

import (
	"errors"
	"fmt"
	"time"
)

// Classifier turns the input of one button into classified press events.
//
// It can be driven by polled level samples (Process) or by edge events
// (ProcessEdge), plus Tick to let timeouts settle. Use one input path per
// classifier. Not safe for concurrent use.
type Classifier struct {
	button int
	cfg    Config

	// Debounce state for polled input.
	stable       bool // accepted (debounced) level
	hasPending   bool
	pendingLevel bool
	pendingSince time.Time
	baselined    bool

	lastSample time.Time
	sampled    bool

	phase      Phase
	pressStart time.Time
	releasedAt time.Time
	count      int
	holding    bool
	// suppressRelease swallows the release of a press the classifier never
	// saw start (held at startup or across a reset).
	suppressRelease bool

	counts ActionCounts
}

// NewClassifier creates a classifier for the given button.
func NewClassifier(button int, cfg Config) (*Classifier, error) {
	if button < 0 {
		return nil, fmt.Errorf("button number must be non-negative, got %d", button)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		button: button,
		cfg:    cfg,
		phase:  PhaseIdle,
	}, nil
}

// Process takes a new polled sample and returns any events that settled.
// No events are returned until a stable baseline level has been observed.
// A non-nil error wraps one or more *AnomalyError; events returned alongside
// it are valid.
func (c *Classifier) Process(in Input) ([]Event, error) {
	if err := c.checkClock(in.Time, true); err != nil {
		if errors.Is(err, ErrClockWentBackwards) {
			return nil, err
		}
		// Missed samples: state is reset, the level itself is still good.
		events, lerr := c.processLevel(in)
		if lerr != nil {
			return events, errors.Join(err, lerr)
		}
		return events, err
	}
	return c.processLevel(in)
}

func (c *Classifier) processLevel(in Input) ([]Event, error) {
	var events []Event
	var err error

	if at, ok := c.debounce(in.Pressed, in.Time); ok {
		events, err = c.applyEdge(in.Pressed, at, events)
	}
	events = c.advance(c.horizon(in.Time), events)
	return events, err
}

// ProcessEdge applies an edge reported by an event source and returns any
// events that settled. Edges are not debounced.
func (c *Classifier) ProcessEdge(e Edge) ([]Event, error) {
	if err := c.checkClock(e.Time, false); err != nil {
		return nil, err
	}
	c.baselined = true
	c.stable = e.Pressed

	events, err := c.applyEdge(e.Pressed, e.Time, nil)
	events = c.advance(e.Time, events)
	return events, err
}

// Tick evaluates timeouts (hold reached, gap window expired) at now.
// It never emits anything that is not yet due, and a second Tick at the same
// time emits nothing.
func (c *Classifier) Tick(now time.Time) ([]Event, error) {
	if err := c.checkClock(now, false); err != nil {
		return nil, err
	}
	return c.advance(c.horizon(now), nil), nil
}

// checkClock rejects timestamps older than the previous one and, for polled
// samples, gaps longer than MaxSampleGap.
func (c *Classifier) checkClock(t time.Time, sample bool) error {
	if !c.sampled {
		c.sampled = true
		c.lastSample = t
		return nil
	}

	prev := c.lastSample
	if t.Before(prev) {
		c.Reset()
		return c.anomaly(t, fmt.Errorf("%w: %v before %v", ErrClockWentBackwards,
			t.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano)))
	}
	c.lastSample = t

	if sample && c.cfg.MaxSampleGap > 0 && t.Sub(prev) > c.cfg.MaxSampleGap {
		c.Reset()
		return c.anomaly(t, fmt.Errorf("%w: %v since last sample", ErrMissedSamples, t.Sub(prev)))
	}
	return nil
}

// debounce feeds a raw level into the debouncer. It reports whether a stable
// transition happened and the time the new level was first seen.
func (c *Classifier) debounce(level bool, now time.Time) (time.Time, bool) {
	if c.baselined && level == c.stable {
		// Back to the stable level, drop any pending change
		c.hasPending = false
		return time.Time{}, false
	}

	if !c.hasPending || c.pendingLevel != level {
		c.hasPending = true
		c.pendingLevel = level
		c.pendingSince = now
	}

	if now.Sub(c.pendingSince) < c.cfg.Debounce {
		return time.Time{}, false
	}

	at := c.pendingSince
	c.hasPending = false
	c.stable = level

	if !c.baselined {
		c.baselined = true
		c.suppressRelease = level
		return time.Time{}, false
	}
	return at, true
}

// horizon is the latest time the current state is known to hold. While a
// level change is still debouncing, nothing after its start is certain.
func (c *Classifier) horizon(now time.Time) time.Time {
	if c.baselined && c.hasPending && c.pendingSince.Before(now) {
		return c.pendingSince
	}
	return now
}

func (c *Classifier) applyEdge(pressed bool, at time.Time, events []Event) ([]Event, error) {
	if pressed {
		// A sequence whose window closed before this press settles first.
		events = c.advance(at, events)

		switch c.phase {
		case PhaseIdle:
			c.count = 0
			fallthrough
		case PhaseWaiting:
			c.phase = PhasePressed
			c.pressStart = at
			c.count++
			c.holding = false
			c.suppressRelease = false
			return events, nil
		default:
			c.Reset()
			c.suppressRelease = true
			return events, c.anomaly(at, fmt.Errorf("%w: press while already pressed", ErrUnexpectedEdge))
		}
	}

	if c.phase != PhasePressed {
		if c.suppressRelease {
			c.suppressRelease = false
			return events, nil
		}
		phase := c.phase
		c.Reset()
		return events, c.anomaly(at, fmt.Errorf("%w: release while %s", ErrUnexpectedEdge, phase))
	}

	hold := at.Sub(c.pressStart)
	switch {
	case hold >= c.cfg.LongPressMin:
		events = c.flushEarlier(at, events)
		events = c.emit(events, at, ActionLongPress, 1)
		c.idle()
		return events, nil

	case hold < c.cfg.ShortPressMax:
		if !c.cfg.EnableMultiPress {
			events = c.emit(events, at, ActionShortPress, 1)
			c.idle()
			return events, nil
		}
		if c.cfg.MaxMultiPress > 0 && c.count >= c.cfg.MaxMultiPress {
			events = c.emit(events, at, ActionForCount(c.count), c.count)
			c.idle()
			return events, nil
		}
		c.phase = PhaseWaiting
		c.releasedAt = at
		return events, nil

	default:
		// Too long to wait for followers, too short for a long press: it still
		// counts as a press and closes the sequence.
		events = c.emit(events, at, ActionForCount(c.count), c.count)
		c.idle()
		return events, nil
	}
}

// advance settles whatever timeouts are due at now.
func (c *Classifier) advance(now time.Time, events []Event) []Event {
	switch c.phase {
	case PhasePressed:
		if !c.holding && now.Sub(c.pressStart) >= c.cfg.LongPressMin {
			c.holding = true
			events = c.emit(events, now, ActionHold, 1)
		}
	case PhaseWaiting:
		if now.Sub(c.releasedAt) > c.cfg.MultiPressInterval {
			events = c.emit(events, now, ActionForCount(c.count), c.count)
			c.idle()
		}
	}
	return events
}

// flushEarlier emits the short presses that preceded the current press in
// the same sequence.
func (c *Classifier) flushEarlier(at time.Time, events []Event) []Event {
	if n := c.count - 1; n > 0 {
		events = c.emit(events, at, ActionForCount(n), n)
	}
	return events
}

// emit appends an event and counts it. An event already settled in the same
// call is dropped before it is counted.
func (c *Classifier) emit(events []Event, at time.Time, action Action, count int) []Event {
	for _, e := range events {
		if e.Action == action && e.Count == count {
			return events
		}
	}
	c.counts.record(action)
	return append(events, Event{
		Timestamp: at,
		Button:    c.button,
		Action:    action,
		Count:     count,
	})
}

func (c *Classifier) anomaly(at time.Time, err error) error {
	c.counts.Anomalies++
	return &AnomalyError{Button: c.button, Time: at, Err: err}
}

// Reset abandons any in-flight sequence and returns to idle. If the button is
// still down, its release is ignored.
func (c *Classifier) Reset() {
	down := c.phase == PhasePressed || (c.baselined && c.stable)
	c.idle()
	c.hasPending = false
	c.suppressRelease = down
}

// idle ends the current sequence normally.
func (c *Classifier) idle() {
	c.phase = PhaseIdle
	c.count = 0
	c.holding = false
	c.suppressRelease = false
	c.pressStart = time.Time{}
	c.releasedAt = time.Time{}
}

// Button returns the button number.
func (c *Classifier) Button() int {
	return c.button
}

// Config returns the classifier's thresholds.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Phase returns the current state machine phase.
func (c *Classifier) Phase() Phase {
	return c.phase
}

// IsPressed reports whether the button is currently down.
func (c *Classifier) IsPressed() bool {
	return c.phase == PhasePressed
}

// IsHolding reports whether the current press has passed LongPressMin.
func (c *Classifier) IsHolding() bool {
	return c.holding
}

// PressCount returns the number of presses in the in-flight sequence.
func (c *Classifier) PressCount() int {
	return c.count
}

// IsBaselined reports whether a stable level has been observed.
func (c *Classifier) IsBaselined() bool {
	return c.baselined
}

// Counts returns the action counters since creation.
func (c *Classifier) Counts() ActionCounts {
	return c.counts
}

// State returns a point-in-time view of the classifier.
func (c *Classifier) State() ButtonState {
	return ButtonState{
		Button:     c.button,
		Phase:      c.phase,
		Pressed:    c.IsPressed(),
		Holding:    c.holding,
		PressCount: c.count,
		Baselined:  c.baselined,
		Counts:     c.counts,
	}
}
