// Package dispatch routes classified button events to registered callbacks.
package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sweeney/button-handler/internal/logic"
)

// AnyButton matches events from every button.
const AnyButton = -1

// ErrCallbackPanic is wrapped by the error reported for a callback that panicked.
var ErrCallbackPanic = errors.New("callback panicked")

// Callback handles one event. A returned error is logged and reported by
// Dispatch but does not stop other callbacks.
type Callback func(logic.Event) error

// Binding ties a callback to an action on one or all buttons.
type Binding struct {
	// Name identifies the binding in logs and errors.
	Name string
	// Group lets a set of bindings be swapped as a unit with Replace.
	Group string
	// Button is the button number, or AnyButton.
	Button int
	Action logic.Action
	// Count restricts MULTI_PRESS bindings to an exact press count. Zero matches any.
	Count    int
	Callback Callback
}

func (b Binding) matches(e logic.Event) bool {
	if b.Action != e.Action {
		return false
	}
	if b.Button != AnyButton && b.Button != e.Button {
		return false
	}
	return b.Count == 0 || b.Count == e.Count
}

// CallbackError reports a failed callback invocation.
type CallbackError struct {
	Binding string
	Event   logic.Event
	Err     error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %q for %s: %v", e.Binding, e.Event, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Stats counts callback invocations since creation.
type Stats struct {
	Dispatched  int // events passed to Dispatch
	Invocations int
	Failures    int
}

// Dispatcher maps actions to ordered callback lists.
// It is safe for concurrent use; callbacks run on the caller of Dispatch.
type Dispatcher struct {
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	bindings []Binding
	stats    Stats
}

// New creates an empty dispatcher.
func New(logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{logger: logger}
}

// Register adds a callback for action on any button.
func (d *Dispatcher) Register(action logic.Action, cb Callback) {
	d.Add(Binding{Name: string(action), Button: AnyButton, Action: action, Callback: cb})
}

// RegisterButton adds a callback for action on one button.
func (d *Dispatcher) RegisterButton(button int, action logic.Action, cb Callback) {
	d.Add(Binding{
		Name:     fmt.Sprintf("%s/%d", action, button),
		Button:   button,
		Action:   action,
		Callback: cb,
	})
}

// Add appends a binding. Bindings run in the order they were added.
func (d *Dispatcher) Add(b Binding) {
	if b.Callback == nil {
		return
	}
	d.mu.Lock()
	d.bindings = append(d.bindings, b)
	d.mu.Unlock()
}

// Replace drops every binding in group and appends bindings in its place,
// tagging each with the group. Bindings from other groups keep their order.
func (d *Dispatcher) Replace(group string, bindings []Binding) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := make([]Binding, 0, len(d.bindings)+len(bindings))
	for _, b := range d.bindings {
		if b.Group != group {
			kept = append(kept, b)
		}
	}
	for _, b := range bindings {
		if b.Callback == nil {
			continue
		}
		b.Group = group
		kept = append(kept, b)
	}
	d.bindings = kept
	d.logger.Infow("bindings replaced", "group", group, "count", len(bindings))
}

// Len returns the number of registered bindings.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.bindings)
}

// Dispatch invokes every matching callback for each event, in registration
// order. Failures are isolated per callback: they are logged and returned,
// and never stop the remaining callbacks.
func (d *Dispatcher) Dispatch(events []logic.Event) []error {
	if len(events) == 0 {
		return nil
	}

	d.mu.RLock()
	bindings := d.bindings
	d.mu.RUnlock()

	var errs []error
	invocations := 0
	for _, e := range events {
		for _, b := range bindings {
			if !b.matches(e) {
				continue
			}
			invocations++
			if err := invoke(b.Callback, e); err != nil {
				cerr := &CallbackError{Binding: b.Name, Event: e, Err: err}
				d.logger.Warnw("callback failed",
					"binding", b.Name,
					"button", e.Button,
					"action", e.Label(),
					"error", err)
				errs = append(errs, cerr)
			}
		}
	}

	d.mu.Lock()
	d.stats.Dispatched += len(events)
	d.stats.Invocations += invocations
	d.stats.Failures += len(errs)
	d.mu.Unlock()

	return errs
}

// Stats returns the invocation counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

func invoke(cb Callback, e logic.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return cb(e)
}
