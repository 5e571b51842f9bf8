// Package logic contains pure button press classification logic.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// Action is a classified press type.
type Action string

const (
	ActionShortPress  Action = "SHORT_PRESS"
	ActionLongPress   Action = "LONG_PRESS"
	ActionHold        Action = "HOLD"
	ActionDoublePress Action = "DOUBLE_PRESS"
	ActionTriplePress Action = "TRIPLE_PRESS"
	ActionMultiPress  Action = "MULTI_PRESS"
)

// Actions lists every action in a stable order.
var Actions = []Action{
	ActionShortPress,
	ActionLongPress,
	ActionHold,
	ActionDoublePress,
	ActionTriplePress,
	ActionMultiPress,
}

// Phase is the classifier state for a single button.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhasePressed Phase = "PRESSED"
	PhaseWaiting Phase = "WAITING" // released, waiting for a possible next press
)

// Event is a classified press to be dispatched.
type Event struct {
	Timestamp time.Time
	Button    int
	Action    Action
	// Count is the number of presses in the sequence that produced the event.
	Count int
}

// Label returns the event's wire label. Multi presses render as
// "<count>_MULTI_PRESS", everything else as the action name.
func (e Event) Label() string {
	if e.Action == ActionMultiPress {
		return fmt.Sprintf("%d_MULTI_PRESS", e.Count)
	}
	return string(e.Action)
}

func (e Event) String() string {
	return fmt.Sprintf("%s on button %d", e.Label(), e.Button)
}

// Input is a single polled sample of one button's logical level.
type Input struct {
	Pressed bool
	Time    time.Time
}

// Edge is a timestamped press or release reported by an event source.
// Edges are assumed to be debounced by the source.
type Edge struct {
	Button  int
	Pressed bool
	Time    time.Time
}

// ActionCounts tracks the number of each action since startup.
type ActionCounts struct {
	Short     int
	Long      int
	Hold      int
	Double    int
	Triple    int
	Multi     int
	Anomalies int
}

// Add returns the element-wise sum of c and o.
func (c ActionCounts) Add(o ActionCounts) ActionCounts {
	return ActionCounts{
		Short:     c.Short + o.Short,
		Long:      c.Long + o.Long,
		Hold:      c.Hold + o.Hold,
		Double:    c.Double + o.Double,
		Triple:    c.Triple + o.Triple,
		Multi:     c.Multi + o.Multi,
		Anomalies: c.Anomalies + o.Anomalies,
	}
}

func (c *ActionCounts) record(a Action) {
	switch a {
	case ActionShortPress:
		c.Short++
	case ActionLongPress:
		c.Long++
	case ActionHold:
		c.Hold++
	case ActionDoublePress:
		c.Double++
	case ActionTriplePress:
		c.Triple++
	case ActionMultiPress:
		c.Multi++
	}
}

// ButtonState is a point-in-time view of one classifier.
type ButtonState struct {
	Button     int
	Phase      Phase
	Pressed    bool
	Holding    bool
	PressCount int
	Baselined  bool
	Counts     ActionCounts
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    ActionCounts
}
