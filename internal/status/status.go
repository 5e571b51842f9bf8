// Package status provides a thread-safe status tracker for the button-handler daemon.
// It is read by HTTP handlers and used to build MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/button-handler/internal/logic"
)

// maxRecent is the number of recent events kept for display.
const maxRecent = 20

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Mode            string // poll, edge or evdev
	PollMs          int64
	DebounceMs      int64
	ShortPressMaxMs int64
	LongPressMinMs  int64
	MultiPressMs    int64
	HeartbeatMs     int64
	Broker          string
	TopicPrefix     string
	HTTPAddr        string
	Bindings        int
}

// CallbackStats mirrors the dispatcher counters.
type CallbackStats struct {
	Invocations int
	Failures    int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Buttons       []logic.ButtonState
	Baselined     bool
	Counts        logic.ActionCounts
	Recent        []logic.Event // oldest first
	Callbacks     CallbackStats
	DroppedEdges  int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets per-button state, baseline status, and action counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(buttons []logic.ButtonState, baselined bool, counts logic.ActionCounts) {
	cp := make([]logic.ButtonState, len(buttons))
	copy(cp, buttons)

	t.mu.Lock()
	t.snap.Buttons = cp
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// RecordEvents appends events to the recent event list, keeping the newest.
func (t *Tracker) RecordEvents(events []logic.Event) {
	if len(events) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	recent := append(t.snap.Recent, events...)
	if len(recent) > maxRecent {
		recent = recent[len(recent)-maxRecent:]
	}
	// Copy so earlier snapshots never share the backing array.
	t.snap.Recent = append([]logic.Event(nil), recent...)
}

// SetCallbackStats records dispatcher counters.
func (t *Tracker) SetCallbackStats(s CallbackStats) {
	t.mu.Lock()
	t.snap.Callbacks = s
	t.mu.Unlock()
}

// AddDroppedEdges adds to the count of edges lost to queue overflow.
func (t *Tracker) AddDroppedEdges(n int) {
	t.mu.Lock()
	t.snap.DroppedEdges += n
	t.mu.Unlock()
}

// SetBindings records the number of configured bindings.
func (t *Tracker) SetBindings(n int) {
	t.mu.Lock()
	t.snap.Config.Bindings = n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
