package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/button-handler/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Ready         bool          `json:"ready"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Buttons       []ButtonJSON  `json:"buttons"`
	Counts        CountsJSON    `json:"action_counts"`
	Callbacks     CallbacksJSON `json:"callbacks"`
	DroppedEdges  int           `json:"dropped_edges,omitempty"`
	Recent        []EventJSON   `json:"recent_events,omitempty"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ButtonJSON is the JSON representation of one button.
type ButtonJSON struct {
	Button     int    `json:"button"`
	Phase      string `json:"phase"`
	Pressed    bool   `json:"pressed"`
	Holding    bool   `json:"holding"`
	PressCount int    `json:"press_count"`
	Ready      bool   `json:"ready"`
}

// CountsJSON is the JSON representation of action counts.
type CountsJSON struct {
	Short     int `json:"short_press"`
	Long      int `json:"long_press"`
	Hold      int `json:"hold"`
	Double    int `json:"double_press"`
	Triple    int `json:"triple_press"`
	Multi     int `json:"multi_press"`
	Anomalies int `json:"anomalies"`
}

// CallbacksJSON is the JSON representation of dispatcher counters.
type CallbacksJSON struct {
	Invocations int `json:"invocations"`
	Failures    int `json:"failures"`
}

// EventJSON is the JSON representation of a classified event.
type EventJSON struct {
	Timestamp string `json:"timestamp"`
	Button    int    `json:"button"`
	Action    string `json:"action"`
	Label     string `json:"label"`
	Count     int    `json:"count"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode            string `json:"mode"`
	PollMs          int64  `json:"poll_ms"`
	DebounceMs      int64  `json:"debounce_ms"`
	ShortPressMaxMs int64  `json:"short_press_max_ms"`
	LongPressMinMs  int64  `json:"long_press_min_ms"`
	MultiPressMs    int64  `json:"multi_press_interval_ms"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	Broker          string `json:"broker"`
	TopicPrefix     string `json:"topic_prefix"`
	HTTPAddr        string `json:"http_addr"`
	Bindings        int    `json:"bindings"`
}

// NewEventJSON converts an event for JSON output.
func NewEventJSON(e logic.Event) EventJSON {
	return EventJSON{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Button:    e.Button,
		Action:    string(e.Action),
		Label:     e.Label(),
		Count:     e.Count,
	}
}

func buildInner(snap Snapshot) StatusInner {
	buttons := make([]ButtonJSON, len(snap.Buttons))
	for i, b := range snap.Buttons {
		phase := string(b.Phase)
		if !b.Baselined {
			phase = "UNKNOWN"
		}
		buttons[i] = ButtonJSON{
			Button:     b.Button,
			Phase:      phase,
			Pressed:    b.Pressed,
			Holding:    b.Holding,
			PressCount: b.PressCount,
			Ready:      b.Baselined,
		}
	}

	var recent []EventJSON
	for _, e := range snap.Recent {
		recent = append(recent, NewEventJSON(e))
	}

	return StatusInner{
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Buttons:       buttons,
		Counts: CountsJSON{
			Short:     snap.Counts.Short,
			Long:      snap.Counts.Long,
			Hold:      snap.Counts.Hold,
			Double:    snap.Counts.Double,
			Triple:    snap.Counts.Triple,
			Multi:     snap.Counts.Multi,
			Anomalies: snap.Counts.Anomalies,
		},
		Callbacks:    CallbacksJSON{Invocations: snap.Callbacks.Invocations, Failures: snap.Callbacks.Failures},
		DroppedEdges: snap.DroppedEdges,
		Recent:       recent,
		Config: ConfigJSON{
			Mode:            snap.Config.Mode,
			PollMs:          snap.Config.PollMs,
			DebounceMs:      snap.Config.DebounceMs,
			ShortPressMaxMs: snap.Config.ShortPressMaxMs,
			LongPressMinMs:  snap.Config.LongPressMinMs,
			MultiPressMs:    snap.Config.MultiPressMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			Broker:          snap.Config.Broker,
			TopicPrefix:     snap.Config.TopicPrefix,
			HTTPAddr:        snap.Config.HTTPAddr,
			Bindings:        snap.Config.Bindings,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// Recent events are left out to keep retained messages small.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	inner.Recent = nil
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
