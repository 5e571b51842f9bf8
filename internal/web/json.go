package web

import (
	"encoding/json"
	"time"

	"github.com/sweeney/button-handler/internal/logic"
	"github.com/sweeney/button-handler/internal/status"
)

// Websocket message types.
const (
	MessageStatus = "status" // sent once on connect, data is status.StatusJSON
	MessageEvent  = "event"  // data is status.EventJSON
)

// Envelope is the websocket wire format.
type Envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

func marshalEnvelope(typ string, ts time.Time, data []byte) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Ts: ts.UTC(), Data: data})
}

// formatStatusMessage wraps the status JSON for the websocket.
func formatStatusMessage(snap status.Snapshot) ([]byte, error) {
	return marshalEnvelope(MessageStatus, snap.Now, status.FormatJSON(snap))
}

// FormatEventMessage wraps an event for the websocket.
func FormatEventMessage(e logic.Event) ([]byte, error) {
	data, err := json.Marshal(status.NewEventJSON(e))
	if err != nil {
		return nil, err
	}
	return marshalEnvelope(MessageEvent, e.Timestamp, data)
}
