package evdev

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweeney/button-handler/internal/edge"
)

func encode(t *testing.T, events ...InputEvent) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, ev := range events {
		if err := binary.Write(&buf, binary.LittleEndian, ev); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return buf.Bytes()
}

func key(code uint16, value int32) InputEvent {
	return InputEvent{Sec: 1700000000, Usec: 250000, Type: EvKey, Code: code, Value: value}
}

func TestEventSize(t *testing.T) {
	if EventSize != 24 {
		t.Errorf("expected 24-byte input_event, got %d", EventSize)
	}
}

func TestDecode(t *testing.T) {
	buf := encode(t,
		key(28, KeyPressed),
		InputEvent{Type: EvSyn},
		key(28, KeyReleased),
	)
	// Trailing partial record
	buf = append(buf, 0x01, 0x02, 0x03)

	events, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0] != key(28, KeyPressed) {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != EvSyn {
		t.Errorf("expected SYN event, got %+v", events[1])
	}

	want := time.Unix(1700000000, 250*int64(time.Millisecond))
	if !events[0].Time().Equal(want) {
		t.Errorf("Time(): got %v, want %v", events[0].Time(), want)
	}

	if events, _ := Decode(buf[:10]); events != nil {
		t.Errorf("expected no events from short buffer, got %v", events)
	}
}

func TestNewKeyMap(t *testing.T) {
	m, err := NewKeyMap([]uint16{28, 57})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m[28] != 0 || m[57] != 1 {
		t.Errorf("unexpected map: %v", m)
	}

	if _, err := NewKeyMap(nil); err == nil {
		t.Error("expected error for empty key list")
	}
	if _, err := NewKeyMap([]uint16{28, 28}); err == nil {
		t.Error("expected error for duplicate key code")
	}
}

func TestTranslate(t *testing.T) {
	m, _ := NewKeyMap([]uint16{28, 57})

	tests := []struct {
		name        string
		ev          InputEvent
		wantButton  int
		wantPressed bool
		wantOK      bool
	}{
		{"press", key(57, KeyPressed), 1, true, true},
		{"release", key(28, KeyReleased), 0, false, true},
		{"autorepeat ignored", key(28, KeyRepeat), 0, false, false},
		{"unmapped code", key(30, KeyPressed), 0, false, false},
		{"not a key event", InputEvent{Type: EvSyn, Code: 28, Value: 1}, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			button, pressed, ok := m.Translate(tt.ev)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if button != tt.wantButton || pressed != tt.wantPressed {
				t.Errorf("got (%d, %v), want (%d, %v)", button, pressed, tt.wantButton, tt.wantPressed)
			}
		})
	}
}

func TestSourceHandle(t *testing.T) {
	q := edge.NewQueue(1, nil)
	core, logs := observer.New(zapcore.WarnLevel)
	s, err := NewSource([]string{"/dev/input/event0"}, []uint16{28}, q, zap.New(core).Sugar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Buttons() != 1 {
		t.Errorf("expected 1 button, got %d", s.Buttons())
	}

	s.handle("event0", key(28, KeyPressed))
	s.handle("event0", key(28, KeyRepeat))
	s.handle("event0", key(28, KeyReleased)) // over capacity

	b := q.Drain()
	if len(b.Edges) != 1 || !b.Edges[0].Pressed || b.Edges[0].Button != 0 {
		t.Errorf("unexpected edges: %+v", b.Edges)
	}
	if b.Dropped != 1 {
		t.Errorf("expected 1 dropped edge, got %d", b.Dropped)
	}
	if logs.FilterMessage("edge queue full, dropping edge").Len() != 1 {
		t.Error("expected dropped edge to be logged")
	}
}

func TestNewSourceErrors(t *testing.T) {
	q := edge.NewQueue(4, nil)
	if _, err := NewSource(nil, []uint16{28}, q, nil); err == nil {
		t.Error("expected error with no devices")
	}
	if _, err := NewSource([]string{"/dev/input/event0"}, nil, q, nil); err == nil {
		t.Error("expected error with no key codes")
	}
}
