// Package evdev turns key events from Linux input devices (/dev/input/event*)
// into button edges. Keyboards, remotes and rotary encoder push buttons all
// report through this interface.
package evdev

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/button-handler/internal/edge"
)

// Event types and key values from linux/input-event-codes.h.
const (
	EvSyn = 0x00
	EvKey = 0x01

	KeyReleased = 0
	KeyPressed  = 1
	KeyRepeat   = 2
)

// InputEvent mirrors struct input_event on 64-bit Linux:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type InputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// EventSize is the encoded size of one InputEvent.
var EventSize = binary.Size(InputEvent{})

// Time returns the kernel timestamp of the event.
func (e InputEvent) Time() time.Time {
	return time.Unix(e.Sec, e.Usec*int64(time.Microsecond))
}

// Decode parses every complete event in buf. Trailing partial records are
// ignored.
func Decode(buf []byte) ([]InputEvent, error) {
	n := len(buf) / EventSize
	if n == 0 {
		return nil, nil
	}
	events := make([]InputEvent, n)
	if err := binary.Read(bytes.NewReader(buf[:n*EventSize]), binary.LittleEndian, events); err != nil {
		return nil, fmt.Errorf("decode input events: %w", err)
	}
	return events, nil
}

// KeyMap maps key codes to button numbers.
type KeyMap map[uint16]int

// NewKeyMap assigns codes[i] to button i.
func NewKeyMap(codes []uint16) (KeyMap, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("at least one key code is required")
	}
	m := make(KeyMap, len(codes))
	for i, c := range codes {
		if prev, ok := m[c]; ok {
			return nil, fmt.Errorf("key code %d mapped to buttons %d and %d", c, prev, i)
		}
		m[c] = i
	}
	return m, nil
}

// Translate converts a key event into a button edge. Non-key events, unmapped
// codes and autorepeat report ok=false.
func (m KeyMap) Translate(ev InputEvent) (button int, pressed bool, ok bool) {
	if ev.Type != EvKey {
		return 0, false, false
	}
	button, ok = m[ev.Code]
	if !ok {
		return 0, false, false
	}
	switch ev.Value {
	case KeyPressed:
		return button, true, true
	case KeyReleased:
		return button, false, true
	default:
		return 0, false, false
	}
}

// Source reads input devices and pushes button edges into a queue.
// Edges are stamped by the queue on receipt, not with the kernel time, so
// they stay on the same clock as the run loop.
type Source struct {
	paths  []string
	keys   KeyMap
	queue  *edge.Queue
	logger *zap.SugaredLogger
}

// NewSource creates a source for the given device paths.
func NewSource(paths []string, codes []uint16, queue *edge.Queue, logger *zap.SugaredLogger) (*Source, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input devices provided")
	}
	keys, err := NewKeyMap(codes)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Source{paths: paths, keys: keys, queue: queue, logger: logger}, nil
}

// Buttons returns the number of mapped buttons.
func (s *Source) Buttons() int {
	return len(s.keys)
}

func (s *Source) handle(device string, ev InputEvent) {
	button, pressed, ok := s.keys.Translate(ev)
	if !ok {
		return
	}
	if !s.queue.Push(button, pressed) {
		s.logger.Warnw("edge queue full, dropping edge",
			"device", device, "button", button, "code", ev.Code)
		return
	}
	s.logger.Debugw("key edge",
		"device", device, "button", button, "pressed", pressed, "kernel_time", ev.Time())
}
