package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweeney/button-handler/internal/config"
	"github.com/sweeney/button-handler/internal/edge"
	"github.com/sweeney/button-handler/internal/gpio"
	"github.com/sweeney/button-handler/internal/logic"
	"github.com/sweeney/button-handler/internal/mqtt"
	"github.com/sweeney/button-handler/internal/status"
)

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.Type != "" || info.IP != "" || info.SSID != "" {
		t.Errorf("expected other fields empty, got %+v", info)
	}
}

// --- run loop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only called from the loop goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// manualClock is a settable clock shared with an edge queue.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// segment is a run of identical single-button samples.
type segment struct {
	pressed bool
	n       int
}

func up(n int) segment   { return segment{false, n} }
func down(n int) segment { return segment{true, n} }

func samples(segs ...segment) [][]bool {
	var out [][]bool
	for _, s := range segs {
		for i := 0; i < s.n; i++ {
			out = append(out, []bool{s.pressed})
		}
	}
	return out
}

// faultReader wraps a FakeReader and returns errors for a range of Read() calls.
type faultReader struct {
	inner      *gpio.FakeReader
	call       int
	faultStart int // first call index that returns error (inclusive)
	faultEnd   int // last call index that returns error (exclusive)
}

func (r *faultReader) Read() ([]bool, error) {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		return nil, errors.New("gpio fault")
	}
	return r.inner.Read()
}

func (r *faultReader) Close() error { return r.inner.Close() }

func testTiming() logic.Config {
	cfg := logic.DefaultConfig()
	cfg.Debounce = 20 * time.Millisecond
	return cfg
}

func newTestLoop(t *testing.T, pub *mqtt.FakePublisher, heartbeat time.Duration, clock func() time.Time) *loop {
	t.Helper()
	handler, err := logic.NewHandler(1, testTiming(), nil, testStart)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	tracker := status.NewTracker(testStart, status.Config{Mode: config.ModePoll})
	return &loop{
		handler:    handler,
		publisher:  pub,
		mqttStatus: pub,
		dispatcher: newDispatcher(pub, tracker, nil, nil),
		tracker:    tracker,
		logger:     zap.NewNop().Sugar(),
		heartbeat:  heartbeat,
		now:        clock,
	}
}

// drive runs the loop, sends nTicks ticks and then the signal.
func drive(t *testing.T, l *loop, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.run(tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not exit")
		return nil
	}
}

func runPolled(t *testing.T, pub *mqtt.FakePublisher, heartbeat, step time.Duration, levels [][]bool) *loop {
	t.Helper()
	l := newTestLoop(t, pub, heartbeat, fakeClock(testStart, step))
	l.reader = gpio.NewFakeReader(levels)
	if err := drive(t, l, len(levels), syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	return l
}

func expectLabels(t *testing.T, pub *mqtt.FakePublisher, want ...string) {
	t.Helper()
	got := pub.EventLabels()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestRunLoopNoEventsAtBaseline(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	runPolled(t, pub, 0, 10*time.Millisecond, samples(up(10)))

	expectLabels(t, pub)
	if names := pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Errorf("expected only SHUTDOWN, got %v", names)
	}
}

func TestRunLoopHeldAtStartup(t *testing.T) {
	// A button held at startup is swallowed, including its release.
	pub := mqtt.NewFakePublisher()
	runPolled(t, pub, 0, 10*time.Millisecond, samples(down(10), up(30)))
	expectLabels(t, pub)
}

func TestRunLoopShortPress(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	l := runPolled(t, pub, 0, 10*time.Millisecond, samples(up(3), down(10), up(30)))

	expectLabels(t, pub, "SHORT_PRESS")
	e := pub.Events[0]
	if e.Button != 0 || e.Count != 1 {
		t.Errorf("unexpected event: %+v", e)
	}
	// Settles when the gap window closes: release at 130ms + 175ms.
	if !e.Timestamp.After(testStart.Add(305 * time.Millisecond)) {
		t.Errorf("event settled too early: %v", e.Timestamp.Sub(testStart))
	}

	snap := l.tracker.Snapshot()
	if len(snap.Recent) != 1 || snap.Counts.Short != 1 {
		t.Errorf("tracker not updated: recent=%d counts=%+v", len(snap.Recent), snap.Counts)
	}
	if !snap.Baselined {
		t.Error("expected baselined")
	}
}

func TestRunLoopDoublePress(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	runPolled(t, pub, 0, 10*time.Millisecond, samples(up(3), down(10), up(5), down(10), up(30)))

	expectLabels(t, pub, "DOUBLE_PRESS")
	if pub.Events[0].Count != 2 {
		t.Errorf("expected count 2, got %d", pub.Events[0].Count)
	}
}

func TestRunLoopLongPress(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	runPolled(t, pub, 0, 10*time.Millisecond, samples(up(3), down(120), up(5)))

	expectLabels(t, pub, "HOLD", "LONG_PRESS")
}

func TestRunLoopBounceRejection(t *testing.T) {
	// A single-sample glitch is shorter than the debounce window.
	pub := mqtt.NewFakePublisher()
	runPolled(t, pub, 0, 10*time.Millisecond, samples(up(3), down(1), up(30)))
	expectLabels(t, pub)
}

func TestRunLoopGPIOErrorRecovery(t *testing.T) {
	inner := gpio.NewFakeReader(samples(up(3), down(10), up(30)))
	reader := &faultReader{
		inner:      inner,
		faultStart: 3, // calls 3,4,5 return error (after baseline)
		faultEnd:   6,
	}

	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, pub, 0, fakeClock(testStart, 10*time.Millisecond))
	l.reader = reader

	// 3 baseline + 3 errors + 40 recovery
	if err := drive(t, l, 46, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	expectLabels(t, pub, "SHORT_PRESS")
}

func TestRunLoopPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")

	l := runPolled(t, pub, 0, 10*time.Millisecond, samples(up(3), down(10), up(30)))

	snap := l.tracker.Snapshot()
	if len(snap.Recent) != 1 {
		t.Errorf("event should still be recorded, got %d", len(snap.Recent))
	}
	if snap.Callbacks.Failures != 1 {
		t.Errorf("expected 1 callback failure, got %+v", snap.Callbacks)
	}
	if names := pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN to still be published, got %v", names)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	// Ticks at 0, 5m, 10m, 15m, 20m, 25m, 30m: heartbeats at 15m and 30m.
	runPolled(t, pub, 15*time.Minute, 5*time.Minute, samples(up(7)))

	var hbs []mqtt.SystemEvent
	for _, se := range pub.SystemEvents {
		if se.Event == "HEARTBEAT" {
			hbs = append(hbs, se)
		}
	}
	if len(hbs) != 2 {
		t.Fatalf("expected 2 heartbeats, got %d (%v)", len(hbs), pub.SystemEventNames())
	}
	if !hbs[0].Timestamp.Equal(testStart.Add(15 * time.Minute)) {
		t.Errorf("unexpected first heartbeat time %v", hbs[0].Timestamp)
	}
	if hbs[0].Retained {
		t.Error("heartbeats should not be retained")
	}
	if len(hbs[0].RawPayload) == 0 {
		t.Error("expected heartbeat to carry a status payload")
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")

	pub := mqtt.NewFakePublisher()
	l := runPolled(t, pub, 15*time.Minute, 5*time.Minute, samples(up(4)))

	net := l.tracker.Snapshot().Network
	if net == nil {
		t.Fatal("expected network info after heartbeat")
	}
	if net.IP != "192.168.1.42" || net.Type != "wifi" {
		t.Errorf("unexpected network info: %+v", net)
	}

	var found bool
	for _, p := range pub.SystemPayloads {
		if strings.Contains(string(p), `"HEARTBEAT"`) && strings.Contains(string(p), `"192.168.1.42"`) {
			found = true
		}
	}
	if !found {
		t.Error("expected heartbeat payload with network info")
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	for _, tt := range []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	} {
		t.Run(tt.want, func(t *testing.T) {
			pub := mqtt.NewFakePublisher()
			l := newTestLoop(t, pub, 0, fakeClock(testStart, time.Second))
			l.reader = gpio.NewFakeReader(samples(up(1)))
			if err := drive(t, l, 0, tt.sig); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
			}
			se := pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" || se.Reason != tt.want || !se.Retained {
				t.Errorf("unexpected shutdown event: %+v", se)
			}
		})
	}
}

func TestRunLoopInputFailure(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, pub, 0, fakeClock(testStart, time.Second))
	l.edges = edge.NewQueue(4, nil)
	failed := make(chan error, 1)
	l.failed = failed

	boom := errors.New("device unplugged")
	failed <- boom
	err := l.run(make(chan time.Time), make(chan os.Signal))
	if !errors.Is(err, boom) {
		t.Fatalf("expected input error, got %v", err)
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Reason != "INPUT_ERROR" {
		t.Errorf("expected SHUTDOWN with INPUT_ERROR, got %+v", pub.SystemEvents)
	}
}

func TestRunLoopEdges(t *testing.T) {
	clock := &manualClock{t: testStart}
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, pub, 0, clock.now)
	l.edges = edge.NewQueue(16, clock.now)

	// Two quick presses, queued before the loop starts.
	l.edges.Push(0, true)
	clock.set(testStart.Add(80 * time.Millisecond))
	l.edges.Push(0, false)
	clock.set(testStart.Add(150 * time.Millisecond))
	l.edges.Push(0, true)
	clock.set(testStart.Add(230 * time.Millisecond))
	l.edges.Push(0, false)
	clock.set(testStart.Add(time.Second))

	if err := drive(t, l, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	expectLabels(t, pub, "DOUBLE_PRESS")
	if !pub.Events[0].Timestamp.Equal(testStart.Add(time.Second)) {
		t.Errorf("expected event settled at drain time, got %v", pub.Events[0].Timestamp)
	}
}

func TestRunLoopEdgeOverflowResets(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	clock := &manualClock{t: testStart}
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, pub, 0, clock.now)
	l.logger = zap.New(core).Sugar()
	l.edges = edge.NewQueue(2, clock.now)

	for i := 0; i < 4; i++ {
		clock.set(testStart.Add(time.Duration(i) * 50 * time.Millisecond))
		l.edges.Push(0, i%2 == 0)
	}
	clock.set(testStart.Add(time.Second))

	if err := drive(t, l, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	// The surviving press cannot be classified without the lost edges.
	expectLabels(t, pub)
	if got := l.tracker.Snapshot().DroppedEdges; got != 2 {
		t.Errorf("expected 2 dropped edges, got %d", got)
	}
	if n := logs.FilterMessage("edge queue overflow, classifier reset").Len(); n != 1 {
		t.Errorf("expected 1 overflow log, got %d", n)
	}
}

func TestDispatcherOrderAndBindings(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(testStart, status.Config{})
	d := newDispatcher(pub, tracker, nil, nil)

	cfg := config.DefaultConfig()
	cfg.Bindings = []config.BindingConfig{{Name: "lamp", Action: "LONG_PRESS", Topic: "lamp/set", Payload: "ON"}}
	if err := applyBindings(cfg, d, pub, tracker); err != nil {
		t.Fatalf("applyBindings: %v", err)
	}
	// Reloading replaces rather than appends.
	if err := applyBindings(cfg, d, pub, tracker); err != nil {
		t.Fatalf("applyBindings: %v", err)
	}

	e := logic.Event{Timestamp: testStart, Button: 0, Action: logic.ActionLongPress, Count: 1}
	if errs := d.Dispatch([]logic.Event{e}); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if len(pub.Events) != 1 {
		t.Errorf("expected 1 published event, got %d", len(pub.Events))
	}
	if len(pub.Raw) != 1 || pub.Raw[0].Topic != "lamp/set" || string(pub.Raw[0].Payload) != "ON" {
		t.Errorf("unexpected binding output: %+v", pub.Raw)
	}
	snap := tracker.Snapshot()
	if len(snap.Recent) != 1 {
		t.Errorf("expected event recorded, got %d", len(snap.Recent))
	}
	if snap.Config.Bindings != 1 {
		t.Errorf("expected 1 binding in status, got %d", snap.Config.Bindings)
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("", config.FlagOverrides{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if cfg.Input.Mode != config.ModePoll {
		t.Errorf("expected poll mode, got %q", cfg.Input.Mode)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("mqtt:\n  broker: tcp://file:1883\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	broker := "tcp://flag:1883"
	cfg, err = loadConfig(path, config.FlagOverrides{Broker: &broker})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MQTT.Broker != broker {
		t.Errorf("flag should override file, got %q", cfg.MQTT.Broker)
	}

	level := "noisy"
	if _, err := loadConfig(path, config.FlagOverrides{LogLevel: &level}); err == nil {
		t.Error("expected validation error")
	}
}

func TestStatusConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	sc := statusConfig(cfg)
	if sc.Mode != config.ModePoll || sc.PollMs != 10 || sc.ShortPressMaxMs != 500 || sc.LongPressMinMs != 1000 {
		t.Errorf("unexpected status config: %+v", sc)
	}
	if sc.HeartbeatMs != 900000 {
		t.Errorf("expected 15m heartbeat, got %d", sc.HeartbeatMs)
	}
}
