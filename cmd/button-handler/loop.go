package main

import (
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/button-handler/internal/dispatch"
	"github.com/sweeney/button-handler/internal/edge"
	"github.com/sweeney/button-handler/internal/gpio"
	"github.com/sweeney/button-handler/internal/logic"
	"github.com/sweeney/button-handler/internal/mqtt"
	"github.com/sweeney/button-handler/internal/status"
)

// loop owns the classifier. Everything it touches runs on one goroutine.
type loop struct {
	handler    *logic.Handler
	reader     gpio.Reader // poll mode
	edges      *edge.Queue // edge and evdev modes
	failed     <-chan error
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	dispatcher *dispatch.Dispatcher
	tracker    *status.Tracker
	logger     *zap.SugaredLogger
	heartbeat  time.Duration
	now        func() time.Time
}

// run processes input until a signal arrives or the input source fails.
// Each tick samples the GPIO lines in poll mode, or settles timeouts in edge
// modes.
func (l *loop) run(tick <-chan time.Time, sig <-chan os.Signal) error {
	var edgeC <-chan struct{}
	if l.edges != nil {
		edgeC = l.edges.C()
	}

	for {
		select {
		case s := <-sig:
			l.logger.Infow("shutting down", "signal", s.String())
			l.publishStatus("SHUTDOWN", signalName(s), true)
			return nil

		case err := <-l.failed:
			l.logger.Errorw("input source failed", "error", err)
			l.publishStatus("SHUTDOWN", "INPUT_ERROR", true)
			return err

		case <-edgeC:
			l.step(l.drainEdges())

		case <-tick:
			if l.edges != nil {
				l.step(l.drainEdges())
				continue
			}
			t, events, err := l.poll()
			if err != nil {
				l.logger.Warnw("gpio read error", "error", err)
				continue
			}
			l.step(t, events)
		}
	}
}

func (l *loop) poll() (time.Time, []logic.Event, error) {
	t := l.now()
	levels, err := l.reader.Read()
	if err != nil {
		return t, nil, err
	}
	events, err := l.handler.Process(levels, t)
	l.anomaly(err)
	return t, events, nil
}

// drainEdges applies queued edges, then settles timeouts at the drain time.
// Edges pushed after the drain are stamped no earlier, so the classifier
// clock never runs backwards.
func (l *loop) drainEdges() (time.Time, []logic.Event) {
	b := l.edges.Drain()

	var events []logic.Event
	for _, e := range b.Edges {
		ev, err := l.handler.ProcessEdge(e)
		events = append(events, ev...)
		l.anomaly(err)
	}

	if b.Dropped > 0 {
		// Presses after the kept edges were lost; start every button afresh.
		l.handler.Reset()
		if l.tracker != nil {
			l.tracker.AddDroppedEdges(b.Dropped)
		}
		l.logger.Warnw("edge queue overflow, classifier reset", "dropped", b.Dropped)
	}

	ev, err := l.handler.Tick(b.Now)
	l.anomaly(err)
	return b.Now, append(events, ev...)
}

func (l *loop) anomaly(err error) {
	if err != nil {
		l.logger.Warnw("input anomaly", "error", err)
	}
}

// step dispatches events, emits a heartbeat when due and refreshes the status
// tracker.
func (l *loop) step(t time.Time, events []logic.Event) {
	for _, e := range events {
		l.logger.Infow("event", "button", e.Button, "action", e.Label(), "count", e.Count)
	}
	l.dispatcher.Dispatch(events)

	// Polled input has no state until the debouncer settles.
	baselined := l.reader == nil || l.handler.IsBaselined()
	if baselined {
		if hb := l.handler.CheckHeartbeat(t, l.heartbeat); hb != nil {
			c := hb.Counts
			l.logger.Infow("heartbeat",
				"uptime", hb.Uptime,
				"short", c.Short, "long", c.Long, "hold", c.Hold,
				"double", c.Double, "triple", c.Triple, "multi", c.Multi,
				"anomalies", c.Anomalies)
			if net := readNetworkInfo(); net != nil && l.tracker != nil {
				l.tracker.SetNetwork(net)
			}
			l.updateTracker()
			l.publishSystem(mqtt.SystemEvent{Timestamp: hb.Timestamp, Event: "HEARTBEAT"}, "")
		}
	}

	l.updateTracker()
}

func (l *loop) updateTracker() {
	if l.tracker == nil {
		return
	}
	l.tracker.Update(l.handler.States(), l.handler.IsBaselined(), l.handler.Counts())
	s := l.dispatcher.Stats()
	l.tracker.SetCallbackStats(status.CallbackStats{Invocations: s.Invocations, Failures: s.Failures})
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

// publishStatus sends a lifecycle event carrying a full status snapshot.
func (l *loop) publishStatus(event, reason string, retained bool) {
	if l.handler != nil {
		l.updateTracker()
	}
	l.publishSystem(mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}, reason)
}

func (l *loop) publishSystem(event mqtt.SystemEvent, reason string) {
	if l.tracker != nil {
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), event.Event, reason)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.logger.Warnw("failed to publish system event", "event", event.Event, "error", err)
		return
	}
	l.logger.Debugw("published system event", "event", event.Event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
