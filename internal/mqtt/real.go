package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/button-handler/internal/logic"
)

const (
	defaultClientID   = "button-handler"
	defaultBufferSize = 256
	publishTimeout    = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	// BufferSize bounds the messages held while the broker is unreachable.
	BufferSize int
	// ConnectTimeout is how long to wait for the first connection before
	// carrying on in buffered mode.
	ConnectTimeout time.Duration
}

// RealPublisher publishes to an actual MQTT broker. While disconnected,
// messages go to a ring buffer that is replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *zap.SugaredLogger
	now    func() time.Time

	mu        sync.Mutex
	pending   *ringBuffer
	connected bool // set after the first successful connection
	replaying bool // buffered messages are being resent
}

// NewRealPublisher creates a publisher for the given broker. If the broker is
// unreachable the publisher keeps retrying in the background and buffers
// messages meanwhile.
func NewRealPublisher(o Options, logger *zap.SugaredLogger) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("mqtt broker must not be empty")
	}
	if o.ClientID == "" {
		o.ClientID = defaultClientID
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}

	p := newPublisher(nil, NewTopics(o.TopicPrefix), o.BufferSize, logger)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topics.System, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warnw("connection lost", "error", err)
		}).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			p.logger.Infow("reconnecting", "broker", o.Broker)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(o.ConnectTimeout) {
		p.logger.Warnw("broker not reachable yet, buffering messages", "broker", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(client paho.Client, topics Topics, bufferSize int, logger *zap.SugaredLogger) *RealPublisher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RealPublisher{
		client:  client,
		topics:  topics,
		logger:  logger,
		now:     time.Now,
		pending: newRingBuffer(bufferSize),
	}
}

// Topics returns the topics this publisher writes to.
func (p *RealPublisher) Topics() Topics {
	return p.topics
}

// Publish sends a button event to the events topic.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event to the system topic.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) - lifecycle events should be delivered
	return p.publish(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// PublishRaw sends payload to topic with QoS 1.
func (p *RealPublisher) PublishRaw(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return fmt.Errorf("publish raw: empty topic")
	}
	return p.publish(bufferedMsg{topic: topic, payload: payload, qos: 1, retained: retained})
}

// publish sends msg, or buffers it while disconnected or while a replay is in
// progress. The check and the push happen under one lock so onConnect cannot
// finish its replay in between.
func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if p.replaying || !p.client.IsConnectionOpen() {
		overflow := p.pending.push(msg)
		n := p.pending.len()
		p.mu.Unlock()

		if overflow {
			p.logger.Warnw("buffer full, dropping oldest", "capacity", n)
		}
		return nil
	}
	p.mu.Unlock()
	return p.send(msg)
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

// onConnect replays buffered messages. Reconnections are announced on the
// system topic after the replay.
// Messages published during the replay are buffered behind it, so the loop
// runs until the buffer is seen empty under the lock.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	p.replaying = true
	p.mu.Unlock()

	replayed, dropped := 0, 0
	for {
		p.mu.Lock()
		msgs, d := p.pending.drainAll()
		dropped += d
		if len(msgs) == 0 {
			p.replaying = false
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		for _, msg := range msgs {
			if err := p.send(msg); err != nil {
				p.logger.Warnw("replay failed", "topic", msg.topic, "error", err)
			}
		}
		replayed += len(msgs)
	}

	if reconnect {
		p.logger.Infow("reconnected", "buffered", replayed, "dropped", dropped)
	} else {
		p.logger.Infow("connected", "buffered", replayed, "dropped", dropped)
	}

	if reconnect {
		err := p.PublishSystem(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		if err != nil {
			p.logger.Warnw("failed to publish RECONNECTED", "error", err)
		}
	}
}

// Pending returns the number of messages waiting for a connection.
func (p *RealPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.len()
}

// IsConnected reports whether the MQTT connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
