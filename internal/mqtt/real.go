package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/logic"
)

const (
	// DefaultBufferSize is the number of messages kept while offline.
	DefaultBufferSize = 100

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

var errPublishTimeout = errors.New("publish timeout")

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	// BufferSize bounds the offline buffer; DefaultBufferSize when zero.
	BufferSize int
	// OnConnectionChange is called whenever the broker connection goes up or down.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed in order on
// reconnect.
type RealPublisher struct {
	client   paho.Client
	topics   Topics
	onChange func(bool)
	log      *zap.SugaredLogger

	mu  sync.Mutex
	out *outbox
}

// WillPayload is the retained last-will message published by the broker
// when the intercom disappears without a clean shutdown.
func WillPayload() []byte {
	payload, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "connection lost"})
	return payload
}

// NewRealPublisher creates a publisher connected to the given broker. If
// the broker is unreachable it keeps retrying in the background and
// buffers until connected.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	p := &RealPublisher{
		topics:   TopicsFor(opts.TopicPrefix),
		onChange: opts.OnConnectionChange,
		log:      logger.Logger().Named("mqtt"),
		out:      newOutbox(size),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topics.System, string(WillPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(clientOpts)

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.log.Warnw("broker not reachable yet, buffering", "broker", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func (p *RealPublisher) onConnect(_ paho.Client) {
	p.log.Info("connected to broker")
	if p.onChange != nil {
		p.onChange(true)
	}

	p.mu.Lock()
	msgs, dropped := p.out.take()
	p.mu.Unlock()

	if dropped > 0 {
		p.log.Warnw("messages lost while offline", "dropped", dropped)
	}

	for _, m := range msgs {
		if err := p.send(m); err != nil {
			p.log.Warnw("replay failed", "topic", m.topic, "error", err)
		}
	}
	if len(msgs) > 0 {
		p.log.Infow("replayed buffered messages", "count", len(msgs))
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.log.Warnw("connection to broker lost", "error", err)
	if p.onChange != nil {
		p.onChange(false)
	}
}

func (p *RealPublisher) publish(m pending) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		if p.out.add(m) {
			p.log.Warnw("offline buffer full, dropping oldest", "capacity", p.out.size())
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.send(m)
}

func (p *RealPublisher) send(m pending) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Publish sends an intercom event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(pending{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) so shutdown events are delivered
	return p.publish(pending{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
