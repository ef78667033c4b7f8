package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPending bounds how many undelivered publishes are tracked for error
// reporting. Beyond it paho still delivers, failures just go unreported.
const maxPending = 256

type MQTTConfig struct {
	Broker            string
	Topics            Topics
	KeepAlive         time.Duration
	ConnectTimeout    time.Duration
	DisconnectQuiesce time.Duration
}

type pendingPublish struct {
	topic string
	token mqtt.Token
}

// MQTTPublisher is a Publisher backed by the paho client.
type MQTTPublisher struct {
	client  mqtt.Client
	config  MQTTConfig
	logger  *slog.Logger
	onError func(topic string, err error)

	pending  chan pendingPublish
	stop     chan struct{}
	stopOnce sync.Once
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher builds a client that auto-reconnects and leaves an
// "offline" will on the status topic for unclean disconnects.
func NewMQTTPublisher(config MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions().AddBroker(config.Broker)
	opts.SetClientID(config.Topics.ClientID)
	opts.SetKeepAlive(config.KeepAlive)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetWill(config.Topics.Status, StatusOffline, QoS, Retained)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", config.Broker, "err", err)
	})

	return newPublisher(mqtt.NewClient(opts), config, logger)
}

func newPublisher(client mqtt.Client, config MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	p := &MQTTPublisher{
		client:  client,
		config:  config,
		logger:  logger,
		pending: make(chan pendingPublish, maxPending),
		stop:    make(chan struct{}),
	}
	go p.watch()
	return p
}

// OnPublishError registers a hook for delivery failures reported after
// Publish returned. It must be set before the first Publish.
func (p *MQTTPublisher) OnPublishError(fn func(topic string, err error)) {
	p.onError = fn
}

func (p *MQTTPublisher) Connect(ctx context.Context) error {
	tok := p.client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.config.Broker, err)
	}
	return nil
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	tok := p.client.Publish(topic, QoS, Retained, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	default:
	}

	select {
	case p.pending <- pendingPublish{topic: topic, token: tok}:
	default:
		p.logger.Debug("too many pending publishes, not tracking", "topic", topic)
	}
	return nil
}

// watch reports asynchronous delivery failures in publish order. A single
// goroutine serves the whole publisher however long the broker is away.
func (p *MQTTPublisher) watch() {
	for {
		select {
		case <-p.stop:
			return
		case pp := <-p.pending:
			select {
			case <-p.stop:
				return
			case <-pp.token.Done():
			}
			if err := pp.token.Error(); err != nil {
				p.logger.Warn("publish failed", "topic", pp.topic, "err", err)
				if p.onError != nil {
					p.onError(pp.topic, err)
				}
			}
		}
	}
}

func (p *MQTTPublisher) Disconnect() {
	p.client.Disconnect(uint(p.config.DisconnectQuiesce / time.Millisecond))
	p.stopOnce.Do(func() { close(p.stop) })
}

// BridgeLogs routes the paho client's internal diagnostics to handler.
func BridgeLogs(handler slog.Handler) {
	mqtt.CRITICAL = slog.NewLogLogger(handler, slog.LevelError)
	mqtt.ERROR = slog.NewLogLogger(handler, slog.LevelError)
	mqtt.WARN = slog.NewLogLogger(handler, slog.LevelWarn)
}
