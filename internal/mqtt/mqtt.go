package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"observatory-collector/internal/config"
	"observatory-collector/internal/health"
	"observatory-collector/internal/store"
)

// Topics are subscribed on every (re)connect.
var Topics = []string{"weather/#", "weewx/#", "lora/#", "cloudwatcher/#", "aag/#"}

// MessageObserver is notified for every routed message.
type MessageObserver interface {
	ObserveMQTT(source string, ok bool)
}

type Subscriber struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	store    *store.Store
	health   *health.Tracker
	observer MessageObserver
	now      func() time.Time
}

func NewSubscriber(cfg config.Config, st *store.Store, tracker *health.Tracker, observer MessageObserver, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		cfg:      cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		store:    st,
		health:   tracker,
		observer: observer,
		now:      time.Now,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// A clean session drops subscriptions, so subscribe on every connect.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		if err := s.subscribe(); err != nil {
			logger.Error("mqtt subscribe failed", "error", err)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Run connects and blocks until ctx is done. paho keeps retrying a broker
// that is down at startup, so a missing broker is never fatal.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
	}
	<-ctx.Done()
	s.Disconnect()
	return nil
}

// Connect establishes the connection to the MQTT broker. Subscriptions are
// made by the connect handler.
func (s *Subscriber) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}

	// Fast path.
	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	// Wait in a ctx/stop-aware loop.
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}
}

func (s *Subscriber) subscribe() error {
	filters := make(map[string]byte, len(Topics))
	for _, topic := range Topics {
		filters[topic] = 0
	}

	messageHandler := func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	}

	token := s.client.SubscribeMultiple(filters, messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topics %v", Topics)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %v: %w", Topics, err)
	}

	s.logger.Info("subscribed to mqtt topics", "topics", Topics)
	return nil
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(Topics...)
		token.WaitTimeout(2 * time.Second)
	}

	// Disconnect without holding s.mu to avoid lock contention/deadlocks.
	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
