package sensors

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // ms
)

// MessageHandler processes one MQTT message. Errors are logged; they never
// stop the subscription.
type MessageHandler func(topic string, payload []byte) error

// Subscriber keeps one MQTT subscription alive across reconnects.
type Subscriber struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler MessageHandler
	log     *slog.Logger
}

// NewSubscriber connects to cfg.Broker and subscribes to cfg.AlertTopic. The
// subscription is re-established by the connect handler after every
// reconnect, since sessions are clean.
func NewSubscriber(cfg config.MQTTConfig, handler MessageHandler, logger *slog.Logger) (*Subscriber, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mqtt broker not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		topic:   cfg.AlertTopic,
		qos:     cfg.QoS,
		handler: handler,
		log:     logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	return s, nil
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	token := c.Subscribe(s.topic, s.qos, s.onMessage)
	if !token.WaitTimeout(connectTimeout) {
		s.log.Error("mqtt subscribe timed out", "topic", s.topic)
		return
	}
	if err := token.Error(); err != nil {
		s.log.Error("mqtt subscribe failed", "topic", s.topic, "err", err)
		return
	}
	s.log.Info("mqtt subscribed", "topic", s.topic, "qos", s.qos)
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.handler(msg.Topic(), msg.Payload()); err != nil {
		s.log.Warn("sensor message rejected", "topic", msg.Topic(), "bytes", len(msg.Payload()), "err", err)
	}
}

func (s *Subscriber) IsConnected() bool {
	return s != nil && s.client.IsConnected()
}

// Close unsubscribes and disconnects. It is safe on a nil Subscriber.
func (s *Subscriber) Close() {
	if s == nil {
		return
	}
	if s.client.IsConnected() {
		token := s.client.Unsubscribe(s.topic)
		if token.WaitTimeout(time.Second) && token.Error() != nil {
			s.log.Warn("mqtt unsubscribe failed", "topic", s.topic, "err", token.Error())
		}
	}
	s.client.Disconnect(disconnectQuiesce)
}
