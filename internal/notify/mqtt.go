package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// MQTTConfig holds broker settings for MQTTNotifier.
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// MQTTNotifier publishes notifications as JSON to
// <prefix>/notifications/<priority> at QoS 1, and keeps a retained
// availability message at <prefix>/availability.
type MQTTNotifier struct {
	cfg    MQTTConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewMQTTNotifier creates a notifier but does not connect. Call
// [MQTTNotifier.Start] to connect.
func NewMQTTNotifier(cfg MQTTConfig, logger *slog.Logger) *MQTTNotifier {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "taskmate"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "taskmate"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTNotifier{cfg: cfg, logger: logger.With("component", "mqtt")}
}

func (m *MQTTNotifier) availabilityTopic() string {
	return m.cfg.TopicPrefix + "/availability"
}

func (m *MQTTNotifier) notificationTopic(priority string) string {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		priority = PriorityMedium
	}
	return m.cfg.TopicPrefix + "/notifications/" + priority
}

// Start connects to the broker. It returns once the connection manager
// is running; autopaho keeps reconnecting in the background until ctx
// is cancelled.
func (m *MQTTNotifier) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := m.availabilityTopic()
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
			m.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.cfg.ClientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes "offline" and disconnects.
func (m *MQTTNotifier) Stop(ctx context.Context) error {
	if m.cm == nil {
		return nil
	}
	m.publishAvailability(ctx, m.cm, "offline")
	return m.cm.Disconnect(ctx)
}

// Notify publishes n. It fails when the notifier was never started or
// the broker does not acknowledge before ctx expires.
func (m *MQTTNotifier) Notify(ctx context.Context, n Notification) error {
	if m.cm == nil {
		return fmt.Errorf("mqtt notifier not started")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := m.cm.Publish(ctx, &paho.Publish{
		Topic:   m.notificationTopic(n.Priority),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (m *MQTTNotifier) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, state string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.availabilityTopic(),
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Warn("mqtt availability publish failed", "state", state, "error", err)
	}
}
