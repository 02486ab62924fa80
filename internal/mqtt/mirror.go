// Package mqtt mirrors session events to an MQTT broker so external
// dashboards can follow test runs without holding a WebSocket open.
package mqtt

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

	"github.com/dhruvshrma/persona-flow/internal/config"
	"github.com/dhruvshrma/persona-flow/internal/session"
)

// Mirror republishes session events to `<prefix>/sessions/<id>/logs`.
// It implements session.Sink. Publish never blocks the session runner:
// events are handed to a buffered channel and dropped with a warning
// when the broker cannot keep up.
type Mirror struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	events chan session.Event
	cm     *autopaho.ConnectionManager
}

// NewMirror creates a Mirror but does not connect. Call [Mirror.Start]
// to begin the connection and forwarding loop.
func NewMirror(cfg config.MQTTConfig, logger *slog.Logger) *Mirror {
	return &Mirror{
		cfg:    cfg,
		logger: logger,
		events: make(chan session.Event, 256),
	}
}

// Publish queues an event for forwarding. Events queued before the
// broker connection is up are held in the buffer; when the buffer is
// full the event is dropped.
func (m *Mirror) Publish(ev session.Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("mqtt event dropped, buffer full",
			"session_id", ev.SessionID, "type", ev.Type)
	}
}

// Start connects to the MQTT broker and forwards queued events until
// ctx is cancelled.
func (m *Mirror) Start(ctx context.Context) error {
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
			ClientID: "persona-flow-" + m.cfg.TopicPrefix,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	m.forward(ctx)
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (m *Mirror) Stop(ctx context.Context) error {
	if m.cm == nil {
		return nil
	}
	m.publishAvailability(ctx, m.cm, "offline")
	return m.cm.Disconnect(ctx)
}

func (m *Mirror) baseTopic() string {
	prefix := m.cfg.TopicPrefix
	if prefix == "" {
		prefix = "personaflow"
	}
	return prefix
}

func (m *Mirror) availabilityTopic() string {
	return m.baseTopic() + "/availability"
}

func (m *Mirror) logTopic(sessionID string) string {
	return m.baseTopic() + "/sessions/" + sessionID + "/logs"
}

func (m *Mirror) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			payload, err := json.Marshal(ev)
			if err != nil {
				m.logger.Error("mqtt marshal event",
					"session_id", ev.SessionID, "error", err)
				continue
			}
			if _, err := m.cm.Publish(ctx, &paho.Publish{
				Topic:   m.logTopic(ev.SessionID),
				Payload: payload,
				QoS:     0,
			}); err != nil {
				m.logger.Debug("mqtt event publish failed",
					"session_id", ev.SessionID, "error", err)
			}
		}
	}
}

func (m *Mirror) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		m.logger.Info("mqtt availability published", "status", status)
	}
}
