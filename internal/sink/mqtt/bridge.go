// Package mqtt bridges a devlink.Manager to an MQTT broker: decoded
// messages are published to a topic and payloads received on a command
// topic are sent to the device.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/frame"
	"github.com/allbin/go-devlink/internal/config"
)

const (
	defaultPublishTimeout    = 5 * time.Second
	defaultCommandTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Sender is the write side of a devlink.Manager.
type Sender interface {
	Send(ctx context.Context, v any) error
}

// Bridge publishes decoded messages and relays commands to the device.
type Bridge struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	sender Sender
	log    *zap.Logger
}

// Connect dials the broker. The bridge subscribes to the command topic and
// announces itself on the status topic every time the connection comes up.
func Connect(cfg config.MQTTConfig, sender Sender, log *zap.Logger) (*Bridge, error) {
	b := &Bridge{cfg: cfg, sender: sender, log: log}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		b.onConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	log.Info("connected to mqtt broker", zap.String("broker", cfg.Broker), zap.String("client_id", opts.ClientID))
	return b, nil
}

// newBridge wraps an existing client, for tests.
func newBridge(client pahomqtt.Client, cfg config.MQTTConfig, sender Sender, log *zap.Logger) *Bridge {
	return &Bridge{client: client, cfg: cfg, sender: sender, log: log}
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "devlink-" + uuid.NewString()
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	// Retries after the first successful connect only; a wrong broker
	// address should fail startup.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(cfg.KeepAlive)

	if cfg.StatusTopic != "" {
		opts.SetWill(cfg.StatusTopic, payloadOffline, byte(cfg.QoS), true)
	}
	return opts
}

func (b *Bridge) onConnect() {
	if b.cfg.CommandTopic != "" {
		token := b.client.Subscribe(b.cfg.CommandTopic, byte(b.cfg.QoS), b.handleCommand)
		if err := wait(context.Background(), token, defaultPublishTimeout); err != nil {
			b.log.Warn("failed to subscribe to command topic",
				zap.String("topic", b.cfg.CommandTopic),
				zap.Error(fmt.Errorf("%w: %w", ErrSubscribeFailed, err)))
		}
	}
	if b.cfg.StatusTopic != "" {
		b.client.Publish(b.cfg.StatusTopic, byte(b.cfg.QoS), true, payloadOnline)
	}
}

func (b *Bridge) Name() string { return "mqtt" }

// Handle publishes msg as JSON to the data topic.
func (b *Bridge) Handle(ctx context.Context, msg frame.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	token := b.client.Publish(b.cfg.Topic, byte(b.cfg.QoS), false, payload)
	if err := wait(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishState announces a link state change on <status_topic>/link. It
// does not wait for the broker, so it is safe to call from a state hook.
func (b *Bridge) PublishState(s devlink.Snapshot) {
	if b.cfg.StatusTopic == "" {
		return
	}
	payload, err := json.Marshal(struct {
		State string    `json:"state"`
		Port  string    `json:"port,omitempty"`
		Since time.Time `json:"since"`
	}{s.State.String(), s.Target, s.Since})
	if err != nil {
		return
	}
	b.client.Publish(b.cfg.StatusTopic+"/link", byte(b.cfg.QoS), true, payload)
}

func (b *Bridge) handleCommand(_ pahomqtt.Client, m pahomqtt.Message) {
	msg, err := frame.Decode(m.Payload())
	if err != nil {
		b.log.Warn("invalid command payload", zap.String("topic", m.Topic()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultCommandTimeout)
	defer cancel()

	switch err := b.sender.Send(ctx, msg); {
	case err == nil:
		b.log.Debug("command sent to device", zap.String("topic", m.Topic()))
	case errors.Is(err, devlink.ErrNotConnected):
		b.log.Info("device not connected, command dropped", zap.String("topic", m.Topic()))
	default:
		b.log.Warn("failed to send command", zap.String("topic", m.Topic()), zap.Error(err))
	}
}

// Close marks the bridge offline and disconnects.
func (b *Bridge) Close() error {
	if b.cfg.StatusTopic != "" {
		token := b.client.Publish(b.cfg.StatusTopic, byte(b.cfg.QoS), true, payloadOffline)
		_ = wait(context.Background(), token, time.Second)
	}
	b.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func wait(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
