package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient abstracts the MQTT client for testability.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// DefaultMQTTClient wraps the real MQTT client.
type DefaultMQTTClient struct {
	client mqtt.Client
}

// NewDefaultMQTTClient creates a wrapper around the real MQTT client.
func NewDefaultMQTTClient(opts *mqtt.ClientOptions) *DefaultMQTTClient {
	return &DefaultMQTTClient{client: mqtt.NewClient(opts)}
}

func (c *DefaultMQTTClient) Connect() mqtt.Token {
	return c.client.Connect()
}

func (c *DefaultMQTTClient) Disconnect(quiesce uint) {
	c.client.Disconnect(quiesce)
}

func (c *DefaultMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return c.client.Publish(topic, qos, retained, payload)
}

func (c *DefaultMQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

// MQTTConfig holds the broker settings for the worker link.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// MQTTWorkerLink posts worker messages over an MQTT broker. Each message
// type maps to its own topic under the configured prefix.
type MQTTWorkerLink struct {
	cfg           MQTTConfig
	client        MQTTClient
	clientFactory func(opts *mqtt.ClientOptions) MQTTClient
	logger        *slog.Logger
}

// NewMQTTWorkerLink creates a worker link using the real MQTT client.
func NewMQTTWorkerLink(cfg MQTTConfig, logger *slog.Logger) (*MQTTWorkerLink, error) {
	return NewMQTTWorkerLinkWithClient(cfg, logger, func(opts *mqtt.ClientOptions) MQTTClient {
		return NewDefaultMQTTClient(opts)
	})
}

// NewMQTTWorkerLinkWithClient creates a worker link with a custom client
// factory. Used by tests to inject a fake client.
func NewMQTTWorkerLinkWithClient(cfg MQTTConfig, logger *slog.Logger, factory func(opts *mqtt.ClientOptions) MQTTClient) (*MQTTWorkerLink, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("notify: broker URL required")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "solesync/worker"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("solesync-%d", time.Now().Unix())
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &MQTTWorkerLink{
		cfg:           cfg,
		clientFactory: factory,
		logger:        logger.With("component", "worker-link"),
	}
	if err := l.connect(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *MQTTWorkerLink) connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(l.cfg.BrokerURL)
	opts.SetClientID(l.cfg.ClientID)
	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
		opts.SetPassword(l.cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.logger.Warn("worker broker connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		l.logger.Info("worker broker connected", "broker", l.cfg.BrokerURL)
	})

	l.client = l.clientFactory(opts)

	token := l.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("notify: broker connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: broker connect: %w", err)
	}
	return nil
}

// Post publishes msg to {prefix}/{type} at QoS 1.
func (l *MQTTWorkerLink) Post(ctx context.Context, msg WorkerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.client.IsConnected() {
		return fmt.Errorf("notify: broker not connected")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}

	topic := l.cfg.TopicPrefix + "/" + strings.ToLower(msg.Type)
	token := l.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("notify: publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: publish on %s: %w", topic, err)
	}

	l.logger.Debug("worker message posted", "topic", topic, "type", msg.Type)
	return nil
}

// Close disconnects from the broker.
func (l *MQTTWorkerLink) Close() error {
	l.client.Disconnect(250)
	return nil
}
