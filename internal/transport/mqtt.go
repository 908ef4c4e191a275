package transport

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig holds broker settings for MQTTClient.
type MQTTConfig struct {
	BrokerURL      string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// MQTTClient is a Client backed by paho. Sessions are always clean and the
// client reconnects automatically; the adapter resubscribes from OnConnect.
type MQTTClient struct {
	cfg    MQTTConfig
	logger *zap.Logger

	mu     sync.RWMutex
	client mqtt.Client
}

func NewMQTTClient(cfg MQTTConfig, logger *zap.Logger) *MQTTClient {
	return &MQTTClient{cfg: cfg, logger: logger}
}

func (c *MQTTClient) Connect(ctx context.Context, opts ConnectOptions) error {
	o := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(true)

	if c.cfg.ConnectTimeout > 0 {
		o.SetConnectTimeout(c.cfg.ConnectTimeout)
	}
	if c.cfg.KeepAlive > 0 {
		o.SetKeepAlive(c.cfg.KeepAlive)
	}
	if c.cfg.Username != "" {
		o.SetUsername(c.cfg.Username)
		o.SetPassword(c.cfg.Password)
	}
	if opts.Will != nil {
		o.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, byte(opts.Will.QoS), opts.Will.Retained)
	}

	o.SetOnConnectHandler(func(mqtt.Client) {
		c.logger.Debug("mqtt session up", zap.String("client_id", opts.ClientID))
		if opts.OnConnect != nil {
			// subscribing blocks on acks, keep it off paho's connect routine
			go opts.OnConnect()
		}
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", zap.String("client_id", opts.ClientID), zap.Error(err))
	})
	o.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.logger.Info("mqtt reconnecting", zap.String("client_id", opts.ClientID))
	})

	client := mqtt.NewClient(o)
	if err := wait(ctx, client.Connect()); err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *MQTTClient) current() mqtt.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *MQTTClient) IsConnected() bool {
	client := c.current()
	return client != nil && client.IsConnectionOpen()
}

func (c *MQTTClient) Publish(ctx context.Context, topic string, qos QoS, retained bool, payload []byte) error {
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}
	return wait(ctx, client.Publish(topic, byte(qos), retained, payload))
}

func (c *MQTTClient) Subscribe(ctx context.Context, topic string, qos QoS, handler func([]byte)) error {
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}
	return wait(ctx, client.Subscribe(topic, byte(qos), func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Payload())
	}))
}

func (c *MQTTClient) Unsubscribe(ctx context.Context, topic string) error {
	client := c.current()
	if client == nil {
		return nil
	}
	return wait(ctx, client.Unsubscribe(topic))
}

func (c *MQTTClient) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
