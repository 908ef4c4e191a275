package transport

import (
	"context"
	"errors"
)

var (
	ErrNotConnected  = errors.New("transport: not connected")
	ErrBlankIdentity = errors.New("transport: identity cannot be blank")
)

// QoS is the delivery guarantee requested for a publish or subscription.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
)

// Will is published by the broker on the session's behalf when the
// connection drops without a clean disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

// ConnectOptions configures one connection attempt.
type ConnectOptions struct {
	ClientID string
	Will     *Will

	// OnConnect runs after every successful connect, including automatic
	// reconnects. Subscriptions must be re-established from it because
	// sessions are never persistent.
	OnConnect func()
}

// Client is the broker-specific pub/sub client wrapped by Adapter.
// Subscribe handlers for a topic are invoked in publish order.
type Client interface {
	Connect(ctx context.Context, opts ConnectOptions) error
	IsConnected() bool
	Publish(ctx context.Context, topic string, qos QoS, retained bool, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos QoS, handler func(payload []byte)) error
	Unsubscribe(ctx context.Context, topic string) error
	Disconnect()
}
