package transport

import (
	"context"
	"sync"
)

// Broker is an in-process pub/sub broker with retained messages. Clients
// created from the same Broker see each other's publishes.
type Broker struct {
	mu       sync.Mutex
	retained map[string][]byte
	subs     map[string]map[*MemoryClient]func([]byte)
}

func NewBroker() *Broker {
	return &Broker{
		retained: make(map[string][]byte),
		subs:     make(map[string]map[*MemoryClient]func([]byte)),
	}
}

// Retained returns the retained payload stored for topic, if any.
func (b *Broker) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.retained[topic]
	return payload, ok
}

func (b *Broker) publish(topic string, retained bool, payload []byte) {
	msg := append([]byte(nil), payload...)

	b.mu.Lock()
	if retained {
		// an empty retained publish clears the topic, as in MQTT
		if len(msg) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = msg
		}
	}
	handlers := make([]func([]byte), 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (b *Broker) subscribe(c *MemoryClient, topic string, handler func([]byte)) {
	b.mu.Lock()
	room, ok := b.subs[topic]
	if !ok {
		room = make(map[*MemoryClient]func([]byte))
		b.subs[topic] = room
	}
	room[c] = handler
	retained, hasRetained := b.retained[topic]
	b.mu.Unlock()

	if hasRetained {
		handler(retained)
	}
}

func (b *Broker) unsubscribe(c *MemoryClient, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room, ok := b.subs[topic]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(b.subs, topic)
		}
	}
}

// MemoryClient is a Client attached to a Broker.
type MemoryClient struct {
	broker *Broker

	mu        sync.Mutex
	connected bool
	clientID  string
	will      *Will
	topics    map[string]struct{}
	failWith  error
}

// NewClient creates a disconnected client on b.
func (b *Broker) NewClient() *MemoryClient {
	return &MemoryClient{
		broker: b,
		topics: make(map[string]struct{}),
	}
}

func (c *MemoryClient) Connect(ctx context.Context, opts ConnectOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.failWith != nil {
		err := c.failWith
		c.mu.Unlock()
		return err
	}
	c.connected = true
	c.clientID = opts.ClientID
	c.will = opts.Will
	c.mu.Unlock()

	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	return nil
}

// FailConnect makes Connect calls fail with err until it is called again
// with nil.
func (c *MemoryClient) FailConnect(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

func (c *MemoryClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ClientID returns the id of the current session.
func (c *MemoryClient) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *MemoryClient) Publish(ctx context.Context, topic string, qos QoS, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.broker.publish(topic, retained, payload)
	return nil
}

func (c *MemoryClient) Subscribe(ctx context.Context, topic string, qos QoS, handler func([]byte)) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.topics[topic] = struct{}{}
	c.mu.Unlock()

	c.broker.subscribe(c, topic, handler)
	return nil
}

func (c *MemoryClient) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()

	c.broker.unsubscribe(c, topic)
	return nil
}

// Disconnect is a clean disconnect: subscriptions are dropped and the will
// is discarded.
func (c *MemoryClient) Disconnect() {
	c.drop(false)
}

// Drop simulates a lost connection: the broker publishes the will.
func (c *MemoryClient) Drop() {
	c.drop(true)
}

func (c *MemoryClient) drop(fireWill bool) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	topics := c.topics
	c.topics = make(map[string]struct{})
	will := c.will
	c.mu.Unlock()

	for topic := range topics {
		c.broker.unsubscribe(c, topic)
	}
	if fireWill && will != nil {
		c.broker.publish(will.Topic, will.Retained, will.Payload)
	}
}
