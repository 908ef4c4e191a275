package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// retainedPrefix namespaces the keys holding retained payloads.
const retainedPrefix = "retained:"

// RedisClient is a Client over Redis pub/sub. Redis delivers at most once
// whatever QoS is requested; retained publishes are additionally stored
// under retained:{topic} and replayed to new subscribers. Wills are not
// supported.
type RedisClient struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
	subs      map[string]*redis.PubSub
}

func NewRedisClient(rdb *redis.Client, logger *zap.Logger) *RedisClient {
	return &RedisClient{
		rdb:    rdb,
		logger: logger,
		subs:   make(map[string]*redis.PubSub),
	}
}

func (c *RedisClient) Connect(ctx context.Context, opts ConnectOptions) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	if opts.Will != nil {
		c.logger.Debug("redis transport ignores will", zap.String("topic", opts.Will.Topic))
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	return nil
}

func (c *RedisClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *RedisClient) Publish(ctx context.Context, topic string, qos QoS, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if retained {
		if err := c.rdb.Set(ctx, retainedPrefix+topic, payload, 0).Err(); err != nil {
			return err
		}
	}
	return c.rdb.Publish(ctx, topic, payload).Err()
}

func (c *RedisClient) Subscribe(ctx context.Context, topic string, qos QoS, handler func([]byte)) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if _, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ps := c.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}

	c.mu.Lock()
	if _, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		_ = ps.Close()
		return nil
	}
	c.subs[topic] = ps
	c.mu.Unlock()

	// read the retained value only once the subscription is confirmed so
	// nothing published in between is missed
	retained, err := c.rdb.Get(ctx, retainedPrefix+topic).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("read retained payload failed", zap.String("topic", topic), zap.Error(err))
	}

	go func() {
		if len(retained) > 0 {
			handler(retained)
		}
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
	}()
	return nil
}

func (c *RedisClient) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	ps, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return ps.Close()
}

func (c *RedisClient) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*redis.PubSub)
	c.connected = false
	c.mu.Unlock()

	for topic, ps := range subs {
		if err := ps.Close(); err != nil {
			c.logger.Debug("close subscription", zap.String("topic", topic), zap.Error(err))
		}
	}
}
