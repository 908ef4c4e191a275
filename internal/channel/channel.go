// Package channel publishes and observes the per-user chat topics:
// presence, incoming messages, typing and delivery status.
package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"Parley/internal/transport"

	"go.uber.org/zap"
)

// Transport is the part of transport.Adapter the channels need.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte, qos transport.QoS, retained bool) error
	Subscribe(ctx context.Context, topic string, qos transport.QoS, replay bool) <-chan []byte
}

func publish(ctx context.Context, t Transport, topic string, v any, qos transport.QoS, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return t.Publish(ctx, topic, payload, qos, retained)
}

// observe decodes every payload on topic into T and forwards the ones
// accepted by keep. Malformed payloads are logged and dropped; they never
// end the stream. The returned channel closes when ctx is done.
func observe[T any](ctx context.Context, t Transport, logger *zap.Logger, topic string, qos transport.QoS, replay bool, keep func(T) bool) <-chan T {
	raw := t.Subscribe(ctx, topic, qos, replay)
	out := make(chan T)

	go func() {
		defer close(out)
		for payload := range raw {
			var v T
			if err := json.Unmarshal(payload, &v); err != nil {
				logger.Warn("dropping malformed payload",
					zap.String("topic", topic),
					zap.Int("size", len(payload)),
					zap.Error(err),
				)
				continue
			}
			if keep != nil && !keep(v) {
				logger.Debug("dropping payload for another receiver", zap.String("topic", topic))
				continue
			}

			select {
			case out <- v:
			case <-ctx.Done():
				// drain so the transport can release the stream
				for range raw {
				}
				return
			}
		}
	}()

	return out
}
