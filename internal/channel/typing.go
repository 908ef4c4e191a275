package channel

import (
	"context"

	"Parley/internal/event"
	"Parley/internal/model"
	"Parley/internal/transport"

	"go.uber.org/zap"
)

// Typing carries typing edges at QoS 0.
type Typing struct {
	transport Transport
	logger    *zap.Logger
}

func NewTyping(t Transport, logger *zap.Logger) *Typing {
	return &Typing{transport: t, logger: logger}
}

func (t *Typing) Publish(ctx context.Context, ev model.TypingEvent) error {
	return publish(ctx, t.transport, event.TypingTopic(ev.ReceiverID), ev, transport.AtMostOnce, false)
}

func (t *Typing) Observe(ctx context.Context, me string) <-chan model.TypingEvent {
	return observe(ctx, t.transport, t.logger, event.TypingTopic(me), transport.AtMostOnce, false,
		func(ev model.TypingEvent) bool { return ev.ReceiverID == me })
}
