package channel

import (
	"context"

	"Parley/internal/event"
	"Parley/internal/model"
	"Parley/internal/transport"

	"go.uber.org/zap"
)

// Messages carries chat messages on the receiver's incoming topic.
type Messages struct {
	transport Transport
	logger    *zap.Logger
}

func NewMessages(t Transport, logger *zap.Logger) *Messages {
	return &Messages{transport: t, logger: logger}
}

func (m *Messages) Publish(ctx context.Context, msg model.Message) error {
	return publish(ctx, m.transport, event.IncomingTopic(msg.ReceiverID), msg, transport.AtLeastOnce, false)
}

func (m *Messages) Observe(ctx context.Context, me string) <-chan model.Message {
	return observe(ctx, m.transport, m.logger, event.IncomingTopic(me), transport.AtLeastOnce, false,
		func(msg model.Message) bool { return msg.ReceiverID == me })
}

// Statuses carries delivered/seen events on the receiver's status topic.
type Statuses struct {
	transport Transport
	logger    *zap.Logger
}

func NewStatuses(t Transport, logger *zap.Logger) *Statuses {
	return &Statuses{transport: t, logger: logger}
}

func (s *Statuses) Publish(ctx context.Context, ev model.StatusEvent) error {
	return publish(ctx, s.transport, event.StatusTopic(ev.ReceiverID), ev, transport.AtLeastOnce, false)
}

func (s *Statuses) Observe(ctx context.Context, me string) <-chan model.StatusEvent {
	return observe(ctx, s.transport, s.logger, event.StatusTopic(me), transport.AtLeastOnce, false,
		func(ev model.StatusEvent) bool { return ev.ReceiverID == me })
}
