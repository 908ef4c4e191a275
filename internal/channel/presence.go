package channel

import (
	"context"
	"time"

	"Parley/internal/event"
	"Parley/internal/model"
	"Parley/internal/transport"

	"go.uber.org/zap"
)

// Presence publishes retained presence records at QoS 0, so a late
// observer immediately gets the last known value.
type Presence struct {
	transport Transport
	logger    *zap.Logger
}

func NewPresence(t Transport, logger *zap.Logger) *Presence {
	return &Presence{transport: t, logger: logger}
}

// Record builds the presence record for userID. lastSeen is only kept on
// an offline record.
func Record(userID string, isOnline bool, lastSeen time.Time) model.Presence {
	p := model.Presence{UserID: userID, IsOnline: isOnline}
	if !isOnline && !lastSeen.IsZero() {
		ms := lastSeen.UnixMilli()
		p.LastSeen = &ms
	}
	return p
}

func (p *Presence) Publish(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error {
	return publish(ctx, p.transport, event.PresenceTopic(userID), Record(userID, isOnline, lastSeen), transport.AtMostOnce, true)
}

// Observe streams userID's presence until ctx is done. A peer that never
// published yields nothing.
func (p *Presence) Observe(ctx context.Context, userID string) <-chan model.Presence {
	return observe(ctx, p.transport, p.logger, event.PresenceTopic(userID), transport.AtMostOnce, true,
		func(rec model.Presence) bool { return rec.UserID == userID })
}
