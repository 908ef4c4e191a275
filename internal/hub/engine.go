package hub

import (
	"context"

	"Parley/internal/event"
	"Parley/internal/model"
	"Parley/internal/speaking"

	"go.uber.org/zap"
)

// The call engine lives in the UI process, so the hub implements
// session.CallEngine by sending it commands over the bridge.

func (h *Hub) JoinChannel(ctx context.Context, channel string, audioOnly bool) error {
	if h.broadcast(event.EventCallJoinChannel, event.JoinChannelPayload{Channel: channel, AudioOnly: audioOnly}) == 0 {
		return ErrNoEngine
	}
	return nil
}

func (h *Hub) LeaveChannel(ctx context.Context) error {
	h.followCall(nil, nil)
	h.broadcast(event.EventCallLeaveChannel, struct{}{})
	return nil
}

func (h *Hub) SetMute(ctx context.Context, muted bool) error {
	if h.broadcast(event.EventCallSetMute, event.CallMutePayload{Muted: muted}) == 0 {
		return ErrNoEngine
	}
	return nil
}

// followCall announces route and forwards agg's views until the next call
// is followed or followCall(nil, nil) is called.
func (h *Hub) followCall(route *model.CallRoute, agg *speaking.Aggregator) {
	h.callMu.Lock()
	if h.callCancel != nil {
		h.callCancel()
		h.callCancel = nil
	}
	if route == nil {
		h.callMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(h.ctx)
	h.callCancel = cancel
	h.callMu.Unlock()

	h.broadcast(event.EventCallRoute, route)
	if agg == nil {
		return
	}

	views := agg.Observe(ctx)
	go func() {
		for view := range views {
			h.broadcast(event.EventCallSpeaking, view)
		}
		h.logger.Debug("stopped forwarding speaking views", zap.String("call_id", route.CallID))
	}()
}
