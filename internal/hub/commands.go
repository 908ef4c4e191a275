package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Parley/internal/event"
	"Parley/internal/model"

	"go.uber.org/zap"
)

// commandTimeout bounds the store and transport work of one UI command.
var commandTimeout = 15 * time.Second

func decode[T any](ev event.WsEvent) (T, error) {
	var v T
	if len(ev.Payload) == 0 {
		return v, fmt.Errorf("%s: empty payload", ev.Event)
	}
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		return v, fmt.Errorf("%s: %w", ev.Event, err)
	}
	return v, nil
}

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	if h.sess == nil {
		h.replyError(c, ev.Event, ErrNoEngine)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	if err := h.dispatch(ctx, ev, c); err != nil {
		c.logger.Warn("bridge command failed", zap.String("event", ev.Event), zap.Error(err))
		h.replyError(c, ev.Event, err)
	}
}

func (h *Hub) dispatch(ctx context.Context, ev event.WsEvent, c *Client) error {
	reducer := h.sess.Reducer

	switch ev.Event {
	case event.EventSendMessage:
		p, err := decode[event.SendMessagePayload](ev)
		if err != nil {
			return err
		}
		_, err = reducer.Send(ctx, p.PeerID, p.Text)
		return err

	case event.EventTyping:
		p, err := decode[event.TypingPayload](ev)
		if err != nil {
			return err
		}
		return reducer.SetTyping(ctx, p.PeerID, p.IsTyping)

	case event.EventMarkSeen:
		p, err := decode[event.MarkSeenPayload](ev)
		if err != nil {
			return err
		}
		return reducer.MarkSeen(ctx, p.PeerID, p.MessageID)

	case event.EventLeaveChat:
		p, err := decode[event.PeerPayload](ev)
		if err != nil {
			return err
		}
		reducer.Leave(ctx, p.PeerID)
		c.unwatch(p.PeerID)
		return nil

	case event.EventLoadHistory:
		p, err := decode[event.PeerPayload](ev)
		if err != nil {
			return err
		}
		return reducer.LoadHistory(ctx, p.PeerID)

	case event.EventObservePresence:
		p, err := decode[event.PeerPayload](ev)
		if err != nil {
			return err
		}
		h.observePresence(c, p.PeerID)
		return nil

	case event.EventPushData:
		p, err := decode[model.PushData](ev)
		if err != nil {
			return err
		}
		return h.push.HandleData(ctx, p)

	case event.EventPushToken:
		p, err := decode[event.PushTokenPayload](ev)
		if err != nil {
			return err
		}
		return h.push.RefreshToken(ctx, p.Token)

	case event.EventCallStart:
		p, err := decode[event.CallStartPayload](ev)
		if err != nil {
			return err
		}
		route, err := h.sess.StartCall(ctx, model.CallRecord{
			ID:         p.CallID,
			Channel:    p.Channel,
			ReceiverID: p.ReceiverID,
			AudioOnly:  p.AudioOnly,
		})
		if err != nil {
			return err
		}
		h.followActive(route)
		return nil

	case event.EventCallInvite:
		p, err := decode[event.CallInvitePayload](ev)
		if err != nil {
			return err
		}
		return h.sess.InviteToCall(ctx, p.CallID, p.Users...)

	case event.EventCallAccept:
		p, err := decode[event.CallPayload](ev)
		if err != nil {
			return err
		}
		route, err := h.sess.AcceptCall(ctx, p.CallID)
		if err != nil {
			return err
		}
		h.followActive(route)
		return nil

	case event.EventCallDecline:
		p, err := decode[event.CallPayload](ev)
		if err != nil {
			return err
		}
		return h.sess.DeclineCall(ctx, p.CallID)

	case event.EventCallLeave:
		return h.sess.LeaveCall(ctx)

	case event.EventCallMute:
		p, err := decode[event.CallMutePayload](ev)
		if err != nil {
			return err
		}
		return h.sess.SetMute(ctx, p.Muted)

	case event.EventCallVolume:
		p, err := decode[event.CallVolumePayload](ev)
		if err != nil {
			return err
		}
		h.sess.OnVolume(ctx, p.Speakers, p.Aggregate, p.Muted)
		return nil

	default:
		return fmt.Errorf("unknown event type: %s", ev.Event)
	}
}

func (h *Hub) followActive(route model.CallRoute) {
	_, agg, ok := h.sess.ActiveCall()
	if !ok {
		agg = nil
	}
	h.followCall(&route, agg)
}

// observePresence forwards peer's presence to c until c leaves the chat or
// disconnects.
func (h *Hub) observePresence(c *Client, peer string) {
	ctx, ok := c.watch(peer)
	if !ok {
		return
	}
	records := h.sess.ObservePresence(ctx, peer)
	go func() {
		for rec := range records {
			ev, err := newEvent(event.EventPresence, rec)
			if err != nil {
				continue
			}
			c.Send(ev)
		}
	}()
}

func (h *Hub) replyError(c *Client, code string, err error) {
	ev, encErr := newEvent(event.EventError, event.ErrorPayload{Code: code, Message: err.Error()})
	if encErr != nil {
		return
	}
	c.Send(ev)
}
