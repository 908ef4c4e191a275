// Package session owns one signed-in identity: its transport connection,
// presence, conversations and the call it is in.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"Parley/internal/call"
	"Parley/internal/channel"
	"Parley/internal/conversation"
	"Parley/internal/event"
	"Parley/internal/model"
	"Parley/internal/speaking"
	"Parley/internal/transport"

	"go.uber.org/zap"
)

var (
	ErrNoActiveCall = errors.New("session: no active call")
	ErrInCall       = errors.New("session: already in a call")
)

// CallEngine is the audio/video engine driven by the session. It reports
// volume samples back through OnVolume.
type CallEngine interface {
	JoinChannel(ctx context.Context, channel string, audioOnly bool) error
	LeaveChannel(ctx context.Context) error
	SetMute(ctx context.Context, muted bool) error
}

type LastSeenStore interface {
	SetLastSeen(ctx context.Context, username string, at time.Time) error
}

type Deps struct {
	Adapter  *transport.Adapter
	Presence *channel.Presence
	Reducer  *conversation.Reducer
	Calls    *call.Coordinator
	Speaking speaking.Store
	Users    LastSeenStore
	Engine   CallEngine
	Logger   *zap.Logger

	// ReconnectWait is the first delay between connect retries after a
	// failed start. It doubles up to maxReconnectWait.
	ReconnectWait time.Duration
}

var (
	defaultReconnectWait = time.Second
	maxReconnectWait     = 30 * time.Second
)

type activeCall struct {
	route  model.CallRoute
	agg    *speaking.Aggregator
	muted  bool
	cancel context.CancelFunc
	done   chan struct{}
}

type Session struct {
	identity string
	Deps
	now func() time.Time

	mu      sync.Mutex
	active  *activeCall
	joining bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(identity string, deps Deps) *Session {
	deps.Logger = deps.Logger.With(zap.String("identity", identity))
	if deps.ReconnectWait <= 0 {
		deps.ReconnectWait = defaultReconnectWait
	}
	return &Session{identity: identity, Deps: deps, now: time.Now}
}

func (s *Session) Identity() string { return s.identity }

// Start connects, announces the user online and starts the conversation
// reducer. The broker publishes the offline record if the session is lost.
func (s *Session) Start(ctx context.Context) error {
	will, err := json.Marshal(channel.Record(s.identity, false, s.now()))
	if err != nil {
		return fmt.Errorf("encode will: %w", err)
	}
	s.Adapter.SetWill(&transport.Will{
		Topic:    event.PresenceTopic(s.identity),
		Payload:  will,
		QoS:      transport.AtMostOnce,
		Retained: true,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.Adapter.Connect(ctx, s.identity); err != nil {
		// not fatal, the session runs offline until a retry connects
		s.Logger.Warn("starting without transport", zap.Error(err))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reconnect(runCtx)
		}()
	} else {
		s.announceOnline(ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Reducer.Run(runCtx)
	}()

	s.Logger.Info("session started")
	return nil
}

// reconnect retries the initial connect with doubling waits until it
// succeeds or ctx is done. Streams opened meanwhile are subscribed by the
// adapter once the session is up.
func (s *Session) reconnect(ctx context.Context) {
	wait := s.ReconnectWait
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := s.Adapter.Reconnect(ctx); err != nil {
			wait = min(wait*2, maxReconnectWait)
			s.Logger.Debug("connect retry failed", zap.Duration("next_wait", wait), zap.Error(err))
			continue
		}
		s.announceOnline(ctx)
		return
	}
}

func (s *Session) announceOnline(ctx context.Context) {
	if err := s.Presence.Publish(ctx, s.identity, true, time.Time{}); err != nil {
		s.Logger.Warn("publish online presence failed", zap.Error(err))
	}
}

// Stop leaves any call, publishes the offline record and disconnects.
func (s *Session) Stop(ctx context.Context) {
	if err := s.LeaveCall(ctx); err != nil && !errors.Is(err, ErrNoActiveCall) {
		s.Logger.Warn("leave call on stop failed", zap.Error(err))
	}

	now := s.now()
	if err := s.Presence.Publish(ctx, s.identity, false, now); err != nil {
		s.Logger.Warn("publish offline presence failed", zap.Error(err))
	}
	if s.Users != nil {
		if err := s.Users.SetLastSeen(ctx, s.identity, now); err != nil {
			s.Logger.Warn("store last seen failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.Adapter.Disconnect()
	s.Logger.Info("session stopped")
}

// ObservePresence streams peer's presence until ctx is done.
func (s *Session) ObservePresence(ctx context.Context, peer string) <-chan model.Presence {
	return s.Presence.Observe(ctx, peer)
}

// -----------------------------------------------------------------
// Calls
// -----------------------------------------------------------------

// StartCall creates a ringing call to receiver and joins its channel.
func (s *Session) StartCall(ctx context.Context, req model.CallRecord) (model.CallRoute, error) {
	if err := s.reserve(); err != nil {
		return model.CallRoute{}, err
	}
	defer s.unreserve()
	req.CallerID = s.identity

	rec, err := s.Calls.Start(ctx, req)
	if err != nil {
		return model.CallRoute{}, err
	}
	route := call.RouteFor(rec)
	route.Participants = []string{s.identity}
	if err := s.join(ctx, route); err != nil {
		if endErr := s.Calls.End(ctx, rec.ID, model.CallStatusEnded); endErr != nil {
			s.Logger.Warn("end unjoined call failed", zap.String("call_id", rec.ID), zap.Error(endErr))
		}
		return model.CallRoute{}, err
	}
	return route, nil
}

func (s *Session) InviteToCall(ctx context.Context, callID string, users ...string) error {
	return s.Calls.Invite(ctx, callID, s.identity, users...)
}

// AcceptCall joins the call and returns the route to navigate to.
func (s *Session) AcceptCall(ctx context.Context, callID string) (model.CallRoute, error) {
	if err := s.reserve(); err != nil {
		return model.CallRoute{}, err
	}
	defer s.unreserve()
	route, err := s.Calls.Accept(ctx, callID, s.identity)
	if err != nil {
		return model.CallRoute{}, err
	}
	if err := s.join(ctx, route); err != nil {
		if wErr := s.Calls.Withdraw(ctx, route, s.identity); wErr != nil {
			s.Logger.Warn("withdraw from unjoined call failed", zap.String("call_id", callID), zap.Error(wErr))
		}
		return model.CallRoute{}, err
	}
	return route, nil
}

func (s *Session) DeclineCall(ctx context.Context, callID string) error {
	return s.Calls.Decline(ctx, callID, s.identity)
}

// LeaveCall leaves the engine channel and stops the speaking aggregator.
// Leaving a 1:1 call ends it.
func (s *Session) LeaveCall(ctx context.Context) error {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()
	if active == nil {
		return ErrNoActiveCall
	}

	active.cancel()
	<-active.done

	var errs []error
	if err := s.Engine.LeaveChannel(ctx); err != nil {
		errs = append(errs, fmt.Errorf("leave channel: %w", err))
	}
	if active.route.Kind == model.RouteOneToOne {
		if err := s.Calls.End(ctx, active.route.CallID, model.CallStatusEnded); err != nil {
			errs = append(errs, err)
		}
	}
	s.Logger.Info("left call", zap.String("call_id", active.route.CallID))
	return errors.Join(errs...)
}

func (s *Session) SetMute(ctx context.Context, muted bool) error {
	s.mu.Lock()
	active := s.active
	if active != nil {
		active.muted = muted
	}
	s.mu.Unlock()
	if active == nil {
		return ErrNoActiveCall
	}
	return s.Engine.SetMute(ctx, muted)
}

// OnVolume forwards one call engine volume tick to the active call.
func (s *Session) OnVolume(ctx context.Context, samples []model.VolumeSample, aggregate int, muted bool) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return
	}
	active.agg.OnVolumeIndication(ctx, samples, aggregate, muted || active.muted)
}

// ActiveCall returns the current call and its aggregator, if any.
func (s *Session) ActiveCall() (model.CallRoute, *speaking.Aggregator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return model.CallRoute{}, nil, false
	}
	return s.active.route, s.active.agg, true
}

// Muted reports the local mute flag of the active call.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.muted
}

// reserve claims the call slot for a start or accept in flight.
func (s *Session) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil || s.joining {
		return ErrInCall
	}
	s.joining = true
	return nil
}

func (s *Session) unreserve() {
	s.mu.Lock()
	s.joining = false
	s.mu.Unlock()
}

func (s *Session) join(ctx context.Context, route model.CallRoute) error {
	if strings.TrimSpace(route.Channel) == "" {
		return fmt.Errorf("join %s: empty channel", route.CallID)
	}
	if err := s.Engine.JoinChannel(ctx, route.Channel, route.AudioOnly); err != nil {
		return fmt.Errorf("join channel %s: %w", route.Channel, err)
	}

	agg := speaking.NewAggregator(route.CallID, s.identity, s.Speaking, s.Logger, nil)
	aggCtx, cancel := context.WithCancel(context.Background())
	active := &activeCall{route: route, agg: agg, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(active.done)
		if err := agg.Run(aggCtx); err != nil {
			s.Logger.Warn("speaking listener stopped", zap.String("call_id", route.CallID), zap.Error(err))
		}
	}()

	s.mu.Lock()
	s.active = active
	s.mu.Unlock()

	s.Logger.Info("joined call",
		zap.String("call_id", route.CallID),
		zap.String("route", string(route.Kind)),
	)
	return nil
}
