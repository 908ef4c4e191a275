package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"Parley/internal/call"
	"Parley/internal/channel"
	"Parley/internal/conversation"
	"Parley/internal/event"
	"Parley/internal/model"
	"Parley/internal/session"
	"Parley/internal/transport"

	"go.uber.org/zap"
)

type engine struct {
	mu      sync.Mutex
	joined  []string
	left    int
	muted   bool
	joinErr error
}

func (e *engine) JoinChannel(ctx context.Context, channel string, audioOnly bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.joinErr != nil {
		return e.joinErr
	}
	e.joined = append(e.joined, channel)
	return nil
}

func (e *engine) LeaveChannel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.left++
	return nil
}

func (e *engine) SetMute(ctx context.Context, muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	return nil
}

// calls keeps one record and ignores invitations.
type calls struct {
	mu  sync.Mutex
	rec *model.CallRecord
}

func (c *calls) Create(ctx context.Context, rec model.CallRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = &rec
	return nil
}

func (c *calls) Get(ctx context.Context, callID string) (*model.CallRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec == nil || c.rec.ID != callID {
		return nil, call.ErrCallNotFound
	}
	cp := *c.rec
	return &cp, nil
}

func (c *calls) AddParticipants(ctx context.Context, callID string, status model.CallStatus, users ...string) (*model.CallRecord, error) {
	c.mu.Lock()
	for _, u := range users {
		if !slices.Contains(c.rec.Participants, u) {
			c.rec.Participants = append(c.rec.Participants, u)
		}
	}
	c.rec.Status = status
	c.mu.Unlock()
	return c.Get(ctx, callID)
}

func (c *calls) AddPendingInvites(ctx context.Context, callID string, users ...string) error {
	return nil
}

func (c *calls) RemovePendingInvite(ctx context.Context, callID, user string) error { return nil }

func (c *calls) RemoveParticipant(ctx context.Context, callID, user string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.rec.Participants[:0]
	for _, u := range c.rec.Participants {
		if u != user {
			kept = append(kept, u)
		}
	}
	c.rec.Participants = kept
	return nil
}

func (c *calls) SetStatus(ctx context.Context, callID string, status model.CallStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.Status = status
	return nil
}

type invitations struct{}

func (invitations) Create(ctx context.Context, inv model.CallInvitation) error { return nil }
func (invitations) Delete(ctx context.Context, id string) error                { return nil }

type speakingStore struct {
	mu   sync.Mutex
	sent []model.SpeakingSample
}

func (s *speakingStore) Broadcast(ctx context.Context, sample model.SpeakingSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sample)
	return nil
}

func (s *speakingStore) Listen(ctx context.Context, callID string) (<-chan model.SpeakingSample, error) {
	ch := make(chan model.SpeakingSample)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type lastSeen struct {
	mu sync.Mutex
	at time.Time
}

func (l *lastSeen) SetLastSeen(ctx context.Context, username string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.at = at
	return nil
}

type fixture struct {
	sess     *session.Session
	client   *transport.MemoryClient
	broker   *transport.Broker
	engine   *engine
	calls    *calls
	speaking *speakingStore
	users    *lastSeen
}

func newSession(t *testing.T, identity string) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		broker:   transport.NewBroker(),
		engine:   &engine{},
		calls:    &calls{},
		speaking: &speakingStore{},
		users:    &lastSeen{},
	}
	f.client = f.broker.NewClient()
	adapter := transport.NewAdapter(f.client, logger)
	f.sess = session.New(identity, session.Deps{
		Adapter:  adapter,
		Presence: channel.NewPresence(adapter, logger),
		Reducer: conversation.NewReducer(identity,
			channel.NewMessages(adapter, logger),
			channel.NewStatuses(adapter, logger),
			channel.NewTyping(adapter, logger),
			logger,
		),
		Calls:    call.NewCoordinator(f.calls, invitations{}, logger),
		Speaking: f.speaking,
		Users:    f.users,
		Engine:   f.engine,
		Logger:   logger,

		ReconnectWait: 10 * time.Millisecond,
	})
	return f
}

func retainedPresence(t *testing.T, b *transport.Broker, user string) model.Presence {
	t.Helper()
	raw, ok := b.Retained(event.PresenceTopic(user))
	if !ok {
		t.Fatalf("no retained presence for %s", user)
	}
	var p model.Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	return p
}

func TestStartAndStopPublishPresence(t *testing.T) {
	f := newSession(t, "alice")
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if p := retainedPresence(t, f.broker, "alice"); !p.IsOnline || p.LastSeen != nil {
		t.Fatalf("expected online record without lastSeen, got %#v", p)
	}

	f.sess.Stop(context.Background())
	p := retainedPresence(t, f.broker, "alice")
	if p.IsOnline || p.LastSeen == nil {
		t.Fatalf("expected offline record with lastSeen, got %#v", p)
	}
	f.users.mu.Lock()
	defer f.users.mu.Unlock()
	if f.users.at.IsZero() {
		t.Fatalf("last seen not stored")
	}
}

func TestLostSessionLeavesOfflineWill(t *testing.T) {
	f := newSession(t, "alice")
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer f.sess.Stop(context.Background())

	f.client.Drop()
	if p := retainedPresence(t, f.broker, "alice"); p.IsOnline {
		t.Fatalf("expected will to mark alice offline, got %#v", p)
	}
}

func TestStartWithoutBrokerStillRuns(t *testing.T) {
	f := newSession(t, "alice")
	f.client.FailConnect(errors.New("refused"))
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start should tolerate a failed connect, got %v", err)
	}
	if _, err := f.sess.Reducer.Send(context.Background(), "bob", "queued locally"); err != nil {
		t.Fatalf("send while offline should be a silent no-op, got %v", err)
	}
	f.sess.Stop(context.Background())
}

func TestAcceptJoinsAndLeaveEndsOneToOne(t *testing.T) {
	f := newSession(t, "bob")
	f.calls.rec = &model.CallRecord{ID: "c1", Channel: "room-1", Status: model.CallStatusRinging, CallerID: "alice", ReceiverID: "bob"}

	route, err := f.sess.AcceptCall(context.Background(), "c1")
	if err != nil {
		t.Fatalf("AcceptCall returned error: %v", err)
	}
	if route.Kind != model.RouteOneToOne {
		t.Fatalf("expected 1:1 route, got %s", route.Kind)
	}
	if len(f.engine.joined) != 1 || f.engine.joined[0] != "room-1" {
		t.Fatalf("engine not joined: %v", f.engine.joined)
	}
	if _, err := f.sess.AcceptCall(context.Background(), "c1"); !errors.Is(err, session.ErrInCall) {
		t.Fatalf("expected ErrInCall, got %v", err)
	}

	f.sess.OnVolume(context.Background(), []model.VolumeSample{{Username: "alice", Volume: 30}, {Local: true, Volume: 12}}, 12, false)
	_, agg, ok := f.sess.ActiveCall()
	if !ok {
		t.Fatalf("no active call")
	}
	if view := agg.View(); !view.Speaking["alice"] {
		t.Fatalf("volume tick not forwarded: %#v", view)
	}
	f.speaking.mu.Lock()
	if len(f.speaking.sent) != 1 || f.speaking.sent[0].Username != "bob" {
		t.Fatalf("expected local speaking broadcast, got %#v", f.speaking.sent)
	}
	f.speaking.mu.Unlock()

	if err := f.sess.SetMute(context.Background(), true); err != nil {
		t.Fatalf("SetMute returned error: %v", err)
	}
	if !f.engine.muted || !f.sess.Muted() {
		t.Fatalf("mute not applied")
	}

	if err := f.sess.LeaveCall(context.Background()); err != nil {
		t.Fatalf("LeaveCall returned error: %v", err)
	}
	if f.engine.left != 1 {
		t.Fatalf("engine not told to leave")
	}
	if f.calls.rec.Status != model.CallStatusEnded {
		t.Fatalf("1:1 call should end on leave, got %s", f.calls.rec.Status)
	}
	if err := f.sess.LeaveCall(context.Background()); !errors.Is(err, session.ErrNoActiveCall) {
		t.Fatalf("expected ErrNoActiveCall, got %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionRecoversWhenBrokerComesBack(t *testing.T) {
	f := newSession(t, "alice")
	f.client.FailConnect(errors.New("refused"))
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer f.sess.Stop(context.Background())

	if f.sess.Adapter.IsConnected() {
		t.Fatalf("adapter should start disconnected")
	}
	eventually(t, "offline streams", func() bool { return len(f.sess.Adapter.Topics()) == 3 })
	f.client.FailConnect(nil)
	eventually(t, "reconnect", f.sess.Adapter.IsConnected)
	eventually(t, "online presence", func() bool {
		raw, ok := f.broker.Retained(event.PresenceTopic("alice"))
		if !ok {
			return false
		}
		var p model.Presence
		return json.Unmarshal(raw, &p) == nil && p.IsOnline
	})

	logger := zap.NewNop()
	bob := transport.NewAdapter(f.broker.NewClient(), logger)
	if err := bob.Connect(context.Background(), "bob"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	msg := model.Message{ID: "b1", SenderID: "bob", ReceiverID: "alice", Text: "are you there"}
	if err := channel.NewMessages(bob, logger).Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	eventually(t, "message on the stream opened while offline", func() bool {
		return len(f.sess.Reducer.Messages("bob")) == 1
	})
}

func TestFailedJoinEndsFreshCall(t *testing.T) {
	f := newSession(t, "alice")
	f.engine.joinErr = errors.New("no engine")

	if _, err := f.sess.StartCall(context.Background(), model.CallRecord{ID: "c1", ReceiverID: "bob"}); err == nil {
		t.Fatalf("expected join error")
	}
	if f.calls.rec == nil || f.calls.rec.Status != model.CallStatusEnded {
		t.Fatalf("unjoined call left behind: %#v", f.calls.rec)
	}
	if _, _, ok := f.sess.ActiveCall(); ok {
		t.Fatalf("no call should be active")
	}
}

func TestFailedJoinWithdrawsFromGroupCall(t *testing.T) {
	f := newSession(t, "carol")
	f.calls.rec = &model.CallRecord{ID: "g1", Channel: "room-g", Status: model.CallStatusAccepted, CallerID: "alice", ReceiverID: "bob", Participants: []string{"alice", "bob"}, IsGroupCall: true}
	f.engine.joinErr = errors.New("no engine")

	if _, err := f.sess.AcceptCall(context.Background(), "g1"); err == nil {
		t.Fatalf("expected join error")
	}
	f.calls.mu.Lock()
	defer f.calls.mu.Unlock()
	if got := f.calls.rec.Participants; len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("carol should be withdrawn, participants %v", got)
	}
	if f.calls.rec.Status != model.CallStatusAccepted {
		t.Fatalf("group call should stay up, got %s", f.calls.rec.Status)
	}
}
