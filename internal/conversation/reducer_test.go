package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"Parley/internal/conversation"
	"Parley/internal/model"

	"go.uber.org/zap"
)

type stubMessages struct {
	mu        sync.Mutex
	published []model.Message
	err       error
}

func (s *stubMessages) Publish(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, msg)
	return s.err
}

func (s *stubMessages) Observe(ctx context.Context, me string) <-chan model.Message {
	return closedAfter[model.Message](ctx)
}

type stubStatuses struct {
	mu        sync.Mutex
	published []model.StatusEvent
}

func (s *stubStatuses) Publish(ctx context.Context, ev model.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, ev)
	return nil
}

func (s *stubStatuses) Observe(ctx context.Context, me string) <-chan model.StatusEvent {
	return closedAfter[model.StatusEvent](ctx)
}

func (s *stubStatuses) events() []model.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StatusEvent(nil), s.published...)
}

type stubTyping struct {
	mu        sync.Mutex
	published []model.TypingEvent
}

func (s *stubTyping) Publish(ctx context.Context, ev model.TypingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, ev)
	return nil
}

func (s *stubTyping) Observe(ctx context.Context, me string) <-chan model.TypingEvent {
	return closedAfter[model.TypingEvent](ctx)
}

type stubHistory struct {
	mu      sync.Mutex
	saved   []model.Message
	updates []model.DeliveryStatus
	stored  []model.Message
	err     error
}

func (h *stubHistory) Save(ctx context.Context, msg model.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append(h.saved, msg)
	return h.err
}

func (h *stubHistory) UpdateStatus(ctx context.Context, chatID, messageID string, status model.DeliveryStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, status)
	return h.err
}

func (h *stubHistory) Load(ctx context.Context, chatID string, limit int64) ([]model.Message, error) {
	return h.stored, h.err
}

func closedAfter[T any](ctx context.Context) <-chan T {
	ch := make(chan T)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

type fixture struct {
	reducer  *conversation.Reducer
	messages *stubMessages
	statuses *stubStatuses
	typing   *stubTyping
}

func newFixture(self string, opts ...conversation.Option) *fixture {
	f := &fixture{messages: &stubMessages{}, statuses: &stubStatuses{}, typing: &stubTyping{}}
	seq := 0
	opts = append([]conversation.Option{conversation.WithIDs(func() string {
		seq++
		return fmt.Sprintf("%s-m%d", self, seq)
	})}, opts...)
	f.reducer = conversation.NewReducer(self, f.messages, f.statuses, f.typing, zap.NewNop(), opts...)
	return f
}

func TestSendAppendsInSendOrderNotTimestampOrder(t *testing.T) {
	clock := []time.Time{time.UnixMilli(3000), time.UnixMilli(1000), time.UnixMilli(2000)}
	i := 0
	f := newFixture("alice", conversation.WithClock(func() time.Time {
		now := clock[i]
		i++
		return now
	}))

	for _, text := range []string{"one", "two", "three"} {
		if _, err := f.reducer.Send(context.Background(), "bob", text); err != nil {
			t.Fatalf("Send returned error: %v", err)
		}
	}

	msgs := f.reducer.Messages("bob")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Text != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, msgs[i].Text)
		}
		if msgs[i].Status != model.StatusSent {
			t.Fatalf("position %d: expected SENT, got %s", i, msgs[i].Status)
		}
	}
	if len(f.messages.published) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(f.messages.published))
	}
}

func TestSendKeepsLocalEchoWhenPublishFails(t *testing.T) {
	f := newFixture("alice")
	f.messages.err = errors.New("broker down")

	if _, err := f.reducer.Send(context.Background(), "bob", "hi"); err == nil {
		t.Fatalf("expected publish error")
	}
	if msgs := f.reducer.Messages("bob"); len(msgs) != 1 || msgs[0].Status != model.StatusSent {
		t.Fatalf("local echo missing: %#v", msgs)
	}
	if f.reducer.Snapshot().LastError == "" {
		t.Fatalf("expected a user-visible error")
	}
}

func TestSendRejectsBlankPeer(t *testing.T) {
	f := newFixture("alice")
	if _, err := f.reducer.Send(context.Background(), " ", "hi"); !errors.Is(err, conversation.ErrBlankPeer) {
		t.Fatalf("expected ErrBlankPeer, got %v", err)
	}
}

func TestStatusForUnknownMessageIsNoop(t *testing.T) {
	f := newFixture("alice")
	msg, _ := f.reducer.Send(context.Background(), "bob", "hi")

	f.reducer.HandleStatus(context.Background(), model.StatusEvent{MessageID: "nope", SenderID: "bob", ReceiverID: "alice", Status: model.StatusSeen})
	f.reducer.HandleStatus(context.Background(), model.StatusEvent{MessageID: msg.ID, SenderID: "carol", ReceiverID: "alice", Status: model.StatusSeen})

	msgs := f.reducer.Messages("bob")
	if len(msgs) != 1 || msgs[0].Status != model.StatusSent {
		t.Fatalf("list changed: %#v", msgs)
	}
}

func TestStatusEventBeforeMessageIsNoop(t *testing.T) {
	f := newFixture("alice")
	f.reducer.HandleStatus(context.Background(), model.StatusEvent{MessageID: "m1", SenderID: "bob", ReceiverID: "alice", Status: model.StatusDelivered})
	if msgs := f.reducer.Messages("bob"); len(msgs) != 0 {
		t.Fatalf("expected no messages, got %#v", msgs)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	f := newFixture("alice")
	msg, _ := f.reducer.Send(context.Background(), "bob", "hi")

	seen := model.StatusEvent{MessageID: msg.ID, SenderID: "bob", ReceiverID: "alice", Status: model.StatusSeen}
	delivered := seen
	delivered.Status = model.StatusDelivered

	f.reducer.HandleStatus(context.Background(), seen)
	f.reducer.HandleStatus(context.Background(), delivered)
	f.reducer.HandleStatus(context.Background(), seen)

	if got := f.reducer.Messages("bob")[0].Status; got != model.StatusSeen {
		t.Fatalf("expected SEEN, got %s", got)
	}
}

func TestIncomingIsDeliveredAndAcked(t *testing.T) {
	f := newFixture("bob")
	f.reducer.HandleIncoming(context.Background(), model.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hi", Status: model.StatusSent})

	msgs := f.reducer.Messages("alice")
	if len(msgs) != 1 || msgs[0].Status != model.StatusDelivered {
		t.Fatalf("expected one DELIVERED message, got %#v", msgs)
	}
	acks := f.statuses.events()
	if len(acks) != 1 {
		t.Fatalf("expected one ack, got %d", len(acks))
	}
	want := model.StatusEvent{MessageID: "m1", SenderID: "bob", ReceiverID: "alice", Status: model.StatusDelivered}
	if acks[0] != want {
		t.Fatalf("unexpected ack %#v", acks[0])
	}
}

func TestDuplicateIncomingIsAckedButNotAppended(t *testing.T) {
	f := newFixture("bob")
	msg := model.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hi"}
	f.reducer.HandleIncoming(context.Background(), msg)
	f.reducer.HandleIncoming(context.Background(), msg)

	if msgs := f.reducer.Messages("alice"); len(msgs) != 1 {
		t.Fatalf("expected de-duplicated list, got %d entries", len(msgs))
	}
	if acks := f.statuses.events(); len(acks) != 2 {
		t.Fatalf("expected every delivery to be acked, got %d", len(acks))
	}

	if err := f.reducer.MarkSeen(context.Background(), "alice", "m1"); err != nil {
		t.Fatalf("MarkSeen returned error: %v", err)
	}
	acks := f.statuses.events()
	if last := acks[len(acks)-1]; last.Status != model.StatusSeen || last.MessageID != "m1" {
		t.Fatalf("expected SEEN for m1, got %#v", last)
	}
}

func TestMarkSeenPublishesOnceAndKeepsLocalCopy(t *testing.T) {
	f := newFixture("bob")
	f.reducer.HandleIncoming(context.Background(), model.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hi"})

	for i := 0; i < 3; i++ {
		if err := f.reducer.MarkSeen(context.Background(), "alice", "m1"); err != nil {
			t.Fatalf("MarkSeen returned error: %v", err)
		}
	}

	seen := 0
	for _, ev := range f.statuses.events() {
		if ev.Status == model.StatusSeen {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("expected one SEEN publish, got %d", seen)
	}
	if got := f.reducer.Messages("alice")[0].Status; got != model.StatusDelivered {
		t.Fatalf("receiver copy should stay DELIVERED, got %s", got)
	}
}

func TestMarkSeenIgnoresOwnMessages(t *testing.T) {
	f := newFixture("alice")
	msg, _ := f.reducer.Send(context.Background(), "bob", "hi")
	if err := f.reducer.MarkSeen(context.Background(), "bob", msg.ID); err != nil {
		t.Fatalf("MarkSeen returned error: %v", err)
	}
	if acks := f.statuses.events(); len(acks) != 0 {
		t.Fatalf("expected no status publish, got %#v", acks)
	}
}

func TestTypingHoldsUntilFalseOrLeave(t *testing.T) {
	f := newFixture("bob")
	f.reducer.HandleTyping(model.TypingEvent{SenderID: "alice", ReceiverID: "bob", IsTyping: true})
	if !f.reducer.PeerTyping("alice") {
		t.Fatalf("expected alice typing")
	}
	f.reducer.HandleTyping(model.TypingEvent{SenderID: "alice", ReceiverID: "bob", IsTyping: false})
	if f.reducer.PeerTyping("alice") {
		t.Fatalf("expected typing cleared by false edge")
	}

	f.reducer.HandleTyping(model.TypingEvent{SenderID: "alice", ReceiverID: "bob", IsTyping: true})
	if err := f.reducer.SetTyping(context.Background(), "alice", true); err != nil {
		t.Fatalf("SetTyping returned error: %v", err)
	}
	f.reducer.Leave(context.Background(), "alice")
	if f.reducer.PeerTyping("alice") {
		t.Fatalf("expected typing cleared by leaving")
	}

	f.typing.mu.Lock()
	defer f.typing.mu.Unlock()
	if len(f.typing.published) != 2 || !f.typing.published[0].IsTyping || f.typing.published[1].IsTyping {
		t.Fatalf("expected typing true then false, got %#v", f.typing.published)
	}
}

func TestSetTypingUpdatesSnapshotImmediately(t *testing.T) {
	f := newFixture("alice")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snaps := f.reducer.Observe(ctx)

	if err := f.reducer.SetTyping(context.Background(), "bob", true); err != nil {
		t.Fatalf("SetTyping returned error: %v", err)
	}
	select {
	case snap := <-snaps:
		if len(snap.Conversations) != 1 || !snap.Conversations[0].SelfTyping {
			t.Fatalf("unexpected snapshot %#v", snap)
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot pushed")
	}
}

func TestHistoryWritesAndLoad(t *testing.T) {
	history := &stubHistory{stored: []model.Message{
		{ID: "old1", SenderID: "alice", ReceiverID: "bob", Text: "earlier", Status: model.StatusSeen, ChatID: "alice_bob"},
		{ID: "old2", SenderID: "bob", ReceiverID: "alice", Text: "reply", Status: model.StatusDelivered, ChatID: "alice_bob"},
	}}
	f := newFixture("bob", conversation.WithHistory(history))
	f.reducer.HandleIncoming(context.Background(), model.Message{ID: "live", SenderID: "alice", ReceiverID: "bob", Text: "now"})

	if err := f.reducer.LoadHistory(context.Background(), "alice"); err != nil {
		t.Fatalf("LoadHistory returned error: %v", err)
	}
	msgs := f.reducer.Messages("alice")
	if len(msgs) != 3 || msgs[0].ID != "old1" || msgs[1].ID != "old2" || msgs[2].ID != "live" {
		t.Fatalf("unexpected order %#v", msgs)
	}
	if msgs[0].Status != model.StatusDelivered {
		t.Fatalf("received message should load as DELIVERED, got %s", msgs[0].Status)
	}

	// already reported as seen before the restart
	if err := f.reducer.MarkSeen(context.Background(), "alice", "old1"); err != nil {
		t.Fatalf("MarkSeen returned error: %v", err)
	}
	for _, ev := range f.statuses.events() {
		if ev.MessageID == "old1" {
			t.Fatalf("old1 should not be reported again")
		}
	}

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.updates) != 1 || history.updates[0] != model.StatusDelivered {
		t.Fatalf("expected DELIVERED store update, got %#v", history.updates)
	}
}

func TestHistoryFailureSurfacesError(t *testing.T) {
	history := &stubHistory{err: errors.New("store unavailable")}
	f := newFixture("alice", conversation.WithHistory(history))

	if _, err := f.reducer.Send(context.Background(), "bob", "hi"); err != nil {
		t.Fatalf("store failure should not fail the send, got %v", err)
	}
	if f.reducer.Snapshot().LastError == "" {
		t.Fatalf("expected a user-visible error")
	}
	if len(f.messages.published) != 1 {
		t.Fatalf("message should still be published")
	}
}

func messageCount(snap conversation.Snapshot) int {
	n := 0
	for _, c := range snap.Conversations {
		n += len(c.Messages)
	}
	return n
}

func TestConcurrentMutationsSettleOnLatestSnapshot(t *testing.T) {
	f := newFixture("alice")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snapshots := f.reducer.Observe(ctx)

	const peers, perPeer = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < peers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			sender := fmt.Sprintf("peer%d", p)
			for i := 0; i < perPeer; i++ {
				f.reducer.HandleIncoming(ctx, model.Message{
					ID:         fmt.Sprintf("%s-%d", sender, i),
					SenderID:   sender,
					ReceiverID: "alice",
					Text:       "hi",
				})
				f.reducer.HandleTyping(model.TypingEvent{SenderID: sender, ReceiverID: "alice", IsTyping: i%2 == 1})
			}
		}(p)
	}
	wg.Wait()

	// the observer keeps only the newest value; once quiet it must be final
	var last conversation.Snapshot
	for {
		select {
		case snap := <-snapshots:
			last = snap
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	if got := messageCount(last); got != peers*perPeer {
		t.Fatalf("observer settled on a stale snapshot with %d of %d messages", got, peers*perPeer)
	}
	for _, c := range last.Conversations {
		if c.PeerTyping {
			t.Fatalf("observer settled on a stale typing flag for %s", c.PeerID)
		}
	}
}
