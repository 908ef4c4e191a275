package channel_test

import (
	"context"
	"testing"
	"time"

	"Parley/internal/channel"
	"Parley/internal/event"
	"Parley/internal/model"
	"Parley/internal/transport"

	"go.uber.org/zap"
)

func adapter(t *testing.T, b *transport.Broker, identity string) *transport.Adapter {
	t.Helper()
	a := transport.NewAdapter(b.NewClient(), zap.NewNop())
	if err := a.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	return a
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed")
		}
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for value")
	}
	var zero T
	return zero
}

func none[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %#v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPresenceNeverPublishedYieldsNothing(t *testing.T) {
	b := transport.NewBroker()
	presence := channel.NewPresence(adapter(t, b, "bob"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	none(t, presence.Observe(ctx, "alice"))
	cancel()
}

func TestPresenceRetainedForNewObserver(t *testing.T) {
	b := transport.NewBroker()
	alice := channel.NewPresence(adapter(t, b, "alice"), zap.NewNop())
	lastSeen := time.UnixMilli(1700000000000)
	if err := alice.Publish(context.Background(), "alice", false, lastSeen); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	bob := channel.NewPresence(adapter(t, b, "bob"), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := next(t, bob.Observe(ctx, "alice"))
	if rec.UserID != "alice" || rec.IsOnline {
		t.Fatalf("unexpected record %#v", rec)
	}
	if rec.LastSeen == nil || *rec.LastSeen != lastSeen.UnixMilli() {
		t.Fatalf("lastSeen not carried: %#v", rec.LastSeen)
	}
}

func TestPresenceOnlineRecordHasNoLastSeen(t *testing.T) {
	rec := channel.Record("alice", true, time.Now())
	if rec.LastSeen != nil {
		t.Fatalf("online record should not carry lastSeen")
	}
}

func TestObserveDropsMalformedAndKeepsStream(t *testing.T) {
	b := transport.NewBroker()
	raw := adapter(t, b, "alice")
	messages := channel.NewMessages(adapter(t, b, "bob"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := messages.Observe(ctx, "bob")

	if err := raw.Publish(context.Background(), event.IncomingTopic("bob"), []byte("{not json"), transport.AtLeastOnce, false); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if err := raw.Publish(context.Background(), event.IncomingTopic("bob"), []byte(`{"id":"m1","senderId":"alice","receiverId":"bob","text":"hi","timestamp":1,"status":"BOGUS"}`), transport.AtLeastOnce, false); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	sender := channel.NewMessages(raw, zap.NewNop())
	if err := sender.Publish(context.Background(), model.Message{ID: "m2", SenderID: "alice", ReceiverID: "bob", Text: "hi", Status: model.StatusSent}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	msg := next(t, stream)
	if msg.ID != "m2" || msg.Status != model.StatusSent {
		t.Fatalf("unexpected message %#v", msg)
	}
}

func TestObserveFiltersOtherReceivers(t *testing.T) {
	b := transport.NewBroker()
	raw := adapter(t, b, "mallory")
	statuses := channel.NewStatuses(adapter(t, b, "alice"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := statuses.Observe(ctx, "alice")

	replayed := []byte(`{"messageId":"m1","senderId":"bob","receiverId":"carol","status":"SEEN"}`)
	if err := raw.Publish(context.Background(), event.StatusTopic("alice"), replayed, transport.AtLeastOnce, false); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	none(t, stream)
}

func TestTypingRoundTrip(t *testing.T) {
	b := transport.NewBroker()
	alice := channel.NewTyping(adapter(t, b, "alice"), zap.NewNop())
	bob := channel.NewTyping(adapter(t, b, "bob"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := bob.Observe(ctx, "bob")

	if err := alice.Publish(context.Background(), model.TypingEvent{SenderID: "alice", ReceiverID: "bob", IsTyping: true}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	ev := next(t, stream)
	if ev.SenderID != "alice" || !ev.IsTyping {
		t.Fatalf("unexpected event %#v", ev)
	}
}
