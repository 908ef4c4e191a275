// Package conversation owns the per-peer chat state of one session and
// reconciles it from the message, status and typing channels.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"Parley/internal/feed"
	"Parley/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBlankPeer    = errors.New("conversation: peer cannot be blank")
	ErrEmptyMessage = errors.New("conversation: message text cannot be empty")
)

// historyLimit caps how many stored messages LoadHistory pulls in.
const historyLimit = 200

type Messages interface {
	Publish(ctx context.Context, msg model.Message) error
	Observe(ctx context.Context, me string) <-chan model.Message
}

type Statuses interface {
	Publish(ctx context.Context, ev model.StatusEvent) error
	Observe(ctx context.Context, me string) <-chan model.StatusEvent
}

type Typing interface {
	Publish(ctx context.Context, ev model.TypingEvent) error
	Observe(ctx context.Context, me string) <-chan model.TypingEvent
}

// History is the durable chat store. Status updates must never lower a
// stored status.
type History interface {
	Save(ctx context.Context, msg model.Message) error
	UpdateStatus(ctx context.Context, chatID, messageID string, status model.DeliveryStatus) error
	Load(ctx context.Context, chatID string, limit int64) ([]model.Message, error)
}

// Snapshot is the state pushed to observers after every mutation.
type Snapshot struct {
	Self          string               `json:"self"`
	Conversations []model.Conversation `json:"conversations"`
	LastError     string               `json:"lastError,omitempty"`
}

type peerState struct {
	messages   []model.Message
	peerTyping bool
	selfTyping bool
	seenSent   map[string]bool
}

// Reducer is the conversation state machine. All mutations, whether from
// channel callbacks or local actions, go through its lock. Message lists
// are rebuilt, never edited in place: a handed-out snapshot is immutable.
type Reducer struct {
	self     string
	messages Messages
	statuses Statuses
	typing   Typing
	history  History
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	mu        sync.Mutex
	peers     map[string]*peerState
	order     []string
	lastError string

	feed *feed.Feed[Snapshot]
}

type Option func(*Reducer)

// WithHistory persists sends and delivery updates to h.
func WithHistory(h History) Option {
	return func(r *Reducer) { r.history = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reducer) { r.now = now }
}

// WithIDs replaces the message id generator.
func WithIDs(newID func() string) Option {
	return func(r *Reducer) { r.newID = newID }
}

func NewReducer(self string, messages Messages, statuses Statuses, typing Typing, logger *zap.Logger, opts ...Option) *Reducer {
	r := &Reducer{
		self:     self,
		messages: messages,
		statuses: statuses,
		typing:   typing,
		logger:   logger.With(zap.String("self", self)),
		now:      time.Now,
		newID:    uuid.NewString,
		peers:    make(map[string]*peerState),
		feed:     feed.New[Snapshot](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run observes this user's incoming, status and typing topics until ctx is
// done.
func (r *Reducer) Run(ctx context.Context) {
	incoming := r.messages.Observe(ctx, r.self)
	statuses := r.statuses.Observe(ctx, r.self)
	typing := r.typing.Observe(ctx, r.self)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for msg := range incoming {
			r.HandleIncoming(ctx, msg)
		}
	}()
	go func() {
		defer wg.Done()
		for ev := range statuses {
			r.HandleStatus(ctx, ev)
		}
	}()
	go func() {
		defer wg.Done()
		for ev := range typing {
			r.HandleTyping(ev)
		}
	}()
	wg.Wait()
}

// Observe streams snapshots until ctx is done.
func (r *Reducer) Observe(ctx context.Context) <-chan Snapshot {
	return r.feed.Subscribe(ctx)
}

// -----------------------------------------------------------------
// Remote events
// -----------------------------------------------------------------

// HandleIncoming records a message from a peer as DELIVERED and acks it.
// A redelivered id is not appended again but is acked again, since the
// sender may have missed the first ack.
func (r *Reducer) HandleIncoming(ctx context.Context, msg model.Message) {
	if msg.ID == "" || strings.TrimSpace(msg.SenderID) == "" {
		r.logger.Warn("dropping incoming message without id or sender", zap.String("message_id", msg.ID))
		return
	}
	if msg.SenderID == r.self {
		return
	}

	msg.Status = model.StatusDelivered
	msg.ChatID = model.ChatID(msg.SenderID, r.self)

	r.mu.Lock()
	ps := r.peerLocked(msg.SenderID)
	duplicate := indexOf(ps.messages, msg.ID) >= 0
	if !duplicate {
		ps.messages = append(ps.messages, msg)
		r.publishLocked()
	}
	r.mu.Unlock()

	if duplicate {
		r.logger.Debug("duplicate incoming message", zap.String("message_id", msg.ID))
	}

	r.ack(ctx, msg, model.StatusDelivered)
}

// HandleStatus moves a locally sent message forward. Unknown ids and
// regressions are ignored; every list entry sharing the id is updated.
func (r *Reducer) HandleStatus(ctx context.Context, ev model.StatusEvent) {
	r.mu.Lock()
	ps, ok := r.peers[ev.SenderID]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("status for unknown conversation", zap.String("peer", ev.SenderID))
		return
	}

	var rebuilt []model.Message
	for i, m := range ps.messages {
		if m.ID != ev.MessageID || m.SenderID != r.self || !m.Status.Advances(ev.Status) {
			continue
		}
		if rebuilt == nil {
			rebuilt = append([]model.Message(nil), ps.messages...)
		}
		rebuilt[i].Status = ev.Status
	}
	if rebuilt == nil {
		r.mu.Unlock()
		r.logger.Debug("status ignored",
			zap.String("message_id", ev.MessageID),
			zap.Stringer("status", ev.Status),
		)
		return
	}
	ps.messages = rebuilt
	r.publishLocked()
	r.mu.Unlock()
}

// HandleTyping stores the peer's latest typing edge.
func (r *Reducer) HandleTyping(ev model.TypingEvent) {
	if strings.TrimSpace(ev.SenderID) == "" || ev.SenderID == r.self {
		return
	}

	r.mu.Lock()
	ps := r.peerLocked(ev.SenderID)
	if ps.peerTyping == ev.IsTyping {
		r.mu.Unlock()
		return
	}
	ps.peerTyping = ev.IsTyping
	r.publishLocked()
	r.mu.Unlock()
}

// -----------------------------------------------------------------
// Local actions
// -----------------------------------------------------------------

// Send appends a SENT message to peer's list and then publishes it.
func (r *Reducer) Send(ctx context.Context, peer, text string) (model.Message, error) {
	if strings.TrimSpace(peer) == "" {
		return model.Message{}, ErrBlankPeer
	}
	if text == "" {
		return model.Message{}, ErrEmptyMessage
	}

	msg := model.Message{
		ID:         r.newID(),
		ChatID:     model.ChatID(r.self, peer),
		SenderID:   r.self,
		ReceiverID: peer,
		Text:       text,
		Timestamp:  r.now().UnixMilli(),
		Status:     model.StatusSent,
	}

	r.mu.Lock()
	ps := r.peerLocked(peer)
	ps.messages = append(ps.messages, msg)
	r.publishLocked()
	r.mu.Unlock()

	if r.history != nil {
		if err := r.history.Save(ctx, msg); err != nil {
			r.fail("save message", err)
		}
	}

	if err := r.messages.Publish(ctx, msg); err != nil {
		r.fail("send message", err)
		return msg, err
	}
	return msg, nil
}

// SetTyping records the local typing flag for peer and publishes the edge.
// Callers publish on every text-change edge; there is no timer.
func (r *Reducer) SetTyping(ctx context.Context, peer string, typing bool) error {
	if strings.TrimSpace(peer) == "" {
		return ErrBlankPeer
	}

	r.mu.Lock()
	ps := r.peerLocked(peer)
	ps.selfTyping = typing
	r.publishLocked()
	r.mu.Unlock()

	err := r.typing.Publish(ctx, model.TypingEvent{SenderID: r.self, ReceiverID: peer, IsTyping: typing})
	if err != nil {
		r.logger.Warn("publish typing failed", zap.String("peer", peer), zap.Error(err))
	}
	return err
}

// MarkSeen reports a rendered DELIVERED message from peer as SEEN. The
// local copy keeps DELIVERED; SEEN only ever lands on the sender's copy.
// Repeated calls for the same message publish once.
func (r *Reducer) MarkSeen(ctx context.Context, peer, messageID string) error {
	r.mu.Lock()
	ps, ok := r.peers[peer]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	i := indexOf(ps.messages, messageID)
	if i < 0 || ps.messages[i].SenderID != peer || ps.messages[i].Status != model.StatusDelivered || ps.seenSent[messageID] {
		r.mu.Unlock()
		return nil
	}
	msg := ps.messages[i]
	ps.seenSent[messageID] = true
	r.mu.Unlock()

	if err := r.ack(ctx, msg, model.StatusSeen); err != nil {
		r.mu.Lock()
		delete(ps.seenSent, messageID)
		r.mu.Unlock()
		return err
	}
	return nil
}

// Leave ends the session view of peer: the peer's typing flag is cleared
// and, if we were typing, a final isTyping=false is published.
func (r *Reducer) Leave(ctx context.Context, peer string) {
	r.mu.Lock()
	ps, ok := r.peers[peer]
	if !ok {
		r.mu.Unlock()
		return
	}
	wasTyping := ps.selfTyping
	ps.peerTyping = false
	ps.selfTyping = false
	r.publishLocked()
	r.mu.Unlock()

	if wasTyping {
		if err := r.typing.Publish(ctx, model.TypingEvent{SenderID: r.self, ReceiverID: peer}); err != nil {
			r.logger.Warn("publish typing stop failed", zap.String("peer", peer), zap.Error(err))
		}
	}
}

// LoadHistory seeds peer's conversation from the durable store. Stored
// messages not yet known locally are placed ahead of the live ones.
func (r *Reducer) LoadHistory(ctx context.Context, peer string) error {
	if r.history == nil {
		return nil
	}
	if strings.TrimSpace(peer) == "" {
		return ErrBlankPeer
	}

	stored, err := r.history.Load(ctx, model.ChatID(r.self, peer), historyLimit)
	if err != nil {
		r.fail("load history", err)
		return err
	}

	r.mu.Lock()
	ps := r.peerLocked(peer)
	older := make([]model.Message, 0, len(stored))
	for _, m := range stored {
		if indexOf(ps.messages, m.ID) >= 0 {
			continue
		}
		if m.SenderID == peer {
			// our copy of a received message never goes past DELIVERED
			if m.Status == model.StatusSeen {
				ps.seenSent[m.ID] = true
			}
			m.Status = model.StatusDelivered
		}
		older = append(older, m)
	}
	if len(older) > 0 {
		ps.messages = append(older, ps.messages...)
	}
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------
// Queries
// -----------------------------------------------------------------

// Messages returns peer's messages in append order.
func (r *Reducer) Messages(peer string) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[peer]
	if !ok {
		return nil
	}
	return append([]model.Message(nil), ps.messages...)
}

// PeerTyping returns the last typing edge received from peer.
func (r *Reducer) PeerTyping(peer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[peer]
	return ok && ps.peerTyping
}

func (r *Reducer) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// -----------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------

// ack publishes status for a received message and mirrors it to the store.
func (r *Reducer) ack(ctx context.Context, msg model.Message, status model.DeliveryStatus) error {
	ev := model.StatusEvent{
		MessageID:  msg.ID,
		SenderID:   r.self,
		ReceiverID: msg.SenderID,
		Status:     status,
	}
	if err := r.statuses.Publish(ctx, ev); err != nil {
		r.logger.Warn("publish status failed",
			zap.String("message_id", msg.ID),
			zap.Stringer("status", status),
			zap.Error(err),
		)
		return err
	}

	if r.history != nil {
		if err := r.history.UpdateStatus(ctx, msg.ChatID, msg.ID, status); err != nil {
			r.fail("update message status", err)
		}
	}
	return nil
}

// fail records a durable-store or transport failure as the user-visible
// transient error.
func (r *Reducer) fail(op string, err error) {
	r.logger.Error(op+" failed", zap.Error(err))

	r.mu.Lock()
	r.lastError = fmt.Sprintf("%s: %v", op, err)
	r.publishLocked()
	r.mu.Unlock()
}

// publishLocked pushes the current snapshot. Called with r.mu held so
// observers see snapshots in mutation order.
func (r *Reducer) publishLocked() {
	r.feed.Publish(r.snapshotLocked())
}

func (r *Reducer) peerLocked(peer string) *peerState {
	ps, ok := r.peers[peer]
	if !ok {
		ps = &peerState{seenSent: make(map[string]bool)}
		r.peers[peer] = ps
		r.order = append(r.order, peer)
	}
	return ps
}

func (r *Reducer) snapshotLocked() Snapshot {
	snap := Snapshot{
		Self:          r.self,
		Conversations: make([]model.Conversation, 0, len(r.order)),
		LastError:     r.lastError,
	}
	for _, peer := range r.order {
		ps := r.peers[peer]
		snap.Conversations = append(snap.Conversations, model.Conversation{
			PeerID:     peer,
			Messages:   ps.messages[:len(ps.messages):len(ps.messages)],
			PeerTyping: ps.peerTyping,
			SelfTyping: ps.selfTyping,
		})
	}
	return snap
}

func indexOf(messages []model.Message, id string) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
