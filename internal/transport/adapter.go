package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// tuning parameters
	sinkBufSize      = 64               // per-stream buffered payloads
	deliverTimeout   = 2 * time.Second  // time a slow stream may block delivery
	unsubscribeAfter = 5 * time.Second  // timeout for broker unsubscribe on release
	resubscribeWait  = 10 * time.Second // timeout per topic when resubscribing
	publishWait      = 5 * time.Second  // applied when the caller has no deadline
	connectWait      = 15 * time.Second // applied when the caller has no deadline
)

// attemptSeq disambiguates connect attempts made in the same millisecond.
var attemptSeq atomic.Uint64

// sink is one consumer's view of a topic.
type sink struct {
	ch     chan []byte
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func (s *sink) deliver(payload []byte, logger *zap.Logger, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- payload:
	case <-s.done:
	case <-time.After(deliverTimeout):
		logger.Warn("stream too slow, dropping payload", zap.String("topic", topic))
	}
}

func (s *sink) close() {
	close(s.done)
	s.mu.Lock()
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
}

type topicState struct {
	qos     QoS
	sinks   map[uint64]*sink
	last    []byte
	hasLast bool
}

// Adapter wraps a broker Client. It never fails an operation because the
// session is down: publishes are skipped and streams stay empty, so callers
// can use it opportunistically without gating on connection state.
type Adapter struct {
	client Client
	logger *zap.Logger
	now    func() time.Time

	// subMu orders broker subscribe/unsubscribe calls
	subMu sync.Mutex

	mu       sync.Mutex
	identity string
	clientID string
	will     *Will
	topics   map[string]*topicState
	nextSink uint64
}

// NewAdapter creates an adapter over client. It does not connect.
func NewAdapter(client Client, logger *zap.Logger) *Adapter {
	return &Adapter{
		client: client,
		logger: logger,
		now:    time.Now,
		topics: make(map[string]*topicState),
	}
}

// SetWill registers the message the broker publishes if this session is
// lost. It applies from the next connect attempt.
func (a *Adapter) SetWill(w *Will) {
	a.mu.Lock()
	a.will = w
	a.mu.Unlock()
}

// Connect opens a non-persistent session for identity under a client id
// generated for this attempt. On failure the adapter stays disconnected.
func (a *Adapter) Connect(ctx context.Context, identity string) error {
	if strings.TrimSpace(identity) == "" {
		a.logger.Error("transport connect refused", zap.Error(ErrBlankIdentity))
		return ErrBlankIdentity
	}

	clientID := fmt.Sprintf("%s-%d-%d", identity, a.now().UnixMilli(), attemptSeq.Add(1))

	a.mu.Lock()
	a.identity = identity
	a.clientID = clientID
	will := a.will
	a.mu.Unlock()

	ctx, cancel := ensureTimeout(ctx, connectWait)
	defer cancel()

	err := a.client.Connect(ctx, ConnectOptions{
		ClientID:  clientID,
		Will:      will,
		OnConnect: a.resubscribe,
	})
	if err != nil {
		a.logger.Error("transport connect failed",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return fmt.Errorf("connect %s: %w", clientID, err)
	}

	a.logger.Info("transport connected", zap.String("client_id", clientID))
	return nil
}

// Reconnect drops the current session and connects again with a fresh
// client id. Open streams are resubscribed once the new session is up.
func (a *Adapter) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	identity := a.identity
	a.mu.Unlock()

	a.client.Disconnect()
	return a.Connect(ctx, identity)
}

// Disconnect closes the session. Streams stay open until their contexts
// are cancelled and resume on the next connect.
func (a *Adapter) Disconnect() {
	a.client.Disconnect()
	a.logger.Info("transport disconnected", zap.String("client_id", a.ClientID()))
}

// IsConnected reports whether the session is currently up.
func (a *Adapter) IsConnected() bool {
	return a.client.IsConnected()
}

// ClientID returns the id used by the latest connect attempt.
func (a *Adapter) ClientID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientID
}

// Topics lists the topics that currently have at least one open stream.
func (a *Adapter) Topics() []string {
	a.mu.Lock()
	topics := make([]string, 0, len(a.topics))
	for topic := range a.topics {
		topics = append(topics, topic)
	}
	a.mu.Unlock()

	sort.Strings(topics)
	return topics
}

// Publish sends payload on topic. It is a no-op when not connected.
func (a *Adapter) Publish(ctx context.Context, topic string, payload []byte, qos QoS, retained bool) error {
	if !a.IsConnected() {
		a.logger.Debug("publish skipped: not connected", zap.String("topic", topic))
		return nil
	}

	ctx, cancel := ensureTimeout(ctx, publishWait)
	defer cancel()

	if err := a.client.Publish(ctx, topic, qos, retained, payload); err != nil {
		a.logger.Warn("publish failed",
			zap.String("topic", topic),
			zap.Uint8("qos", uint8(qos)),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a stream of raw payloads on topic. The stream is closed
// and the broker subscription released once ctx is done; nothing is
// delivered after that. Streams on the same topic share one broker
// subscription. With replay set, a stream joining a topic that is already
// subscribed first receives the last payload seen on it. A stream opened
// while disconnected stays empty until the next successful connect.
func (a *Adapter) Subscribe(ctx context.Context, topic string, qos QoS, replay bool) <-chan []byte {
	out := make(chan []byte, sinkBufSize)
	s := &sink{ch: out, done: make(chan struct{})}

	a.mu.Lock()
	st, exists := a.topics[topic]
	if !exists {
		st = &topicState{qos: qos, sinks: make(map[uint64]*sink)}
		a.topics[topic] = st
	}
	id := a.nextSink
	a.nextSink++
	st.sinks[id] = s
	if replay && st.hasLast {
		out <- st.last
	}
	a.mu.Unlock()

	if !exists {
		a.subMu.Lock()
		if a.IsConnected() {
			if err := a.client.Subscribe(ctx, topic, qos, a.handler(topic)); err != nil {
				a.logger.Warn("subscribe failed, will retry on reconnect",
					zap.String("topic", topic),
					zap.Error(err),
				)
			}
		} else {
			a.logger.Debug("subscribe deferred: not connected", zap.String("topic", topic))
		}
		a.subMu.Unlock()
	}

	go func() {
		<-ctx.Done()
		a.release(topic, id)
	}()

	return out
}

func (a *Adapter) release(topic string, id uint64) {
	a.mu.Lock()
	st, ok := a.topics[topic]
	if !ok {
		a.mu.Unlock()
		return
	}
	s := st.sinks[id]
	delete(st.sinks, id)
	empty := len(st.sinks) == 0
	if empty {
		delete(a.topics, topic)
	}
	a.mu.Unlock()

	if s != nil {
		s.close()
	}

	if !empty || !a.IsConnected() {
		return
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()

	// a new stream may have claimed the topic in the meantime
	a.mu.Lock()
	_, reclaimed := a.topics[topic]
	a.mu.Unlock()
	if reclaimed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeAfter)
	defer cancel()
	if err := a.client.Unsubscribe(ctx, topic); err != nil {
		a.logger.Warn("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (a *Adapter) handler(topic string) func([]byte) {
	return func(payload []byte) {
		a.mu.Lock()
		st, ok := a.topics[topic]
		if !ok {
			a.mu.Unlock()
			return
		}
		st.last = payload
		st.hasLast = true
		sinks := make([]*sink, 0, len(st.sinks))
		for _, s := range st.sinks {
			sinks = append(sinks, s)
		}
		a.mu.Unlock()

		for _, s := range sinks {
			s.deliver(payload, a.logger, topic)
		}
	}
}

// resubscribe re-establishes broker subscriptions for every open stream.
func (a *Adapter) resubscribe() {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	a.mu.Lock()
	pending := make(map[string]QoS, len(a.topics))
	for topic, st := range a.topics {
		pending[topic] = st.qos
	}
	a.mu.Unlock()

	for topic, qos := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), resubscribeWait)
		err := a.client.Subscribe(ctx, topic, qos, a.handler(topic))
		cancel()
		if err != nil {
			a.logger.Warn("resubscribe failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		a.logger.Debug("resubscribed", zap.String("topic", topic))
	}
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
