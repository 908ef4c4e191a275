// Package hub is the local bridge between the engine and UI processes: it
// streams state to websocket clients, takes their commands and drives the
// call engine that runs inside the UI.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"

	"Parley/internal/event"
	"Parley/internal/push"
	"Parley/internal/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrNoEngine = errors.New("hub: no call engine attached")

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type Hub struct {
	clientsMu  sync.RWMutex
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	sess *session.Session
	push *push.Handler

	// cancels forwarding of the active call's speaking views
	callMu     sync.Mutex
	callCancel context.CancelFunc
}

// NewHub starts the registration loop and the command workers. Origins
// lists the UI origins allowed to connect; an empty request origin is
// always accepted.
func NewHub(logger *zap.Logger, origins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		inbound:    make(chan inboundMessage, 1024),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.Named("hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, origin)
		},
	}

	// run manager loop
	h.wg.Add(1)
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in := <-h.inbound:
					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

// Attach binds the hub to the session it serves and starts pushing
// conversation snapshots to every client.
func (h *Hub) Attach(sess *session.Session, p *push.Handler) {
	h.sess = sess
	h.push = p

	snapshots := sess.Reducer.Observe(h.ctx)
	go func() {
		for snap := range snapshots {
			h.broadcast(event.EventConversations, snap)
		}
	}()
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c.ID] = c
	h.clientsMu.Unlock()

	// a new UI starts from the current state; its queue is still empty
	if h.sess != nil {
		if ev, err := newEvent(event.EventConversations, h.sess.Reducer.Snapshot()); err == nil {
			c.Send(ev)
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.clientsMu.Lock()
	delete(h.clients, c.ID)
	h.clientsMu.Unlock()

	c.Close()
	c.logger.Info("bridge client removed")
}

func (h *Hub) snapshotClients() []*Client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// ClientCount returns the number of attached UI clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(name string, payload any) int {
	ev, err := newEvent(name, payload)
	if err != nil {
		h.logger.Error("encode bridge event failed", zap.String("event", name), zap.Error(err))
		return 0
	}
	clients := h.snapshotClients()
	for _, c := range clients {
		c.Send(ev)
	}
	return len(clients)
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(conn, h)
}

func (h *Hub) Stop() {
	h.followCall(nil, nil)
	h.cancel()

	for _, c := range h.snapshotClients() {
		c.Close()
	}
	h.wg.Wait()
}

func newEvent(name string, payload any) (event.WsEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return event.WsEvent{}, err
	}
	return event.WsEvent{Event: name, Payload: raw}, nil
}
