package hub

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"Parley/internal/event"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one UI process attached to the bridge.
type Client struct {
	ID     string
	conn   *websocket.Conn
	hub    *Hub
	egress chan event.WsEvent
	logger *zap.Logger

	// presence observations this client asked for, by peer
	watchMu  sync.Mutex
	watching map[string]context.CancelFunc

	// cancel or stop goroutine
	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
	closed         bool         // tracks if client is closed
	closedMu       sync.RWMutex // protects closed flag
}

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a message to the peer
	pongWait           = 20 * time.Second       // time allowed to read the next pong message from the peer
	pingInterval       = (pongWait * 9) / 10    // send pings to peer with this period
	maxMessageSize     = 64 * 1024              // max inbound message size (64KB)
	sendBufSize        = 256                    // per-connection outbound buffer size
	workerPoolSize     = 4                      // number of workers to process inbound commands
	sendTimeout        = 2 * time.Second        // timeout for enqueuing outbound messages
	registerTimeout    = 5 * time.Second        // timeout for client registration
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for sending to inbound channel
)

// RegisterClient attaches conn to h and starts its pumps.
func RegisterClient(conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(h.ctx)
	clientID := uuid.New().String()

	client := &Client{
		ID:         clientID,
		conn:       conn,
		hub:        h,
		egress:     make(chan event.WsEvent, sendBufSize),
		logger:     h.logger.With(zap.String("client_id", clientID)),
		watching:   make(map[string]context.CancelFunc),
		cancel:     cancel,
		ctx:        ctx,
		connClosed: make(chan struct{}),
	}

	select {
	case h.register <- client:
		go client.ReadMessages()
		go client.WriteMessage()
		client.logger.Info("bridge client registered")
		return client
	case <-time.After(registerTimeout):
		client.logger.Warn("bridge client registration timed out")
		cancel()
		conn.Close()
		return nil
	}
}

func (c *Client) ReadMessages() {
	defer func() {
		select {
		case c.hub.unregister <- c:
			// unregistered successfully
		case <-time.After(unregisterTimeout):
			c.logger.Warn("unregister timed out")
		}
		c.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		var ev event.WsEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Info("bridge client disconnected")
				return
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.logger.Info("bridge client timed out, closing connection")
				return
			}

			c.logger.Debug("read from bridge client failed", zap.Error(err))
			return
		}

		// Non-blocking send into inbound processing queue to avoid blocking reader
		select {
		case c.hub.inbound <- inboundMessage{client: c, event: ev}:
		case <-time.After(inboundSendTimeout):
			c.logger.Warn("inbound queue full, dropping client")
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) WriteMessage() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()

		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case ev := <-c.egress:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("write to bridge client failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// Send enqueues ev; a client whose queue stays full is dropped.
func (c *Client) Send(ev event.WsEvent) {
	if c.SafeSend(ev, sendTimeout) || c.IsClosed() {
		return
	}
	c.logger.Warn("egress full, disconnecting client")
	c.Close()
}

func (c *Client) Close() {
	c.once.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.cancel()
		c.stopWatching()

		// Wait for WriteMessage to close conn, or force close after timeout
		go func() {
			select {
			case <-c.connClosed:
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
				c.logger.Warn("safety timeout: force closed connection")
			}
		}()
	})
}

// IsClosed returns true if the client has been closed
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// SafeSend attempts to send an event to the client's egress channel.
// Returns true if sent successfully, false if client is closed or timeout.
func (c *Client) SafeSend(ev event.WsEvent, timeout time.Duration) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- ev:
		return true
	case <-time.After(timeout):
		return false
	}
}

// -----------------------------------------------------------------
// Presence observations
// -----------------------------------------------------------------

// watch starts forwarding peer's presence to this client. It returns false
// if the client already watches peer.
func (c *Client) watch(peer string) (context.Context, bool) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if _, ok := c.watching[peer]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.watching[peer] = cancel
	return ctx, true
}

func (c *Client) unwatch(peer string) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if cancel, ok := c.watching[peer]; ok {
		cancel()
		delete(c.watching, peer)
	}
}

func (c *Client) stopWatching() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for peer, cancel := range c.watching {
		cancel()
		delete(c.watching, peer)
	}
}
