package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wricardo/mcp-training/tictactoe/game/dispatch"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	defaultSendBuffer = 64
)

var (
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

// ClientIDParam is the query parameter carrying the client identity
const ClientIDParam = "clientId"

// Client is one live WebSocket connection
type Client struct {
	gateway  *Gateway
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	id       string
	clientID string
}

// Gateway accepts connections, forwards their frames to the dispatcher and
// writes outbound payloads back
type Gateway struct {
	clients    map[string]*Client
	closing    bool
	mu         sync.RWMutex
	inbound    chan<- dispatch.Envelope
	quit       chan struct{}
	quitOnce   sync.Once
	pumps      sync.WaitGroup
	upgrader   websocket.Upgrader
	sendBuffer int
}

// Option configures a Gateway
type Option func(*Gateway)

// WithSendBuffer sets how many outbound payloads may queue per connection
func WithSendBuffer(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.sendBuffer = n
		}
	}
}

// NewGateway creates a gateway that forwards to inbound
func NewGateway(inbound chan<- dispatch.Envelope, opts ...Option) *Gateway {
	g := &Gateway{
		clients:    make(map[string]*Client),
		inbound:    inbound,
		quit:       make(chan struct{}),
		sendBuffer: defaultSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ServeWS upgrades the request. The client identity comes from the clientId
// query parameter.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get(ClientIDParam)
	if clientID == "" {
		http.Error(w, "clientId query parameter is required", http.StatusBadRequest)
		return
	}

	g.mu.RLock()
	closing := g.closing
	g.mu.RUnlock()
	if closing {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, g.sendBuffer),
		done:     make(chan struct{}),
		id:       uuid.NewString(),
		clientID: clientID,
	}
	if !g.admit(client) {
		conn.Close()
		return
	}

	// Opened must reach the dispatcher before any frame of this connection
	g.forward(dispatch.Opened(client.id, clientID))

	go client.writePump()
	go client.readPump()
}

// Send queues payload for connID without blocking. A connection whose buffer
// is full is dropped.
func (g *Gateway) Send(connID string, payload []byte) error {
	g.mu.RLock()
	client, ok := g.clients[connID]
	g.mu.RUnlock()
	if !ok {
		return ErrConnectionClosed
	}

	select {
	case <-client.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case client.send <- payload:
		return nil
	default:
		log.Printf("Dropping slow connection %s (client %s)", connID, client.clientID)
		client.shutdown()
		return ErrSendBufferFull
	}
}

// Count returns the number of open connections
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Shutdown refuses new connections, disconnects every client and waits until
// each Closed envelope has been handed to the dispatcher or ctx expires.
// Forwarding stops afterwards. A nil return means nothing will be forwarded
// again.
func (g *Gateway) Shutdown(ctx context.Context) error {
	defer g.quitOnce.Do(func() { close(g.quit) })

	g.mu.Lock()
	g.closing = true
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}

	drained := make(chan struct{})
	go func() {
		g.pumps.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admit tracks c and reserves its pumps unless the gateway is shutting down
func (g *Gateway) admit(c *Client) bool {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		return false
	}
	g.clients[c.id] = c
	g.pumps.Add(1)
	total := len(g.clients)
	g.mu.Unlock()

	log.Printf("Client %s connected as %s (total connections: %d)", c.clientID, c.id, total)
	return true
}

func (g *Gateway) remove(c *Client) {
	g.mu.Lock()
	delete(g.clients, c.id)
	total := len(g.clients)
	g.mu.Unlock()

	log.Printf("Client %s disconnected from %s (remaining connections: %d)", c.clientID, c.id, total)
}

// forward hands env to the dispatcher unless the gateway is closing
func (g *Gateway) forward(env dispatch.Envelope) {
	select {
	case g.inbound <- env:
	case <-g.quit:
	}
}

// shutdown stops the write pump and unblocks the read pump
func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump forwards frames to the dispatcher. It owns the Closed envelope.
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.gateway.remove(c)
		c.gateway.forward(dispatch.Closed(c.id))
		c.gateway.pumps.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error on %s: %v", c.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.gateway.forward(dispatch.Message(c.id, data))
	}
}

// writePump writes queued payloads, one frame each, and keeps the peer alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
