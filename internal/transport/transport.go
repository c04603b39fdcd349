// Package transport carries signed envelopes between nodes over websockets.
// Every node runs the same Hub: it accepts inbound peers on an HTTP endpoint,
// dials the peers it was configured with, and fans each outbound envelope to
// every live connection. Delivery is direct, nothing is relayed, so a node
// never hears its own messages back. Peers are identified by hex ed25519
// public keys exchanged during the upgrade; envelope signatures, not the
// connection, authenticate the origin of each message.
package transport

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/gorilla/websocket"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// keyHeader carries the listener's identity in the upgrade response;
	// the dialer sends its own as the key query parameter.
	keyHeader = "X-Coral-Key"
)

var ErrClosed = errors.New("transport: hub closed")

// Sink consumes inbound envelopes. Handler rejections are the sink's own
// business; the hub logs them at debug and moves on.
type Sink interface {
	HandleEnvelope(env *wire.Envelope) error
}

type outMsg struct {
	target string // empty fans out to every peer
	data   []byte
}

// Hub owns every live connection. Run serializes the registry on one
// goroutine; each connection gets a read pump and a write pump.
type Hub struct {
	logger log.Logger
	key    string // this node's hex public key

	sink Sink

	register   chan *client
	unregister chan *client
	outbound   chan outMsg

	done     chan struct{}
	stopOnce sync.Once

	upgrader websocket.Upgrader
}

func NewHub(selfKey string, logger log.Logger) *Hub {
	return &Hub{
		logger:     logger.With("module", "transport"),
		key:        selfKey,
		register:   make(chan *client),
		unregister: make(chan *client),
		outbound:   make(chan outMsg, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Signatures authenticate peers; the origin header does not.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Bind attaches the envelope consumer. Must happen before any connection
// is accepted or dialed.
func (h *Hub) Bind(sink Sink) { h.sink = sink }

// Key returns this node's identity as a hex public key.
func (h *Hub) Key() string { return h.key }

// Run serializes the connection registry until Stop. One connection per
// peer key; a reconnect replaces the old one.
func (h *Hub) Run() {
	clients := map[string]*client{}
	for {
		select {
		case c := <-h.register:
			if old, ok := clients[c.key]; ok {
				old.close()
			}
			clients[c.key] = c
			h.logger.Info("peer connected", "peer", shortKey(c.key), "peers", len(clients))
		case c := <-h.unregister:
			if clients[c.key] == c {
				delete(clients, c.key)
				h.logger.Info("peer disconnected", "peer", shortKey(c.key), "peers", len(clients))
			}
			c.close()
		case m := <-h.outbound:
			for key, c := range clients {
				if m.target != "" && key != m.target {
					continue
				}
				select {
				case c.send <- m.data:
				default:
					// Backpressure this deep means a dead or wedged peer.
					h.logger.Error("dropping slow peer", "peer", shortKey(key))
					delete(clients, key)
					c.close()
				}
			}
		case <-h.done:
			for _, c := range clients {
				c.close()
			}
			return
		}
	}
}

// Stop tears down every connection and refuses further sends.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues an envelope for every connected peer.
func (h *Hub) Broadcast(env *wire.Envelope) error {
	return h.enqueue("", env)
}

// Send queues an envelope for one peer. Losing it is acceptable: the peer
// may have disconnected, and catch-up replies are re-requestable.
func (h *Hub) Send(peerKey string, env *wire.Envelope) error {
	return h.enqueue(peerKey, env)
}

func (h *Hub) enqueue(target string, env *wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: encode envelope: %w", err)
	}
	select {
	case h.outbound <- outMsg{target: target, data: data}:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// ServeWS upgrades one inbound peer connection. The dialer identifies
// itself with the key query parameter and learns ours from the response
// header.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if err := validKey(key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if key == h.key {
		http.Error(w, "transport: peer key is our own", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, http.Header{keyHeader: []string{h.key}})
	if err != nil {
		h.logger.Error("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	h.adopt(conn, key)
}

// Dial connects out to a peer address and registers the connection under
// the key the peer answers with.
func (h *Hub) Dial(addr string) error {
	u, err := wsURL(addr, h.key)
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	peerKey := resp.Header.Get(keyHeader)
	if err := validKey(peerKey); err != nil {
		conn.Close()
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if peerKey == h.key {
		conn.Close()
		return fmt.Errorf("transport: %s is ourselves", addr)
	}
	h.adopt(conn, peerKey)
	return nil
}

func (h *Hub) adopt(conn *websocket.Conn, peerKey string) {
	c := &client{hub: h, conn: conn, key: peerKey, send: make(chan []byte, 256)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// wsURL renders a peer address as a websocket URL carrying our identity.
// Bare host:port addresses get the default scheme and path.
func wsURL(addr, selfKey string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("transport: bad peer address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("transport: bad peer scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	q.Set("key", selfKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func validKey(key string) error {
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("transport: peer key must be a hex ed25519 public key")
	}
	return nil
}

func shortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

// client is one live peer connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	key  string // remote identity, hex public key
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// readPump decodes inbound frames and hands them to the sink. A bad frame
// drops that one message; the connection stays up.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.logger.Error("bad frame", "peer", shortKey(c.key), "err", err)
			continue
		}
		if c.hub.sink == nil {
			c.hub.logger.Error("no sink bound, dropping envelope", "peer", shortKey(c.key))
			continue
		}
		if err := c.hub.sink.HandleEnvelope(&env); err != nil {
			c.hub.logger.Debug("envelope rejected", "peer", shortKey(c.key), "type", env.Type, "err", err)
		}
	}
}

// writePump flushes the send queue and keeps the connection alive with
// pings. A closed send channel sends the close frame and tears down.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
