package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/lobbynet/internal/logging"
	"github.com/luciancaetano/lobbynet/transport"
)

const (
	connectionIDParam  = "cid"
	serviceUnavailable = http.StatusServiceUnavailable
	eventBuffer        = 1024
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// Config tunes the websocket transport.
type Config struct {
	// Path is the upgrade endpoint. Defaults to "/ws".
	Path string
	// CheckOrigin validates upgrade requests. nil applies gorilla's same-origin check.
	CheckOrigin CheckOriginFn
	// ReadLimit caps the size of one inbound message.
	ReadLimit int64
	// HandshakeTimeout bounds the upgrade on both sides.
	HandshakeTimeout time.Duration
	// LogWriter receives transport errors; nil discards them.
	LogWriter io.Writer
}

// Network is a transport.Network carrying frames as binary websocket messages.
type Network struct {
	cfg Config
	log *logging.Logger
}

// NewNetwork creates a websocket network. cfg may be nil.
func NewNetwork(cfg *Config) *Network {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 10*1024*1024 + 64
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	log := logging.Discard()
	if c.LogWriter != nil {
		log = logging.New("[Net WS]", c.LogWriter)
	}
	return &Network{cfg: c, log: log}
}

// hostCore holds the peer table and the event stream shared by both host kinds.
type hostCore struct {
	peers  sync.Map // map[transport.PeerID]*peer
	count  atomic.Int64
	events chan transport.Event
	done   chan struct{}
	once   sync.Once
}

func newHostCore() *hostCore {
	return &hostCore{
		events: make(chan transport.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (h *hostCore) push(ev transport.Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

// reserve claims a peer slot, failing when limit slots are taken. A limit of
// zero means unlimited. Every successful reserve is undone by drop or unreserve.
func (h *hostCore) reserve(limit int) bool {
	for {
		n := h.count.Load()
		if limit > 0 && n >= int64(limit) {
			return false
		}
		if h.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (h *hostCore) unreserve() {
	h.count.Add(-1)
}

// add registers p in a slot taken with reserve.
func (h *hostCore) add(p *peer, connect transport.Event) {
	h.peers.Store(p.id, p)
	h.push(connect)
}

// drop removes p and reports the disconnect exactly once.
func (h *hostCore) drop(p *peer) {
	if _, ok := h.peers.LoadAndDelete(p.id); !ok {
		return
	}
	h.count.Add(-1)
	p.abort()
	h.push(transport.Event{Type: transport.EventDisconnect, Peer: p.id})
}

func (h *hostCore) lookup(id transport.PeerID) (*peer, bool) {
	v, ok := h.peers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*peer), true
}

// readPump reads messages from p until the connection fails.
func (h *hostCore) readPump(p *peer) {
	defer h.drop(p)

	// Set read deadline to prevent indefinite blocking
	p.conn.SetReadDeadline(time.Now().Add(pongWait))

	// Set pong handler to reset read deadline on pong
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		// Reset read deadline after successful read
		p.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.BinaryMessage {
			continue
		}
		h.push(transport.Event{Type: transport.EventReceive, Peer: p.id, Data: data})
	}
}

func (h *hostCore) Poll(ctx context.Context, timeout time.Duration) (transport.Event, error) {
	select {
	case <-h.done:
		return transport.Event{}, transport.ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-h.events:
		return ev, nil
	case <-timer.C:
		return transport.Event{}, nil
	case <-ctx.Done():
		return transport.Event{}, ctx.Err()
	case <-h.done:
		return transport.Event{}, transport.ErrClosed
	}
}

func (h *hostCore) Send(id transport.PeerID, data []byte) error {
	p, ok := h.lookup(id)
	if !ok {
		return transport.ErrUnknownPeer
	}
	return p.send(data)
}

func (h *hostCore) Ping(id transport.PeerID) error {
	p, ok := h.lookup(id)
	if !ok {
		return transport.ErrUnknownPeer
	}
	return p.ping()
}

// Disconnect flushes queued messages to the peer and closes the connection.
func (h *hostCore) Disconnect(id transport.PeerID) error {
	p, ok := h.lookup(id)
	if !ok {
		return transport.ErrUnknownPeer
	}
	p.shutdown(websocket.CloseNormalClosure, "")
	return nil
}

// shutdown aborts every peer and ends the event stream.
func (h *hostCore) shutdown() {
	h.once.Do(func() {
		close(h.done)
		h.peers.Range(func(key, value interface{}) bool {
			if p, ok := value.(*peer); ok {
				p.shutdown(websocket.CloseGoingAway, "host closed")
			}
			return true
		})
	})
}

// serverHost accepts websocket upgrades on a listener.
type serverHost struct {
	*hostCore
	net      *Network
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	maxPeers int
}

// Listen binds addr and serves upgrades on the configured path.
func (n *Network) Listen(ctx context.Context, addr string, maxPeers int) (transport.Host, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket: listen %s: %w", addr, err)
	}

	h := &serverHost{
		hostCore: newHostCore(),
		net:      n,
		listener: ln,
		maxPeers: maxPeers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: n.cfg.HandshakeTimeout,
			CheckOrigin:      n.cfg.CheckOrigin,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(n.cfg.Path, h.handleWebSocket)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: n.cfg.HandshakeTimeout,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Errorf("serve %s: %v", ln.Addr(), err)
		}
	}()
	return h, nil
}

// handleWebSocket handles incoming WebSocket connections
func (h *serverHost) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "Server closed", serviceUnavailable)
		return
	default:
	}

	var connectionID uint32
	if raw := r.URL.Query().Get(connectionIDParam); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			http.Error(w, "Invalid connection id", http.StatusBadRequest)
			return
		}
		connectionID = uint32(id)
	}

	if !h.reserve(h.maxPeers) {
		http.Error(w, "Too many connections", serviceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.unreserve()
		// Upgrade already replied to the client
		h.net.log.Warnf("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(h.net.cfg.ReadLimit)

	p := newPeer(conn, r.RemoteAddr)
	h.add(p, transport.Event{
		Type:         transport.EventConnect,
		Peer:         p.id,
		ConnectionID: connectionID,
		RemoteAddr:   r.RemoteAddr,
	})
	select {
	case <-h.done:
		// Raced with Close
		p.shutdown(websocket.CloseGoingAway, "host closed")
	default:
	}
	go h.readPump(p)
}

func (h *serverHost) Addr() net.Addr {
	return h.listener.Addr()
}

// Close stops accepting connections and closes every peer.
func (h *serverHost) Close() error {
	h.shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}
