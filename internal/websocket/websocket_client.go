package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/lobbynet/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// peer wraps one websocket connection. Writes go through a buffered channel
// drained by writePump; reads are done by readPump on the owning host.
type peer struct {
	id          transport.PeerID
	conn        *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string
}

func newPeer(conn *websocket.Conn, remoteAddr string) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:         transport.PeerID(uuid.New().String()),
		conn:       conn,
		remoteAddr: remoteAddr,
		ctx:        ctx,
		cancel:     cancel,
		sendCh:     make(chan []byte, sendBufferSize),
	}

	// Start the write pump
	go p.writePump()

	return p
}

// send queues one binary message
func (p *peer) send(data []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return transport.ErrUnknownPeer
	}

	// Keep the lock while sending to prevent race with close
	select {
	case p.sendCh <- data:
		return nil
	case <-p.ctx.Done():
		return transport.ErrUnknownPeer
	}
}

func (p *peer) ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// shutdown stops accepting messages. The write pump flushes what is queued,
// sends a close frame with code and closes the socket.
func (p *peer) shutdown(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.closeCode, p.closeReason = code, reason
	close(p.sendCh)
}

// abort closes the socket immediately, dropping queued messages
func (p *peer) abort() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.conn.Close()
}

// writePump pumps messages from the send channel to the websocket connection
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.sendCh:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				p.mu.RLock()
				msg := websocket.FormatCloseMessage(p.closeCode, p.closeReason)
				p.mu.RUnlock()
				p.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}

			if err := p.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.ctx.Done():
			return
		}
	}
}

// clientHost is the dialing side: a host with exactly one peer, the server.
type clientHost struct {
	*hostCore
	local net.Addr
}

// Dial connects to a websocket listener at addr. connectionID travels as a
// query parameter of the upgrade request.
func (n *Network) Dial(ctx context.Context, addr string, connectionID uint32) (transport.Host, error) {
	u := url.URL{
		Scheme:   "ws",
		Host:     addr,
		Path:     n.cfg.Path,
		RawQuery: url.Values{connectionIDParam: {strconv.FormatUint(uint64(connectionID), 10)}}.Encode(),
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: n.cfg.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil && resp.StatusCode == serviceUnavailable {
			return nil, transport.ErrPeerLimit
		}
		return nil, fmt.Errorf("websocket: dial %s: %w", u.String(), err)
	}
	conn.SetReadLimit(n.cfg.ReadLimit)

	h := &clientHost{hostCore: newHostCore(), local: conn.LocalAddr()}
	p := newPeer(conn, addr)
	h.reserve(0)
	h.add(p, transport.Event{
		Type:       transport.EventConnect,
		Peer:       p.id,
		RemoteAddr: addr,
	})
	go h.readPump(p)
	return h, nil
}

func (h *clientHost) Addr() net.Addr {
	return h.local
}

func (h *clientHost) Close() error {
	h.shutdown()
	return nil
}
