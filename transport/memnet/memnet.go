// Package memnet is an in-process transport.Network. Hosts live in a shared
// registry keyed by address; messages are copied between peers through
// buffered channels, so per-peer ordering holds and nothing touches a socket.
package memnet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luciancaetano/lobbynet/transport"
)

const eventBuffer = 1024

// Direction tells a Filter which way a message travels.
type Direction uint8

const (
	ToServer Direction = iota
	ToClient
)

// Filter may rewrite or drop (by returning nil) a message in flight.
type Filter func(dir Direction, data []byte) []byte

// Network is an in-memory transport.Network.
type Network struct {
	mu       sync.Mutex
	hosts    map[string]*host
	nextPort int
	filter   Filter
}

// New returns an empty network.
func New() *Network {
	return &Network{
		hosts:    make(map[string]*host),
		nextPort: 40000,
	}
}

// SetFilter installs f on every message sent after the call.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

func (n *Network) apply(dir Direction, data []byte) []byte {
	n.mu.Lock()
	f := n.filter
	n.mu.Unlock()
	if f == nil {
		return data
	}
	return f(dir, data)
}

// Addr is a memnet address.
type Addr struct {
	Host string
	Port int
}

func (a Addr) Network() string { return "memnet" }
func (a Addr) String() string  { return net.JoinHostPort(a.Host, strconv.Itoa(a.Port)) }

// Listen registers a listening host. Port 0 picks a free port.
func (n *Network) Listen(ctx context.Context, addr string, maxPeers int) (transport.Host, error) {
	hostPart, portPart, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("memnet: %w", err)
	}
	if hostPart == "" {
		hostPart = "localhost"
	}
	port, err := strconv.Atoi(portPart)
	if err != nil {
		return nil, fmt.Errorf("memnet: bad port %q", portPart)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if port == 0 {
		n.nextPort++
		port = n.nextPort
	}
	a := Addr{Host: hostPart, Port: port}
	if _, taken := n.hosts[a.String()]; taken {
		return nil, fmt.Errorf("memnet: address %s already in use", a)
	}
	h := newHost(n, a, maxPeers, ToClient)
	n.hosts[a.String()] = h
	return h, nil
}

// Dial connects a new client host to the listener at addr.
func (n *Network) Dial(ctx context.Context, addr string, connectionID uint32) (transport.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hostPart, portPart, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("memnet: %w", err)
	}
	if hostPart == "" || strings.EqualFold(hostPart, "127.0.0.1") {
		hostPart = "localhost"
	}

	n.mu.Lock()
	server, ok := n.hosts[net.JoinHostPort(hostPart, portPart)]
	n.nextPort++
	local := Addr{Host: "localhost", Port: n.nextPort}
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memnet: connection refused: %s", addr)
	}

	client := newHost(n, local, 1, ToServer)
	serverSide := &link{id: transport.PeerID(uuid.New().String()), owner: server}
	clientSide := &link{id: transport.PeerID(uuid.New().String()), owner: client}
	serverSide.remote, clientSide.remote = clientSide, serverSide

	if err := server.attach(serverSide, connectionID, local.String()); err != nil {
		return nil, err
	}
	if err := client.attach(clientSide, 0, server.addr.String()); err != nil {
		server.detach(serverSide.id, false)
		return nil, err
	}
	return client, nil
}

func (n *Network) unregister(h *host) {
	n.mu.Lock()
	if n.hosts[h.addr.String()] == h {
		delete(n.hosts, h.addr.String())
	}
	n.mu.Unlock()
}

// link is one half of a peer pairing, owned by the host that sees it.
type link struct {
	id     transport.PeerID
	owner  *host
	remote *link
}

type host struct {
	net      *Network
	addr     Addr
	maxPeers int
	outDir   Direction

	mu     sync.Mutex
	peers  map[transport.PeerID]*link
	closed bool

	events chan transport.Event
	done   chan struct{}
	once   sync.Once
}

func newHost(n *Network, addr Addr, maxPeers int, outDir Direction) *host {
	return &host{
		net:      n,
		addr:     addr,
		maxPeers: maxPeers,
		outDir:   outDir,
		peers:    make(map[transport.PeerID]*link),
		events:   make(chan transport.Event, eventBuffer),
		done:     make(chan struct{}),
	}
}

func (h *host) push(ev transport.Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *host) attach(l *link, connectionID uint32, remoteAddr string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("memnet: connection refused: %w", transport.ErrClosed)
	}
	if h.maxPeers > 0 && len(h.peers) >= h.maxPeers {
		h.mu.Unlock()
		return transport.ErrPeerLimit
	}
	h.peers[l.id] = l
	h.mu.Unlock()

	h.push(transport.Event{
		Type:         transport.EventConnect,
		Peer:         l.id,
		ConnectionID: connectionID,
		RemoteAddr:   remoteAddr,
	})
	return nil
}

// detach removes the peer and reports the disconnect. It returns the link
// when it was still attached.
func (h *host) detach(id transport.PeerID, notify bool) *link {
	h.mu.Lock()
	l, ok := h.peers[id]
	if ok {
		delete(h.peers, id)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	if notify {
		h.push(transport.Event{Type: transport.EventDisconnect, Peer: id})
	}
	return l
}

func (h *host) Poll(ctx context.Context, timeout time.Duration) (transport.Event, error) {
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

func (h *host) Send(peer transport.PeerID, data []byte) error {
	h.mu.Lock()
	l, ok := h.peers[peer]
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if !ok {
		return transport.ErrUnknownPeer
	}

	msg := h.net.apply(h.outDir, append([]byte(nil), data...))
	if msg == nil {
		return nil
	}
	l.remote.owner.push(transport.Event{Type: transport.EventReceive, Peer: l.remote.id, Data: msg})
	return nil
}

func (h *host) Ping(peer transport.PeerID) error {
	h.mu.Lock()
	_, ok := h.peers[peer]
	h.mu.Unlock()
	if !ok {
		return transport.ErrUnknownPeer
	}
	return nil
}

func (h *host) Disconnect(peer transport.PeerID) error {
	l := h.detach(peer, true)
	if l == nil {
		return transport.ErrUnknownPeer
	}
	l.remote.owner.detach(l.remote.id, true)
	return nil
}

func (h *host) Addr() net.Addr {
	return h.addr
}

func (h *host) Close() error {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		links := make([]*link, 0, len(h.peers))
		for _, l := range h.peers {
			links = append(links, l)
		}
		h.peers = make(map[transport.PeerID]*link)
		h.mu.Unlock()

		for _, l := range links {
			l.remote.owner.detach(l.remote.id, true)
		}
		h.net.unregister(h)
		close(h.done)
	})
	return nil
}
