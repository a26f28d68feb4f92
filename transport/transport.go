// Package transport defines the boundary between the session protocol and
// the network that carries its frames.
//
// A transport delivers whole messages, in order, per peer. It may lose
// messages; the protocol never assumes more than that.
package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// PeerID is an opaque handle naming one remote peer on a Host.
type PeerID string

// EventType identifies what happened on a Host.
type EventType uint8

const (
	EventNone EventType = iota
	EventConnect
	EventDisconnect
	EventReceive
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	}
	return "none"
}

// Event is one occurrence reported by Host.Poll.
type Event struct {
	Type EventType
	Peer PeerID
	// Data holds the message for EventReceive. The receiver owns it.
	Data []byte
	// ConnectionID is the id the remote side asked for when dialing. Only
	// set on EventConnect delivered to a listening host.
	ConnectionID uint32
	// RemoteAddr is the peer's network address, when known.
	RemoteAddr string
}

var (
	ErrClosed      = errors.New("transport: host closed")
	ErrUnknownPeer = errors.New("transport: unknown peer")
	ErrPeerLimit   = errors.New("transport: peer limit reached")
)

// Host is one endpoint of a transport: a listening server or a dialed client.
//
// Poll is called from a single goroutine. Send, Ping and Disconnect may be
// called concurrently with Poll.
type Host interface {
	// Poll waits up to timeout for the next event. It returns an event of
	// type EventNone when the timeout expires.
	Poll(ctx context.Context, timeout time.Duration) (Event, error)
	Send(peer PeerID, data []byte) error
	// Ping issues a liveness probe to peer. It carries no protocol data.
	Ping(peer PeerID) error
	// Disconnect tears down the peer. An EventDisconnect follows.
	Disconnect(peer PeerID) error
	// Addr returns the local address of the host.
	Addr() net.Addr
	Close() error
}

// Network creates hosts.
type Network interface {
	// Listen opens a host accepting at most maxPeers concurrent peers
	// (0 means unlimited).
	Listen(ctx context.Context, addr string, maxPeers int) (Host, error)
	// Dial connects to addr. The returned host reports EventConnect for the
	// server peer once the connection is usable.
	Dial(ctx context.Context, addr string, connectionID uint32) (Host, error)
}
