package lobbynet

import (
	"context"

	"github.com/luciancaetano/lobbynet/packet"
	"github.com/luciancaetano/lobbynet/transport"
)

// Server defines the multi-peer role of the session protocol.
//
// The server polls its transport on a background goroutine and queues the
// resulting events. Application code drains the queue on its own schedule
// with HandlePackets (or Serve), so every hook runs on the caller's goroutine
// and never concurrently with another hook.
//
// Example usage:
//
//	server := lobby.NewServer(lobby.ServerConfig{
//	    Port:        7777,
//	    MaxSessions: 64,
//	    Hooks: lobby.ServerHooks{
//	        Identify: func(p *packet.Packet, c lobbynet.Connection) lobbynet.IdentifyResult {
//	            var token string
//	            if !p.ReadString(&token).Ok() {
//	                return lobbynet.IdentifyMalformed
//	            }
//	            return verify(token)
//	        },
//	        HandleCustom: func(code uint32, p *packet.Packet, c lobbynet.Connection) {
//	            // game logic
//	        },
//	    },
//	})
//
//	server.Start(ctx)
//	for {
//	    server.HandlePackets()
//	    // tick the game
//	}
type Server interface {
	// Start binds the configured port and starts the polling goroutine.
	//
	// Returns ErrServerAlreadyRunning if the server is running, or the
	// transport error if the port cannot be bound.
	Start(ctx context.Context) error

	// Stop stops polling, closes the transport and fires OnDisconnected for
	// every connection still open.
	Stop(ctx context.Context) error

	// ReceivePackets performs one bounded poll of the transport and queues
	// what it returned. The polling goroutine calls it in a loop; it is
	// exported for callers that drive polling themselves.
	ReceivePackets(ctx context.Context) error

	// HandlePackets drains the event queue without blocking and dispatches
	// every event. It returns the number of events handled.
	HandlePackets() int

	// Serve dispatches events as they arrive until ctx is done or the server stops.
	Serve(ctx context.Context) error

	// Connections returns a snapshot of the open connections ordered by id.
	Connections() []Connection

	// Connection looks up a connection by id.
	Connection(id uint32) (Connection, bool)

	// ConnectionByPeer looks up a connection by transport peer handle.
	ConnectionByPeer(peer transport.PeerID) (Connection, bool)

	// SendCustomPacket sends a custom command to one connection. The frame is
	// sealed when the connection has a session key. p may be nil.
	SendCustomPacket(conn Connection, code uint32, p *packet.Packet) error

	// Disconnect tears down one connection.
	Disconnect(conn Connection) error

	// Port returns the bound port, or 0 when not running.
	Port() int

	SetDebug(enable bool)
	IsDebug() bool

	Stats() Stats
}

// Client defines the single-peer role of the session protocol.
//
// Example usage:
//
//	client := lobby.NewClient(lobby.ClientConfig{
//	    Hooks: lobby.ClientHooks{
//	        Identity: func(p *packet.Packet) error {
//	            p.WriteString(sessionToken)
//	            return nil
//	        },
//	        OnIdentified: func() { client.SendCustomPacket(cmdJoinLobby, nil) },
//	    },
//	})
//
//	client.Connect(ctx, "lobby.example.com", 7777, lobbynet.ConnectionIDInvalid)
//	for client.IsConnected() {
//	    client.HandleEvents()
//	}
type Client interface {
	// Connect dials the server and starts the polling goroutine. It is a no-op
	// if the client is already connected.
	Connect(ctx context.Context, address string, port uint16, connectionID uint32) error

	// Disconnect asks the transport to tear the connection down. The
	// disconnect event is delivered through HandleEvents.
	Disconnect() error

	// SendPacket frames command with an optional payload. When encrypted is
	// true and the session holds a key, the frame is sealed in a CryptoPacket.
	SendPacket(command Command, p *packet.Packet, encrypted bool) error

	// SendCustomPacket sends a custom command, sealed when a key is available.
	SendCustomPacket(code uint32, p *packet.Packet) error

	// ReceivePackets performs one bounded poll of the transport.
	ReceivePackets(ctx context.Context) error

	// HandleEvents drains the event queue without blocking and returns the
	// number of events handled.
	HandleEvents() int

	// Serve dispatches events as they arrive until ctx is done or the client closes.
	Serve(ctx context.Context) error

	// IsConnected reports transport-level connectivity only.
	IsConnected() bool

	// IsIdentified reports whether the server accepted our identity.
	IsIdentified() bool

	State() SessionState

	// AdditionalPing sends a transport liveness probe.
	AdditionalPing() error

	// Close stops the polling goroutine, waits for it and releases the transport.
	Close() error

	SetDebug(enable bool)

	Stats() Stats
}

// Connection is the server's view of one peer.
type Connection interface {
	// ID returns the connection id, unique among open connections.
	ID() uint32

	// ClientKey returns the stable identifier the server keys per-client key
	// material by. It survives reconnects from the same host with the same
	// requested connection id.
	ClientKey() string

	// Peer returns the transport handle of the connection.
	Peer() transport.PeerID

	// RemoteAddr returns the peer's network address, when known.
	RemoteAddr() string

	State() SessionState

	IsIdentified() bool

	// IsEncrypted reports whether frames to and from this peer are sealed.
	IsEncrypted() bool
}

// KeyChain holds local key material for the handshake. Implementations must
// be safe for concurrent use; DeriveShared may be called for several
// connections at once.
type KeyChain interface {
	// PublicKey returns the local contribution sent to the peer.
	PublicKey() []byte

	// DeriveShared combines the peer's contribution with the local key
	// material. It fails on malformed or degenerate contributions.
	DeriveShared(peerPublic []byte) (SessionKey, error)
}

// SessionKey seals and opens frames for one session.
type SessionKey interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)

	// Fingerprint identifies the derived key material. Both ends of a
	// successful handshake report the same fingerprint.
	Fingerprint() [32]byte
}

// Stats is a snapshot of engine counters.
type Stats struct {
	FramesIn          uint64
	FramesOut         uint64
	BytesIn           uint64
	BytesOut          uint64
	Dropped           uint64
	DecryptFailures   uint64
	HandshakeFailures uint64
	Connections       uint64
	Disconnections    uint64
}
