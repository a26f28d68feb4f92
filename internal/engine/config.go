package engine

import (
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/lobbynet"
	"github.com/luciancaetano/lobbynet/keychain"
	"github.com/luciancaetano/lobbynet/packet"
	"github.com/luciancaetano/lobbynet/transport"
)

const (
	defaultPollTimeout = 10 * time.Millisecond
	keyCacheSize       = 1024
)

// RateLimitConfig defines inbound rate limiting per connection
type RateLimitConfig struct {
	// MessagesPerSecond defines how many frames a connection can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// ServerHooks is the extension surface of the server. Every hook is optional
// and runs on the goroutine that drains the event queue.
type ServerHooks struct {
	// Identify verifies the identity payload of an Identify frame. When nil,
	// every identity is accepted.
	Identify func(p *packet.Packet, conn lobbynet.Connection) lobbynet.IdentifyResult
	// OnConnected fires when a transport connection opens, before any
	// handshake or identification.
	OnConnected func(conn lobbynet.Connection)
	// OnIdentified fires after IdentifySuccessful was sent.
	OnIdentified func(conn lobbynet.Connection)
	// OnDisconnected fires once per connection, after its session was closed.
	OnDisconnected func(conn lobbynet.Connection)
	// HandleCustom receives custom commands from identified connections. p
	// is positioned after the command code.
	HandleCustom func(code uint32, p *packet.Packet, conn lobbynet.Connection)
	// PlayerName names a connection in log lines.
	PlayerName func(conn lobbynet.Connection) string
	// OnHandshakeFailure fires when key exchange with a connection fails.
	OnHandshakeFailure func(conn lobbynet.Connection, err error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Network is the transport the server listens on.
	Network transport.Network
	// Host is the interface to bind; empty means all interfaces.
	Host string
	// Port to bind; 0 picks a free port (see Server.Port).
	Port uint16
	// MaxSessions caps concurrent connections; 0 means unlimited.
	MaxSessions int
	// Encryption enables the key exchange. When false the server answers
	// ConnectedWithoutEncryption and frames travel in plaintext.
	Encryption bool
	// KeyChains builds local key material. Defaults to X25519.
	KeyChains func() (lobbynet.KeyChain, error)
	// Transform rewrites frames right before sending and right after receiving.
	Transform packet.Transform
	// RateLimitConfig limits inbound frames per connection. nil uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig
	// MaxIdentifyAttempts closes a connection after that many Identify
	// frames without success; 0 means unlimited.
	MaxIdentifyAttempts int
	// PollTimeout bounds each transport poll.
	PollTimeout time.Duration
	// QueueCapacity is the event queue size.
	QueueCapacity int
	// ManualPoll disables the polling goroutine; the caller drives ReceivePackets.
	ManualPoll bool
	// LogWriter receives log lines; nil writes to pterm's default output.
	LogWriter io.Writer
	Debug     bool
	Hooks     ServerHooks
}

func (c *ServerConfig) setDefaults() {
	if c.KeyChains == nil {
		c.KeyChains = keychain.Factory(keychain.ServerSide)
	}
	if c.Transform == nil {
		c.Transform = packet.NopTransform{}
	}
	if c.RateLimitConfig == nil {
		c.RateLimitConfig = DefaultRateLimitConfig()
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
}

// ClientHooks is the extension surface of the client. Every hook is optional
// and runs on the goroutine that drains the event queue.
type ClientHooks struct {
	// Identity fills the Identify payload. Returning an error aborts identification.
	Identity func(p *packet.Packet) error
	// HandleCustom receives custom commands. p is positioned after the code.
	HandleCustom func(code uint32, p *packet.Packet)
	OnConnect    func()
	OnDisconnect func()
	OnIdentified func()
	// OnIdentifyFailure receives the server's reason code.
	OnIdentifyFailure func(reason lobbynet.IdentifyResult)
	// OnNotIdentified fires when the server refused a command because the
	// client is not identified yet.
	OnNotIdentified func()
	// OnHandshakeFailure fires when key exchange fails on either side.
	OnHandshakeFailure func(err error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Network       transport.Network
	KeyChains     func() (lobbynet.KeyChain, error)
	Transform     packet.Transform
	PollTimeout   time.Duration
	QueueCapacity int
	ManualPoll    bool
	LogWriter     io.Writer
	Debug         bool
	Hooks         ClientHooks
}

func (c *ClientConfig) setDefaults() {
	if c.KeyChains == nil {
		c.KeyChains = keychain.Factory(keychain.ClientSide)
	}
	if c.Transform == nil {
		c.Transform = packet.NopTransform{}
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
}
