package engine

import (
	"net"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/lobbynet"
	"github.com/luciancaetano/lobbynet/internal/session"
	"github.com/luciancaetano/lobbynet/transport"
)

// connection implements lobbynet.Connection
type connection struct {
	id          uint32
	peer        transport.PeerID
	remoteAddr  string
	clientKey   string
	session     *session.Session
	keyChain    lobbynet.KeyChain
	rateLimiter *rate.Limiter // Rate limiter for incoming frames
}

func newConnection(id uint32, peer transport.PeerID, remoteAddr string, requestedID uint32, rl *RateLimitConfig) *connection {
	var limiter *rate.Limiter
	if rl != nil && rl.Enabled {
		limiter = rate.NewLimiter(rl.MessagesPerSecond, rl.Burst)
	}
	return &connection{
		id:          id,
		peer:        peer,
		remoteAddr:  remoteAddr,
		clientKey:   clientKeyFor(remoteAddr, requestedID),
		session:     session.New(),
		rateLimiter: limiter,
	}
}

// clientKeyFor names a client across reconnects: its host plus the
// connection id it asked for.
func clientKeyFor(remoteAddr string, requestedID uint32) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return host + "#" + strconv.FormatUint(uint64(requestedID), 10)
}

func (c *connection) ID() uint32                   { return c.id }
func (c *connection) ClientKey() string            { return c.clientKey }
func (c *connection) Peer() transport.PeerID       { return c.peer }
func (c *connection) RemoteAddr() string           { return c.remoteAddr }
func (c *connection) State() lobbynet.SessionState { return c.session.State() }
func (c *connection) IsIdentified() bool           { return c.session.Identified() }
func (c *connection) IsEncrypted() bool            { return c.session.Key() != nil }

// allow checks if the connection has exceeded the rate limit
// Returns true if the frame is allowed, false if rate limited
func (c *connection) allow() bool {
	if c.rateLimiter == nil {
		// Rate limiting disabled
		return true
	}
	return c.rateLimiter.Allow()
}
