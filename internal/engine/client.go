package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/luciancaetano/lobbynet"
	"github.com/luciancaetano/lobbynet/internal/logging"
	"github.com/luciancaetano/lobbynet/internal/protocol"
	"github.com/luciancaetano/lobbynet/internal/queue"
	"github.com/luciancaetano/lobbynet/internal/session"
	"github.com/luciancaetano/lobbynet/packet"
	"github.com/luciancaetano/lobbynet/transport"
)

// Client implements lobbynet.Client on top of a transport.Network
type Client struct {
	cfg   ClientConfig
	log   *logging.Logger
	stats counters
	queue *queue.Queue

	mu     sync.Mutex // guards host, poller and sess
	host   transport.Host
	poller *poller
	sess   *session.Session
	closed bool

	peer      atomic.Value // transport.PeerID of the server
	connected atomic.Bool
	sendMu    sync.Mutex
}

// NewClient creates a new client. Nothing is dialed until Connect.
func NewClient(cfg ClientConfig) *Client {
	cfg.setDefaults()
	log := logging.New(logging.DefaultPrefix, cfg.LogWriter)
	log.SetDebug(cfg.Debug)
	c := &Client{
		cfg:   cfg,
		log:   log,
		queue: queue.New(cfg.QueueCapacity),
	}
	c.peer.Store(transport.PeerID(""))
	return c
}

// Connect dials the server and starts polling. A no-op while a connection exists.
func (c *Client) Connect(ctx context.Context, address string, port uint16, connectionID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return lobbynet.ErrClosed
	}
	if c.host != nil {
		return nil
	}
	if c.cfg.Network == nil {
		return errors.New("client: no network configured")
	}

	addr := net.JoinHostPort(address, strconv.Itoa(int(port)))
	host, err := c.cfg.Network.Dial(ctx, addr, connectionID)
	if errors.Is(err, transport.ErrPeerLimit) {
		return fmt.Errorf("client: %s: %w", lobbynet.ErrSessionLimit, err)
	}
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", addr, err)
	}

	c.host = host
	c.sess = session.New()
	c.poller = newPoller(host, c.queue, c.cfg.Transform, c.cfg.PollTimeout, c.log, &c.stats)
	c.poller.observe = c.observe
	if !c.cfg.ManualPoll {
		c.poller.start()
	}
	c.log.Infof("connecting to %s", addr)
	return nil
}

// observe runs on the polling path and tracks transport connectivity.
func (c *Client) observe(ev transport.Event) {
	switch ev.Type {
	case transport.EventConnect:
		c.peer.Store(ev.Peer)
		c.connected.Store(true)
	case transport.EventDisconnect:
		c.connected.Store(false)
	}
}

// release stops polling and closes the host of the current connection.
func (c *Client) release() {
	c.mu.Lock()
	p, host, sess := c.poller, c.host, c.sess
	c.poller, c.host = nil, nil
	c.mu.Unlock()

	c.connected.Store(false)
	c.peer.Store(transport.PeerID(""))
	if sess != nil {
		sess.Close()
	}
	if p != nil {
		p.stop()
	}
	if host != nil {
		if err := host.Close(); err != nil {
			c.log.Debugf("closing host: %v", err)
		}
	}
}

// Close releases the connection and the event queue. The client cannot be
// reused afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.release()
	c.queue.Close()
	return nil
}

// Disconnect asks the transport to close the connection. The disconnect
// event is delivered through HandleEvents or Serve.
func (c *Client) Disconnect() error {
	host, peer := c.link()
	if host == nil || peer == "" {
		return lobbynet.ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return host.Disconnect(peer)
}

func (c *Client) link() (transport.Host, transport.PeerID) {
	c.mu.Lock()
	host := c.host
	c.mu.Unlock()
	return host, c.peer.Load().(transport.PeerID)
}

func (c *Client) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// ReceivePackets polls the transport once. Only valid with ManualPoll.
func (c *Client) ReceivePackets(ctx context.Context) error {
	c.mu.Lock()
	p := c.poller
	c.mu.Unlock()
	if p == nil {
		return lobbynet.ErrNotConnected
	}
	err := p.receive(ctx)
	if errors.Is(err, transport.ErrClosed) {
		return lobbynet.ErrNotConnected
	}
	if errors.Is(err, queue.ErrClosed) {
		return lobbynet.ErrClosed
	}
	return err
}

// HandleEvents drains the event queue without blocking.
func (c *Client) HandleEvents() int {
	n := 0
	for {
		ev, ok := c.queue.TryPop()
		if !ok {
			return n
		}
		c.dispatch(ev)
		n++
	}
}

// Serve handles events until ctx is done or the client is closed.
func (c *Client) Serve(ctx context.Context) error {
	for {
		ev, err := c.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		c.dispatch(ev)
	}
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

func (c *Client) IsIdentified() bool {
	sess := c.session()
	return sess != nil && sess.Identified()
}

func (c *Client) State() lobbynet.SessionState {
	sess := c.session()
	if sess == nil {
		return lobbynet.StateDisconnected
	}
	return sess.State()
}

// AdditionalPing asks the transport for an extra liveness probe.
func (c *Client) AdditionalPing() error {
	host, peer := c.link()
	if host == nil || peer == "" {
		return lobbynet.ErrNotConnected
	}
	return host.Ping(peer)
}

func (c *Client) SetDebug(enable bool)  { c.log.SetDebug(enable) }
func (c *Client) Stats() lobbynet.Stats { return c.stats.snapshot() }

// SessionKey returns the confirmed session key, or nil.
func (c *Client) SessionKey() lobbynet.SessionKey {
	sess := c.session()
	if sess == nil {
		return nil
	}
	return sess.Key()
}

// SendPacket frames command with p. With encrypted set and a confirmed key
// the frame is sealed in a CryptoPacket.
func (c *Client) SendPacket(command lobbynet.Command, p *packet.Packet, encrypted bool) error {
	frame, err := protocol.Encode(command, p)
	if err != nil {
		return err
	}
	return c.sendFrame(frame, encrypted)
}

// SendCustomPacket sends a custom command, sealed when a key is available.
func (c *Client) SendCustomPacket(code uint32, p *packet.Packet) error {
	frame, err := protocol.EncodeCustom(code, p)
	if err != nil {
		return err
	}
	return c.sendFrame(frame, true)
}

func (c *Client) sendFrame(frame *packet.Packet, encrypted bool) error {
	host, peer := c.link()
	sess := c.session()
	if host == nil || peer == "" || sess == nil {
		return lobbynet.ErrNotConnected
	}
	if encrypted {
		if key := sess.Key(); key != nil {
			sealed, err := protocol.Seal(key, frame)
			if err != nil {
				return err
			}
			frame = sealed
		}
	}
	data, err := frame.Encode(c.cfg.Transform)
	if err != nil {
		return fmt.Errorf("%s: %w", lobbynet.ErrFailedToEncode, err)
	}

	c.sendMu.Lock()
	err = host.Send(peer, data)
	c.sendMu.Unlock()
	if err != nil {
		return err
	}
	c.stats.addOut(len(data))
	return nil
}

func (c *Client) dispatch(ev queue.NetEvent) {
	switch ev.Type {
	case transport.EventConnect:
		c.log.Infof("connected to %s", ev.RemoteAddr)
		if c.cfg.Hooks.OnConnect != nil {
			c.cfg.Hooks.OnConnect()
		}
	case transport.EventDisconnect:
		_, peer := c.link()
		if peer != "" && peer != ev.Peer {
			// Stale event from a previous connection.
			return
		}
		c.release()
		c.log.Infof("disconnected")
		if c.cfg.Hooks.OnDisconnect != nil {
			c.cfg.Hooks.OnDisconnect()
		}
	case transport.EventReceive:
		sess := c.session()
		if sess == nil {
			c.stats.dropped.Add(1)
			return
		}
		c.handleAnyPacket(sess, ev.Packet, false)
	}
}

// handleAnyPacket dispatches one frame from the server. sealed is true for
// frames that came out of a CryptoPacket.
func (c *Client) handleAnyPacket(sess *session.Session, p *packet.Packet, sealed bool) {
	cmd, err := protocol.Decode(p)
	if err != nil {
		c.stats.dropped.Add(1)
		c.log.Debugf("invalid frame: %v", err)
		return
	}

	key := sess.Key()
	if key != nil && !sealed && cmd != lobbynet.CmdCryptoPacket && !cmd.IsHandshake() {
		c.stats.dropped.Add(1)
		c.log.Warnf("plaintext %s on encrypted session dropped", cmd)
		return
	}

	c.log.Debugf("received %s", cmd)
	switch cmd {
	case lobbynet.CmdCryptoPacket:
		if sealed || key == nil {
			c.stats.dropped.Add(1)
			return
		}
		inner, err := protocol.Open(key, p)
		if err != nil {
			c.stats.decryptFailures.Add(1)
			c.log.Warnf("dropping frame: %v", err)
			return
		}
		c.handleAnyPacket(sess, inner, true)

	case lobbynet.CmdConnectedWithoutEncryption:
		if err := sess.AllowPlaintext(); err != nil {
			c.log.Warnf("unexpected %s: %v", cmd, err)
			return
		}
		c.log.Warnf("server does not encrypt this connection")
		c.sendIdentity(sess)

	case lobbynet.CmdHandshakeServerKey:
		c.handleServerKey(sess, p)

	case lobbynet.CmdHandshakeSuccess:
		c.handleHandshakeSuccess(sess, p)

	case lobbynet.CmdHandshakeFailed:
		c.failHandshake(sess, errRemoteHandshake, false)

	case lobbynet.CmdIdentifySuccessful:
		if err := sess.MarkIdentified(); err != nil {
			c.log.Warnf("unexpected %s: %v", cmd, err)
			return
		}
		c.log.Infof("identified")
		if c.cfg.Hooks.OnIdentified != nil {
			c.cfg.Hooks.OnIdentified()
		}

	case lobbynet.CmdIdentifyFailure:
		var reason uint32
		if !p.ReadUint32(&reason).Ok() {
			reason = uint32(lobbynet.IdentifyRejected)
		}
		result := lobbynet.IdentifyResult(reason)
		c.log.Warnf("identification failed: %s", result)
		if c.cfg.Hooks.OnIdentifyFailure != nil {
			c.cfg.Hooks.OnIdentifyFailure(result)
		}

	case lobbynet.CmdNotIdentified:
		c.log.Warnf("server refused a command: not identified")
		if c.cfg.Hooks.OnNotIdentified != nil {
			c.cfg.Hooks.OnNotIdentified()
		}

	case lobbynet.CmdCustomCommand:
		var code uint32
		if !p.ReadUint32(&code).Ok() {
			c.stats.dropped.Add(1)
			return
		}
		if c.cfg.Hooks.HandleCustom != nil {
			c.cfg.Hooks.HandleCustom(code, p)
		}

	default:
		c.stats.dropped.Add(1)
		c.log.Debugf("unexpected %s from server", cmd)
	}
}

func (c *Client) handleServerKey(sess *session.Session, p *packet.Packet) {
	if sess.State() != lobbynet.StateConnected {
		c.stats.dropped.Add(1)
		c.log.Debugf("unexpected %s", lobbynet.CmdHandshakeServerKey)
		return
	}

	var serverPub []byte
	if !p.ReadBytes(&serverPub).Ok() {
		c.failHandshake(sess, errMalformedKey, true)
		return
	}
	kc, err := c.cfg.KeyChains()
	if err != nil {
		c.failHandshake(sess, err, true)
		return
	}
	key, err := kc.DeriveShared(serverPub)
	if err != nil {
		c.failHandshake(sess, err, true)
		return
	}
	confirm, err := sealConfirmation(key, clientConfirmLabel)
	if err != nil {
		c.failHandshake(sess, err, true)
		return
	}
	if err := sess.BeginHandshake(key); err != nil {
		c.failHandshake(sess, err, true)
		return
	}

	body := packet.New().WriteBytes(kc.PublicKey()).WriteBytes(confirm)
	if err := c.SendPacket(lobbynet.CmdHandshakeDataKey, body, false); err != nil {
		c.log.Warnf("sending %s: %v", lobbynet.CmdHandshakeDataKey, err)
	}
}

func (c *Client) handleHandshakeSuccess(sess *session.Session, p *packet.Packet) {
	pending := sess.PendingKey()
	if sess.State() != lobbynet.StateHandshakePending || pending == nil {
		c.stats.dropped.Add(1)
		c.log.Debugf("unexpected %s", lobbynet.CmdHandshakeSuccess)
		return
	}

	var proof []byte
	if !p.ReadBytes(&proof).Ok() {
		c.failHandshake(sess, errMalformedKey, true)
		return
	}
	if err := verifyConfirmation(pending, proof, serverConfirmLabel); err != nil {
		c.failHandshake(sess, err, true)
		return
	}
	if err := sess.CompleteHandshake(pending); err != nil {
		c.failHandshake(sess, err, true)
		return
	}
	c.log.Infof("connection encrypted")
	c.sendIdentity(sess)
}

// failHandshake reports the failure and disconnects. notify tells the
// server when the failure was detected locally.
func (c *Client) failHandshake(sess *session.Session, err error, notify bool) {
	c.stats.handshakeFailures.Add(1)
	c.log.Errorf("handshake failed: %v", err)
	if ferr := sess.FailHandshake(); ferr != nil {
		c.log.Debugf("%v", ferr)
	}
	if notify {
		if serr := c.SendPacket(lobbynet.CmdHandshakeFailed, nil, false); serr != nil {
			c.log.Debugf("sending %s: %v", lobbynet.CmdHandshakeFailed, serr)
		}
	}
	if c.cfg.Hooks.OnHandshakeFailure != nil {
		c.cfg.Hooks.OnHandshakeFailure(err)
	}
	if derr := c.Disconnect(); derr != nil && !errors.Is(derr, transport.ErrUnknownPeer) {
		c.log.Debugf("disconnect: %v", derr)
	}
}

// sendIdentity builds the Identify payload from the Identity hook and sends it.
func (c *Client) sendIdentity(sess *session.Session) {
	if !sess.CanIdentify() {
		return
	}
	body := packet.New()
	if c.cfg.Hooks.Identity != nil {
		if err := c.cfg.Hooks.Identity(body); err != nil {
			c.log.Errorf("building identity: %v", err)
			return
		}
	}
	if err := c.SendPacket(lobbynet.CmdIdentify, body, true); err != nil {
		c.log.Warnf("sending %s: %v", lobbynet.CmdIdentify, err)
	}
}

var _ lobbynet.Client = (*Client)(nil)
