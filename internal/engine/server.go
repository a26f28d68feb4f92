package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/luciancaetano/lobbynet"
	"github.com/luciancaetano/lobbynet/internal/logging"
	"github.com/luciancaetano/lobbynet/internal/protocol"
	"github.com/luciancaetano/lobbynet/internal/queue"
	"github.com/luciancaetano/lobbynet/packet"
	"github.com/luciancaetano/lobbynet/transport"
)

// Server implements lobbynet.Server on top of a transport.Network
type Server struct {
	cfg   ServerConfig
	log   *logging.Logger
	stats counters

	mu      sync.RWMutex // guards running, host, poller and queue
	running bool
	host    transport.Host
	poller  *poller
	queue   *queue.Queue
	sendMu  sync.Mutex // serializes writes to host

	connMu sync.RWMutex
	byID   map[uint32]*connection
	byPeer map[transport.PeerID]*connection
	nextID uint32

	keysMu sync.Mutex
	keys   map[string]lobbynet.KeyChain
}

// NewServer creates a new server. Nothing is bound until Start.
func NewServer(cfg ServerConfig) *Server {
	cfg.setDefaults()
	log := logging.New(logging.DefaultPrefix, cfg.LogWriter)
	log.SetDebug(cfg.Debug)
	return &Server{
		cfg:    cfg,
		log:    log,
		byID:   make(map[uint32]*connection),
		byPeer: make(map[transport.PeerID]*connection),
		keys:   make(map[string]lobbynet.KeyChain),
	}
}

// Start binds the listening host and starts polling it
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return lobbynet.ErrServerAlreadyRunning
	}
	if s.cfg.Network == nil {
		return errors.New("server: no network configured")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(int(s.cfg.Port)))
	host, err := s.cfg.Network.Listen(ctx, addr, s.cfg.MaxSessions)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}

	s.host = host
	s.queue = queue.New(s.cfg.QueueCapacity)
	s.poller = newPoller(host, s.queue, s.cfg.Transform, s.cfg.PollTimeout, s.log, &s.stats)
	if !s.cfg.ManualPoll {
		s.poller.start()
	}
	s.running = true
	s.log.Infof("server listening on %s (encryption %t)", host.Addr(), s.cfg.Encryption)
	return nil
}

// Stop stops polling, closes the host and releases every connection.
// OnDisconnected fires for each connection still in the table.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.poller.stop()
	err := s.host.Close()
	s.queue.Close()
	s.mu.Unlock()

	s.connMu.Lock()
	remaining := make([]*connection, 0, len(s.byID))
	for _, c := range s.byID {
		remaining = append(remaining, c)
	}
	s.byID = make(map[uint32]*connection)
	s.byPeer = make(map[transport.PeerID]*connection)
	s.connMu.Unlock()

	sort.Slice(remaining, func(i, j int) bool { return remaining[i].id < remaining[j].id })
	for _, c := range remaining {
		s.release(c)
	}

	s.keysMu.Lock()
	s.keys = make(map[string]lobbynet.KeyChain)
	s.keysMu.Unlock()

	s.log.Infof("server stopped")
	return err
}

// ReceivePackets polls the transport once. Only valid with ManualPoll.
func (s *Server) ReceivePackets(ctx context.Context) error {
	s.mu.RLock()
	p, running := s.poller, s.running
	s.mu.RUnlock()
	if !running {
		return lobbynet.ErrServerNotRunning
	}
	err := p.receive(ctx)
	if errors.Is(err, transport.ErrClosed) || errors.Is(err, queue.ErrClosed) {
		return lobbynet.ErrServerNotRunning
	}
	return err
}

// HandlePackets drains the event queue without blocking and returns the
// number of events handled.
func (s *Server) HandlePackets() int {
	q := s.currentQueue()
	if q == nil {
		return 0
	}
	n := 0
	for {
		ev, ok := q.TryPop()
		if !ok {
			return n
		}
		s.dispatch(ev)
		n++
	}
}

// Serve handles events until ctx is done or the server stops.
func (s *Server) Serve(ctx context.Context) error {
	q := s.currentQueue()
	if q == nil {
		return lobbynet.ErrServerNotRunning
	}
	for {
		ev, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		s.dispatch(ev)
	}
}

func (s *Server) currentQueue() *queue.Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue
}

func (s *Server) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) currentHost() transport.Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return nil
	}
	return s.host
}

func (s *Server) dispatch(ev queue.NetEvent) {
	if !s.isRunning() {
		s.log.Debugf("discarding %s event from %s after stop", ev.Type, ev.Peer)
		return
	}
	switch ev.Type {
	case transport.EventConnect:
		s.onConnect(ev)
	case transport.EventDisconnect:
		s.onDisconnect(ev.Peer)
	case transport.EventReceive:
		c := s.lookup(ev.Peer)
		if c == nil {
			s.stats.dropped.Add(1)
			s.log.Debugf("frame from unknown peer %s", ev.Peer)
			return
		}
		if !c.allow() {
			s.stats.dropped.Add(1)
			s.log.Warnf("rate limit exceeded for %s, disconnecting", s.describe(c))
			s.disconnect(c)
			return
		}
		s.handleAnyPacket(c, ev.Packet, false)
	}
}

func (s *Server) onConnect(ev queue.NetEvent) {
	// Stop flips running under mu before it sweeps the table, so an insert
	// made while mu is read-held is always swept.
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return
	}
	s.connMu.Lock()
	id := s.allocateID(ev.ConnectionID)
	c := newConnection(id, ev.Peer, ev.RemoteAddr, ev.ConnectionID, s.cfg.RateLimitConfig)
	s.byID[id] = c
	s.byPeer[ev.Peer] = c
	s.connMu.Unlock()
	s.mu.RUnlock()

	s.stats.connections.Add(1)
	s.log.Infof("connection %d opened from %s", id, ev.RemoteAddr)
	if s.cfg.Hooks.OnConnected != nil {
		s.cfg.Hooks.OnConnected(c)
	}

	if !s.cfg.Encryption {
		if err := c.session.AllowPlaintext(); err != nil {
			s.log.Errorf("connection %d: %v", id, err)
			return
		}
		if err := s.sendCommand(c, lobbynet.CmdConnectedWithoutEncryption, nil, false); err != nil {
			s.log.Warnf("connection %d: %v", id, err)
		}
		return
	}
	s.beginHandshake(c)
}

// allocateID honours the requested id when it is free, otherwise picks the
// next unused one. connMu must be held.
func (s *Server) allocateID(requested uint32) uint32 {
	if requested != lobbynet.ConnectionIDInvalid {
		if _, taken := s.byID[requested]; !taken {
			return requested
		}
	}
	for {
		s.nextID++
		if s.nextID == lobbynet.ConnectionIDInvalid {
			continue
		}
		if _, taken := s.byID[s.nextID]; !taken {
			return s.nextID
		}
	}
}

func (s *Server) onDisconnect(peer transport.PeerID) {
	s.connMu.Lock()
	c, ok := s.byPeer[peer]
	if ok {
		delete(s.byPeer, peer)
		delete(s.byID, c.id)
	}
	s.connMu.Unlock()
	if !ok {
		return
	}
	s.release(c)
}

func (s *Server) release(c *connection) {
	s.log.Infof("connection %s closed", s.describe(c))
	c.session.Close()
	s.stats.disconnections.Add(1)
	if s.cfg.Hooks.OnDisconnected != nil {
		s.cfg.Hooks.OnDisconnected(c)
	}
}

// keyChainFor returns the key chain cached for clientKey, creating one on
// first use.
func (s *Server) keyChainFor(clientKey string) (lobbynet.KeyChain, error) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if kc, ok := s.keys[clientKey]; ok {
		return kc, nil
	}
	kc, err := s.cfg.KeyChains()
	if err != nil {
		return nil, err
	}
	if len(s.keys) >= keyCacheSize {
		for k := range s.keys {
			delete(s.keys, k)
			break
		}
	}
	s.keys[clientKey] = kc
	return kc, nil
}

func (s *Server) beginHandshake(c *connection) {
	kc, err := s.keyChainFor(c.clientKey)
	if err != nil {
		s.failHandshake(c, err)
		return
	}
	c.keyChain = kc
	if err := c.session.BeginHandshake(nil); err != nil {
		s.failHandshake(c, err)
		return
	}
	body := packet.New().WriteBytes(kc.PublicKey())
	if err := s.sendCommand(c, lobbynet.CmdHandshakeServerKey, body, false); err != nil {
		s.log.Warnf("connection %d: %v", c.id, err)
	}
}

func (s *Server) handleDataKey(c *connection, p *packet.Packet) {
	if c.session.State() != lobbynet.StateHandshakePending || c.keyChain == nil {
		s.stats.dropped.Add(1)
		s.log.Debugf("unexpected %s from %s", lobbynet.CmdHandshakeDataKey, s.describe(c))
		return
	}

	var pub, confirm []byte
	if !p.ReadBytes(&pub).ReadBytes(&confirm).Ok() {
		s.failHandshake(c, errMalformedKey)
		return
	}
	key, err := c.keyChain.DeriveShared(pub)
	if err != nil {
		s.failHandshake(c, err)
		return
	}
	if err := verifyConfirmation(key, confirm, clientConfirmLabel); err != nil {
		s.failHandshake(c, err)
		return
	}
	proof, err := sealConfirmation(key, serverConfirmLabel)
	if err != nil {
		s.failHandshake(c, err)
		return
	}
	if err := c.session.CompleteHandshake(key); err != nil {
		s.failHandshake(c, err)
		return
	}

	s.log.Debugf("connection %d encrypted", c.id)
	if err := s.sendCommand(c, lobbynet.CmdHandshakeSuccess, packet.New().WriteBytes(proof), false); err != nil {
		s.log.Warnf("connection %d: %v", c.id, err)
	}
}

// failHandshake tells the peer, reports the failure and disconnects.
func (s *Server) failHandshake(c *connection, err error) {
	s.stats.handshakeFailures.Add(1)
	s.log.Warnf("handshake with %s failed: %v", s.describe(c), err)
	if ferr := c.session.FailHandshake(); ferr != nil {
		s.log.Debugf("connection %d: %v", c.id, ferr)
	}
	if serr := s.sendCommand(c, lobbynet.CmdHandshakeFailed, nil, false); serr != nil {
		s.log.Debugf("connection %d: %v", c.id, serr)
	}
	if s.cfg.Hooks.OnHandshakeFailure != nil {
		s.cfg.Hooks.OnHandshakeFailure(c, err)
	}
	s.disconnect(c)
}

func (s *Server) handleIdentify(c *connection, p *packet.Packet) {
	if c.session.Identified() {
		s.replyIdentifyFailure(c, lobbynet.IdentifyAlreadyIdentified)
		return
	}
	if !c.session.CanIdentify() {
		s.replyIdentifyFailure(c, lobbynet.IdentifyNotReady)
		return
	}

	attempts := c.session.RecordAttempt()
	if limit := s.cfg.MaxIdentifyAttempts; limit > 0 && attempts > limit {
		s.log.Warnf("%s exceeded %d identify attempts", s.describe(c), limit)
		s.replyIdentifyFailure(c, lobbynet.IdentifyTooManyAttempts)
		s.disconnect(c)
		return
	}

	result := lobbynet.IdentifyOK
	if s.cfg.Hooks.Identify != nil {
		result = s.cfg.Hooks.Identify(p, c)
	}
	if result != lobbynet.IdentifyOK {
		s.log.Infof("identification of %s failed: %s", s.describe(c), result)
		s.replyIdentifyFailure(c, result)
		return
	}

	if err := c.session.MarkIdentified(); err != nil {
		s.log.Errorf("connection %d: %v", c.id, err)
		return
	}
	if err := s.sendCommand(c, lobbynet.CmdIdentifySuccessful, nil, true); err != nil {
		s.log.Warnf("connection %d: %v", c.id, err)
	}
	s.log.Infof("%s identified", s.describe(c))
	if s.cfg.Hooks.OnIdentified != nil {
		s.cfg.Hooks.OnIdentified(c)
	}
}

func (s *Server) replyIdentifyFailure(c *connection, reason lobbynet.IdentifyResult) {
	body := packet.New().WriteUint32(uint32(reason))
	if err := s.sendCommand(c, lobbynet.CmdIdentifyFailure, body, true); err != nil {
		s.log.Warnf("connection %d: %v", c.id, err)
	}
}

// handleAnyPacket dispatches one frame. sealed is true for frames that came
// out of a CryptoPacket.
func (s *Server) handleAnyPacket(c *connection, p *packet.Packet, sealed bool) {
	cmd, err := protocol.Decode(p)
	if err != nil {
		s.stats.dropped.Add(1)
		s.log.Debugf("invalid frame from %s: %v", s.describe(c), err)
		return
	}

	key := c.session.Key()
	if key != nil && !sealed && cmd != lobbynet.CmdCryptoPacket && !cmd.IsHandshake() {
		s.stats.dropped.Add(1)
		s.log.Warnf("plaintext %s from encrypted %s dropped", cmd, s.describe(c))
		return
	}

	s.log.Debugf("%s from %s", cmd, s.describe(c))
	switch cmd {
	case lobbynet.CmdCryptoPacket:
		if sealed || key == nil {
			s.stats.dropped.Add(1)
			return
		}
		inner, err := protocol.Open(key, p)
		if err != nil {
			s.stats.decryptFailures.Add(1)
			s.log.Warnf("dropping frame from %s: %v", s.describe(c), err)
			return
		}
		s.handleAnyPacket(c, inner, true)

	case lobbynet.CmdHandshakeDataKey:
		s.handleDataKey(c, p)

	case lobbynet.CmdHandshakeFailed:
		s.stats.handshakeFailures.Add(1)
		s.log.Warnf("%s reported handshake failure", s.describe(c))
		if err := c.session.FailHandshake(); err == nil && s.cfg.Hooks.OnHandshakeFailure != nil {
			s.cfg.Hooks.OnHandshakeFailure(c, errRemoteHandshake)
		}
		s.disconnect(c)

	case lobbynet.CmdIdentify:
		s.handleIdentify(c, p)

	case lobbynet.CmdCustomCommand:
		if !c.session.Identified() {
			if err := s.sendCommand(c, lobbynet.CmdNotIdentified, nil, true); err != nil {
				s.log.Warnf("connection %d: %v", c.id, err)
			}
			return
		}
		var code uint32
		if !p.ReadUint32(&code).Ok() {
			s.stats.dropped.Add(1)
			return
		}
		if s.cfg.Hooks.HandleCustom != nil {
			s.cfg.Hooks.HandleCustom(code, p, c)
		}

	default:
		s.stats.dropped.Add(1)
		s.log.Debugf("unexpected %s from %s", cmd, s.describe(c))
	}
}

func (s *Server) sendCommand(c *connection, cmd lobbynet.Command, body *packet.Packet, encrypted bool) error {
	frame, err := protocol.Encode(cmd, body)
	if err != nil {
		return err
	}
	return s.sendFrame(c, frame, encrypted)
}

// sendFrame wraps frame in a CryptoPacket when encrypted is set and the
// connection holds a key, then writes it to the transport.
func (s *Server) sendFrame(c *connection, frame *packet.Packet, encrypted bool) error {
	if encrypted {
		if key := c.session.Key(); key != nil {
			sealed, err := protocol.Seal(key, frame)
			if err != nil {
				return err
			}
			frame = sealed
		}
	}
	data, err := frame.Encode(s.cfg.Transform)
	if err != nil {
		return fmt.Errorf("%s: %w", lobbynet.ErrFailedToEncode, err)
	}

	host := s.currentHost()
	if host == nil {
		return lobbynet.ErrServerNotRunning
	}
	s.sendMu.Lock()
	err = host.Send(c.peer, data)
	s.sendMu.Unlock()
	if err != nil {
		return err
	}
	s.stats.addOut(len(data))
	return nil
}

func (s *Server) disconnect(c *connection) {
	host := s.currentHost()
	if host == nil {
		return
	}
	s.sendMu.Lock()
	err := host.Disconnect(c.peer)
	s.sendMu.Unlock()
	if err != nil && !errors.Is(err, transport.ErrUnknownPeer) {
		s.log.Debugf("disconnect %d: %v", c.id, err)
	}
}

func (s *Server) lookup(peer transport.PeerID) *connection {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.byPeer[peer]
}

func (s *Server) describe(c *connection) string {
	if s.cfg.Hooks.PlayerName != nil {
		if name := s.cfg.Hooks.PlayerName(c); name != "" {
			return fmt.Sprintf("%s (%d)", name, c.id)
		}
	}
	return fmt.Sprintf("connection %d", c.id)
}

// SendCustomPacket sends a custom command to conn, encrypted when the
// session holds a key.
func (s *Server) SendCustomPacket(conn lobbynet.Connection, code uint32, p *packet.Packet) error {
	c := s.lookup(conn.Peer())
	if c == nil {
		return errors.New(lobbynet.ErrConnectionNotFound)
	}
	frame, err := protocol.EncodeCustom(code, p)
	if err != nil {
		return err
	}
	return s.sendFrame(c, frame, true)
}

// Disconnect closes conn. OnDisconnected fires once the transport reports it.
func (s *Server) Disconnect(conn lobbynet.Connection) error {
	c := s.lookup(conn.Peer())
	if c == nil {
		return errors.New(lobbynet.ErrConnectionNotFound)
	}
	s.disconnect(c)
	return nil
}

// Connections returns a snapshot of the open connections ordered by id.
func (s *Server) Connections() []lobbynet.Connection {
	s.connMu.RLock()
	out := make([]lobbynet.Connection, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	s.connMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Server) Connection(id uint32) (lobbynet.Connection, bool) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return c, true
}

func (s *Server) ConnectionByPeer(peer transport.PeerID) (lobbynet.Connection, bool) {
	c := s.lookup(peer)
	if c == nil {
		return nil, false
	}
	return c, true
}

// Port returns the bound port, or 0 when the server is not running.
func (s *Server) Port() int {
	host := s.currentHost()
	if host == nil {
		return 0
	}
	_, port, err := net.SplitHostPort(host.Addr().String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

func (s *Server) SetDebug(enable bool) { s.log.SetDebug(enable) }
func (s *Server) IsDebug() bool        { return s.log.IsDebug() }

// Stats returns a snapshot of the traffic counters.
func (s *Server) Stats() lobbynet.Stats { return s.stats.snapshot() }

var _ lobbynet.Server = (*Server)(nil)
