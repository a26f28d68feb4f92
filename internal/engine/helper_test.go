package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/luciancaetano/lobbynet"
	"github.com/luciancaetano/lobbynet/packet"
	"github.com/luciancaetano/lobbynet/transport/memnet"
)

const waitTimeout = 3 * time.Second

// recorder collects hook invocations from several goroutines.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) has(event string) bool {
	return r.count(event) > 0
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// eventually fails the test when cond does not hold within waitTimeout.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// never fails the test when cond holds at any point during d.
func never(t *testing.T, what string, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			t.Fatalf("unexpected %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// tokenIdentify accepts identities carrying token.
func tokenIdentify(token string) func(*packet.Packet, lobbynet.Connection) lobbynet.IdentifyResult {
	return func(p *packet.Packet, _ lobbynet.Connection) lobbynet.IdentifyResult {
		var got string
		if !p.ReadString(&got).Ok() {
			return lobbynet.IdentifyMalformed
		}
		if got != token {
			return lobbynet.IdentifyRejected
		}
		return lobbynet.IdentifyOK
	}
}

func startServer(t *testing.T, n *memnet.Network, cfg ServerConfig) *Server {
	t.Helper()
	cfg.Network = n
	if cfg.LogWriter == nil {
		cfg.LogWriter = io.Discard
	}
	s := NewServer(cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx)
	}()
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		cancel()
		<-done
	})
	return s
}

// newClient builds a client and runs its event loop until the test ends.
func newClient(t *testing.T, n *memnet.Network, cfg ClientConfig) *Client {
	t.Helper()
	cfg.Network = n
	if cfg.LogWriter == nil {
		cfg.LogWriter = io.Discard
	}
	c := NewClient(cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Serve(context.Background())
	}()
	t.Cleanup(func() {
		_ = c.Close()
		<-done
	})
	return c
}

func connect(t *testing.T, c *Client, s *Server, connectionID uint32) {
	t.Helper()
	if err := c.Connect(context.Background(), "localhost", uint16(s.Port()), connectionID); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

func serverConn(t *testing.T, s *Server) *connection {
	t.Helper()
	conns := s.Connections()
	if len(conns) != 1 {
		t.Fatalf("len(Connections()) = %d, want 1", len(conns))
	}
	return conns[0].(*connection)
}

// xorTransform obfuscates frames with a single byte key.
type xorTransform byte

func (x xorTransform) apply(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ byte(x)
	}
	return out
}

func (x xorTransform) OnSend(data []byte) ([]byte, error)    { return x.apply(data), nil }
func (x xorTransform) OnReceive(data []byte) ([]byte, error) { return x.apply(data), nil }
