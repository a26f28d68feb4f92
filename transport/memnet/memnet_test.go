package memnet

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luciancaetano/lobbynet/transport"
)

const pollTimeout = time.Second

func mustPoll(t *testing.T, h transport.Host, want transport.EventType) transport.Event {
	t.Helper()
	ev, err := h.Poll(context.Background(), pollTimeout)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if ev.Type != want {
		t.Fatalf("Poll() type = %v, want %v", ev.Type, want)
	}
	return ev
}

func dialPair(t *testing.T, n *Network, cid uint32) (server, client transport.Host, serverPeer, clientPeer transport.PeerID) {
	t.Helper()
	ctx := context.Background()
	server, err := n.Listen(ctx, ":0", 0)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	client, err = n.Dial(ctx, server.Addr().String(), cid)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	serverPeer = mustPoll(t, server, transport.EventConnect).Peer
	clientPeer = mustPoll(t, client, transport.EventConnect).Peer
	return server, client, serverPeer, clientPeer
}

func TestDialDeliversConnect(t *testing.T) {
	t.Parallel()

	n := New()
	server, err := n.Listen(context.Background(), "localhost:7000", 0)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer server.Close()

	client, err := n.Dial(context.Background(), "127.0.0.1:7000", 42)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	ev := mustPoll(t, server, transport.EventConnect)
	if ev.ConnectionID != 42 {
		t.Errorf("ConnectionID = %d, want 42", ev.ConnectionID)
	}
	if ev.RemoteAddr != client.Addr().String() {
		t.Errorf("RemoteAddr = %q, want %q", ev.RemoteAddr, client.Addr().String())
	}
	mustPoll(t, client, transport.EventConnect)
}

func TestSendPreservesOrder(t *testing.T) {
	t.Parallel()

	server, client, serverPeer, clientPeer := dialPair(t, New(), 0)
	defer server.Close()
	defer client.Close()

	msgs := [][]byte{[]byte("A"), []byte("B"), []byte("C")}
	for _, m := range msgs {
		if err := client.Send(clientPeer, m); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	for _, want := range msgs {
		ev := mustPoll(t, server, transport.EventReceive)
		if ev.Peer != serverPeer {
			t.Errorf("Peer = %q, want %q", ev.Peer, serverPeer)
		}
		if !bytes.Equal(ev.Data, want) {
			t.Errorf("Data = %q, want %q", ev.Data, want)
		}
	}
}

func TestSendCopiesData(t *testing.T) {
	t.Parallel()

	server, client, _, clientPeer := dialPair(t, New(), 0)
	defer server.Close()
	defer client.Close()

	buf := []byte("hello")
	if err := client.Send(clientPeer, buf); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	buf[0] = 'J'

	ev := mustPoll(t, server, transport.EventReceive)
	if string(ev.Data) != "hello" {
		t.Errorf("Data = %q, want %q", ev.Data, "hello")
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	n := New()
	server, client, serverPeer, clientPeer := dialPair(t, n, 0)
	defer server.Close()
	defer client.Close()

	n.SetFilter(func(dir Direction, data []byte) []byte {
		if dir == ToServer {
			return nil
		}
		return append(data, '!')
	})

	if err := client.Send(clientPeer, []byte("dropped")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := server.Send(serverPeer, []byte("hi")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ev := mustPoll(t, client, transport.EventReceive)
	if string(ev.Data) != "hi!" {
		t.Errorf("Data = %q, want %q", ev.Data, "hi!")
	}
	ev, err := server.Poll(context.Background(), 20*time.Millisecond)
	if err != nil || ev.Type != transport.EventNone {
		t.Errorf("Poll() = %v, %v, want none", ev.Type, err)
	}
}

func TestDisconnectNotifiesBothSides(t *testing.T) {
	t.Parallel()

	server, client, serverPeer, clientPeer := dialPair(t, New(), 0)
	defer server.Close()
	defer client.Close()

	if err := server.Disconnect(serverPeer); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if ev := mustPoll(t, server, transport.EventDisconnect); ev.Peer != serverPeer {
		t.Errorf("server Peer = %q, want %q", ev.Peer, serverPeer)
	}
	if ev := mustPoll(t, client, transport.EventDisconnect); ev.Peer != clientPeer {
		t.Errorf("client Peer = %q, want %q", ev.Peer, clientPeer)
	}

	if err := client.Send(clientPeer, []byte("late")); !errors.Is(err, transport.ErrUnknownPeer) {
		t.Errorf("Send() after disconnect error = %v, want %v", err, transport.ErrUnknownPeer)
	}
	if err := server.Disconnect(serverPeer); !errors.Is(err, transport.ErrUnknownPeer) {
		t.Errorf("second Disconnect() error = %v, want %v", err, transport.ErrUnknownPeer)
	}
}

func TestCloseDisconnectsPeers(t *testing.T) {
	t.Parallel()

	n := New()
	server, client, _, _ := dialPair(t, n, 0)
	defer client.Close()
	addr := server.Addr().String()

	if err := server.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	mustPoll(t, client, transport.EventDisconnect)

	if _, err := server.Poll(context.Background(), pollTimeout); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Poll() after Close error = %v, want %v", err, transport.ErrClosed)
	}
	if _, err := n.Dial(context.Background(), addr, 0); err == nil {
		t.Error("Dial() to closed listener should fail")
	}
	if err := server.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPeerLimit(t *testing.T) {
	t.Parallel()

	n := New()
	server, err := n.Listen(context.Background(), ":0", 1)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer server.Close()

	first, err := n.Dial(context.Background(), server.Addr().String(), 0)
	if err != nil {
		t.Fatalf("first Dial() error = %v", err)
	}
	defer first.Close()

	if _, err := n.Dial(context.Background(), server.Addr().String(), 0); !errors.Is(err, transport.ErrPeerLimit) {
		t.Errorf("second Dial() error = %v, want %v", err, transport.ErrPeerLimit)
	}
}

func TestListenAddressInUse(t *testing.T) {
	t.Parallel()

	n := New()
	server, err := n.Listen(context.Background(), "localhost:7100", 0)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer server.Close()

	if _, err := n.Listen(context.Background(), "localhost:7100", 0); err == nil {
		t.Error("Listen() on a bound address should fail")
	}
}

func TestPollTimeout(t *testing.T) {
	t.Parallel()

	n := New()
	server, err := n.Listen(context.Background(), ":0", 0)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer server.Close()

	ev, err := server.Poll(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if ev.Type != transport.EventNone {
		t.Errorf("Poll() type = %v, want %v", ev.Type, transport.EventNone)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := server.Poll(ctx, pollTimeout); !errors.Is(err, context.Canceled) {
		t.Errorf("Poll() with canceled ctx error = %v, want %v", err, context.Canceled)
	}
}
