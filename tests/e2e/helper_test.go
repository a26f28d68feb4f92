package e2e_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/lobbynet"
	"github.com/luciancaetano/lobbynet/lobby"
)

// Helper function to create a WebSocket dialer
func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
}

// newServer builds a lobby server bound to a free loopback port.
func newServer(cfg lobby.ServerConfig) lobbynet.Server {
	cfg.Host = "127.0.0.1"
	cfg.LogWriter = io.Discard
	return lobby.NewServer(cfg)
}

// startServer starts server and serves its events until the test ends.
func startServer(t *testing.T, server lobbynet.Server) lobbynet.Server {
	t.Helper()
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()

	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		server.Stop(stopCtx)
		cancel()
		<-done
	})
	return server
}

func wsURL(server lobbynet.Server) string {
	return fmt.Sprintf("ws://127.0.0.1:%d/ws", server.Port())
}

// waitFor receives from ch or fails after five seconds.
func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}
