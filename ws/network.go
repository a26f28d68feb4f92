// Package ws exposes the websocket transport: frames travel as binary
// websocket messages over HTTP upgrades on a configurable path.
package ws

import (
	"net/http"
	"time"

	"github.com/luciancaetano/lobbynet/internal/websocket"
	"github.com/luciancaetano/lobbynet/transport"
)

type Config = websocket.Config
type CheckOriginFn = websocket.CheckOriginFn

// New creates a websocket transport.Network. cfg may be nil for defaults:
// path "/ws", same-origin upgrades only, 5s handshake timeout.
//
// Example:
//
//	server := lobby.NewServer(lobby.ServerConfig{
//	    Network: ws.New(ws.NewConfig("/lobby", ws.AllOrigins())),
//	    Port:    7777,
//	})
func New(cfg *Config) transport.Network {
	return websocket.NewNetwork(cfg)
}

// NewConfig returns a config serving upgrades on path with the given origin check.
func NewConfig(path string, checkOrigin CheckOriginFn) *Config {
	return &websocket.Config{
		Path:             path,
		CheckOrigin:      checkOrigin,
		HandshakeTimeout: 5 * time.Second,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}
