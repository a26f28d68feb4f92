// Package lobby builds lobbynet servers and clients.
//
// Without an explicit Network both sides use the websocket transport from
// package ws.
package lobby

import (
	"github.com/luciancaetano/lobbynet"
	"github.com/luciancaetano/lobbynet/internal/engine"
	"github.com/luciancaetano/lobbynet/ws"
)

type ServerConfig = engine.ServerConfig
type ClientConfig = engine.ClientConfig
type ServerHooks = engine.ServerHooks
type ClientHooks = engine.ClientHooks
type RateLimitConfig = engine.RateLimitConfig

// NewServer creates a server. It listens once Start is called.
//
// Example:
//
//	server := lobby.NewServer(lobby.ServerConfig{
//	    Port:        7777,
//	    MaxSessions: 64,
//	    Encryption:  true,
//	    Hooks: lobby.ServerHooks{
//	        Identify: verifyToken,
//	    },
//	})
func NewServer(cfg ServerConfig) lobbynet.Server {
	if cfg.Network == nil {
		cfg.Network = ws.New(nil)
	}
	return engine.NewServer(cfg)
}

// NewClient creates a client. It dials once Connect is called.
func NewClient(cfg ClientConfig) lobbynet.Client {
	if cfg.Network == nil {
		cfg.Network = ws.New(nil)
	}
	return engine.NewClient(cfg)
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return engine.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return engine.NoRateLimit()
}
