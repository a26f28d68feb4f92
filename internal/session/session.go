// Package session tracks the handshake and identification progress of one peer.
//
// State, key material and the plaintext allowance live together behind the
// transition methods, so combinations such as "identified but handshake
// failed" or "encrypted without a key" cannot be constructed.
package session

import (
	"fmt"
	"sync"

	"github.com/luciancaetano/lobbynet"
)

// Session is safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	state     lobbynet.SessionState
	plaintext bool
	pending   lobbynet.SessionKey
	key       lobbynet.SessionKey
	attempts  int
}

// New returns a session in StateConnected.
func New() *Session {
	return &Session{state: lobbynet.StateConnected}
}

func (s *Session) transitionError(to lobbynet.SessionState) error {
	return fmt.Errorf("%w: %s -> %s", lobbynet.ErrInvalidTransition, s.state, to)
}

// State returns the current state.
func (s *Session) State() lobbynet.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AllowPlaintext lets the session be identified without a key exchange.
// Only legal right after connecting.
func (s *Session) AllowPlaintext() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != lobbynet.StateConnected {
		return s.transitionError(lobbynet.StateConnected)
	}
	s.plaintext = true
	return nil
}

// BeginHandshake enters StateHandshakePending. pending holds a derived key
// that is not usable until CompleteHandshake confirms it; it may be nil.
func (s *Session) BeginHandshake(pending lobbynet.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != lobbynet.StateConnected || s.plaintext {
		return s.transitionError(lobbynet.StateHandshakePending)
	}
	s.state = lobbynet.StateHandshakePending
	s.pending = pending
	return nil
}

// PendingKey returns the key stored by BeginHandshake.
func (s *Session) PendingKey() lobbynet.SessionKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// CompleteHandshake installs key and enters StateEncrypted.
func (s *Session) CompleteHandshake(key lobbynet.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != lobbynet.StateHandshakePending || key == nil {
		return s.transitionError(lobbynet.StateEncrypted)
	}
	s.state = lobbynet.StateEncrypted
	s.pending = nil
	s.key = key
	return nil
}

// FailHandshake enters the terminal StateHandshakeFailed and drops all key material.
func (s *Session) FailHandshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case lobbynet.StateConnected, lobbynet.StateHandshakePending:
	default:
		return s.transitionError(lobbynet.StateHandshakeFailed)
	}
	s.state = lobbynet.StateHandshakeFailed
	s.pending, s.key = nil, nil
	return nil
}

// CanIdentify reports whether an Identify exchange may run now.
func (s *Session) CanIdentify() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canIdentify()
}

func (s *Session) canIdentify() bool {
	return s.state == lobbynet.StateEncrypted || (s.state == lobbynet.StateConnected && s.plaintext)
}

// RecordAttempt counts one identification attempt and returns the total.
func (s *Session) RecordAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

// MarkIdentified enters StateIdentified.
func (s *Session) MarkIdentified() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canIdentify() {
		return s.transitionError(lobbynet.StateIdentified)
	}
	s.state = lobbynet.StateIdentified
	return nil
}

// Identified reports whether the session reached StateIdentified.
func (s *Session) Identified() bool {
	return s.State() == lobbynet.StateIdentified
}

// Key returns the confirmed session key, or nil for plaintext sessions and
// sessions that have not finished the handshake.
func (s *Session) Key() lobbynet.SessionKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Close enters StateDisconnected from any state and drops all key material.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = lobbynet.StateDisconnected
	s.pending, s.key = nil, nil
}
