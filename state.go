package lobbynet

// SessionState is the handshake/identification progress of one peer.
type SessionState uint8

const (
	// StateConnected: the transport is up, nothing negotiated yet.
	StateConnected SessionState = iota
	// StateHandshakePending: key exchange in progress.
	StateHandshakePending
	// StateHandshakeFailed is terminal; the connection is torn down.
	StateHandshakeFailed
	// StateEncrypted: a session key is in place, identity not yet verified.
	StateEncrypted
	// StateIdentified: the peer passed identification.
	StateIdentified
	// StateDisconnected is terminal.
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateHandshakePending:
		return "handshake-pending"
	case StateHandshakeFailed:
		return "handshake-failed"
	case StateEncrypted:
		return "encrypted"
	case StateIdentified:
		return "identified"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Terminal reports whether no further transition can leave s.
func (s SessionState) Terminal() bool {
	return s == StateHandshakeFailed || s == StateDisconnected
}
