package lobbynet

import "errors"

// Command is the discriminant that starts every frame on the wire.
//
// The numeric values are part of the wire format and must not be reordered.
type Command uint8

const (
	// CmdIdentify is sent by the client to present its identity payload
	// (typically a session token issued by the login service).
	CmdIdentify Command = iota
	// CmdIdentifySuccessful is the server's answer to a valid CmdIdentify.
	CmdIdentifySuccessful
	// CmdIdentifyFailure is the server's answer to a rejected CmdIdentify.
	// It carries a uint32 IdentifyResult reason code.
	CmdIdentifyFailure
	// CmdNotIdentified is sent by the server when the client tries to run a
	// custom command before being identified.
	CmdNotIdentified
	// CmdConnectedWithoutEncryption is sent by a server that has encryption
	// disabled, right after the transport connection is established.
	CmdConnectedWithoutEncryption

	CmdHandshakeServerKey
	CmdHandshakeDataKey
	CmdHandshakeSuccess
	CmdHandshakeFailed

	// CmdCryptoPacket wraps a sealed inner frame.
	CmdCryptoPacket
	// CmdCustomCommand is followed by a uint32 application code and is passed
	// to the custom handler of the receiving role.
	CmdCustomCommand

	cmdCount
)

var commandNames = [...]string{
	CmdIdentify:                   "Identify",
	CmdIdentifySuccessful:         "IdentifySuccessful",
	CmdIdentifyFailure:            "IdentifyFailure",
	CmdNotIdentified:              "NotIdentified",
	CmdConnectedWithoutEncryption: "ConnectedWithoutEncryption",
	CmdHandshakeServerKey:         "HandshakeServerKey",
	CmdHandshakeDataKey:           "HandshakeDataKey",
	CmdHandshakeSuccess:           "HandshakeSuccess",
	CmdHandshakeFailed:            "HandshakeFailed",
	CmdCryptoPacket:               "CryptoPacket",
	CmdCustomCommand:              "CustomCommand",
}

// String returns the command name, or "Unknown" for values outside the enumeration.
func (c Command) String() string {
	if c.Valid() {
		return commandNames[c]
	}
	return "Unknown"
}

// Valid reports whether c is one of the known commands.
func (c Command) Valid() bool {
	return c < cmdCount
}

// IsHandshake reports whether c belongs to the key exchange sub-protocol.
func (c Command) IsHandshake() bool {
	switch c {
	case CmdHandshakeServerKey, CmdHandshakeDataKey, CmdHandshakeSuccess, CmdHandshakeFailed:
		return true
	}
	return false
}

// IdentifyResult is the verdict of an identity verifier. It travels as the
// reason code of CmdIdentifyFailure.
type IdentifyResult uint32

const (
	IdentifyOK IdentifyResult = iota
	IdentifyRejected
	IdentifyMalformed
	IdentifyNotReady
	IdentifyAlreadyIdentified
	IdentifyTooManyAttempts
)

func (r IdentifyResult) String() string {
	switch r {
	case IdentifyOK:
		return "ok"
	case IdentifyRejected:
		return "rejected"
	case IdentifyMalformed:
		return "malformed"
	case IdentifyNotReady:
		return "not ready"
	case IdentifyAlreadyIdentified:
		return "already identified"
	case IdentifyTooManyAttempts:
		return "too many attempts"
	}
	return "unknown"
}

// ConnectionIDInvalid asks the server to allocate a connection id.
const ConnectionIDInvalid uint32 = 0

// Standard error messages
const (
	// Protocol errors
	ErrInvalidMessageFormat = "invalid message format"
	ErrUnknownCommand       = "unknown command"
	ErrFrameTooLarge        = "frame exceeds maximum size"
	ErrDecryptFailed        = "failed to decrypt frame"
	ErrHandshakeFailed      = "handshake failed"

	// Connection errors
	ErrConnectionNotFound = "connection not found"
	ErrConnectionClosed   = "connection is closed"
	ErrFailedToEncode     = "failed to encode message"
	ErrServerAlreadyRun   = "server already running"
	ErrSessionLimit       = "session limit reached"
)

// Sentinel errors returned by engines. Match them with errors.Is.
var (
	ErrNotConnected         = errors.New("not connected")
	ErrServerAlreadyRunning = errors.New(ErrServerAlreadyRun)
	ErrServerNotRunning     = errors.New("server not running")
	ErrInvalidTransition    = errors.New("invalid session transition")
	ErrClosed               = errors.New(ErrConnectionClosed)
)
