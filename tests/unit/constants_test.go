package unit_test

import (
	"testing"

	"github.com/luciancaetano/lobbynet"
)

// TestConstants verifies that all constants are defined with expected values
func TestConstants(t *testing.T) {
	t.Parallel()

	t.Run("command values", func(t *testing.T) {
		// The discriminants are part of the wire format
		want := []struct {
			cmd  lobbynet.Command
			code uint8
			name string
		}{
			{lobbynet.CmdIdentify, 0, "Identify"},
			{lobbynet.CmdIdentifySuccessful, 1, "IdentifySuccessful"},
			{lobbynet.CmdIdentifyFailure, 2, "IdentifyFailure"},
			{lobbynet.CmdNotIdentified, 3, "NotIdentified"},
			{lobbynet.CmdConnectedWithoutEncryption, 4, "ConnectedWithoutEncryption"},
			{lobbynet.CmdHandshakeServerKey, 5, "HandshakeServerKey"},
			{lobbynet.CmdHandshakeDataKey, 6, "HandshakeDataKey"},
			{lobbynet.CmdHandshakeSuccess, 7, "HandshakeSuccess"},
			{lobbynet.CmdHandshakeFailed, 8, "HandshakeFailed"},
			{lobbynet.CmdCryptoPacket, 9, "CryptoPacket"},
			{lobbynet.CmdCustomCommand, 10, "CustomCommand"},
		}

		for _, w := range want {
			if uint8(w.cmd) != w.code {
				t.Errorf("%s = %d, want %d", w.name, uint8(w.cmd), w.code)
			}
			if got := w.cmd.String(); got != w.name {
				t.Errorf("Command(%d).String() = %q, want %q", w.code, got, w.name)
			}
			if !w.cmd.Valid() {
				t.Errorf("%s.Valid() = false", w.name)
			}
		}

		unknown := lobbynet.Command(11)
		if unknown.Valid() {
			t.Error("Command(11).Valid() = true")
		}
		if got := unknown.String(); got != "Unknown" {
			t.Errorf("Command(11).String() = %q, want Unknown", got)
		}
	})

	t.Run("handshake commands", func(t *testing.T) {
		handshake := map[lobbynet.Command]bool{
			lobbynet.CmdHandshakeServerKey: true,
			lobbynet.CmdHandshakeDataKey:   true,
			lobbynet.CmdHandshakeSuccess:   true,
			lobbynet.CmdHandshakeFailed:    true,
		}
		for c := lobbynet.CmdIdentify; c <= lobbynet.CmdCustomCommand; c++ {
			if got := c.IsHandshake(); got != handshake[c] {
				t.Errorf("%s.IsHandshake() = %v, want %v", c, got, handshake[c])
			}
		}
	})

	t.Run("identify results", func(t *testing.T) {
		results := []lobbynet.IdentifyResult{
			lobbynet.IdentifyOK,
			lobbynet.IdentifyRejected,
			lobbynet.IdentifyMalformed,
			lobbynet.IdentifyNotReady,
			lobbynet.IdentifyAlreadyIdentified,
			lobbynet.IdentifyTooManyAttempts,
		}
		seen := make(map[string]bool)
		for _, r := range results {
			name := r.String()
			if name == "unknown" || seen[name] {
				t.Errorf("IdentifyResult(%d).String() = %q", uint32(r), name)
			}
			seen[name] = true
		}
		if lobbynet.IdentifyOK != 0 {
			t.Errorf("IdentifyOK = %d, want 0", lobbynet.IdentifyOK)
		}
	})

	t.Run("session states", func(t *testing.T) {
		terminal := map[lobbynet.SessionState]bool{
			lobbynet.StateHandshakeFailed: true,
			lobbynet.StateDisconnected:    true,
		}
		for s := lobbynet.StateConnected; s <= lobbynet.StateDisconnected; s++ {
			if s.String() == "unknown" {
				t.Errorf("SessionState(%d) has no name", s)
			}
			if got := s.Terminal(); got != terminal[s] {
				t.Errorf("%s.Terminal() = %v, want %v", s, got, terminal[s])
			}
		}
	})

	t.Run("error messages", func(t *testing.T) {
		// Verify error messages are non-empty
		errorMessages := []struct {
			name  string
			value string
		}{
			{"ErrInvalidMessageFormat", lobbynet.ErrInvalidMessageFormat},
			{"ErrUnknownCommand", lobbynet.ErrUnknownCommand},
			{"ErrFrameTooLarge", lobbynet.ErrFrameTooLarge},
			{"ErrDecryptFailed", lobbynet.ErrDecryptFailed},
			{"ErrHandshakeFailed", lobbynet.ErrHandshakeFailed},
			{"ErrConnectionNotFound", lobbynet.ErrConnectionNotFound},
			{"ErrConnectionClosed", lobbynet.ErrConnectionClosed},
			{"ErrFailedToEncode", lobbynet.ErrFailedToEncode},
			{"ErrServerAlreadyRun", lobbynet.ErrServerAlreadyRun},
			{"ErrSessionLimit", lobbynet.ErrSessionLimit},
		}

		for _, em := range errorMessages {
			t.Run(em.name, func(t *testing.T) {
				if em.value == "" {
					t.Errorf("%s should not be empty", em.name)
				}
			})
		}
	})

	t.Run("connection id", func(t *testing.T) {
		if lobbynet.ConnectionIDInvalid != 0 {
			t.Errorf("ConnectionIDInvalid = %d, want 0", lobbynet.ConnectionIDInvalid)
		}
	})
}
