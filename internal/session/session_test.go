package session

import (
	"errors"
	"testing"

	"github.com/luciancaetano/lobbynet"
)

type fakeKey struct{ id byte }

func (k fakeKey) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (k fakeKey) Decrypt(p []byte) ([]byte, error) { return p, nil }
func (k fakeKey) Fingerprint() [32]byte            { return [32]byte{k.id} }

// TestEncryptedPath tests connect -> handshake -> encrypted -> identified
func TestEncryptedPath(t *testing.T) {
	t.Parallel()

	s := New()
	if s.State() != lobbynet.StateConnected {
		t.Fatalf("initial state = %v", s.State())
	}
	if s.CanIdentify() {
		t.Fatal("CanIdentify() before handshake")
	}

	if err := s.BeginHandshake(fakeKey{1}); err != nil {
		t.Fatalf("BeginHandshake() error = %v", err)
	}
	if s.Key() != nil {
		t.Fatal("pending key exposed as session key")
	}
	if s.PendingKey() == nil {
		t.Fatal("PendingKey() = nil")
	}

	if err := s.CompleteHandshake(fakeKey{1}); err != nil {
		t.Fatalf("CompleteHandshake() error = %v", err)
	}
	if s.State() != lobbynet.StateEncrypted || s.Key() == nil || s.PendingKey() != nil {
		t.Fatalf("after handshake: state=%v key=%v", s.State(), s.Key())
	}

	if err := s.MarkIdentified(); err != nil {
		t.Fatalf("MarkIdentified() error = %v", err)
	}
	if !s.Identified() || s.Key() == nil {
		t.Error("identified session lost its key")
	}
}

// TestPlaintextPath tests the encryption-disabled path
func TestPlaintextPath(t *testing.T) {
	t.Parallel()

	s := New()
	if err := s.MarkIdentified(); !errors.Is(err, lobbynet.ErrInvalidTransition) {
		t.Fatalf("MarkIdentified() without plaintext allowance error = %v", err)
	}
	if err := s.AllowPlaintext(); err != nil {
		t.Fatalf("AllowPlaintext() error = %v", err)
	}
	if err := s.BeginHandshake(nil); !errors.Is(err, lobbynet.ErrInvalidTransition) {
		t.Errorf("BeginHandshake() on plaintext session error = %v", err)
	}
	if err := s.MarkIdentified(); err != nil {
		t.Fatalf("MarkIdentified() error = %v", err)
	}
	if s.Key() != nil {
		t.Error("plaintext session has a key")
	}
}

// TestIllegalTransitions tests that transitions out of order are refused
func TestIllegalTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(s *Session)
		step  func(s *Session) error
	}{
		{
			name:  "complete without begin",
			setup: func(s *Session) {},
			step:  func(s *Session) error { return s.CompleteHandshake(fakeKey{}) },
		},
		{
			name:  "complete with nil key",
			setup: func(s *Session) { s.BeginHandshake(nil) },
			step:  func(s *Session) error { return s.CompleteHandshake(nil) },
		},
		{
			name:  "identify while pending",
			setup: func(s *Session) { s.BeginHandshake(nil) },
			step:  func(s *Session) error { return s.MarkIdentified() },
		},
		{
			name: "identify after failure",
			setup: func(s *Session) {
				s.BeginHandshake(nil)
				s.FailHandshake()
			},
			step: func(s *Session) error { return s.MarkIdentified() },
		},
		{
			name: "fail after encrypted",
			setup: func(s *Session) {
				s.BeginHandshake(nil)
				s.CompleteHandshake(fakeKey{})
			},
			step: func(s *Session) error { return s.FailHandshake() },
		},
		{
			name:  "plaintext after handshake began",
			setup: func(s *Session) { s.BeginHandshake(nil) },
			step:  func(s *Session) error { return s.AllowPlaintext() },
		},
		{
			name:  "begin twice",
			setup: func(s *Session) { s.BeginHandshake(nil) },
			step:  func(s *Session) error { return s.BeginHandshake(nil) },
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New()
			tt.setup(s)
			before := s.State()
			if err := tt.step(s); !errors.Is(err, lobbynet.ErrInvalidTransition) {
				t.Errorf("error = %v, want ErrInvalidTransition", err)
			}
			if s.State() != before {
				t.Errorf("state changed from %v to %v", before, s.State())
			}
		})
	}
}

// TestFailHandshakeDropsKeys tests that a failed handshake forgets key material
func TestFailHandshakeDropsKeys(t *testing.T) {
	t.Parallel()

	s := New()
	s.BeginHandshake(fakeKey{3})
	if err := s.FailHandshake(); err != nil {
		t.Fatalf("FailHandshake() error = %v", err)
	}
	if s.State() != lobbynet.StateHandshakeFailed || s.PendingKey() != nil || s.Key() != nil {
		t.Errorf("state=%v pending=%v key=%v", s.State(), s.PendingKey(), s.Key())
	}
	if !s.State().Terminal() {
		t.Error("HandshakeFailed should be terminal")
	}
}

// TestCloseFromAnyState tests that Close always reaches StateDisconnected
func TestCloseFromAnyState(t *testing.T) {
	t.Parallel()

	setups := map[string]func(s *Session){
		"connected": func(s *Session) {},
		"pending":   func(s *Session) { s.BeginHandshake(nil) },
		"encrypted": func(s *Session) { s.BeginHandshake(nil); s.CompleteHandshake(fakeKey{}) },
		"failed":    func(s *Session) { s.FailHandshake() },
		"identified": func(s *Session) {
			s.AllowPlaintext()
			s.MarkIdentified()
		},
	}

	for name, setup := range setups {
		setup := setup
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := New()
			setup(s)
			s.Close()
			if s.State() != lobbynet.StateDisconnected || s.Key() != nil {
				t.Errorf("after Close state=%v key=%v", s.State(), s.Key())
			}
		})
	}
}

// TestRecordAttempt tests the identify attempt counter
func TestRecordAttempt(t *testing.T) {
	t.Parallel()

	s := New()
	for want := 1; want <= 3; want++ {
		if got := s.RecordAttempt(); got != want {
			t.Errorf("RecordAttempt() = %d, want %d", got, want)
		}
	}
}
