package engine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/luciancaetano/lobbynet"
)

// Each side proves it derived the session key by sealing a fixed label.
const (
	clientConfirmLabel = "lobbynet/handshake/client"
	serverConfirmLabel = "lobbynet/handshake/server"
)

var (
	errConfirmMismatch = errors.New("handshake confirmation mismatch")
	errMalformedKey    = errors.New("malformed handshake frame")
	errRemoteHandshake = errors.New("peer reported handshake failure")
)

func sealConfirmation(key lobbynet.SessionKey, label string) ([]byte, error) {
	return key.Encrypt([]byte(label))
}

func verifyConfirmation(key lobbynet.SessionKey, blob []byte, label string) error {
	plain, err := key.Decrypt(blob)
	if err != nil {
		return fmt.Errorf("%s: %w", lobbynet.ErrHandshakeFailed, err)
	}
	if !bytes.Equal(plain, []byte(label)) {
		return errConfirmMismatch
	}
	return nil
}
