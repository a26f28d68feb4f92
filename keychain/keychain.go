// Package keychain provides the default lobbynet.KeyChain: X25519 key
// agreement, HKDF-SHA256 key derivation and XChaCha20-Poly1305 sealing.
//
// Each side derives two directional keys from the shared secret, so a frame
// sealed by the server can never be replayed back to it as if it came from
// the client.
package keychain

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/dh/x25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/luciancaetano/lobbynet"
)

// Side tells the key chain which direction its own frames travel.
type Side uint8

const (
	ServerSide Side = iota
	ClientSide
)

const hkdfInfo = "lobbynet session v1"

var (
	ErrBadPublicKey = errors.New("keychain: malformed public key")
	ErrWeakKey      = errors.New("keychain: degenerate shared secret")
	ErrShortBlob    = errors.New("keychain: ciphertext too short")
)

// KeyChain is an X25519 key pair bound to one protocol side.
type KeyChain struct {
	side   Side
	secret x25519.Key
	public x25519.Key
}

var _ lobbynet.KeyChain = (*KeyChain)(nil)

// New generates a key pair for side.
func New(side Side) (*KeyChain, error) {
	return newFrom(side, rand.Reader)
}

func newFrom(side Side, r io.Reader) (*KeyChain, error) {
	kc := &KeyChain{side: side}
	if _, err := io.ReadFull(r, kc.secret[:]); err != nil {
		return nil, fmt.Errorf("keychain: generate key: %w", err)
	}
	x25519.KeyGen(&kc.public, &kc.secret)
	return kc, nil
}

// PublicKey returns a copy of the local public key.
func (kc *KeyChain) PublicKey() []byte {
	return append([]byte(nil), kc.public[:]...)
}

// DeriveShared runs X25519 against the peer key and expands the result into
// a pair of directional keys.
func (kc *KeyChain) DeriveShared(peerPublic []byte) (lobbynet.SessionKey, error) {
	if len(peerPublic) != x25519.Size {
		return nil, ErrBadPublicKey
	}
	var peer, shared x25519.Key
	copy(peer[:], peerPublic)
	if !x25519.Shared(&shared, &kc.secret, &peer) {
		return nil, ErrWeakKey
	}

	// Salt binds both contributions, ordered by role so both ends agree.
	var salt []byte
	if kc.side == ServerSide {
		salt = append(append(salt, kc.public[:]...), peer[:]...)
	} else {
		salt = append(append(salt, peer[:]...), kc.public[:]...)
	}

	material := make([]byte, 2*chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared[:], salt, []byte(hkdfInfo)), material); err != nil {
		return nil, fmt.Errorf("keychain: hkdf: %w", err)
	}
	toClient, toServer := material[:chacha20poly1305.KeySize], material[chacha20poly1305.KeySize:]

	seal, open := toClient, toServer
	if kc.side == ClientSide {
		seal, open = toServer, toClient
	}
	return newSessionKey(seal, open, sha256.Sum256(material))
}

type sessionKey struct {
	seal        cipher.AEAD
	open        cipher.AEAD
	fingerprint [32]byte
}

func newSessionKey(sealKey, openKey []byte, fingerprint [32]byte) (*sessionKey, error) {
	seal, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, fmt.Errorf("keychain: seal cipher: %w", err)
	}
	open, err := chacha20poly1305.NewX(openKey)
	if err != nil {
		return nil, fmt.Errorf("keychain: open cipher: %w", err)
	}
	return &sessionKey{seal: seal, open: open, fingerprint: fingerprint}, nil
}

// Encrypt returns nonce || ciphertext || tag under a fresh random nonce.
func (k *sessionKey) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, k.seal.NonceSize(), k.seal.NonceSize()+len(plaintext)+k.seal.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keychain: nonce: %w", err)
	}
	return k.seal.Seal(nonce, nonce, plaintext, nil), nil
}

func (k *sessionKey) Decrypt(blob []byte) ([]byte, error) {
	ns := k.open.NonceSize()
	if len(blob) < ns+k.open.Overhead() {
		return nil, ErrShortBlob
	}
	return k.open.Open(nil, blob[:ns], blob[ns:], nil)
}

func (k *sessionKey) Fingerprint() [32]byte {
	return k.fingerprint
}

// Equal reports whether two session keys were derived from the same
// exchange, in constant time.
func Equal(a, b lobbynet.SessionKey) bool {
	fa, fb := a.Fingerprint(), b.Fingerprint()
	return subtle.ConstantTimeCompare(fa[:], fb[:]) == 1
}

// Factory returns a constructor for side, in the shape the engine configs expect.
func Factory(side Side) func() (lobbynet.KeyChain, error) {
	return func() (lobbynet.KeyChain, error) {
		return New(side)
	}
}
