package protocol

import (
	"errors"
	"fmt"

	"github.com/luciancaetano/lobbynet"
	"github.com/luciancaetano/lobbynet/packet"
)

const (
	headerSize       = 1
	customHeaderSize = headerSize + 4
	maxFrameSize     = 10 * 1024 * 1024 // 10MB max frame size

	// sealOverhead covers the CryptoPacket header, nonce and tag around a
	// full-size inner frame.
	sealOverhead  = 64
	maxSealedSize = maxFrameSize + sealOverhead
)

// Encode frames command followed by the bytes of body. body may be nil.
func Encode(command lobbynet.Command, body *packet.Packet) (*packet.Packet, error) {
	size := headerSize
	if body != nil {
		size += body.Len()
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("%s: %d > %d bytes", lobbynet.ErrFrameTooLarge, size, maxFrameSize)
	}

	out := packet.New().WriteUint8(uint8(command))
	if body != nil {
		out.Append(body.Bytes())
	}
	return out, nil
}

// EncodeCustom frames a CustomCommand carrying code and body.
func EncodeCustom(code uint32, body *packet.Packet) (*packet.Packet, error) {
	size := customHeaderSize
	if body != nil {
		size += body.Len()
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("%s: %d > %d bytes", lobbynet.ErrFrameTooLarge, size, maxFrameSize)
	}

	out := packet.New().WriteUint8(uint8(lobbynet.CmdCustomCommand)).WriteUint32(code)
	if body != nil {
		out.Append(body.Bytes())
	}
	return out, nil
}

// Decode reads the leading command of frame. On success the packet's cursor
// sits on the first payload byte.
func Decode(frame *packet.Packet) (lobbynet.Command, error) {
	limit := maxFrameSize
	if b := frame.Bytes(); len(b) > 0 && lobbynet.Command(b[0]) == lobbynet.CmdCryptoPacket {
		limit = maxSealedSize
	}
	if frame.Len() > limit {
		return 0, fmt.Errorf("%s: %d > %d bytes", lobbynet.ErrFrameTooLarge, frame.Len(), limit)
	}

	var raw uint8
	if !frame.ReadUint8(&raw).Ok() {
		return 0, errors.New(lobbynet.ErrInvalidMessageFormat)
	}
	cmd := lobbynet.Command(raw)
	if !cmd.Valid() {
		return 0, fmt.Errorf("%s: %d", lobbynet.ErrUnknownCommand, raw)
	}
	return cmd, nil
}

// Seal wraps a complete frame into a CryptoPacket. The size limit applies
// to the inner frame, so sealing never shrinks the usable payload.
func Seal(key lobbynet.SessionKey, frame *packet.Packet) (*packet.Packet, error) {
	if frame.Len() > maxFrameSize {
		return nil, fmt.Errorf("%s: %d > %d bytes", lobbynet.ErrFrameTooLarge, frame.Len(), maxFrameSize)
	}
	blob, err := key.Encrypt(frame.Bytes())
	if err != nil {
		return nil, err
	}
	if size := headerSize + len(blob); size > maxSealedSize {
		return nil, fmt.Errorf("%s: %d > %d bytes", lobbynet.ErrFrameTooLarge, size, maxSealedSize)
	}
	out := packet.New().WriteUint8(uint8(lobbynet.CmdCryptoPacket))
	out.Append(blob)
	return out, nil
}

// Open decrypts the unread remainder of a CryptoPacket into a fresh frame.
func Open(key lobbynet.SessionKey, frame *packet.Packet) (*packet.Packet, error) {
	plain, err := key.Decrypt(frame.Remaining())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", lobbynet.ErrDecryptFailed, err)
	}
	return packet.FromBytes(plain), nil
}
