package packet

// Transform rewrites packet bytes on their way to and from the transport.
// It is the hook for compression or link-level obfuscation layered under
// the frame grammar.
type Transform interface {
	// OnSend is called immediately before the bytes are handed to the transport.
	OnSend(data []byte) ([]byte, error)
	// OnReceive is called immediately after bytes come off the transport.
	OnReceive(data []byte) ([]byte, error)
}

// NopTransform passes bytes through unchanged.
type NopTransform struct{}

func (NopTransform) OnSend(data []byte) ([]byte, error)    { return data, nil }
func (NopTransform) OnReceive(data []byte) ([]byte, error) { return data, nil }

// Encode returns the bytes to transmit for p after applying t.
func (p *Packet) Encode(t Transform) ([]byte, error) {
	if t == nil {
		return p.data, nil
	}
	return t.OnSend(p.data)
}

// Decode builds a packet from received bytes after applying t.
func Decode(data []byte, t Transform) (*Packet, error) {
	if t != nil {
		var err error
		if data, err = t.OnReceive(data); err != nil {
			return nil, err
		}
	}
	return FromBytes(data), nil
}
