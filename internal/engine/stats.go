package engine

import (
	"sync/atomic"

	"github.com/luciancaetano/lobbynet"
)

// counters are the engine-wide traffic and error counters.
type counters struct {
	framesIn          atomic.Uint64
	framesOut         atomic.Uint64
	bytesIn           atomic.Uint64
	bytesOut          atomic.Uint64
	dropped           atomic.Uint64
	decryptFailures   atomic.Uint64
	handshakeFailures atomic.Uint64
	connections       atomic.Uint64
	disconnections    atomic.Uint64
}

func (c *counters) addIn(n int) {
	c.framesIn.Add(1)
	c.bytesIn.Add(uint64(n))
}

func (c *counters) addOut(n int) {
	c.framesOut.Add(1)
	c.bytesOut.Add(uint64(n))
}

func (c *counters) snapshot() lobbynet.Stats {
	return lobbynet.Stats{
		FramesIn:          c.framesIn.Load(),
		FramesOut:         c.framesOut.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		Dropped:           c.dropped.Load(),
		DecryptFailures:   c.decryptFailures.Load(),
		HandshakeFailures: c.handshakeFailures.Load(),
		Connections:       c.connections.Load(),
		Disconnections:    c.disconnections.Load(),
	}
}
