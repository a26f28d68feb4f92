package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luciancaetano/lobbynet/internal/logging"
	"github.com/luciancaetano/lobbynet/internal/queue"
	"github.com/luciancaetano/lobbynet/packet"
	"github.com/luciancaetano/lobbynet/transport"
)

// poller moves transport events into the event queue. It owns Host.Poll:
// either its own goroutine or the caller of receive drives it, never both.
type poller struct {
	host      transport.Host
	queue     *queue.Queue
	transform packet.Transform
	timeout   time.Duration
	log       *logging.Logger
	stats     *counters
	// observe sees connect and disconnect events before they are queued.
	observe func(ev transport.Event)

	alive  atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPoller(host transport.Host, q *queue.Queue, transform packet.Transform, timeout time.Duration, log *logging.Logger, stats *counters) *poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &poller{
		host:      host,
		queue:     q,
		transform: transform,
		timeout:   timeout,
		log:       log,
		stats:     stats,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// start spawns the polling goroutine.
func (p *poller) start() {
	p.alive.Store(true)
	p.wg.Add(1)
	go p.loop()
}

func (p *poller) loop() {
	defer p.wg.Done()
	for p.alive.Load() {
		if err := p.receive(p.ctx); err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, queue.ErrClosed) || p.ctx.Err() != nil {
				return
			}
			p.log.Warnf("poll failed: %v", err)
			time.Sleep(p.timeout)
		}
	}
}

// stop ends the polling goroutine and waits for it. Safe to call more than once.
func (p *poller) stop() {
	p.alive.Store(false)
	p.cancel()
	p.wg.Wait()
}

// receive polls the host once and queues what it got. Frames the transform
// rejects are dropped.
func (p *poller) receive(ctx context.Context) error {
	ev, err := p.host.Poll(ctx, p.timeout)
	if err != nil {
		return err
	}

	out := queue.NetEvent{
		Type:         ev.Type,
		Peer:         ev.Peer,
		ConnectionID: ev.ConnectionID,
		RemoteAddr:   ev.RemoteAddr,
	}
	switch ev.Type {
	case transport.EventNone:
		return nil
	case transport.EventReceive:
		p.stats.addIn(len(ev.Data))
		pkt, err := packet.Decode(ev.Data, p.transform)
		if err != nil {
			p.stats.dropped.Add(1)
			p.log.Debugf("dropping frame from %s: %v", ev.Peer, err)
			return nil
		}
		out.Packet = pkt
	case transport.EventConnect, transport.EventDisconnect:
		if p.observe != nil {
			p.observe(ev)
		}
	}
	return p.queue.Push(ctx, out)
}
