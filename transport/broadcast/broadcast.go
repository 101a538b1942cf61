package broadcast

import (
	"context"
	"sync"

	"go.miragespace.co/crosstalk/spec/transport"

	"github.com/zhangyunhao116/skipmap"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// SubscriberBuffer is the per-subscriber queue depth. Deliveries beyond a
// full queue are dropped, matching the best-effort transport contract.
const SubscriberBuffer = 32

// Bus is an in-memory broadcast transport. Every attached Endpoint can
// address every other by Peer, or all of them at once via Wildcard.
// Delivery is best-effort and unordered across endpoints.
type Bus struct {
	logger    *zap.Logger
	endpoints *skipmap.StringMap[*Endpoint]
	closed    *atomic.Bool
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:    logger,
		endpoints: skipmap.NewString[*Endpoint](),
		closed:    atomic.NewBool(false),
	}
}

// Attach creates an endpoint addressable as addr on the bus.
func (b *Bus) Attach(addr transport.Peer) (*Endpoint, error) {
	if b.closed.Load() {
		return nil, transport.ErrClosed
	}
	if !addr.Valid() || addr == transport.Wildcard {
		return nil, transport.ErrNoPeer
	}
	e := &Endpoint{
		bus:         b,
		addr:        addr,
		logger:      b.logger.With(zap.String("endpoint", string(addr))),
		subscribers: make(map[uint64]chan *transport.Delegate),
		subSeq:      atomic.NewUint64(0),
		closed:      atomic.NewBool(false),
	}
	if _, loaded := b.endpoints.LoadOrStore(string(addr), e); loaded {
		return nil, transport.ErrDuplicatePeer
	}
	return e, nil
}

// Pipe is a convenience for the common two-party setup: one fresh bus with
// endpoints "a" and "b" attached.
func Pipe(logger *zap.Logger) (*Endpoint, *Endpoint) {
	bus := NewBus(logger)
	a, _ := bus.Attach(transport.Peer("a"))
	b, _ := bus.Attach(transport.Peer("b"))
	return a, b
}

// Stop detaches every endpoint and refuses further sends.
func (b *Bus) Stop() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.endpoints.Range(func(_ string, e *Endpoint) bool {
		e.Close()
		return true
	})
}

func (b *Bus) deliver(from transport.Peer, target transport.Peer, payload []byte) error {
	if target == transport.Wildcard {
		b.endpoints.Range(func(_ string, e *Endpoint) bool {
			if e.addr != from {
				e.enqueue(from, payload)
			}
			return true
		})
		return nil
	}
	e, ok := b.endpoints.Load(string(target))
	if !ok {
		return transport.ErrNoPeer
	}
	e.enqueue(from, payload)
	return nil
}

// Endpoint is one addressable party on a Bus.
type Endpoint struct {
	bus    *Bus
	addr   transport.Peer
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[uint64]chan *transport.Delegate
	subSeq      *atomic.Uint64

	closed *atomic.Bool
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) Identity() transport.Peer {
	return e.addr
}

func (e *Endpoint) Send(ctx context.Context, target transport.Peer, payload []byte) error {
	if e.closed.Load() || e.bus.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !target.Valid() {
		return transport.ErrNoPeer
	}
	return e.bus.deliver(e.addr, target, payload)
}

func (e *Endpoint) Subscribe() (<-chan *transport.Delegate, func()) {
	ch := make(chan *transport.Delegate, SubscriberBuffer)
	id := e.subSeq.Inc()

	e.mu.Lock()
	e.subscribers[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subscribers[id]; !ok {
			return
		}
		delete(e.subscribers, id)
		close(ch)
	}
	return ch, cancel
}

// Close detaches the endpoint from the bus and closes every subscription.
func (e *Endpoint) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.bus.endpoints.Delete(string(e.addr))

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
}

func (e *Endpoint) enqueue(from transport.Peer, payload []byte) {
	// each subscriber gets its own copy so no aliasing crosses contexts
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subscribers {
		d := &transport.Delegate{
			Sender:  from,
			Payload: append([]byte(nil), payload...),
		}
		select {
		case ch <- d:
		default:
			e.logger.Warn("Subscriber queue full, dropping inbound payload", zap.Object("delegate", d))
		}
	}
}
