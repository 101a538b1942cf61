package channel

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"go.miragespace.co/crosstalk/promise"
	"go.miragespace.co/crosstalk/spec/transport"
	"go.miragespace.co/crosstalk/spec/wire"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/zhangyunhao116/skipmap"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	ErrClosed         = fmt.Errorf("channel is already closed")
	ErrUnknownHandler = fmt.Errorf("no handler registered under the requested name")
	ErrCallTimeout    = fmt.Errorf("call timed out waiting for a return")
)

const (
	DefaultHandshakeAttempts = 10
	DefaultHandshakeInterval = time.Millisecond * 200
)

// Handler is an application-supplied function invoked with the exact
// argument sequence the remote caller sent. Its return value or error
// becomes the call's outcome on the caller side.
type Handler func(ctx context.Context, args []any) (any, error)

type HandlerMap map[string]Handler

type Config struct {
	Logger    *zap.Logger
	Transport transport.Transport
	// Remote is the peer this channel issues calls against. Inbound calls
	// are answered regardless of which peer sent them.
	Remote   transport.Peer
	Handlers HandlerMap
	// CallTimeout bounds every Call issued on this channel. Zero keeps the
	// historical behavior: a call with no matching return waits forever.
	CallTimeout time.Duration
	// HandshakeAttempts and HandshakeInterval control syn retransmission.
	// The transport is at-most-once, so the initial syn may simply vanish.
	HandshakeAttempts uint
	HandshakeInterval time.Duration
}

// Channel multiplexes a request/response protocol over one transport link.
// Outbound calls are correlated to their returns by a per-instance unique
// id, so any number of channels can share one broadcast transport without
// interference.
type Channel struct {
	logger *zap.Logger
	tr     transport.Transport
	remote transport.Peer

	token string
	seq   *atomic.Uint64

	handlers *skipmap.StringMap[Handler]
	pending  *skipmap.StringMap[*promise.Deferred[any]]

	ready      *promise.Deferred[struct{}]
	readyState *atomic.Bool

	inbound     <-chan *transport.Delegate
	unsubscribe func()

	baseCtx context.Context
	cancel  context.CancelFunc
	closed  *atomic.Bool

	callTimeout       time.Duration
	handshakeAttempts uint
	handshakeInterval time.Duration
}

// Open subscribes on the transport, starts dispatching inbound messages,
// and sends the first syn to conf.Remote. The returned channel is usable
// immediately: calls issued before the handshake completes park until the
// channel becomes ready. Close must be called to detach from the transport.
func Open(ctx context.Context, conf Config) (*Channel, error) {
	if conf.Transport == nil {
		return nil, fmt.Errorf("missing Transport")
	}
	if !conf.Remote.Valid() {
		return nil, fmt.Errorf("remote peer is not addressable")
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	if conf.HandshakeAttempts == 0 {
		conf.HandshakeAttempts = DefaultHandshakeAttempts
	}
	if conf.HandshakeInterval == 0 {
		conf.HandshakeInterval = DefaultHandshakeInterval
	}

	chCtx, cancel := context.WithCancel(ctx)
	c := &Channel{
		logger: conf.Logger.With(
			zap.String("local", string(conf.Transport.Identity())),
			zap.String("remote", string(conf.Remote)),
		),
		tr:                conf.Transport,
		remote:            conf.Remote,
		token:             uuid.NewString(),
		seq:               atomic.NewUint64(0),
		handlers:          skipmap.NewString[Handler](),
		pending:           skipmap.NewString[*promise.Deferred[any]](),
		ready:             promise.NewDeferred[struct{}](),
		readyState:        atomic.NewBool(false),
		baseCtx:           chCtx,
		cancel:            cancel,
		closed:            atomic.NewBool(false),
		callTimeout:       conf.CallTimeout,
		handshakeAttempts: conf.HandshakeAttempts,
		handshakeInterval: conf.HandshakeInterval,
	}
	for name, fn := range conf.Handlers {
		c.handlers.Store(name, fn)
	}

	c.inbound, c.unsubscribe = conf.Transport.Subscribe()

	go c.dispatch()
	go c.handshake()

	return c, nil
}

// Ready parks until the handshake completes, ctx expires, or the channel
// is closed.
func (c *Channel) Ready(ctx context.Context) error {
	_, err := c.ready.Wait(ctx)
	return err
}

func (c *Channel) Remote() transport.Peer {
	return c.remote
}

// Call invokes the named handler on the remote side and waits for its
// return. Any number of calls may be outstanding at once; each is
// correlated independently and completion order is unconstrained.
func (c *Channel) Call(ctx context.Context, handler string, args ...any) (any, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.callTimeout, ErrCallTimeout)
		defer cancel()
	}

	if err := c.Ready(ctx); err != nil {
		return nil, callErr(ctx, err)
	}

	id := c.nextID()
	d := promise.NewDeferred[any]()
	c.pending.Store(id, d)
	defer c.pending.Delete(id)

	// Close may have drained the registry between the closed check and the
	// store above; never leave a call parked on a dead channel
	if c.closed.Load() {
		return nil, ErrClosed
	}

	payload, err := wire.Call(id, handler, args).Encode()
	if err != nil {
		return nil, err
	}
	if err := c.tr.Send(ctx, c.remote, payload); err != nil {
		return nil, fmt.Errorf("sending call message: %w", err)
	}

	result, err := d.Wait(ctx)
	if err != nil {
		return nil, callErr(ctx, err)
	}
	return result, nil
}

// Close stops dispatch, detaches from the transport, and rejects every
// in-flight call. Idempotent.
func (c *Channel) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.unsubscribe()
	c.ready.Reject(ErrClosed)
	c.pending.Range(func(_ string, d *promise.Deferred[any]) bool {
		d.Reject(ErrClosed)
		return true
	})
	c.logger.Debug("Channel closed")
}

func callErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
		return cause
	}
	return err
}

func (c *Channel) nextID() string {
	return c.token + "-" + strconv.FormatUint(c.seq.Inc(), 10)
}

func (c *Channel) send(ctx context.Context, target transport.Peer, msg *wire.Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.tr.Send(ctx, target, payload)
}

// handshake retransmits syn until the channel becomes ready or the
// attempts are exhausted. Even if every syn is lost, the peer's own syn
// still completes the handshake on arrival.
func (c *Channel) handshake() {
	err := retry.Do(func() error {
		if c.readyState.Load() {
			return nil
		}
		if err := c.send(c.baseCtx, c.remote, wire.Syn()); err != nil {
			return err
		}
		waitCtx, waitCancel := context.WithTimeout(c.baseCtx, c.handshakeInterval)
		defer waitCancel()
		if err := c.Ready(waitCtx); err != nil {
			return fmt.Errorf("no handshake reply from peer: %w", err)
		}
		return nil
	},
		retry.Attempts(c.handshakeAttempts),
		retry.Context(c.baseCtx),
		retry.Delay(c.handshakeInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil && c.baseCtx.Err() == nil {
		c.logger.Debug("Handshake attempts exhausted, awaiting syn from peer", zap.Error(err))
	}
}

func (c *Channel) markReady() {
	if !c.readyState.CompareAndSwap(false, true) {
		return
	}
	c.ready.Resolve(struct{}{})
	c.logger.Debug("Handshake completed")
}

func (c *Channel) dispatch() {
	for {
		select {
		case <-c.baseCtx.Done():
			return
		case delegate, ok := <-c.inbound:
			if !ok {
				return
			}
			msg, err := wire.Decode(delegate.Payload)
			if err != nil {
				c.logger.Warn("Dropping malformed payload", zap.Object("delegate", delegate), zap.Error(err))
				continue
			}
			switch msg.Kind {
			case wire.KindSyn:
				if err := c.send(c.baseCtx, delegate.Sender, wire.Ack()); err != nil {
					c.logger.Error("Sending ack", zap.Object("message", msg), zap.Error(err))
				}
				c.markReady()
			case wire.KindAck:
				c.markReady()
			case wire.KindCall:
				go c.handleCall(delegate.Sender, msg)
			case wire.KindReturn:
				c.handleReturn(msg)
			default:
				c.logger.Debug("Dropping message with unknown kind", zap.Object("message", msg))
			}
		}
	}
}

// handleCall runs on its own goroutine so a slow handler never stalls
// dispatch. The reply is addressed to the sender of the call, not the
// configured remote, so a channel answers any peer reaching it over a
// shared transport.
func (c *Channel) handleCall(sender transport.Peer, msg *wire.Message) {
	var reply *wire.Message
	result, err := c.invoke(c.baseCtx, msg.Handler, msg.Args)
	if err != nil {
		reply = wire.ReturnError(msg.ID, wire.NormalizeError(err))
	} else {
		reply = wire.ReturnResult(msg.ID, result)
	}
	if err := c.send(c.baseCtx, sender, reply); err != nil {
		c.logger.Error("Sending return", zap.Object("message", msg), zap.Error(err))
	}
}

func (c *Channel) invoke(ctx context.Context, name string, args []any) (result any, err error) {
	handler, ok := c.handlers.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &wire.ErrorValue{
				Message: fmt.Sprint(r),
				Stack:   string(debug.Stack()),
			}
		}
	}()
	return handler(ctx, args)
}

// handleReturn completes the pending call the return belongs to. A return
// with no matching pending id was meant for another channel on the same
// transport, or the call already completed; either way it is dropped.
func (c *Channel) handleReturn(msg *wire.Message) {
	d, ok := c.pending.LoadAndDelete(msg.ID)
	if !ok {
		c.logger.Debug("Dropping unmatched return", zap.Object("message", msg))
		return
	}
	if msg.Failed() {
		d.Reject(msg.Error)
	} else {
		d.Resolve(msg.Result)
	}
}
