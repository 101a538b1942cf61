package transport

import (
	"context"

	"go.uber.org/zap/zapcore"
)

// Peer is an opaque address on the shared transport. An empty Peer is not
// addressable; Wildcard targets every endpoint except the sender.
type Peer string

const Wildcard Peer = "*"

func (p Peer) Valid() bool {
	return p != ""
}

// Delegate carries one inbound payload along with enough sender identity
// to address a reply.
type Delegate struct {
	Sender  Peer
	Payload []byte
}

var _ zapcore.ObjectMarshaler = (*Delegate)(nil)

func (d *Delegate) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("sender", string(d.Sender))
	enc.AddInt("size", len(d.Payload))
	return nil
}

// Transport is the external collaborator moving opaque payloads between
// endpoints. Implementations are best-effort: no ordering, no delivery
// guarantee, and duplication is permitted. The channel protocol layered on
// top tolerates all three.
type Transport interface {
	// Identity returns the address other endpoints use to reach this one.
	Identity() Peer

	// Send delivers payload to target on a best-effort basis. Sending to
	// Wildcard reaches every endpoint except the sender.
	Send(ctx context.Context, target Peer, payload []byte) error

	// Subscribe registers a listener for all inbound traffic on this
	// endpoint. The returned cancel detaches the listener deterministically;
	// after cancel returns the inbound channel is closed and no further
	// deliveries occur.
	Subscribe() (inbound <-chan *Delegate, cancel func())
}
