package mocks

import (
	"context"

	"go.miragespace.co/crosstalk/spec/transport"

	"github.com/stretchr/testify/mock"
)

type Transport struct {
	mock.Mock
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Identity() transport.Peer {
	args := t.Called()
	return args.Get(0).(transport.Peer)
}

func (t *Transport) Send(ctx context.Context, target transport.Peer, payload []byte) error {
	args := t.Called(ctx, target, payload)
	return args.Error(0)
}

func (t *Transport) Subscribe() (<-chan *transport.Delegate, func()) {
	args := t.Called()
	v := args.Get(0)
	cancel := args.Get(1)
	return v.(chan *transport.Delegate), cancel.(func())
}
