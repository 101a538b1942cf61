package transport

import "fmt"

var (
	ErrClosed        = fmt.Errorf("transport is already closed")
	ErrNoPeer        = fmt.Errorf("no endpoint with the given address is attached")
	ErrDuplicatePeer = fmt.Errorf("an endpoint with the given address is already attached")
)
