package channel

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("channel not connected")

// Frame is one message delivered on a subscribed destination.
type Frame struct {
	Destination string
	ContentType string
	Body        []byte
}

// Feed is a live subscription on one session. C is closed when the
// subscription ends, whether by Unsubscribe or because the session died.
type Feed interface {
	C() <-chan Frame
	Unsubscribe() error
}

// Session is one established broker connection.
type Session interface {
	Send(destination, contentType string, body []byte) error
	Subscribe(destination string) (Feed, error)
	// Done is closed once the session is unusable; Err then tells why.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens sessions. token is attached to the handshake; it may be empty.
type Dialer interface {
	Dial(ctx context.Context, token string) (Session, error)
}

// ConnectionState is what the manager reports to its listeners. Stopped is
// set only on the state emitted by an explicit Deactivate.
type ConnectionState struct {
	Connected bool
	Err       error
	Stopped   bool
}
