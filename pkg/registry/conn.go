package registry

import "context"

// Conn is the transport side of a daemon connection. The production
// implementation wraps a websocket; tests substitute an in-memory fake.
type Conn interface {
	// Send marshals v as JSON and writes one frame
	Send(ctx context.Context, v interface{}) error

	// Ping sends a transport-level ping and blocks until the pong
	// arrives or the context expires
	Ping(ctx context.Context) error

	// Close terminates the connection with a close code and reason
	Close(code int, reason string) error
}
