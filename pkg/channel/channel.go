// Package channel implements the Action Dispatch Channel: the authenticated,
// persistent, bidirectional link between the Gateway and a Local Execution
// Agent, carrying proto.ActionMsg frames.
package channel

import (
	"context"
	"fmt"

	"openclaw/pkg/proto"
)

// Channel is a bidirectional, framed transport for ActionMsg envelopes.
// The websocket transport in this package implements it. The SSH fallback
// in pkg/fallback does not: it runs one action per connection through
// Tunnel.ExecuteAction instead.
type Channel interface {
	// Send writes one frame. It returns once the frame has been handed to
	// the transport, not once the peer has acknowledged it.
	Send(ctx context.Context, msg *proto.ActionMsg) error

	// Recv returns the channel of inbound frames. It is closed when the
	// transport disconnects.
	Recv() <-chan *proto.ActionMsg

	// Closed returns a channel that is closed when the transport goes down,
	// so callers can select on it alongside Recv() to notice disconnects
	// that happen between frames.
	Closed() <-chan struct{}

	Close() error
}

// ErrClosed is returned by Send once the channel has been closed.
var ErrClosed = fmt.Errorf("channel: closed")
