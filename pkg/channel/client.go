package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"openclaw/pkg/logx"
)

// Dialer connects a Local Agent to the Gateway over websocket, reconnecting
// with exponential backoff on disconnect. Callers read reconnect events from
// Connections() to get a fresh Channel each time the link comes back up.
type Dialer struct {
	url          string
	authToken    string
	agentID      string
	pingInterval time.Duration
	pongWait     time.Duration
	initialDelay time.Duration
	maxDelay     time.Duration

	connCh chan Channel
	logger *logx.Logger
}

// NewDialer builds a Dialer. url is the Gateway's websocket endpoint
// (e.g. wss://gateway.example.com:8765/agent/ws).
func NewDialer(url, authToken, agentID string, pingInterval, pongWait, initialDelay, maxDelay time.Duration) *Dialer {
	return &Dialer{
		url:          url,
		authToken:    authToken,
		agentID:      agentID,
		pingInterval: pingInterval,
		pongWait:     pongWait,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		connCh:       make(chan Channel),
		logger:       logx.NewLogger("channel-dialer"),
	}
}

// Connections returns a channel that receives a new Channel each time the
// dialer (re)establishes the connection. Run must be started first.
func (d *Dialer) Connections() <-chan Channel { return d.connCh }

// Run dials the Gateway in a loop until ctx is cancelled, backing off
// exponentially between attempts and resetting the delay after any
// connection that stayed up long enough to be considered healthy.
func (d *Dialer) Run(ctx context.Context) {
	delay := d.initialDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connectedAt := time.Now()
		ch, err := d.dial(ctx)
		if err != nil {
			d.logger.Warn("dial failed: %v (retrying in %s)", err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay = nextBackoff(delay, d.maxDelay)
			continue
		}

		select {
		case d.connCh <- ch:
		case <-ctx.Done():
			ch.Close()
			return
		}

		<-ch.Closed()
		if time.Since(connectedAt) > d.pingInterval*3 {
			delay = d.initialDelay
		} else {
			delay = nextBackoff(delay, d.maxDelay)
		}
	}
}

func (d *Dialer) dial(ctx context.Context) (Channel, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.authToken)

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, d.url, header)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", d.url, err)
	}

	return newWSChannel(conn, d.agentID, d.pingInterval, d.pongWait), nil
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
