// Package fallback implements the SSH transport the Gateway falls back to
// when the websocket Action Dispatch Channel is down — a single action per
// connection, no persistent state, enough to keep the system usable while
// the primary channel reconnects.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"openclaw/pkg/logx"
	"openclaw/pkg/proto"
)

// Tunnel executes a single action over SSH when the websocket Action
// Dispatch Channel is down. It shells out to the Local Agent binary
// running in one-shot mode on the remote workstation, piping the action
// envelope in on stdin and reading the result back on stdout — the same
// shape of fallback the original gateway used when it could not reach the
// agent's persistent connection.
type Tunnel struct {
	addr      string
	config    *ssh.ClientConfig
	remoteCmd string // command that runs the agent's one-shot executor, e.g. "openclaw-agent -one-shot"
	logger    *logx.Logger
}

// NewTunnel builds a tunnel that dials addr (host:port) using the given SSH
// client config. remoteCmd is invoked once per action and must read a JSON
// proto.ActionMsg from stdin and write a JSON proto.ActionResult to stdout.
func NewTunnel(addr string, config *ssh.ClientConfig, remoteCmd string) *Tunnel {
	return &Tunnel{
		addr:      addr,
		config:    config,
		remoteCmd: remoteCmd,
		logger:    logx.NewLogger("fallback"),
	}
}

// ExecuteAction runs a single action over a fresh SSH session. Each call
// dials independently; the fallback path is not expected to be hot enough
// to justify pooling connections.
func (t *Tunnel) ExecuteAction(ctx context.Context, msg *proto.ActionMsg) (*proto.ActionResult, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := dialSSHContext(dialCtx, "tcp", t.addr, t.config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", t.addr, err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	payload, err := msg.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding action: %w", err)
	}

	var stdout, stderr bytes.Buffer
	session.Stdin = bytes.NewReader(payload)
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(t.remoteCmd); err != nil {
		return &proto.ActionResult{
			ExitCode: -1,
			Stderr:   stderr.String(),
			Err:      err.Error(),
		}, nil
	}

	var result proto.ActionResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("decoding remote result: %w (stdout=%q)", err, stdout.String())
	}
	return &result, nil
}

// HealthCheck reports whether the tunnel's target is currently reachable
// over SSH, and the "user@host:port" string identifying that target for
// the status endpoint. It dials and immediately closes the connection —
// no session is opened, matching the original gateway's lightweight
// health_check probe.
func (t *Tunnel) HealthCheck(ctx context.Context) (healthy bool, target string) {
	user := ""
	if t.config != nil {
		user = t.config.User
	}
	target = fmt.Sprintf("%s@%s", user, t.addr)

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := dialSSHContext(dialCtx, "tcp", t.addr, t.config)
	if err != nil {
		return false, target
	}
	conn.Close()
	return true, target
}

func dialSSHContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}
