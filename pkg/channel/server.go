package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"openclaw/pkg/logx"
	"openclaw/pkg/proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // agents dial in from arbitrary workstations
}

// wsChannel is the websocket-backed Channel implementation shared by the
// Gateway's server side and the Local Agent's client side.
type wsChannel struct {
	conn       *websocket.Conn
	agentID    string
	recvCh     chan *proto.ActionMsg
	closedCh   chan struct{}
	closeOnce  sync.Once
	writeMu    sync.Mutex
	logger     *logx.Logger
	pongWait   time.Duration
}

func newWSChannel(conn *websocket.Conn, agentID string, pingInterval, pongWait time.Duration) *wsChannel {
	c := &wsChannel{
		conn:     conn,
		agentID:  agentID,
		recvCh:   make(chan *proto.ActionMsg, 64),
		closedCh: make(chan struct{}),
		logger:   logx.NewLogger(fmt.Sprintf("channel-%s", agentID)),
		pongWait: pongWait,
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop()
	go c.pingLoop(pingInterval)

	return c
}

func (c *wsChannel) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("channel read loop ending: %v", err)
			return
		}
		msg, err := proto.FromJSON(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame: %v", err)
			continue
		}
		select {
		case c.recvCh <- msg:
		case <-c.closedCh:
			return
		}
	}
}

func (c *wsChannel) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown()
				return
			}
		case <-c.closedCh:
			return
		}
	}
}

func (c *wsChannel) Send(ctx context.Context, msg *proto.ActionMsg) error {
	select {
	case <-c.closedCh:
		return ErrClosed
	default:
	}

	data, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.shutdown()
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (c *wsChannel) Recv() <-chan *proto.ActionMsg { return c.recvCh }

func (c *wsChannel) Closed() <-chan struct{} { return c.closedCh }

func (c *wsChannel) Close() error {
	c.shutdown()
	return c.conn.Close()
}

func (c *wsChannel) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closedCh)
		close(c.recvCh)
	})
}

// Server accepts inbound websocket connections from Local Agents and hands
// each one back as a Channel, keyed by the agent ID the bearer token
// resolves to.
type Server struct {
	mu           sync.RWMutex
	agents       map[string]*wsChannel
	pingInterval time.Duration
	pongWait     time.Duration
	authenticate func(token string) (agentID string, ok bool)
}

// NewServer creates a channel server. authenticate validates the bearer
// token presented on connect and returns the agent ID it belongs to.
func NewServer(pingInterval, pongWait time.Duration, authenticate func(token string) (string, bool)) *Server {
	return &Server{
		agents:       make(map[string]*wsChannel),
		pingInterval: pingInterval,
		pongWait:     pongWait,
		authenticate: authenticate,
	}
}

// ServeHTTP upgrades an authenticated request to a websocket and registers
// the resulting Channel under the resolved agent ID, replacing any previous
// connection for that agent.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	agentID, ok := s.authenticate(token)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Warnf("websocket upgrade failed for agent %s: %v", agentID, err)
		return
	}

	ch := newWSChannel(conn, agentID, s.pingInterval, s.pongWait)

	s.mu.Lock()
	if old, exists := s.agents[agentID]; exists {
		old.Close()
	}
	s.agents[agentID] = ch
	s.mu.Unlock()

	logx.Infof("agent %s connected on the action dispatch channel", agentID)

	go func() {
		<-ch.Closed()
		s.mu.Lock()
		if s.agents[agentID] == ch {
			delete(s.agents, agentID)
		}
		s.mu.Unlock()
		logx.Infof("agent %s disconnected from the action dispatch channel", agentID)
	}()
}

// Get returns the active channel for agentID, if one is connected.
func (s *Server) Get(agentID string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.agents[agentID]
	return ch, ok
}

// Connected reports whether agentID currently has a live channel.
func (s *Server) Connected(agentID string) bool {
	_, ok := s.Get(agentID)
	return ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}
