// Package hub implements the connection registry: sessions guarded by a
// mutex, each with its own outbound channel drained by one writer
// goroutine, for the two session kinds this server needs — agents (one
// per managed device) and admins (one per operator connection).
package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// mailboxSize bounds how many outbound messages a session may have queued
// before a slow consumer starts blocking its producer.
const mailboxSize = 32

// sendTimeout is how long a producer will wait for a session's mailbox to
// accept a message before giving up and closing the session, per the
// bounded-mailbox-growth rule.
const sendTimeout = 2 * time.Second

// AgentSession is the live connection state for one managed device's agent.
// SR holds at most one of these per device id; a new connection for the
// same device supplants and force-closes the prior one.
type AgentSession struct {
	DeviceID     string
	Tenant       string
	AgentVersion string

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool
}

func newAgentSession(conn *websocket.Conn, deviceID, tenant, agentVersion string) *AgentSession {
	return &AgentSession{
		DeviceID:     deviceID,
		Tenant:       tenant,
		AgentVersion: agentVersion,
		conn:         conn,
		send:         make(chan []byte, mailboxSize),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// Send enqueues a message for the session's single writer goroutine. It
// never blocks the caller past sendTimeout; a send that cannot be enqueued
// in time closes the session instead of growing the mailbox unboundedly.
//
// The enqueue and the closed-check live in one select so a concurrent Close
// can never be observed between them — PM, FR, CC, and registry broadcasts
// all call Send from different goroutines, and none of them may race a
// send against the channel it targets.
func (s *AgentSession) Send(msg []byte) {
	select {
	case s.send <- msg:
	case <-s.done:
	case <-time.After(sendTimeout):
		s.Close()
	}
}

func (s *AgentSession) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the last time the agent sent any WebSocket message,
// whatever its type.
func (s *AgentSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Close force-closes the underlying connection exactly once, regardless of
// how many callers race to close it. It signals done rather than closing
// send, so a Send racing this call can select on done instead of risking a
// send on a closed channel.
func (s *AgentSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.conn.Close()
}

// writePump is the single consumer of send; it is the only goroutine
// allowed to call WriteMessage on conn.
func (s *AgentSession) writePump() {
	for {
		select {
		case msg := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// AdminSession is the live connection state for one operator's WebSocket.
type AdminSession struct {
	ID             string
	Username       string
	AllowedTenants []string

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newAdminSession(id string, conn *websocket.Conn, username string, allowedTenants []string) *AdminSession {
	return &AdminSession{
		ID:             id,
		Username:       username,
		AllowedTenants: allowedTenants,
		conn:           conn,
		send:           make(chan []byte, mailboxSize),
		done:           make(chan struct{}),
	}
}

func (s *AdminSession) Send(msg []byte) {
	select {
	case s.send <- msg:
	case <-s.done:
	case <-time.After(sendTimeout):
		s.Close()
	}
}

func (s *AdminSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.conn.Close()
}

func (s *AdminSession) writePump() {
	for {
		select {
		case msg := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
