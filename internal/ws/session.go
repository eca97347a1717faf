package ws

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/agora/forum-chat/internal/auth"
)

var (
	// ErrSessionClosed is returned by Enqueue after the session has been
	// closed. The broadcaster treats it as a no-op.
	ErrSessionClosed = errors.New("ws: session closed")

	// ErrSlowConsumer is returned by Enqueue when the outbound queue is
	// full. The session is left to the heartbeat sweep to evict.
	ErrSlowConsumer = errors.New("ws: outbound queue full")
)

type frame struct {
	op   ws.OpCode
	data []byte
}

// Session is one live client connection and its evolving authorization
// state: no identity until a valid AUTH, at most one subscribed topic at a
// time. Outbound frames go through a bounded queue drained by a writer
// goroutine so one slow peer never stalls a broadcast.
type Session struct {
	ID        string
	Conn      net.Conn
	CreatedAt time.Time

	writeTimeout time.Duration
	out          chan frame
	done         chan struct{}
	closeOnce    sync.Once
	writeMu      sync.Mutex // serializes raw writes to Conn

	mu       sync.Mutex // guards identity, topicID, alive
	identity *auth.Identity
	topicID  int64
	alive    bool
}

func newSession(conn net.Conn, sendBuffer int, writeTimeout time.Duration) *Session {
	return &Session{
		ID:           uuid.New().String(),
		Conn:         conn,
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
		out:          make(chan frame, sendBuffer),
		done:         make(chan struct{}),
		alive:        true,
	}
}

// SetIdentity records the verified identity. Called once per successful
// AUTH; a later AUTH on the same socket simply replaces it.
func (s *Session) SetIdentity(id auth.Identity) {
	s.mu.Lock()
	s.identity = &id
	s.mu.Unlock()
}

// Identity returns the authenticated identity, if any.
func (s *Session) Identity() (auth.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return auth.Identity{}, false
	}
	return *s.identity, true
}

// Authenticated reports whether AUTH has succeeded on this session.
func (s *Session) Authenticated() bool {
	_, ok := s.Identity()
	return ok
}

// JoinTopic subscribes the session to a topic, replacing any prior
// subscription. No existence check happens here; enforcement is at write
// time and fan-out only originates from committed rows.
func (s *Session) JoinTopic(topicID int64) {
	s.mu.Lock()
	s.topicID = topicID
	s.mu.Unlock()
}

// TopicID returns the subscribed topic, 0 if none.
func (s *Session) TopicID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topicID
}

// SetAlive updates the liveness flag. The heartbeat clears it each sweep;
// any inbound frame sets it.
func (s *Session) SetAlive(alive bool) {
	s.mu.Lock()
	s.alive = alive
	s.mu.Unlock()
}

// Alive reports whether the session has shown life since the last sweep.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Enqueue queues a text frame for delivery. It never blocks: a full queue
// returns ErrSlowConsumer and a closed session returns ErrSessionClosed.
func (s *Session) Enqueue(data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- frame{op: ws.OpText, data: data}:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

// writeLoop drains the outbound queue onto the transport. A write failure
// marks the session dead and stops the loop; the heartbeat sweep evicts it.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.out:
			if err := s.write(f.op, f.data); err != nil {
				s.SetAlive(false)
				return
			}
		}
	}
}

// write performs one raw frame write under the write mutex, so queued
// frames, heartbeat pings, and terminal notices never interleave.
func (s *Session) write(op ws.OpCode, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		_ = s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer s.Conn.SetWriteDeadline(time.Time{})
	}
	switch op {
	case ws.OpPing:
		return ws.WriteFrame(s.Conn, ws.NewPingFrame(data))
	case ws.OpPong:
		return ws.WriteFrame(s.Conn, ws.NewPongFrame(data))
	default:
		return wsutil.WriteServerMessage(s.Conn, op, data)
	}
}

// WriteNow sends a text frame synchronously, bypassing the queue. Used for
// terminal notices (BANNED) that must reach the peer before the transport
// is torn down.
func (s *Session) WriteNow(data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	return s.write(ws.OpText, data)
}

// Ping sends a WebSocket protocol-level ping frame.
func (s *Session) Ping() error {
	return s.write(ws.OpPing, nil)
}

// Close tears the session down. Idempotent; the queue stops accepting
// before the transport is released so no frame is ever written to a
// reclaimed handle.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.Conn.Close()
	})
	return err
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
