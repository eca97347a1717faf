// Package ws is the real-time session and broadcast layer: it tracks live
// WebSocket connections, ties them to an authenticated identity and a
// subscribed topic, enforces moderation state on connect, and fans topic
// and message lifecycle events out to the right subset of sessions. The
// HTTP layer performs authorization and persistence, then calls the typed
// broadcast entry points here.
package ws

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/agora/forum-chat/internal/auth"
	"github.com/agora/forum-chat/internal/metrics"
	"github.com/agora/forum-chat/internal/moderation"
)

// TokenVerifier resolves a signed token to an identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// ModerationSource answers point-in-time mute/ban queries.
type ModerationSource interface {
	Status(ctx context.Context, userID int64) (moderation.Status, error)
}

// EventMirror republishes broadcast envelopes for external consumers.
type EventMirror interface {
	MirrorGlobal(data []byte)
	MirrorTopic(topicID int64, data []byte)
	MirrorUser(userID int64, data []byte)
}

// Config holds tunable parameters for the session layer.
type Config struct {
	MaxConnections int           // hard cap on concurrent sessions
	SendBuffer     int           // outbound queue depth per session
	WriteTimeout   time.Duration // deadline for a single frame write
	PingInterval   time.Duration // heartbeat sweep interval; one missed interval evicts
	ModTimeout     time.Duration // budget for the moderation check on AUTH
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 10000,
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		ModTimeout:     3 * time.Second,
	}
}

// Server upgrades HTTP connections, runs one reader goroutine per session,
// and owns the registry plus heartbeat.
type Server struct {
	config   Config
	registry *Registry
	verifier TokenVerifier
	mod      ModerationSource
	mirror   EventMirror

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a Server. The mirror is optional; see SetMirror.
func NewServer(config Config, verifier TokenVerifier, mod ModerationSource) *Server {
	return &Server{
		config:   config,
		registry: NewRegistry(),
		verifier: verifier,
		mod:      mod,
		done:     make(chan struct{}),
	}
}

// SetMirror attaches an optional event mirror.
func (srv *Server) SetMirror(m EventMirror) {
	srv.mirror = m
}

// Registry exposes the session registry.
func (srv *Server) Registry() *Registry {
	return srv.registry
}

// Start launches the heartbeat monitor.
func (srv *Server) Start() {
	StartHeartbeat(srv)
}

// HandleUpgrade is the HTTP handler for the /ws endpoint.
func (srv *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if srv.registry.Count() >= srv.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	s := srv.startSession(conn)
	go srv.readLoop(s)

	log.Printf("ws: new session=%s (total=%d)", s.ID, srv.registry.Count())
}

// startSession registers a session for the transport and starts its writer
// goroutine. The reader is started separately so tests can drive frames
// directly.
func (srv *Server) startSession(conn net.Conn) *Session {
	s := newSession(conn, srv.config.SendBuffer, srv.config.WriteTimeout)
	srv.registry.Add(s)
	metrics.Connections.Inc()
	go s.writeLoop()
	return s
}

// readLoop reads frames until the connection dies. Any frame, including a
// pong, refreshes the liveness flag.
func (srv *Server) readLoop(s *Session) {
	defer srv.Terminate(s)

	for {
		header, reader, err := wsutil.NextReader(s.Conn, ws.StateServerSide)
		if err != nil {
			return
		}

		s.SetAlive(true)

		if header.OpCode.IsControl() {
			// Drain the control payload so the next read starts clean.
			if header.Length > 0 {
				if _, err := io.Copy(io.Discard, reader); err != nil {
					return
				}
			}
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				_ = s.write(ws.OpPong, nil)
			}
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		srv.handleInbound(s, data)
	}
}

// Terminate removes a session from the registry and closes its transport.
// The removal is synchronous: once Terminate returns, no later broadcast
// can target the session. Safe to call from multiple paths; only the first
// wins.
func (srv *Server) Terminate(s *Session) {
	if !srv.registry.Remove(s.ID) {
		return
	}
	metrics.Connections.Dec()
	log.Printf("ws: session closed=%s (total=%d)", s.ID, srv.registry.Count())
}

// Shutdown stops the heartbeat and closes every session.
func (srv *Server) Shutdown() {
	srv.closeOnce.Do(func() { close(srv.done) })
	for _, s := range srv.registry.Snapshot() {
		srv.Terminate(s)
	}
	log.Printf("ws: server stopped, all sessions closed")
}
