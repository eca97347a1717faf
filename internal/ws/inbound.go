package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/agora/forum-chat/internal/protocol"
)

// handleInbound routes one client frame. Unknown event types are ignored
// so newer clients keep working; malformed frames are logged and dropped —
// neither ever closes the connection.
func (srv *Server) handleInbound(s *Session, data []byte) {
	in, err := protocol.ParseInbound(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			return
		}
		log.Printf("ws: dropping malformed frame session=%s: %v", s.ID, err)
		return
	}

	switch m := in.(type) {
	case protocol.AuthMsg:
		srv.handleAuth(s, m)
	case protocol.JoinChatMsg:
		srv.handleJoin(s, m)
	}
}

// handleAuth verifies the token and applies moderation state. A bad token
// leaves the session connected but unauthenticated. An active ban is
// announced and the session force-closed; an active mute is announced and
// the session stays (posting is enforced at the HTTP write path anyway).
func (srv *Server) handleAuth(s *Session, m protocol.AuthMsg) {
	identity, err := srv.verifier.Verify(m.Token)
	if err != nil {
		srv.sendError(s, "invalid_token", "token is missing, expired or invalid")
		return
	}
	s.SetIdentity(identity)

	ctx, cancel := context.WithTimeout(context.Background(), srv.config.ModTimeout)
	defer cancel()

	status, err := srv.mod.Status(ctx, identity.ID)
	if err != nil {
		// Connect-time check is a read path: let the session in, loudly.
		// Posting still goes through the fail-closed HTTP path.
		log.Printf("ws: moderation check failed session=%s user=%d: %v", s.ID, identity.ID, err)
		return
	}

	now := time.Now()
	if status.BannedAt(now) {
		event, err := protocol.NewEvent(protocol.TypeBanned, bannedPayload(identity.ID, status))
		if err == nil {
			_ = s.WriteNow(event)
		}
		srv.Terminate(s)
		return
	}

	if status.MutedAt(now) {
		event, err := protocol.NewEvent(protocol.TypeMuted, mutedPayload(identity.ID, *status.MutedUntil))
		if err == nil {
			_ = s.Enqueue(event)
		}
	}
}

// handleJoin subscribes an authenticated session to a topic. The join is
// permissive: no existence check, enforcement happens at write time.
func (srv *Server) handleJoin(s *Session, m protocol.JoinChatMsg) {
	if !s.Authenticated() {
		srv.sendError(s, "not_authenticated", "AUTH required before JOIN_CHAT")
		return
	}
	s.JoinTopic(m.ChatID)
}

func (srv *Server) sendError(s *Session, code, message string) {
	event, err := protocol.NewEvent(protocol.TypeError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: build error event session=%s: %v", s.ID, err)
		return
	}
	if err := s.Enqueue(event); err != nil {
		log.Printf("ws: send error event session=%s: %v", s.ID, err)
	}
}
