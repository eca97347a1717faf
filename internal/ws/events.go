package ws

import (
	"log"
	"sync"
	"time"

	"github.com/agora/forum-chat/internal/metrics"
	"github.com/agora/forum-chat/internal/moderation"
	"github.com/agora/forum-chat/internal/protocol"
	"github.com/agora/forum-chat/internal/store"
)

// Typed broadcast entry points. HTTP handlers call these after committing
// to storage; message events reach only the posting topic's subscribers,
// topic lifecycle events reach everyone so topic-list views stay live, and
// moderation events reach the affected user's sessions.

// MessageCreated fans a committed message out to its topic's subscribers.
func (srv *Server) MessageCreated(m store.Message) {
	event, err := protocol.NewEvent(protocol.TypeNewMessage, messagePayload(m))
	if err != nil {
		log.Printf("ws: build NEW_MESSAGE: %v", err)
		return
	}
	srv.broadcastTopic(m.TopicID, protocol.TypeNewMessage, event)
}

// MessageUpdated announces an edit to the message's topic.
func (srv *Server) MessageUpdated(m store.Message) {
	event, err := protocol.NewEvent(protocol.TypeMessageUpdated, protocol.MessageUpdatedPayload{
		ID:     m.ID,
		ChatID: m.TopicID,
		Text:   m.Text,
	})
	if err != nil {
		log.Printf("ws: build MESSAGE_UPDATED: %v", err)
		return
	}
	srv.broadcastTopic(m.TopicID, protocol.TypeMessageUpdated, event)
}

// MessageDeleted announces a tombstoned message to its topic.
func (srv *Server) MessageDeleted(id, topicID int64) {
	event, err := protocol.NewEvent(protocol.TypeMessageDeleted, protocol.MessageDeletedPayload{
		ID:     id,
		ChatID: topicID,
	})
	if err != nil {
		log.Printf("ws: build MESSAGE_DELETED: %v", err)
		return
	}
	srv.broadcastTopic(topicID, protocol.TypeMessageDeleted, event)
}

// TopicCreated announces a new topic to every session.
func (srv *Server) TopicCreated(t store.Topic) {
	srv.broadcastGlobalTopic(protocol.TypeNewChat, t)
}

// TopicUpdated announces an open/closed flip to every session.
func (srv *Server) TopicUpdated(t store.Topic) {
	srv.broadcastGlobalTopic(protocol.TypeChatUpdated, t)
}

// TopicDeleted announces a deleted topic to every session.
func (srv *Server) TopicDeleted(id int64) {
	event, err := protocol.NewEvent(protocol.TypeChatDeleted, protocol.ChatDeletedPayload{ChatID: id})
	if err != nil {
		log.Printf("ws: build CHAT_DELETED: %v", err)
		return
	}
	srv.registry.Broadcast(All(), event)
	metrics.EventsBroadcast.WithLabelValues(protocol.TypeChatDeleted).Inc()
	if srv.mirror != nil {
		srv.mirror.MirrorGlobal(event)
	}
}

// UserMuted notifies every live session of the muted user.
func (srv *Server) UserMuted(userID int64, until time.Time) {
	event, err := protocol.NewEvent(protocol.TypeMuted, mutedPayload(userID, until))
	if err != nil {
		log.Printf("ws: build MUTED: %v", err)
		return
	}
	srv.registry.Broadcast(OfUser(userID), event)
	metrics.EventsBroadcast.WithLabelValues(protocol.TypeMuted).Inc()
	if srv.mirror != nil {
		srv.mirror.MirrorUser(userID, event)
	}
}

// UserBanned notifies every live session of the banned user, then force
// closes them within the same dispatch cycle. A nil until means permanent.
func (srv *Server) UserBanned(userID int64, until *time.Time, permanent bool, reason string) {
	status := moderation.Status{BannedUntil: until, BanPermanent: permanent, BanReason: reason}
	event, err := protocol.NewEvent(protocol.TypeBanned, bannedPayload(userID, status))
	if err != nil {
		log.Printf("ws: build BANNED: %v", err)
		return
	}

	// Best-effort direct writes, one goroutine per session: the notice must
	// beat the close, and a stalled peer must not delay the others. Each
	// write is bounded by the per-frame deadline.
	targets := srv.registry.Matching(OfUser(userID))
	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.WriteNow(event)
		}(s)
	}
	wg.Wait()
	metrics.EventsBroadcast.WithLabelValues(protocol.TypeBanned).Inc()
	if srv.mirror != nil {
		srv.mirror.MirrorUser(userID, event)
	}

	for _, s := range targets {
		srv.Terminate(s)
	}
}

func (srv *Server) broadcastTopic(topicID int64, eventType string, event []byte) {
	srv.registry.Broadcast(InTopic(topicID), event)
	metrics.EventsBroadcast.WithLabelValues(eventType).Inc()
	if srv.mirror != nil {
		srv.mirror.MirrorTopic(topicID, event)
	}
}

func (srv *Server) broadcastGlobalTopic(eventType string, t store.Topic) {
	event, err := protocol.NewEvent(eventType, topicPayload(t))
	if err != nil {
		log.Printf("ws: build %s: %v", eventType, err)
		return
	}
	srv.registry.Broadcast(All(), event)
	metrics.EventsBroadcast.WithLabelValues(eventType).Inc()
	if srv.mirror != nil {
		srv.mirror.MirrorGlobal(event)
	}
}

// ---------------------------------------------------------------------------
// Payload builders
// ---------------------------------------------------------------------------

func messagePayload(m store.Message) protocol.MessagePayload {
	return protocol.MessagePayload{
		ID:          m.ID,
		ChatID:      m.TopicID,
		UserID:      m.UserID,
		AuthorEmail: m.AuthorEmail,
		Text:        m.Text,
		CreatedAt:   protocol.Timestamp(m.CreatedAt),
	}
}

func topicPayload(t store.Topic) protocol.TopicPayload {
	return protocol.TopicPayload{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		IsClosed:    t.IsClosed,
		CreatedAt:   protocol.Timestamp(t.CreatedAt),
	}
}

func mutedPayload(userID int64, until time.Time) protocol.MutedPayload {
	return protocol.MutedPayload{
		UserID:          userID,
		MutedUntil:      protocol.Timestamp(until),
		DurationMinutes: remainingMinutes(until),
		Message:         "You are muted",
	}
}

func bannedPayload(userID int64, status moderation.Status) protocol.BannedPayload {
	p := protocol.BannedPayload{
		UserID:    userID,
		Permanent: status.BanPermanent,
		Message:   "You are banned",
	}
	if status.BanReason != "" {
		p.Message = "You are banned: " + status.BanReason
	}
	if !status.BanPermanent && status.BannedUntil != nil {
		ts := protocol.Timestamp(*status.BannedUntil)
		p.BannedUntil = &ts
		p.DurationMinutes = remainingMinutes(*status.BannedUntil)
	}
	return p
}

// remainingMinutes rounds the time left up to whole minutes, so a
// nine-and-a-half-minute remainder reads as the 10 minutes the admin set.
func remainingMinutes(until time.Time) int {
	left := time.Until(until)
	if left <= 0 {
		return 0
	}
	return int((left + time.Minute - 1) / time.Minute)
}
