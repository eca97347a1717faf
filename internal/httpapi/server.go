// Package httpapi is the REST surface of the forum: account registration
// and login, topic administration, message posting, and moderation actions.
// Handlers authorize and persist first, then hand the committed row to the
// broadcast layer; the WebSocket side never originates state changes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/agora/forum-chat/internal/auth"
	"github.com/agora/forum-chat/internal/moderation"
	"github.com/agora/forum-chat/internal/ratelimit"
	"github.com/agora/forum-chat/internal/store"
	"github.com/agora/forum-chat/internal/topic"
)

// Broadcaster receives committed state changes for fan-out to live
// sessions. Implemented by the ws server.
type Broadcaster interface {
	MessageCreated(m store.Message)
	MessageUpdated(m store.Message)
	MessageDeleted(id, topicID int64)
	TopicCreated(t store.Topic)
	TopicUpdated(t store.Topic)
	TopicDeleted(id int64)
	UserMuted(userID int64, until time.Time)
	UserBanned(userID int64, until *time.Time, permanent bool, reason string)
}

// Moderation is the slice of the moderation provider the handlers use.
type Moderation interface {
	Status(ctx context.Context, userID int64) (moderation.Status, error)
	ApplyMute(ctx context.Context, userID int64, s moderation.Sanction) (time.Time, error)
	ApplyBan(ctx context.Context, userID int64, s moderation.Sanction, reason string) (*time.Time, error)
}

// API bundles the handler dependencies.
type API struct {
	store   *store.Store
	topics  *topic.Registry
	tokens  *auth.Tokens
	mod     Moderation
	limiter *ratelimit.Limiter
	events  Broadcaster
}

// New creates the API. limiter may be nil (no rate limiting).
func New(st *store.Store, topics *topic.Registry, tokens *auth.Tokens, mod Moderation, limiter *ratelimit.Limiter, events Broadcaster) *API {
	return &API{
		store:   st,
		topics:  topics,
		tokens:  tokens,
		mod:     mod,
		limiter: limiter,
		events:  events,
	}
}

// Routes registers every endpoint on the mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", a.handleRegister)
	mux.HandleFunc("POST /auth/login", a.handleLogin)

	mux.Handle("GET /api/chats", a.withAuth(a.handleListTopics))
	mux.Handle("POST /api/chats", a.withAuth(a.requireAdmin(a.handleCreateTopic)))
	mux.Handle("PUT /admin/chats/{chatID}/close", a.withAuth(a.requireAdmin(a.handleCloseTopic)))
	mux.Handle("DELETE /admin/chats/{chatID}", a.withAuth(a.requireAdmin(a.handleDeleteTopic)))

	mux.Handle("GET /api/chats/{chatID}/messages", a.withAuth(a.handleListMessages))
	mux.Handle("POST /api/chats/{chatID}/messages", a.withAuth(a.handleCreateMessage))
	mux.Handle("PUT /api/messages/{messageID}", a.withAuth(a.handleUpdateMessage))
	mux.Handle("DELETE /api/messages/{messageID}", a.withAuth(a.handleDeleteMessage))

	mux.Handle("POST /admin/mute", a.withAuth(a.requireAdmin(a.handleMuteUser)))
	mux.Handle("POST /admin/ban", a.withAuth(a.requireAdmin(a.handleBanUser)))
}
