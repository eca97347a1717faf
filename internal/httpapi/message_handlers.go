package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/agora/forum-chat/internal/metrics"
	"github.com/agora/forum-chat/internal/protocol"
	"github.com/agora/forum-chat/internal/ratelimit"
	"github.com/agora/forum-chat/internal/store"
)

// Message text limits, enforced before anything touches storage.
const (
	maxTextBytes = 4096
	maxTextRunes = 2000
)

type messageRequest struct {
	Text string `json:"text"`
}

type mutedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	MutedUntil string `json:"muted_until"`
}

// validateText checks a message body: non-empty, valid UTF-8, within the
// byte and rune caps.
func validateText(text string) (string, bool) {
	if text == "" || len(text) > maxTextBytes || !utf8.ValidString(text) {
		return "", false
	}
	if utf8.RuneCountInString(text) > maxTextRunes {
		return "", false
	}
	return text, true
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	topicID, ok := pathID(r, "chatID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "topic id must be a positive integer")
		return
	}
	if _, ok := a.topics.Get(topicID); !ok {
		writeError(w, http.StatusNotFound, "topic_not_found", "no such topic")
		return
	}

	msgs, err := a.store.MessagesByTopic(r.Context(), topicID)
	if err != nil {
		log.Printf("httpapi: list messages: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not list messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	topicID, ok := pathID(r, "chatID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "topic id must be a positive integer")
		return
	}

	t, ok := a.topics.Get(topicID)
	if !ok {
		writeError(w, http.StatusNotFound, "topic_not_found", "no such topic")
		return
	}
	if t.IsClosed && !identity.IsAdmin() {
		writeError(w, http.StatusForbidden, "topic_closed", "this topic is closed")
		return
	}

	// The write path fails closed: if moderation state cannot be read, a
	// banned user must not slip a message through.
	status, err := a.mod.Status(r.Context(), identity.ID)
	if err != nil {
		log.Printf("httpapi: moderation status user=%d: %v", identity.ID, err)
		writeError(w, http.StatusServiceUnavailable, "moderation_unavailable", "try again shortly")
		return
	}
	now := time.Now()
	if status.BannedAt(now) {
		writeError(w, http.StatusForbidden, "banned", "you are banned")
		return
	}
	if status.MutedAt(now) {
		writeJSON(w, http.StatusForbidden, mutedBody{
			Error:      "muted",
			Message:    "you are muted",
			MutedUntil: protocol.Timestamp(*status.MutedUntil),
		})
		return
	}

	var req messageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	text, ok := validateText(req.Text)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_text", "text must be non-empty, valid UTF-8 and within size limits")
		return
	}

	if !a.limiter.Allow(r.Context(), strconv.FormatInt(identity.ID, 10), ratelimit.RulePost) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "posting too fast, slow down")
		return
	}

	m, err := a.store.CreateMessage(r.Context(), topicID, identity.ID, text)
	if err != nil {
		log.Printf("httpapi: create message: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not post message")
		return
	}
	m.AuthorEmail = identity.Email

	metrics.Messages.WithLabelValues("created").Inc()
	a.events.MessageCreated(*m)
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	id, ok := pathID(r, "messageID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "message id must be a positive integer")
		return
	}

	m, err := a.store.MessageByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message_not_found", "no such message")
		return
	}
	if err != nil {
		log.Printf("httpapi: message by id: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not edit message")
		return
	}

	// Edits are author-only; admins delete, they do not rewrite.
	if m.UserID != identity.ID {
		writeError(w, http.StatusForbidden, "not_author", "only the author can edit a message")
		return
	}
	if m.Deleted() {
		writeError(w, http.StatusNotFound, "message_not_found", "message has been deleted")
		return
	}

	var req messageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	text, ok := validateText(req.Text)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_text", "text must be non-empty, valid UTF-8 and within size limits")
		return
	}

	if err := a.store.UpdateMessage(r.Context(), id, text); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message_not_found", "message has been deleted")
			return
		}
		log.Printf("httpapi: update message: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not edit message")
		return
	}

	m.Text = text
	metrics.Messages.WithLabelValues("updated").Inc()
	a.events.MessageUpdated(*m)
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	id, ok := pathID(r, "messageID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "message id must be a positive integer")
		return
	}

	m, err := a.store.MessageByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message_not_found", "no such message")
		return
	}
	if err != nil {
		log.Printf("httpapi: message by id: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not delete message")
		return
	}

	deletedBy := store.DeletedByAuthor
	switch {
	case m.UserID == identity.ID:
	case identity.IsAdmin():
		deletedBy = store.DeletedByAdmin
	default:
		writeError(w, http.StatusForbidden, "not_author", "only the author or an admin can delete a message")
		return
	}

	if err := a.store.SoftDeleteMessage(r.Context(), id, deletedBy); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Already tombstoned: deleting twice is fine.
			writeJSON(w, http.StatusNoContent, nil)
			return
		}
		log.Printf("httpapi: delete message: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not delete message")
		return
	}

	metrics.Messages.WithLabelValues("deleted").Inc()
	a.events.MessageDeleted(id, m.TopicID)
	writeJSON(w, http.StatusNoContent, nil)
}
