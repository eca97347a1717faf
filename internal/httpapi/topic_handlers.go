package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/agora/forum-chat/internal/store"
)

type createTopicRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type closeTopicRequest struct {
	IsClosed *bool `json:"is_closed"`
}

func (a *API) handleListTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.topics.All())
}

func (a *API) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 200 {
		writeError(w, http.StatusBadRequest, "invalid_name", "topic name must be 1-200 characters")
		return
	}

	t, err := a.store.CreateTopic(r.Context(), req.Name, req.Description, identityFrom(r).ID)
	if err != nil {
		log.Printf("httpapi: create topic: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create topic")
		return
	}

	// Registry before broadcast: a client reacting to NEW_CHAT must be able
	// to post into the topic immediately.
	a.topics.Put(*t)
	a.events.TopicCreated(*t)
	writeJSON(w, http.StatusCreated, t)
}

// handleCloseTopic flips the closed flag. Idempotent: closing a closed
// topic commits the same state again and emits another CHAT_UPDATED.
func (a *API) handleCloseTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "chatID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "topic id must be a positive integer")
		return
	}

	var req closeTopicRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.IsClosed == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "is_closed is required")
		return
	}

	if err := a.store.SetTopicClosed(r.Context(), id, *req.IsClosed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "topic_not_found", "no such topic")
			return
		}
		log.Printf("httpapi: set topic closed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not update topic")
		return
	}

	a.topics.SetClosed(id, *req.IsClosed)
	t, ok := a.topics.Get(id)
	if !ok {
		// Committed but missing from the registry: fall back to storage.
		fetched, err := a.store.TopicByID(r.Context(), id)
		if err != nil {
			log.Printf("httpapi: topic by id after update: %v", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not update topic")
			return
		}
		t = *fetched
		a.topics.Put(t)
	}

	a.events.TopicUpdated(t)
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "chatID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "topic id must be a positive integer")
		return
	}

	if err := a.store.DeleteTopic(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "topic_not_found", "no such topic")
			return
		}
		log.Printf("httpapi: delete topic: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not delete topic")
		return
	}

	a.topics.Delete(id)
	a.events.TopicDeleted(id)
	writeJSON(w, http.StatusNoContent, nil)
}
