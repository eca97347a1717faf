package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/agora/forum-chat/internal/moderation"
	"github.com/agora/forum-chat/internal/protocol"
	"github.com/agora/forum-chat/internal/store"
)

type muteRequest struct {
	UserID          int64 `json:"user_id"`
	DurationMinutes int   `json:"duration_minutes"`
}

type banRequest struct {
	UserID          int64  `json:"user_id"`
	DurationMinutes int    `json:"duration_minutes"`
	Permanent       bool   `json:"permanent"`
	Reason          string `json:"reason"`
}

type muteResponse struct {
	UserID     int64  `json:"user_id"`
	MutedUntil string `json:"muted_until"`
}

type banResponse struct {
	UserID      int64   `json:"user_id"`
	BannedUntil *string `json:"banned_until"`
	Permanent   bool    `json:"permanent"`
}

func (a *API) handleMuteUser(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	userID := req.UserID
	if userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "user_id must be a positive integer")
		return
	}
	if userID == identityFrom(r).ID {
		writeError(w, http.StatusBadRequest, "self_sanction", "you cannot mute yourself")
		return
	}
	if req.DurationMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be positive")
		return
	}

	until, err := a.mod.ApplyMute(r.Context(), userID, moderation.Minutes(req.DurationMinutes))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found", "no such user")
			return
		}
		log.Printf("httpapi: mute user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal", "could not mute user")
		return
	}

	a.events.UserMuted(userID, until)
	writeJSON(w, http.StatusOK, muteResponse{
		UserID:     userID,
		MutedUntil: protocol.Timestamp(until),
	})
}

func (a *API) handleBanUser(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	userID := req.UserID
	if userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "user_id must be a positive integer")
		return
	}
	if userID == identityFrom(r).ID {
		writeError(w, http.StatusBadRequest, "self_sanction", "you cannot ban yourself")
		return
	}

	sanction := moderation.Minutes(req.DurationMinutes)
	if req.Permanent {
		sanction = moderation.Permanent
	}
	if !sanction.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be positive unless permanent")
		return
	}

	until, err := a.mod.ApplyBan(r.Context(), userID, sanction, req.Reason)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found", "no such user")
			return
		}
		log.Printf("httpapi: ban user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal", "could not ban user")
		return
	}

	// Live sessions are notified and force-closed as part of the broadcast.
	a.events.UserBanned(userID, until, req.Permanent, req.Reason)

	resp := banResponse{UserID: userID, Permanent: req.Permanent}
	if until != nil {
		ts := protocol.Timestamp(*until)
		resp.BannedUntil = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}
