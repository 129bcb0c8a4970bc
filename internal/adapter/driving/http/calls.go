package http

import (
	"encoding/json"
	"net/http"

	"github.com/avask/ringline/internal/core/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// InitiateCall verifies membership, derives the call key and returns a
// signed admission token for the media relay. Ringing the participants
// happens over the persistent connection, not here.
func (h *Handler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Type     string `json:"type"`
		TargetID string `json:"target_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Type and targetId are required")
		return
	}

	callType := domain.CallType(req.Type)
	targetID, err := domain.ParseTargetID(req.TargetID)
	if !callType.Valid() || err != nil {
		respondError(w, http.StatusBadRequest, "Type and targetId are required")
		return
	}

	member, err := h.Membership.IsMember(r.Context(), callType, targetID, identity.ID)
	if err != nil {
		log.Error().Err(err).Msg("Error checking membership")
		respondError(w, http.StatusInternalServerError, "Failed to initiate call")
		return
	}
	if !member {
		respondError(w, http.StatusForbidden, "Access denied")
		return
	}

	key := domain.NewCallKey(callType, targetID)
	token, err := h.Admission.Mint(key, identity)
	if err != nil {
		log.Error().Err(err).Str("room", key.String()).Msg("Error minting admission token")
		respondError(w, http.StatusInternalServerError, "Failed to initiate call")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"room_name": key.String(),
		"token":     token,
		"url":       h.Admission.ServerURL(),
	})
}

// JoinCall admits a user to an existing call room. Joins to a timed-out
// call answer 410 Gone; the Busy set and the grace-window marker live in
// the call service, so both surfaces agree.
func (h *Handler) JoinCall(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	roomName := chi.URLParam(r, "roomName")
	callType, targetID, err := domain.ParseCallKey(roomName)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid room name")
		return
	}
	key := domain.NewCallKey(callType, targetID)

	if h.Calls.IsTimedOut(key) {
		respondError(w, http.StatusGone, "Call has already ended")
		return
	}

	member, err := h.Membership.IsMember(r.Context(), callType, targetID, identity.ID)
	if err != nil {
		log.Error().Err(err).Msg("Error checking membership")
		respondError(w, http.StatusInternalServerError, "Failed to join call")
		return
	}
	if !member {
		respondError(w, http.StatusForbidden, "Access denied")
		return
	}

	token, err := h.Admission.Mint(key, identity)
	if err != nil {
		log.Error().Err(err).Str("room", key.String()).Msg("Error minting admission token")
		respondError(w, http.StatusInternalServerError, "Failed to join call")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"url":   h.Admission.ServerURL(),
	})
}

// OnlineUsers lists the users currently marked online.
func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Relay.OnlineUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error reading online users")
		respondError(w, http.StatusInternalServerError, "Failed to list online users")
		return
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.String())
	}
	respondJSON(w, http.StatusOK, map[string][]string{"users": ids})
}
