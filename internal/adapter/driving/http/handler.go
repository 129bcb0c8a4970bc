package http

import (
	"encoding/json"
	"net/http"

	"github.com/avask/ringline/internal/adapter/driven/gateway/ws"
	"github.com/avask/ringline/internal/core/port"
	"github.com/avask/ringline/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	Relay      *service.Relay
	Calls      *service.CallService
	Hub        *ws.Hub
	Verifier   port.TokenVerifier
	Admission  port.AdmissionTokens
	Membership port.Membership
}

func NewHandler(relay *service.Relay, calls *service.CallService, hub *ws.Hub, verifier port.TokenVerifier, admission port.AdmissionTokens, membership port.Membership) *Handler {
	return &Handler{
		Relay:      relay,
		Calls:      calls,
		Hub:        hub,
		Verifier:   verifier,
		Admission:  admission,
		Membership: membership,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Post("/calls/initiate", h.InitiateCall)
		r.Post("/calls/{roomName}/join", h.JoinCall)
		r.Get("/presence/online", h.OnlineUsers)
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
