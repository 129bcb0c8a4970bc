package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/avask/ringline/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: only for dev
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	identity domain.Identity

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *WSClient) UserID() domain.UserID {
	return c.identity.ID
}

func (c *WSClient) Send(ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// ServeWS is the persistent-connection entry point. A connection with a
// bad or missing token is refused before any state is created.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.Verifier.Verify(bearerToken(r))
	if err != nil {
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		identity: identity,
		conn:     conn,
	}

	l := log.With().Str("user_id", identity.ID.String()).Logger()
	l.Info().Msg("User connected")

	h.Hub.Register(client)
	h.Relay.Connected(r.Context(), identity.ID)

	defer func() {
		l.Info().Msg("User disconnected")
		h.Hub.Unregister(client)
		h.Calls.HandleDisconnect(context.Background(), identity)
		h.Relay.Disconnected(context.Background(), identity.ID)
		conn.Close()
	}()

	for {
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
		h.dispatch(r.Context(), client, env.Event, env.Data, l)
	}
}

// dispatch routes one inbound signaling event. Failures are scoped to
// this connection: an error event goes back to the sender and nothing
// else is touched.
func (h *Handler) dispatch(ctx context.Context, client *WSClient, event string, data json.RawMessage, l zerolog.Logger) {
	identity := client.identity

	switch event {
	case "join_conversation", "leave_conversation", "join_group", "leave_group", "join_room", "leave_room":
		h.handleSubscription(client, event, data, l)

	case "typing_start", "typing_stop", "group_typing_start", "group_typing_stop", "room_typing_start", "room_typing_stop":
		h.handleTyping(ctx, client, event, data, l)

	case "message_read":
		var req struct {
			MessageID      string `json:"message_id"`
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			l.Warn().Err(err).Msg("Malformed message_read")
			return
		}
		conversationID, err := domain.ParseTargetID(req.ConversationID)
		if err != nil {
			l.Warn().Err(err).Msg("Malformed message_read")
			return
		}
		h.Relay.MessageRead(ctx, identity.ID, conversationID, req.MessageID)

	case "call:initiate":
		var req struct {
			Type         string   `json:"type"`
			TargetID     string   `json:"target_id"`
			Participants []string `json:"participants"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			l.Warn().Err(err).Msg("Malformed call:initiate")
			return
		}
		callType := domain.CallType(req.Type)
		targetID, err := domain.ParseTargetID(req.TargetID)
		if !callType.Valid() || err != nil {
			l.Warn().Str("type", req.Type).Msg("Malformed call:initiate")
			return
		}
		if err := h.Calls.Initiate(ctx, identity, callType, targetID, parseUserIDs(req.Participants, l)); err != nil {
			client.Send(domain.Event{
				Name: domain.EvCallError,
				Data: domain.CallErrorPayload{
					RoomName: domain.NewCallKey(callType, targetID).String(),
					Error:    err.Error(),
				},
			})
		}

	case "call:accept":
		var req struct {
			RoomName string `json:"room_name"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			l.Warn().Err(err).Msg("Malformed call:accept")
			return
		}
		// Stale accepts already answer the caller with call:timeout.
		if err := h.Calls.Accept(ctx, identity, domain.CallKey(req.RoomName)); err != nil {
			l.Debug().Err(err).Str("room", req.RoomName).Msg("Accept rejected")
		}

	case "call:reject":
		var req struct {
			RoomName    string `json:"room_name"`
			InitiatorID string `json:"initiator_id"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			l.Warn().Err(err).Msg("Malformed call:reject")
			return
		}
		initiatorID, err := domain.ParseUserID(req.InitiatorID)
		if err != nil {
			l.Warn().Err(err).Msg("Malformed call:reject")
			return
		}
		h.Calls.Reject(ctx, identity, domain.CallKey(req.RoomName), initiatorID)

	case "call:end":
		var req struct {
			RoomName     string   `json:"room_name"`
			Participants []string `json:"participants"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			l.Warn().Err(err).Msg("Malformed call:end")
			return
		}
		h.Calls.End(ctx, identity, domain.CallKey(req.RoomName), parseUserIDs(req.Participants, l))

	case "call:participant_left":
		var req struct {
			RoomName     string   `json:"room_name"`
			Participants []string `json:"participants"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			l.Warn().Err(err).Msg("Malformed call:participant_left")
			return
		}
		h.Calls.ParticipantLeft(ctx, identity, domain.CallKey(req.RoomName), parseUserIDs(req.Participants, l))

	default:
		l.Debug().Str("event", event).Msg("Unknown event")
	}
}

func (h *Handler) handleSubscription(client *WSClient, event string, data json.RawMessage, l zerolog.Logger) {
	var req struct {
		ConversationID string `json:"conversation_id"`
		GroupID        string `json:"group_id"`
		RoomID         string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		l.Warn().Err(err).Str("event", event).Msg("Malformed subscription event")
		return
	}

	var target domain.Target
	var err error
	switch event {
	case "join_conversation", "leave_conversation":
		var id domain.TargetID
		id, err = domain.ParseTargetID(req.ConversationID)
		target = domain.ConversationTarget(id)
	case "join_group", "leave_group":
		var id domain.TargetID
		id, err = domain.ParseTargetID(req.GroupID)
		target = domain.GroupTarget(id)
	default:
		var id domain.TargetID
		id, err = domain.ParseTargetID(req.RoomID)
		target = domain.RoomTarget(id)
	}
	if err != nil {
		l.Warn().Err(err).Str("event", event).Msg("Malformed subscription event")
		return
	}

	if event == "join_conversation" || event == "join_group" || event == "join_room" {
		h.Hub.Subscribe(client.UserID(), target)
		l.Info().Str("target", target.String()).Msg("Subscribed")
	} else {
		h.Hub.Unsubscribe(client.UserID(), target)
		l.Info().Str("target", target.String()).Msg("Unsubscribed")
	}
}

func (h *Handler) handleTyping(ctx context.Context, client *WSClient, event string, data json.RawMessage, l zerolog.Logger) {
	var req struct {
		ConversationID string `json:"conversation_id"`
		GroupID        string `json:"group_id"`
		RoomID         string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		l.Warn().Err(err).Str("event", event).Msg("Malformed typing event")
		return
	}

	var target domain.Target
	var err error
	switch event {
	case "typing_start", "typing_stop":
		var id domain.TargetID
		id, err = domain.ParseTargetID(req.ConversationID)
		target = domain.ConversationTarget(id)
	case "group_typing_start", "group_typing_stop":
		var id domain.TargetID
		id, err = domain.ParseTargetID(req.GroupID)
		target = domain.GroupTarget(id)
	default:
		var id domain.TargetID
		id, err = domain.ParseTargetID(req.RoomID)
		target = domain.RoomTarget(id)
	}
	if err != nil {
		l.Warn().Err(err).Str("event", event).Msg("Malformed typing event")
		return
	}

	switch event {
	case "typing_start", "group_typing_start", "room_typing_start":
		h.Relay.StartTyping(ctx, client.UserID(), target)
	default:
		h.Relay.StopTyping(ctx, client.UserID(), target)
	}
}

func parseUserIDs(ids []string, l zerolog.Logger) []domain.UserID {
	out := make([]domain.UserID, 0, len(ids))
	for _, s := range ids {
		id, err := domain.ParseUserID(s)
		if err != nil {
			l.Warn().Str("user_id", s).Msg("Skipping invalid user id")
			continue
		}
		out = append(out, id)
	}
	return out
}
