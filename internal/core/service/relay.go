package service

import (
	"context"

	"github.com/avask/ringline/internal/core/domain"
	"github.com/avask/ringline/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Relay is the presence and typing/read-receipt side-channel: stateless
// pass-through broadcasts on top of the fan-out, with write-through to
// the presence store. Presence is advisory, so a store failure is
// logged and never blocks the broadcast.
type Relay struct {
	store   port.PresenceStore
	gateway port.Gateway
}

func NewRelay(store port.PresenceStore, gateway port.Gateway) *Relay {
	return &Relay{
		store:   store,
		gateway: gateway,
	}
}

// Connected marks the user online and tells every connection, so idle
// clients can update contact lists without polling.
func (r *Relay) Connected(ctx context.Context, user domain.UserID) {
	if err := r.store.SetOnline(ctx, user); err != nil {
		log.Warn().Err(err).Str("user_id", user.String()).Msg("Presence store write failed")
	}
	r.gateway.Broadcast(domain.Event{
		Name: domain.EvUserOnline,
		Data: domain.PresencePayload{UserID: user.String()},
	})
}

func (r *Relay) Disconnected(ctx context.Context, user domain.UserID) {
	if err := r.store.SetOffline(ctx, user); err != nil {
		log.Warn().Err(err).Str("user_id", user.String()).Msg("Presence store write failed")
	}
	r.gateway.Broadcast(domain.Event{
		Name: domain.EvUserOffline,
		Data: domain.PresencePayload{UserID: user.String()},
	})
}

func (r *Relay) IsOnline(ctx context.Context, user domain.UserID) (bool, error) {
	return r.store.IsOnline(ctx, user)
}

func (r *Relay) OnlineUsers(ctx context.Context) ([]domain.UserID, error) {
	return r.store.OnlineUsers(ctx)
}

// StartTyping drops a short-TTL marker in the store and relays a typing
// event to the target, excluding the typist. Consumers treat typing as
// auto-expiring; no stop acknowledgement is required.
func (r *Relay) StartTyping(ctx context.Context, user domain.UserID, target domain.Target) {
	if err := r.store.SetTyping(ctx, target, user); err != nil {
		log.Warn().Err(err).Str("user_id", user.String()).Str("target", target.String()).Msg("Typing marker write failed")
	}
	r.gateway.PublishExcept(target, user, typingEvent(target, user, true))
}

// StopTyping relays the courtesy stopped-typing broadcast. Correctness
// does not depend on it; markers expire on their own.
func (r *Relay) StopTyping(ctx context.Context, user domain.UserID, target domain.Target) {
	r.gateway.PublishExcept(target, user, typingEvent(target, user, false))
}

// MessageRead relays a read receipt to the conversation, excluding the
// reader.
func (r *Relay) MessageRead(ctx context.Context, user domain.UserID, conversationID domain.TargetID, messageID string) {
	r.gateway.PublishExcept(domain.ConversationTarget(conversationID), user, domain.Event{
		Name: domain.EvMessageReadReceipt,
		Data: domain.ReadReceiptPayload{MessageID: messageID, UserID: user.String()},
	})
}

func typingEvent(target domain.Target, user domain.UserID, started bool) domain.Event {
	payload := domain.TypingPayload{UserID: user.String()}
	var name string
	switch target.Kind {
	case domain.KindGroup:
		payload.GroupID = target.ID.String()
		name = domain.EvGroupUserTyping
		if !started {
			name = domain.EvGroupUserStoppedTyping
		}
	case domain.KindRoom:
		payload.RoomID = target.ID.String()
		name = domain.EvRoomUserTyping
		if !started {
			name = domain.EvRoomUserStoppedTyping
		}
	default:
		payload.ConversationID = target.ID.String()
		name = domain.EvUserTyping
		if !started {
			name = domain.EvUserStoppedTyping
		}
	}
	return domain.Event{Name: name, Data: payload}
}
