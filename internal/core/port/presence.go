package port

import (
	"context"

	"github.com/avask/ringline/internal/core/domain"
)

// PresenceStore is the shared store of online users and transient typing
// flags. Typing markers auto-expire after a few seconds; callers never
// wait on an explicit stop.
type PresenceStore interface {
	SetOnline(ctx context.Context, user domain.UserID) error
	SetOffline(ctx context.Context, user domain.UserID) error
	IsOnline(ctx context.Context, user domain.UserID) (bool, error)
	OnlineUsers(ctx context.Context) ([]domain.UserID, error)
	SetTyping(ctx context.Context, target domain.Target, user domain.UserID) error
	IsTyping(ctx context.Context, target domain.Target, user domain.UserID) (bool, error)
}
