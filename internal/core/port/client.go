package port

import "github.com/avask/ringline/internal/core/domain"

// Client is one live connection to a user.
type Client interface {
	UserID() domain.UserID
	Send(ev domain.Event) error
	Close() error
}
