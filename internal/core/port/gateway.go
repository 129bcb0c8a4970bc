package port

import "github.com/avask/ringline/internal/core/domain"

// Gateway fans events out to connected clients. Delivery is best-effort:
// a client mid-disconnect is silently skipped.
type Gateway interface {
	Publish(target domain.Target, ev domain.Event)
	PublishExcept(target domain.Target, except domain.UserID, ev domain.Event)
	Broadcast(ev domain.Event)
}
