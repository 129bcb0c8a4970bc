package memory

import (
	"context"
	"sync"

	"github.com/avask/ringline/internal/core/domain"
)

// MessageRepository keeps persisted messages in memory. The coordinator
// only writes missed-call notices through it; a real deployment backs
// this port with the message store the REST layer owns.
type MessageRepository struct {
	mu       sync.Mutex
	messages []*domain.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{}
}

func (r *MessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

// ByTarget returns the saved messages for a target, oldest first.
func (r *MessageRepository) ByTarget(target domain.Target) []*domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Message
	for _, m := range r.messages {
		if m.Target == target {
			out = append(out, m)
		}
	}
	return out
}
