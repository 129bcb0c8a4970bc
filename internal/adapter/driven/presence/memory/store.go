package memory

import (
	"context"
	"sync"
	"time"

	"github.com/avask/ringline/internal/core/domain"
)

// Store is an in-process presence store for single-node deployments and
// tests. Typing markers expire lazily on read.
type Store struct {
	// TypingTTL is how long a typing marker stays visible.
	TypingTTL time.Duration

	mu     sync.Mutex
	online map[domain.UserID]bool
	typing map[string]time.Time
}

func NewStore() *Store {
	return &Store{
		TypingTTL: 5 * time.Second,
		online:    make(map[domain.UserID]bool),
		typing:    make(map[string]time.Time),
	}
}

func (s *Store) SetOnline(ctx context.Context, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[user] = true
	return nil
}

func (s *Store) SetOffline(ctx context.Context, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, user)
	return nil
}

func (s *Store) IsOnline(ctx context.Context, user domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[user], nil
}

func (s *Store) OnlineUsers(ctx context.Context) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]domain.UserID, 0, len(s.online))
	for u := range s.online {
		users = append(users, u)
	}
	return users, nil
}

func (s *Store) SetTyping(ctx context.Context, target domain.Target, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[typingKey(target, user)] = time.Now().Add(s.TypingTTL)
	return nil
}

func (s *Store) IsTyping(ctx context.Context, target domain.Target, user domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := typingKey(target, user)
	expiry, ok := s.typing[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.typing, key)
		return false, nil
	}
	return true, nil
}

func typingKey(target domain.Target, user domain.UserID) string {
	return target.String() + ":" + user.String()
}
