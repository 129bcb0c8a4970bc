package memory

import (
	"context"
	"sync"

	"github.com/avask/ringline/internal/core/domain"
)

// Store is an in-memory membership roster. Production backs the port
// with the database the REST layer owns; this serves single-node
// deployments and tests.
type Store struct {
	mu      sync.Mutex
	members map[domain.TargetID]map[domain.UserID]bool
}

func NewStore() *Store {
	return &Store{members: make(map[domain.TargetID]map[domain.UserID]bool)}
}

func (s *Store) Grant(target domain.TargetID, user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.members[target]
	if !ok {
		roster = make(map[domain.UserID]bool)
		s.members[target] = roster
	}
	roster[user] = true
}

func (s *Store) Revoke(target domain.TargetID, user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[target], user)
}

func (s *Store) IsMember(ctx context.Context, callType domain.CallType, target domain.TargetID, user domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[target][user], nil
}
