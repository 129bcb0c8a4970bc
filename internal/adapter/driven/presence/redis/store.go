package redis

import (
	"context"
	"time"

	"github.com/avask/ringline/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

const (
	onlineKey = "users:online"
	typingTTL = 5 * time.Second
)

// Store is the Redis-backed presence store: online users live in one
// set, typing flags are short-TTL keys that expire on their own.
type Store struct {
	rdb *redis.Client
}

func NewStore(addr string) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (s *Store) SetOnline(ctx context.Context, user domain.UserID) error {
	return s.rdb.SAdd(ctx, onlineKey, user.String()).Err()
}

func (s *Store) SetOffline(ctx context.Context, user domain.UserID) error {
	return s.rdb.SRem(ctx, onlineKey, user.String()).Err()
}

func (s *Store) IsOnline(ctx context.Context, user domain.UserID) (bool, error) {
	return s.rdb.SIsMember(ctx, onlineKey, user.String()).Result()
}

func (s *Store) OnlineUsers(ctx context.Context) ([]domain.UserID, error) {
	members, err := s.rdb.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, err
	}
	users := make([]domain.UserID, 0, len(members))
	for _, m := range members {
		id, err := domain.ParseUserID(m)
		if err != nil {
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

func (s *Store) SetTyping(ctx context.Context, target domain.Target, user domain.UserID) error {
	return s.rdb.Set(ctx, typingKey(target, user), "1", typingTTL).Err()
}

func (s *Store) IsTyping(ctx context.Context, target domain.Target, user domain.UserID) (bool, error) {
	n, err := s.rdb.Exists(ctx, typingKey(target, user)).Result()
	return n == 1, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func typingKey(target domain.Target, user domain.UserID) string {
	return "typing:" + target.String() + ":" + user.String()
}
