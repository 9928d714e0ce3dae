package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no credential is persisted for a destination.
var ErrNotFound = errors.New("credentials: not found")

// Store persists bearer credentials per destination in redis. A credential is
// always replaced wholesale, never partially updated.
type Store struct {
	client *redis.Client
}

// NewStore returns redis-backed credential store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) key(destination string) string {
	return fmt.Sprintf("credentials:%s", destination)
}

// Get returns the persisted token for the destination.
func (s *Store) Get(ctx context.Context, destination string) (string, error) {
	token, err := s.client.Get(ctx, s.key(destination)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Set replaces the persisted token for the destination.
func (s *Store) Set(ctx context.Context, destination, token string) error {
	return s.client.Set(ctx, s.key(destination), token, 0).Err()
}
