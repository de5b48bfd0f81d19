package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stock:processed:"

// Store remembers applied stock adjustment correlation ids for ttl.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(correlationID string) string {
	return keyPrefix + correlationID
}

// Seen reports whether correlationID was marked. It does not record anything,
// so a delivery interrupted before Mark is applied again on redelivery.
func (s *Store) Seen(ctx context.Context, correlationID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.Key(correlationID)).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Mark records correlationID as applied.
func (s *Store) Mark(ctx context.Context, correlationID string) error {
	return s.rdb.Set(ctx, s.Key(correlationID), "1", s.ttl).Err()
}
