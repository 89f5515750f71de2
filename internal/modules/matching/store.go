// README: Dispatch records backed by Redis keys and sets.
package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rider/internal/types"
)

const (
	dispatchKeyPrefix = "matching:booking:%s:dispatched_at"
	notifiedKeyPrefix = "matching:booking:%s:notified"
	// TTL for dispatch keys (bookings resolve well within a day).
	keyTTL = 24 * time.Hour
)

type DispatchStore interface {
	// ClaimDispatch marks a booking as dispatched and reports whether this
	// caller was first.
	ClaimDispatch(ctx context.Context, bookingID types.ID, at time.Time) (bool, error)
	RecordNotified(ctx context.Context, bookingID types.ID, driverIDs []types.ID) error
	GetDispatchedAt(ctx context.Context, bookingID types.ID) (time.Time, bool, error)
}

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) ClaimDispatch(ctx context.Context, bookingID types.ID, at time.Time) (bool, error) {
	return s.redis.SetNX(ctx, dispatchedAtKey(bookingID), at.UTC().Format(time.RFC3339), keyTTL).Result()
}

// RecordNotified records the set of notified drivers for a booking.
func (s *Store) RecordNotified(ctx context.Context, bookingID types.ID, driverIDs []types.ID) error {
	if len(driverIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(driverIDs))
	for i, d := range driverIDs {
		members[i] = string(d)
	}
	key := fmt.Sprintf(notifiedKeyPrefix, string(bookingID))
	pipe := s.redis.Pipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetDispatchedAt returns when the booking was first dispatched, and whether it has been dispatched.
func (s *Store) GetDispatchedAt(ctx context.Context, bookingID types.ID) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, dispatchedAtKey(bookingID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func dispatchedAtKey(bookingID types.ID) string {
	return fmt.Sprintf(dispatchKeyPrefix, string(bookingID))
}
