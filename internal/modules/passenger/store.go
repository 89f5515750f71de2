// README: Profile store on Firestore; ledger and rating prompt flags on Redis.
package passenger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rider/internal/types"
)

const (
	profilesCollection = "passengers"
	ledgerKeyPrefix    = "passenger:%s:cancellations"
	ratedKeyPrefix     = "passenger:%s:rating_prompted"
	// ratedTTL bounds the prompted-booking set; bookings older than this are never prompted again anyway.
	ratedTTL = 30 * 24 * time.Hour
)

type ProfileStore interface {
	Get(ctx context.Context, id types.ID) (*Profile, error)
	// Watch calls fn with every new version of the profile until ctx ends.
	Watch(ctx context.Context, id types.ID, fn func(*Profile)) error
}

type LedgerStore interface {
	Load(ctx context.Context, id types.ID) (Ledger, error)
	Save(ctx context.Context, l Ledger, ttl time.Duration) error
}

type RatingFlags interface {
	// MarkPrompted records that the rating prompt was shown for a booking
	// and reports whether this was the first time.
	MarkPrompted(ctx context.Context, passengerID, bookingID types.ID) (bool, error)
}

type FirestoreProfiles struct {
	client *firestore.Client
}

func NewFirestoreProfiles(client *firestore.Client) *FirestoreProfiles {
	return &FirestoreProfiles{client: client}
}

func (s *FirestoreProfiles) Get(ctx context.Context, id types.ID) (*Profile, error) {
	snap, err := s.client.Collection(profilesCollection).Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeProfile(snap)
}

func (s *FirestoreProfiles) Watch(ctx context.Context, id types.ID, fn func(*Profile)) error {
	it := s.client.Collection(profilesCollection).Doc(string(id)).Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("watch profile %s: %w", id, err)
		}
		if !snap.Exists() {
			continue
		}
		p, err := decodeProfile(snap)
		if err != nil {
			return err
		}
		fn(p)
	}
}

func decodeProfile(snap *firestore.DocumentSnapshot) (*Profile, error) {
	var p Profile
	if err := snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", snap.Ref.ID, err)
	}
	p.ID = types.ID(snap.Ref.ID)
	return &p, nil
}

type RedisLedgerStore struct {
	redis *redis.Client
}

func NewRedisLedgerStore(redis *redis.Client) *RedisLedgerStore {
	return &RedisLedgerStore{redis: redis}
}

func (s *RedisLedgerStore) Load(ctx context.Context, id types.ID) (Ledger, error) {
	vals, err := s.redis.HGetAll(ctx, ledgerKey(id)).Result()
	if err != nil {
		return Ledger{}, err
	}
	l := Ledger{PassengerID: id}
	if len(vals) == 0 {
		return l, nil
	}
	if l.Count, err = strconv.Atoi(vals["count"]); err != nil {
		return Ledger{}, fmt.Errorf("parse ledger count: %w", err)
	}
	ms, err := strconv.ParseInt(vals["last_cancelled_at"], 10, 64)
	if err != nil {
		return Ledger{}, fmt.Errorf("parse ledger timestamp: %w", err)
	}
	l.LastCancelledAt = time.UnixMilli(ms).UTC()
	return l, nil
}

// Save overwrites the ledger and lets Redis drop it after ttl.
func (s *RedisLedgerStore) Save(ctx context.Context, l Ledger, ttl time.Duration) error {
	if l.PassengerID == "" {
		return errors.New("ledger without passenger id")
	}
	key := ledgerKey(l.PassengerID)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"count":             l.Count,
		"last_cancelled_at": l.LastCancelledAt.UnixMilli(),
	})
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

type RedisRatingFlags struct {
	redis *redis.Client
}

func NewRedisRatingFlags(redis *redis.Client) *RedisRatingFlags {
	return &RedisRatingFlags{redis: redis}
}

func (s *RedisRatingFlags) MarkPrompted(ctx context.Context, passengerID, bookingID types.ID) (bool, error) {
	key := fmt.Sprintf(ratedKeyPrefix, string(passengerID))
	pipe := s.redis.TxPipeline()
	added := pipe.SAdd(ctx, key, string(bookingID))
	pipe.Expire(ctx, key, ratedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return added.Val() == 1, nil
}

func ledgerKey(id types.ID) string {
	return fmt.Sprintf(ledgerKeyPrefix, string(id))
}
