// README: Booking store backed by Firestore, with a per-passenger active booking index.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rider/internal/types"
)

const (
	bookingsCollection = "bookings"
	// activeCollection is keyed by passenger id and points at the booking
	// the passenger currently has open. It can go stale when the backend
	// finishes a booking, so readers re-check the booking itself.
	activeCollection = "active_bookings"
)

type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	// Transition moves a booking to a new status atomically and returns the
	// updated booking. cancel is stored when non-nil.
	Transition(ctx context.Context, id types.ID, to Status, cancel *Cancellation) (*Booking, error)
	ActiveIndex(ctx context.Context, passengerID types.ID) (types.ID, bool, error)
	History(ctx context.Context, passengerID types.ID, limit int) ([]Booking, error)
	// Watch calls fn with every new version of the booking until ctx ends.
	Watch(ctx context.Context, id types.ID, fn func(*Booking)) error
}

type activeEntry struct {
	BookingID string    `firestore:"bookingId"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) bookingRef(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(bookingsCollection).Doc(string(id))
}

func (s *FirestoreStore) activeRef(passengerID types.ID) *firestore.DocumentRef {
	return s.client.Collection(activeCollection).Doc(string(passengerID))
}

// Create writes the booking and claims the passenger's active slot in one
// transaction. A slot pointing at a non-terminal booking yields ErrActiveBooking.
func (s *FirestoreStore) Create(ctx context.Context, b *Booking) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		activeRef := s.activeRef(b.PassengerID)
		snap, err := tx.Get(activeRef)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("read active booking: %w", err)
		}
		if err == nil {
			var entry activeEntry
			if err := snap.DataTo(&entry); err != nil {
				return fmt.Errorf("decode active booking: %w", err)
			}
			if entry.BookingID != "" {
				existing, err := tx.Get(s.bookingRef(types.ID(entry.BookingID)))
				if err != nil && !isNotFound(err) {
					return fmt.Errorf("read indexed booking: %w", err)
				}
				if err == nil {
					var prev Booking
					if err := existing.DataTo(&prev); err != nil {
						return fmt.Errorf("decode indexed booking: %w", err)
					}
					if !prev.Status.IsTerminal() {
						return ErrActiveBooking
					}
				}
			}
		}

		if err := tx.Create(s.bookingRef(b.ID), b); err != nil {
			return err
		}
		return tx.Set(activeRef, activeEntry{BookingID: string(b.ID), UpdatedAt: b.RequestedAt})
	})
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Booking, error) {
	snap, err := s.bookingRef(id).Get(ctx)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeBooking(snap)
}

func (s *FirestoreStore) Transition(ctx context.Context, id types.ID, to Status, cancel *Cancellation) (*Booking, error) {
	var updated *Booking
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.bookingRef(id)
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		b, err := decodeBooking(snap)
		if err != nil {
			return err
		}
		if !CanTransition(b.Status, to) {
			return ErrInvalidState
		}

		updates := []firestore.Update{{Path: "status", Value: string(to)}}
		b.Status = to
		if cancel != nil {
			updates = append(updates, firestore.Update{Path: "cancellation", Value: cancel})
			b.Cancellation = cancel
		}
		if to == StatusCompleted {
			now := time.Now()
			updates = append(updates, firestore.Update{Path: "completedAt", Value: now})
			b.CompletedAt = &now
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		if to.IsTerminal() {
			if err := tx.Delete(s.activeRef(b.PassengerID)); err != nil {
				return err
			}
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *FirestoreStore) ActiveIndex(ctx context.Context, passengerID types.ID) (types.ID, bool, error) {
	snap, err := s.activeRef(passengerID).Get(ctx)
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var entry activeEntry
	if err := snap.DataTo(&entry); err != nil {
		return "", false, fmt.Errorf("decode active booking: %w", err)
	}
	if entry.BookingID == "" {
		return "", false, nil
	}
	return types.ID(entry.BookingID), true, nil
}

func (s *FirestoreStore) History(ctx context.Context, passengerID types.ID, limit int) ([]Booking, error) {
	docs, err := s.client.Collection(bookingsCollection).
		Where("passengerId", "==", string(passengerID)).
		OrderBy("requestedAt", firestore.Desc).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]Booking, 0, len(docs))
	for _, doc := range docs {
		b, err := decodeBooking(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

func (s *FirestoreStore) Watch(ctx context.Context, id types.ID, fn func(*Booking)) error {
	it := s.bookingRef(id).Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("watch booking %s: %w", id, err)
		}
		if !snap.Exists() {
			continue
		}
		b, err := decodeBooking(snap)
		if err != nil {
			return err
		}
		fn(b)
	}
}

func decodeBooking(snap *firestore.DocumentSnapshot) (*Booking, error) {
	var b Booking
	if err := snap.DataTo(&b); err != nil {
		return nil, fmt.Errorf("decode booking %s: %w", snap.Ref.ID, err)
	}
	b.ID = types.ID(snap.Ref.ID)
	return &b, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return status.Code(err) == codes.NotFound
}
