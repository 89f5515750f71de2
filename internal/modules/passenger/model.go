// README: Passenger profile, cancellation ledger and limit error.
package passenger

import (
	"errors"
	"fmt"
	"time"

	"rider/internal/types"
)

var (
	ErrNotFound    = errors.New("passenger not found")
	ErrInactive    = errors.New("passenger account inactive")
	ErrBlocked     = errors.New("passenger account blocked")
	ErrCancelLimit = errors.New("cancellation limit reached")
)

type Profile struct {
	ID              types.ID `firestore:"-" json:"id"`
	Name            string   `firestore:"name" json:"name"`
	Active          bool     `firestore:"active" json:"active"`
	Blocked         bool     `firestore:"blocked" json:"blocked"`
	DiscountPercent int      `firestore:"discountPercent" json:"discount_percent"`
}

// CanBook reports why the passenger may not request a booking, if anything.
func (p *Profile) CanBook() error {
	switch {
	case p == nil:
		return ErrNotFound
	case p.Blocked:
		return ErrBlocked
	case !p.Active:
		return ErrInactive
	}
	return nil
}

// Ledger counts recent cancellations of accepted bookings.
type Ledger struct {
	PassengerID     types.ID  `json:"passenger_id"`
	Count           int       `json:"count"`
	LastCancelledAt time.Time `json:"last_cancelled_at"`
}

// LedgerPolicy decides when a ledger blocks and when it resets.
type LedgerPolicy struct {
	Limit      int
	ResetAfter time.Duration
}

func DefaultLedgerPolicy() LedgerPolicy {
	return LedgerPolicy{Limit: 3, ResetAfter: 12 * time.Hour}
}

// Effective returns the ledger as of now: zeroed once ResetAfter has passed
// since the last cancellation.
func (p LedgerPolicy) Effective(l Ledger, now time.Time) Ledger {
	if l.Count > 0 && !now.Before(l.LastCancelledAt.Add(p.ResetAfter)) {
		return Ledger{PassengerID: l.PassengerID}
	}
	return l
}

func (p LedgerPolicy) Exceeded(l Ledger) bool {
	return l.Count >= p.Limit
}

func (p LedgerPolicy) ResetAt(l Ledger) time.Time {
	return l.LastCancelledAt.Add(p.ResetAfter)
}

// LimitError is returned when a cancellation is refused by the ledger.
type LimitError struct {
	Count   int
	ResetAt time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("cancellation limit reached (%d), resets at %s", e.Count, e.ResetAt.Format(time.RFC3339))
}

func (e *LimitError) Is(target error) bool {
	return target == ErrCancelLimit
}
