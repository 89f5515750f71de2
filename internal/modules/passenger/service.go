// README: Ledger service enforces the cancellation limit.
package passenger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"rider/internal/types"
)

type LedgerService struct {
	store  LedgerStore
	policy LedgerPolicy
	log    *logrus.Entry
	now    func() time.Time
}

func NewLedgerService(store LedgerStore, policy LedgerPolicy, log *logrus.Entry) *LedgerService {
	def := DefaultLedgerPolicy()
	if policy.Limit <= 0 {
		policy.Limit = def.Limit
	}
	if policy.ResetAfter <= 0 {
		policy.ResetAfter = def.ResetAfter
	}
	return &LedgerService{store: store, policy: policy, log: log, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	return s
}

// Current returns the effective ledger, already reset if the window passed.
func (s *LedgerService) Current(ctx context.Context, id types.ID) (Ledger, error) {
	l, err := s.store.Load(ctx, id)
	if err != nil {
		return Ledger{}, err
	}
	l.PassengerID = id
	return s.policy.Effective(l, s.now()), nil
}

// Check returns a *LimitError when the passenger may not cancel another
// accepted booking.
func (s *LedgerService) Check(ctx context.Context, id types.ID) error {
	l, err := s.Current(ctx, id)
	if err != nil {
		return err
	}
	if s.policy.Exceeded(l) {
		return &LimitError{Count: l.Count, ResetAt: s.policy.ResetAt(l)}
	}
	return nil
}

// Record counts one cancellation of an accepted booking.
func (s *LedgerService) Record(ctx context.Context, id types.ID) (Ledger, error) {
	l, err := s.Current(ctx, id)
	if err != nil {
		return Ledger{}, err
	}
	l.Count++
	l.LastCancelledAt = s.now()
	if err := s.store.Save(ctx, l, s.policy.ResetAfter); err != nil {
		return Ledger{}, err
	}
	s.log.WithFields(logrus.Fields{"passenger_id": id, "count": l.Count}).Info("cancellation recorded")
	return l, nil
}
