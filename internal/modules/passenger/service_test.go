package passenger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rider/internal/logging"
	"rider/internal/types"
)

type memLedgers struct {
	mu      sync.Mutex
	ledgers map[types.ID]Ledger
	ttls    map[types.ID]time.Duration
}

func newMemLedgers() *memLedgers {
	return &memLedgers{ledgers: map[types.ID]Ledger{}, ttls: map[types.ID]time.Duration{}}
}

func (m *memLedgers) Load(_ context.Context, id types.ID) (Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledgers[id], nil
}

func (m *memLedgers) Save(_ context.Context, l Ledger, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[l.PassengerID] = l
	m.ttls[l.PassengerID] = ttl
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestLedger() (*LedgerService, *memLedgers, *fakeClock) {
	store := newMemLedgers()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewLedgerService(store, DefaultLedgerPolicy(), logging.Discard()).WithClock(clock.Now)
	return svc, store, clock
}

func TestLedgerBlocksAtLimit(t *testing.T) {
	svc, store, clock := newTestLedger()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := svc.Check(ctx, "p1"); err != nil {
			t.Fatalf("check before cancellation %d: %v", i, err)
		}
		l, err := svc.Record(ctx, "p1")
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if l.Count != i {
			t.Fatalf("expected count %d, got %d", i, l.Count)
		}
		clock.Advance(time.Minute)
	}

	err := svc.Check(ctx, "p1")
	if !errors.Is(err, ErrCancelLimit) {
		t.Fatalf("expected ErrCancelLimit, got %v", err)
	}
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError, got %T", err)
	}
	last := store.ledgers["p1"].LastCancelledAt
	if limitErr.Count != 3 || !limitErr.ResetAt.Equal(last.Add(12*time.Hour)) {
		t.Fatalf("unexpected limit error %+v", limitErr)
	}
	if store.ttls["p1"] != 12*time.Hour {
		t.Fatalf("expected ledger ttl 12h, got %s", store.ttls["p1"])
	}
}

func TestLedgerResetsAfterWindow(t *testing.T) {
	svc, _, clock := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Record(ctx, "p1"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	clock.Advance(12*time.Hour - time.Second)
	if err := svc.Check(ctx, "p1"); !errors.Is(err, ErrCancelLimit) {
		t.Fatalf("expected limit just before reset, got %v", err)
	}

	clock.Advance(time.Second)
	if err := svc.Check(ctx, "p1"); err != nil {
		t.Fatalf("expected reset ledger, got %v", err)
	}
	l, err := svc.Record(ctx, "p1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if l.Count != 1 {
		t.Fatalf("expected count to restart at 1, got %d", l.Count)
	}
}

func TestLedgerIsPerPassenger(t *testing.T) {
	svc, _, _ := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Record(ctx, "p1"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := svc.Check(ctx, "p2"); err != nil {
		t.Fatalf("other passenger should not be blocked: %v", err)
	}
}

func TestProfileCanBook(t *testing.T) {
	cases := []struct {
		name    string
		profile *Profile
		want    error
	}{
		{"missing", nil, ErrNotFound},
		{"active", &Profile{Active: true}, nil},
		{"inactive", &Profile{Active: false}, ErrInactive},
		{"blocked", &Profile{Active: true, Blocked: true}, ErrBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.profile.CanBook(); !errors.Is(err, tc.want) {
				t.Fatalf("CanBook() = %v, want %v", err, tc.want)
			}
		})
	}
}
