package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"rider/internal/logging"
	"rider/internal/types"
)

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	bookings map[types.ID]Booking
	active   map[types.ID]types.ID
}

func newMemStore() *memStore {
	return &memStore{bookings: map[types.ID]Booking{}, active: map[types.ID]types.ID{}}
}

func (m *memStore) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.active[b.PassengerID]; ok {
		if prev, ok := m.bookings[id]; ok && !prev.Status.IsTerminal() {
			return ErrActiveBooking
		}
	}
	m.bookings[b.ID] = *b
	m.active[b.PassengerID] = b.ID
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *memStore) Transition(_ context.Context, id types.ID, to Status, cancel *Cancellation) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !CanTransition(b.Status, to) {
		return nil, ErrInvalidState
	}
	b.Status = to
	if cancel != nil {
		b.Cancellation = cancel
	}
	m.bookings[id] = b
	if to.IsTerminal() {
		delete(m.active, b.PassengerID)
	}
	return &b, nil
}

func (m *memStore) ActiveIndex(_ context.Context, passengerID types.ID) (types.ID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[passengerID]
	return id, ok, nil
}

func (m *memStore) History(_ context.Context, passengerID types.ID, limit int) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.PassengerID == passengerID && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) Watch(ctx context.Context, _ types.ID, _ func(*Booking)) error {
	<-ctx.Done()
	return nil
}

// setStatus simulates the backend moving a booking without touching the index.
func (m *memStore) setStatus(id types.ID, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.Status = s
	m.bookings[id] = b
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(store, logging.Discard()), store
}

func validCreate(passenger types.ID) CreateCommand {
	return CreateCommand{
		PassengerID: passenger,
		Pickup:      Place{Address: "Pickup", Location: types.Point{Lat: 14.55, Lng: 121.02}},
		Destination: Place{Address: "Airport", Location: types.Point{Lat: 14.51, Lng: 121.01}},
		Fare:        FareEstimate{Base: 150, Total: 150, Currency: "PHP"},
	}
}

func TestCreateAndActive(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	b, err := svc.Create(ctx, validCreate("p1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ID == "" || b.Status != StatusPending {
		t.Fatalf("unexpected booking %+v", b)
	}

	active, err := svc.ActiveByPassenger(ctx, "p1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != b.ID {
		t.Fatalf("expected active %s, got %s", b.ID, active.ID)
	}

	if _, err := svc.Create(ctx, validCreate("p1")); !errors.Is(err, ErrActiveBooking) {
		t.Fatalf("expected ErrActiveBooking, got %v", err)
	}
}

func TestCreateInvalidRequest(t *testing.T) {
	svc, _ := newTestService()
	cmd := validCreate("")
	if _, err := svc.Create(context.Background(), cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	cmd = validCreate("p1")
	cmd.Destination.Address = "  "
	if _, err := svc.Create(context.Background(), cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestActiveIgnoresStaleIndex(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	b, err := svc.Create(ctx, validCreate("p1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	store.setStatus(b.ID, StatusCompleted)

	if _, err := svc.ActiveByPassenger(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stale index, got %v", err)
	}
	if _, err := svc.Create(ctx, validCreate("p1")); err != nil {
		t.Fatalf("create after completion: %v", err)
	}
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	b, err := svc.Create(ctx, validCreate("p1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cancelled, err := svc.Cancel(ctx, CancelCommand{BookingID: b.ID, Reason: "changed plans"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.Cancellation == nil || cancelled.Cancellation.By != CancelledByPassenger {
		t.Fatalf("unexpected cancelled booking %+v", cancelled)
	}
	if _, err := svc.ActiveByPassenger(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active booking, got %v", err)
	}
	if _, err := svc.Cancel(ctx, CancelCommand{BookingID: b.ID}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second cancel, got %v", err)
	}
	if _, err := svc.Cancel(ctx, CancelCommand{BookingID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
