package trip

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"rider/internal/logging"
	"rider/internal/maps"
	"rider/internal/modules/order"
)

func TestSubscribeReceivesUpdatesAndCloses(t *testing.T) {
	h := newHarness(t)
	ch, _ := h.c.Subscribe()

	first := <-ch
	h.c.Dismiss()

	select {
	case s := <-ch:
		if s.Version <= first.Version {
			t.Fatalf("expected newer version, got %d after %d", s.Version, first.Version)
		}
	case <-waitTimeout():
		t.Fatal("no update delivered")
	}

	h.c.Close()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if _, err := h.c.sessionContext(); !errors.Is(err, ErrClosed) {
					t.Fatalf("expected ErrClosed, got %v", err)
				}
				return
			}
		case <-waitTimeout():
			t.Fatal("channel not closed")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := newHarness(t)
	ch, unsubscribe := h.c.Subscribe()
	<-ch
	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}

func TestLandmarksDegradeToEmpty(t *testing.T) {
	h := newHarness(t)
	h.landmarks.results = []maps.Landmark{{Name: "SM Megamall"}}
	if got := h.c.Landmarks(context.Background(), "mall", &pickupPoint); len(got) != 1 {
		t.Fatalf("expected one landmark, got %d", len(got))
	}

	h.landmarks.err = errBackend
	got := h.c.Landmarks(context.Background(), "mall", nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %#v", got)
	}
}

func TestRequestAfterCloseFails(t *testing.T) {
	h := newHarness(t)
	h.c.Close()
	if _, err := h.c.RequestBooking(context.Background(), BookingRequest{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Bookings:    h.bookings,
		Profiles:    h.profiles,
		Ledger:      h.c.deps.Ledger,
		RatingFlags: h.flags,
		ServiceArea: h.area,
		Fares:       h.fares,
		Dispatcher:  h.dispatcher,
		Drivers:     h.drivers,
		Nearby:      h.nearby,
		Landmarks:   h.landmarks,
		Routes:      h.routes,
	}
}

func TestManagerSessions(t *testing.T) {
	h := newHarness(t)
	m := NewManager(context.Background(), h.deps(), DefaultConfig(), logging.Discard())

	a, err := m.Session("p2")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	again, _ := m.Session("p2")
	if a != again {
		t.Fatal("expected the same controller for one passenger")
	}
	if _, err := m.Session("p3"); err != nil {
		t.Fatalf("session: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.Len())
	}

	m.End("p2")
	if m.Len() != 1 || !a.isClosed() {
		t.Fatal("expected p2 session closed")
	}

	m.Close()
	if _, err := m.Session("p4"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestManagerConcurrentFirstUseSharesSession(t *testing.T) {
	h := newHarness(t)
	m := NewManager(context.Background(), h.deps(), DefaultConfig(), logging.Discard())
	t.Cleanup(m.Close)

	var wg sync.WaitGroup
	got := make([]*Controller, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Session("p2")
			if err != nil {
				t.Errorf("session: %v", err)
				return
			}
			got[i] = c
		}(i)
	}
	wg.Wait()
	for _, c := range got[1:] {
		if c != got[0] {
			t.Fatal("expected one controller for concurrent first use")
		}
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", m.Len())
	}
}

func TestManagerReapsIdleSessions(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultConfig()
	cfg.SessionIdleTimeout = 10 * time.Minute
	m := NewManager(context.Background(), h.deps(), cfg, logging.Discard()).WithClock(h.clock.Now)
	t.Cleanup(m.Close)

	before := runtime.NumGoroutine()
	idle, err := m.Session("idle")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	streaming, _ := m.Session("streaming")
	_, unsubscribe := streaming.Subscribe()
	riding, _ := m.Session("riding")
	if _, err := riding.RequestBooking(context.Background(), BookingRequest{
		Pickup:      order.Place{Address: "Ayala Triangle", Location: pickupPoint},
		Destination: order.Place{Address: "NAIA Terminal 3", Location: destPoint},
	}); err != nil {
		t.Fatalf("request booking: %v", err)
	}

	h.clock.Advance(5 * time.Minute)
	if n := m.Reap(); n != 0 {
		t.Fatalf("nothing is idle long enough yet, reaped %d", n)
	}

	h.clock.Advance(6 * time.Minute)
	if n := m.Reap(); n != 1 {
		t.Fatalf("expected only the idle session reaped, got %d", n)
	}
	if !idle.isClosed() || streaming.isClosed() || riding.isClosed() {
		t.Fatal("wrong session reaped")
	}

	// a later request gets a fresh session
	again, err := m.Session("idle")
	if err != nil || again == idle {
		t.Fatalf("expected a new session, got %v", err)
	}

	unsubscribe()
	h.clock.Advance(11 * time.Minute)
	if n := m.Reap(); n != 2 {
		t.Fatalf("expected the unsubscribed and the renewed session reaped, got %d", n)
	}
	if m.Len() != 1 || !streaming.isClosed() {
		t.Fatalf("expected only the riding session left, have %d", m.Len())
	}

	m.End("riding")
	waitFor(t, "session goroutines to exit", func() bool {
		return runtime.NumGoroutine() <= before
	})
}
