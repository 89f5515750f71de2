package route

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rider/internal/logging"
	"rider/internal/types"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []Mode
	// failModes lists modes that return an error.
	failModes map[Mode]bool
	delay     time.Duration
	route     func(origin, destination types.Point) []types.Point
}

func (f *fakeProvider) GetRoute(ctx context.Context, origin, destination types.Point, mode Mode) (Info, error) {
	f.mu.Lock()
	f.calls = append(f.calls, mode)
	fail := f.failModes[mode]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Info{}, ctx.Err()
		}
	}
	if fail {
		return Info{}, errors.New("provider down")
	}
	pts := []types.Point{origin, destination}
	if f.route != nil {
		pts = f.route(origin, destination)
	}
	return Info{Waypoints: pts, DistanceMeters: 1000, Duration: 3 * time.Minute}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
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

var (
	origin = types.Point{Lat: 14.5995, Lng: 120.9842}
	dest   = types.Point{Lat: 14.6095, Lng: 120.9942}
)

func newTestTracker(p Provider) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	return NewTracker(p, DefaultConfig(), logging.Discard()).WithClock(clock.Now), clock
}

func TestCalculateOnceCachesSameLeg(t *testing.T) {
	p := &fakeProvider{}
	tr, _ := newTestTracker(p)

	first, err := tr.CalculateOnce(context.Background(), origin, dest)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	second, err := tr.CalculateOnce(context.Background(), origin, dest)
	if err != nil {
		t.Fatalf("calculate again: %v", err)
	}
	if p.callCount() != 1 {
		t.Fatalf("expected 1 provider call, got %d", p.callCount())
	}
	if first.Kind != KindRouted || second.Kind != KindRouted {
		t.Fatalf("expected routed kind, got %s/%s", first.Kind, second.Kind)
	}
	if tr.State() != StateRouted {
		t.Fatalf("expected routed state, got %s", tr.State())
	}
}

func TestCalculateOnceConcurrentCallersShareOneCall(t *testing.T) {
	p := &fakeProvider{delay: 20 * time.Millisecond}
	tr, _ := newTestTracker(p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.CalculateOnce(context.Background(), origin, dest); err != nil {
				t.Errorf("calculate: %v", err)
			}
		}()
	}
	wg.Wait()

	if p.callCount() != 1 {
		t.Fatalf("expected 1 provider call, got %d", p.callCount())
	}
}

func TestCalculateOnceNewLegReplacesRoute(t *testing.T) {
	p := &fakeProvider{}
	tr, _ := newTestTracker(p)
	ctx := context.Background()

	if _, err := tr.CalculateOnce(ctx, origin, dest); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	other := types.Point{Lat: 14.62, Lng: 121.0}
	info, err := tr.CalculateOnce(ctx, dest, other)
	if err != nil {
		t.Fatalf("calculate new leg: %v", err)
	}
	if p.callCount() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", p.callCount())
	}
	if info.Waypoints[len(info.Waypoints)-1] != other {
		t.Fatalf("expected route to end at new destination, got %+v", info.Waypoints)
	}
}

func TestCalculateOnceRetriesRelaxed(t *testing.T) {
	p := &fakeProvider{failModes: map[Mode]bool{ModeStandard: true}}
	tr, _ := newTestTracker(p)

	info, err := tr.CalculateOnce(context.Background(), origin, dest)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if info.Kind != KindRouted {
		t.Fatalf("expected routed after relaxed retry, got %s", info.Kind)
	}
	if len(p.calls) != 2 || p.calls[1] != ModeRelaxed {
		t.Fatalf("expected standard then relaxed, got %v", p.calls)
	}
}

func TestCalculateOnceFallsBackToDirect(t *testing.T) {
	p := &fakeProvider{failModes: map[Mode]bool{ModeStandard: true, ModeRelaxed: true}}
	tr, _ := newTestTracker(p)

	info, err := tr.CalculateOnce(context.Background(), origin, dest)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if info.Kind != KindDirect {
		t.Fatalf("expected direct route, got %s", info.Kind)
	}
	if len(info.Waypoints) != 2 || info.Waypoints[0] != origin || info.Waypoints[1] != dest {
		t.Fatalf("unexpected waypoints %+v", info.Waypoints)
	}
	if info.DistanceMeters <= 0 || info.Duration <= 0 {
		t.Fatalf("expected positive distance and duration, got %+v", info)
	}
	if tr.State() != StateRouted {
		t.Fatalf("direct route should still count as routed, got %s", tr.State())
	}
}

func TestCalculateOnceReturnsContextError(t *testing.T) {
	p := &fakeProvider{delay: time.Second}
	tr, _ := newTestTracker(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.CalculateOnce(ctx, origin, dest); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.State() != StateNone {
		t.Fatalf("expected no route after cancellation, got %s", tr.State())
	}
}

func TestCheckDeviation(t *testing.T) {
	p := &fakeProvider{}
	tr, clock := newTestTracker(p)
	ctx := context.Background()

	if _, err := tr.CalculateOnce(ctx, origin, dest); err != nil {
		t.Fatalf("calculate: %v", err)
	}

	// about 11 m from the origin waypoint
	tr.UpdatePosition(types.Point{Lat: origin.Lat + 0.0001, Lng: origin.Lng})
	if _, ok := tr.checkDeviation(ctx); ok {
		t.Fatal("position within threshold should not recalculate")
	}
	if p.callCount() != 1 {
		t.Fatalf("expected 1 provider call, got %d", p.callCount())
	}

	// about 550 m off the line's endpoints
	off := types.Point{Lat: origin.Lat - 0.005, Lng: origin.Lng}
	tr.UpdatePosition(off)
	info, ok := tr.checkDeviation(ctx)
	if !ok {
		t.Fatal("expected recalculation after deviation")
	}
	if p.callCount() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", p.callCount())
	}
	if info.Waypoints[0] != off || info.Waypoints[len(info.Waypoints)-1] != dest {
		t.Fatalf("expected route from current position to original destination, got %+v", info.Waypoints)
	}

	// deviate again inside the cooldown
	tr.UpdatePosition(types.Point{Lat: off.Lat - 0.005, Lng: off.Lng})
	clock.Advance(10 * time.Second)
	if _, ok := tr.checkDeviation(ctx); ok {
		t.Fatal("recalculation inside cooldown")
	}
	if p.callCount() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", p.callCount())
	}

	clock.Advance(21 * time.Second)
	if _, ok := tr.checkDeviation(ctx); !ok {
		t.Fatal("expected recalculation after cooldown")
	}
	if p.callCount() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", p.callCount())
	}
}

func TestCalculateOnceAfterDeviationKeepsLeg(t *testing.T) {
	p := &fakeProvider{}
	tr, _ := newTestTracker(p)
	ctx := context.Background()

	if _, err := tr.CalculateOnce(ctx, origin, dest); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	tr.UpdatePosition(types.Point{Lat: origin.Lat - 0.005, Lng: origin.Lng})
	recalculated, ok := tr.checkDeviation(ctx)
	if !ok {
		t.Fatal("expected recalculation")
	}

	info, err := tr.CalculateOnce(ctx, origin, dest)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if p.callCount() != 2 {
		t.Fatalf("expected cached route for same leg, got %d calls", p.callCount())
	}
	if info.Waypoints[0] != recalculated.Waypoints[0] {
		t.Fatalf("expected recalculated route, got %+v", info.Waypoints)
	}
}

func TestCheckDeviationWithoutRoute(t *testing.T) {
	p := &fakeProvider{}
	tr, _ := newTestTracker(p)

	tr.UpdatePosition(origin)
	if _, ok := tr.checkDeviation(context.Background()); ok {
		t.Fatal("no route should mean no recalculation")
	}
	if p.callCount() != 0 {
		t.Fatalf("expected no provider calls, got %d", p.callCount())
	}
}

func TestStartFollowingInvokesCallback(t *testing.T) {
	p := &fakeProvider{}
	cfg := DefaultConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	tr := NewTracker(p, cfg, logging.Discard())
	ctx := context.Background()

	if _, err := tr.CalculateOnce(ctx, origin, dest); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	tr.UpdatePosition(types.Point{Lat: origin.Lat - 0.005, Lng: origin.Lng})

	got := make(chan Info, 4)
	tr.StartFollowing(ctx, func(info Info) { got <- info })
	defer tr.StopFollowing()

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("expected deviation callback")
	}
}

func TestClear(t *testing.T) {
	p := &fakeProvider{}
	tr, _ := newTestTracker(p)
	ctx := context.Background()

	if _, err := tr.CalculateOnce(ctx, origin, dest); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	tr.StartFollowing(ctx, nil)
	tr.Clear()

	if tr.State() != StateNone {
		t.Fatalf("expected none after clear, got %s", tr.State())
	}
	if _, ok := tr.Current(); ok {
		t.Fatal("expected no current route")
	}
	if _, err := tr.CalculateOnce(ctx, origin, dest); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if p.callCount() != 2 {
		t.Fatalf("expected fresh provider call after clear, got %d", p.callCount())
	}
}
