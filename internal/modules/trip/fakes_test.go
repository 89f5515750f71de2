package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rider/internal/logging"
	"rider/internal/maps"
	"rider/internal/modules/location"
	"rider/internal/modules/matching"
	"rider/internal/modules/order"
	"rider/internal/modules/passenger"
	"rider/internal/modules/pricing"
	"rider/internal/modules/route"
	"rider/internal/types"
)

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

// fakeBookings keeps bookings in memory and delivers pushed versions to Watch.
type fakeBookings struct {
	mu        sync.Mutex
	bookings  map[types.ID]order.Booking
	active    map[types.ID]types.ID
	feeds     map[types.ID]chan *order.Booking
	cancels   []types.ID
	createErr error
	cancelErr error
	seq       int
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{
		bookings: map[types.ID]order.Booking{},
		active:   map[types.ID]types.ID{},
		feeds:    map[types.ID]chan *order.Booking{},
	}
}

func (f *fakeBookings) feed(id types.ID) chan *order.Booking {
	ch, ok := f.feeds[id]
	if !ok {
		ch = make(chan *order.Booking, 16)
		f.feeds[id] = ch
	}
	return ch
}

func (f *fakeBookings) Create(_ context.Context, cmd order.CreateCommand) (*order.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	b := order.Booking{
		ID:          types.ID(fmt.Sprintf("b%d", f.seq)),
		PassengerID: cmd.PassengerID,
		Pickup:      cmd.Pickup,
		Destination: cmd.Destination,
		Fare:        cmd.Fare,
		Status:      order.StatusPending,
		Companions:  cmd.Companions,
		Comment:     cmd.Comment,
		RequestedAt: time.Now(),
	}
	f.bookings[b.ID] = b
	f.active[b.PassengerID] = b.ID
	return &b, nil
}

func (f *fakeBookings) Get(_ context.Context, id types.ID) (*order.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &b, nil
}

// Cancel fails once with cancelErr when it is set.
func (f *fakeBookings) Cancel(_ context.Context, cmd order.CancelCommand) (*order.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cancelErr; err != nil {
		f.cancelErr = nil
		return nil, err
	}
	b, ok := f.bookings[cmd.BookingID]
	if !ok {
		return nil, order.ErrNotFound
	}
	if !order.CanTransition(b.Status, order.StatusCancelled) {
		return nil, order.ErrInvalidState
	}
	b.Status = order.StatusCancelled
	b.Cancellation = &order.Cancellation{By: cmd.By, Reason: cmd.Reason}
	f.bookings[b.ID] = b
	delete(f.active, b.PassengerID)
	f.cancels = append(f.cancels, b.ID)
	return &b, nil
}

func (f *fakeBookings) ActiveByPassenger(_ context.Context, passengerID types.ID) (*order.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.active[passengerID]
	if !ok {
		return nil, order.ErrNotFound
	}
	b := f.bookings[id]
	if b.Status.IsTerminal() {
		return nil, order.ErrNotFound
	}
	return &b, nil
}

func (f *fakeBookings) History(_ context.Context, passengerID types.ID, limit int) ([]order.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []order.Booking
	for _, b := range f.bookings {
		if b.PassengerID == passengerID && b.Status.IsTerminal() && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBookings) Watch(ctx context.Context, id types.ID, fn func(*order.Booking)) error {
	f.mu.Lock()
	ch := f.feed(id)
	f.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-ch:
			if ctx.Err() != nil {
				// leave it for the watcher that replaced this one
				ch <- b
				return nil
			}
			fn(b)
		}
	}
}

// set stores a booking as the backend's truth without notifying watchers.
func (f *fakeBookings) set(b order.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[b.ID] = b
	if b.Status.IsTerminal() {
		delete(f.active, b.PassengerID)
	} else {
		f.active[b.PassengerID] = b.ID
	}
}

// push stores a booking and delivers it to the watcher of its id.
func (f *fakeBookings) push(b order.Booking) {
	f.set(b)
	f.mu.Lock()
	ch := f.feed(b.ID)
	f.mu.Unlock()
	cp := b
	ch <- &cp
}

func (f *fakeBookings) status(id types.ID) order.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bookings[id].Status
}

func (f *fakeBookings) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels)
}

type fakeProfiles struct {
	mu      sync.Mutex
	profile *passenger.Profile
	err     error
}

func (f *fakeProfiles) Get(_ context.Context, id types.ID) (*passenger.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.profile == nil {
		return nil, passenger.ErrNotFound
	}
	p := *f.profile
	p.ID = id
	return &p, nil
}

func (f *fakeProfiles) Watch(ctx context.Context, _ types.ID, _ func(*passenger.Profile)) error {
	<-ctx.Done()
	return nil
}

type memLedgerStore struct {
	mu      sync.Mutex
	ledgers map[types.ID]passenger.Ledger
}

func (m *memLedgerStore) Load(_ context.Context, id types.ID) (passenger.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledgers[id], nil
}

func (m *memLedgerStore) Save(_ context.Context, l passenger.Ledger, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[l.PassengerID] = l
	return nil
}

func (m *memLedgerStore) count(id types.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledgers[id].Count
}

type memRatingFlags struct {
	mu       sync.Mutex
	prompted map[types.ID]bool
}

func (m *memRatingFlags) MarkPrompted(_ context.Context, _ types.ID, bookingID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prompted[bookingID] {
		return false, nil
	}
	m.prompted[bookingID] = true
	return true, nil
}

// fakeArea treats points with Lat above outsideLat as outside the service area.
type fakeArea struct {
	outsideLat float64
	err        error
}

func (f *fakeArea) WithinServiceArea(_ context.Context, p types.Point) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return p.Lat <= f.outsideLat, nil
}

type fakeFares struct {
	quote pricing.Quote
	err   error
}

func (f *fakeFares) ResolveFare(_ context.Context, _ types.Point, _ string, _ types.Point) (pricing.Quote, error) {
	return f.quote, f.err
}

type fakeDispatcher struct {
	calls chan types.ID
}

func (f *fakeDispatcher) Dispatch(_ context.Context, b *order.Booking) (matching.Result, error) {
	f.calls <- b.ID
	return matching.Result{BookingID: b.ID, Notified: []types.ID{"d1"}}, nil
}

// fakeDriverFeed delivers pushed positions to WatchDriver per driver id.
type fakeDriverFeed struct {
	mu    sync.Mutex
	feeds map[types.ID]chan location.DriverLocation
}

func (f *fakeDriverFeed) feed(id types.ID) chan location.DriverLocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.feeds[id]
	if !ok {
		ch = make(chan location.DriverLocation, 16)
		f.feeds[id] = ch
	}
	return ch
}

func (f *fakeDriverFeed) WatchDriver(ctx context.Context, driverID types.ID, fn func(location.DriverLocation)) error {
	ch := f.feed(driverID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case loc := <-ch:
			fn(loc)
		}
	}
}

func (f *fakeDriverFeed) send(loc location.DriverLocation) {
	f.feed(loc.DriverID) <- loc
}

type fakeNearby struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeNearby) GetNearbyDrivers(_ context.Context, center types.Point, _ float64) ([]location.DriverLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []location.DriverLocation{{DriverID: "d9", Position: center, Status: location.DriverOnline}}, nil
}

func (f *fakeNearby) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLandmarks struct {
	results []maps.Landmark
	err     error
}

func (f *fakeLandmarks) SearchLandmarks(_ context.Context, _ string, _ *maps.SearchOptions) ([]maps.Landmark, error) {
	return f.results, f.err
}

type fakeRoutes struct {
	mu      sync.Mutex
	origins []types.Point
}

func (f *fakeRoutes) GetRoute(_ context.Context, origin, destination types.Point, _ route.Mode) (route.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.origins = append(f.origins, origin)
	return route.Info{Waypoints: []types.Point{origin, destination}, DistanceMeters: 1000, Duration: 3 * time.Minute}, nil
}

func (f *fakeRoutes) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.origins)
}

func (f *fakeRoutes) lastOrigin() types.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.origins[len(f.origins)-1]
}

type harness struct {
	c          *Controller
	clock      *fakeClock
	bookings   *fakeBookings
	profiles   *fakeProfiles
	ledger     *memLedgerStore
	flags      *memRatingFlags
	area       *fakeArea
	fares      *fakeFares
	dispatcher *fakeDispatcher
	drivers    *fakeDriverFeed
	nearby     *fakeNearby
	landmarks  *fakeLandmarks
	routes     *fakeRoutes
}

var (
	pickupPoint = types.Point{Lat: 14.5547, Lng: 121.0244}
	destPoint   = types.Point{Lat: 14.5086, Lng: 121.0194}
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:      &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		bookings:   newFakeBookings(),
		profiles:   &fakeProfiles{profile: &passenger.Profile{Active: true}},
		ledger:     &memLedgerStore{ledgers: map[types.ID]passenger.Ledger{}},
		flags:      &memRatingFlags{prompted: map[types.ID]bool{}},
		area:       &fakeArea{outsideLat: 15},
		fares:      &fakeFares{quote: pricing.Quote{Amount: 99, PickupZone: "A", Source: pricing.SourceZoneZone}},
		dispatcher: &fakeDispatcher{calls: make(chan types.ID, 8)},
		drivers:    &fakeDriverFeed{feeds: map[types.ID]chan location.DriverLocation{}},
		nearby:     &fakeNearby{},
		landmarks:  &fakeLandmarks{},
		routes:     &fakeRoutes{},
	}
	h.c = h.newController(t)
	return h
}

// newController builds and starts another controller over the same fakes,
// as after an app restart.
func (h *harness) newController(t *testing.T) *Controller {
	t.Helper()
	ledger := passenger.NewLedgerService(h.ledger, passenger.DefaultLedgerPolicy(), logging.Discard()).WithClock(h.clock.Now)
	deps := Deps{
		Bookings:    h.bookings,
		Profiles:    h.profiles,
		Ledger:      ledger,
		RatingFlags: h.flags,
		ServiceArea: h.area,
		Fares:       h.fares,
		Dispatcher:  h.dispatcher,
		Drivers:     h.drivers,
		Nearby:      h.nearby,
		Landmarks:   h.landmarks,
		Routes:      h.routes,
	}
	c := NewController("p1", deps, DefaultConfig(), logging.Discard()).WithClock(h.clock.Now)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func (h *harness) request(t *testing.T) *order.Booking {
	t.Helper()
	b, err := h.c.RequestBooking(context.Background(), BookingRequest{
		Pickup:      order.Place{Address: "Ayala Triangle", Location: pickupPoint},
		Destination: order.Place{Address: "NAIA Terminal 3 - ₱250", Location: destPoint},
	})
	if err != nil {
		t.Fatalf("request booking: %v", err)
	}
	return b
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBackend = errors.New("backend unavailable")

func waitTimeout() <-chan time.Time {
	return time.After(time.Second)
}
