// README: Trip session controller owns one passenger's booking, driver tracking and published state.
package trip

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"rider/internal/cache"
	"rider/internal/maps"
	"rider/internal/modules/location"
	"rider/internal/modules/matching"
	"rider/internal/modules/order"
	"rider/internal/modules/passenger"
	"rider/internal/modules/pricing"
	"rider/internal/modules/route"
	"rider/internal/observability"
	"rider/internal/types"
)

type Bookings interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.Booking, error)
	Get(ctx context.Context, id types.ID) (*order.Booking, error)
	Cancel(ctx context.Context, cmd order.CancelCommand) (*order.Booking, error)
	ActiveByPassenger(ctx context.Context, passengerID types.ID) (*order.Booking, error)
	History(ctx context.Context, passengerID types.ID, limit int) ([]order.Booking, error)
	Watch(ctx context.Context, id types.ID, fn func(*order.Booking)) error
}

type Ledger interface {
	Check(ctx context.Context, passengerID types.ID) error
	Record(ctx context.Context, passengerID types.ID) (passenger.Ledger, error)
}

type ServiceArea interface {
	WithinServiceArea(ctx context.Context, p types.Point) (bool, error)
}

type Fares interface {
	ResolveFare(ctx context.Context, pickup types.Point, destinationName string, destination types.Point) (pricing.Quote, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, b *order.Booking) (matching.Result, error)
}

type DriverFeed interface {
	WatchDriver(ctx context.Context, driverID types.ID, fn func(location.DriverLocation)) error
}

type NearbyDrivers interface {
	GetNearbyDrivers(ctx context.Context, center types.Point, radiusMeters float64) ([]location.DriverLocation, error)
}

type Landmarks interface {
	SearchLandmarks(ctx context.Context, query string, opts *maps.SearchOptions) ([]maps.Landmark, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Bookings    Bookings
	Profiles    passenger.ProfileStore
	Ledger      Ledger
	RatingFlags passenger.RatingFlags
	ServiceArea ServiceArea
	Fares       Fares
	Dispatcher  Dispatcher
	Drivers     DriverFeed
	Nearby      NearbyDrivers
	Landmarks   Landmarks
	Routes      route.Provider
}

// subscription is one long-lived listener keyed by the id it follows.
type subscription struct {
	key    types.ID
	cancel context.CancelFunc
}

// leg identifies which route the tracker currently follows.
type leg int

const (
	legNone leg = iota
	legToPickup
	legToDestination
)

type Controller struct {
	passengerID types.ID
	deps        Deps
	cfg         Config
	log         *logrus.Entry
	now         func() time.Time

	tracker   *route.Tracker
	throttle  *driverThrottle
	proximity *proximityTracker
	// suppressed holds ids of bookings cancelled locally during the grace window.
	suppressed *cache.Cache[struct{}]

	state   atomic.Pointer[State]
	stateMu sync.Mutex
	subsMu  sync.Mutex
	subs    map[chan *State]struct{}

	cancelling atomic.Bool

	mu             sync.Mutex
	ctx            context.Context
	stop           context.CancelFunc
	closed         bool
	bookingSub     *subscription
	driverSub      *subscription
	currentLeg     leg
	lastDriverSeen time.Time

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewController(passengerID types.ID, deps Deps, cfg Config, log *logrus.Entry) *Controller {
	cfg = cfg.withDefaults()
	log = log.WithField("passenger_id", passengerID)
	c := &Controller{
		passengerID: passengerID,
		deps:        deps,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
		tracker:     route.NewTracker(deps.Routes, cfg.Route, log.WithField("component", "route")),
		throttle:    newDriverThrottle(cfg.DriverMinMoveMeters, cfg.DriverMinInterval),
		proximity:   newProximityTracker(cfg.NearMeters, cfg.VeryNearMeters, cfg.AlertCooldown),
		suppressed:  cache.New[struct{}](cfg.CancelGrace),
		subs:        make(map[chan *State]struct{}),
	}
	c.state.Store(&State{PassengerID: passengerID})
	return c
}

// WithClock replaces the time source of the controller and the components it
// owns. Intended for tests; call before Start.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	c.tracker.WithClock(now)
	c.suppressed.WithClock(now)
	return c
}

// Start binds the session to ctx, restores an active booking and loads the
// profile and history. Reads that fail are logged and left empty.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ctx != nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.stop = context.WithCancel(ctx)
	sessionCtx := c.ctx
	c.mu.Unlock()
	observability.ActiveSessions.Inc()

	c.loadProfile(sessionCtx)
	c.spawn(func() { c.watchProfile(sessionCtx) })

	active, err := c.deps.Bookings.ActiveByPassenger(sessionCtx, c.passengerID)
	switch {
	case err == nil:
		c.update(func(s *State) { s.Booking = active })
		if err := c.MonitorBooking(active.ID); err != nil && !errors.Is(err, ErrAlreadyMonitoring) {
			c.log.WithError(err).Warn("restore booking monitor failed")
		}
	case errors.Is(err, order.ErrNotFound):
	default:
		c.log.WithError(err).Warn("active booking lookup failed")
	}

	c.RefreshHistory(sessionCtx)
	c.spawn(func() { c.runWatchdog(sessionCtx) })
	return nil
}

// Close cancels every subscription and periodic task and waits for them.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		stop := c.stop
		started := c.ctx != nil
		c.bookingSub, c.driverSub = nil, nil
		c.mu.Unlock()

		if stop != nil {
			stop()
		}
		c.tracker.Clear()
		c.wg.Wait()

		c.subsMu.Lock()
		for ch := range c.subs {
			close(ch)
			delete(c.subs, ch)
		}
		c.subsMu.Unlock()
		if started {
			observability.ActiveSessions.Dec()
		}
	})
}

// Idle reports whether the session holds no booking and has no subscribers.
func (c *Controller) Idle() bool {
	if c.Snapshot().Booking != nil {
		return false
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return len(c.subs) == 0
}

// Snapshot returns the current published state.
func (c *Controller) Snapshot() *State {
	return c.state.Load()
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers skip intermediate versions. The channel is closed by the returned
// func or by Close.
func (c *Controller) Subscribe() (<-chan *State, func()) {
	ch := make(chan *State, 1)
	c.subsMu.Lock()
	if c.isClosed() {
		c.subsMu.Unlock()
		ch <- c.Snapshot()
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	ch <- c.Snapshot()
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

// Dismiss clears the current notice and proximity alert.
func (c *Controller) Dismiss() {
	c.update(func(s *State) {
		s.Notice = nil
		s.Alert = nil
	})
}

// update publishes a copy of the current state with fn applied. fn must
// replace pointer fields rather than mutate what they point at.
func (c *Controller) update(fn func(s *State)) *State {
	c.stateMu.Lock()
	next := *c.state.Load()
	fn(&next)
	next.Version++
	next.UpdatedAt = c.now()
	c.state.Store(&next)
	c.stateMu.Unlock()

	c.broadcast(&next)
	return &next
}

func (c *Controller) broadcast(s *State) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- s:
		default:
			// replace the unread version
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// spawn runs fn as a session task that Close waits for.
func (c *Controller) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Controller) sessionContext() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.ctx == nil {
		return nil, ErrNotStarted
	}
	return c.ctx, nil
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) loadProfile(ctx context.Context) {
	p, err := c.deps.Profiles.Get(ctx, c.passengerID)
	if err != nil {
		c.log.WithError(err).Warn("profile load failed")
		return
	}
	c.applyProfile(p)
}

func (c *Controller) watchProfile(ctx context.Context) {
	if err := c.deps.Profiles.Watch(ctx, c.passengerID, c.applyProfile); err != nil {
		c.log.WithError(err).Warn("profile listener stopped")
	}
}

func (c *Controller) applyProfile(p *passenger.Profile) {
	c.update(func(s *State) {
		s.DiscountPercent = p.DiscountPercent
		s.Blocked = p.Blocked || !p.Active
	})
}

// RefreshHistory reloads past bookings. Failures keep the previous list.
func (c *Controller) RefreshHistory(ctx context.Context) {
	history, err := c.deps.Bookings.History(ctx, c.passengerID, c.cfg.HistoryLimit)
	if err != nil {
		c.log.WithError(err).Warn("history refresh failed")
		return
	}
	c.update(func(s *State) { s.History = history })
}

// RefreshNearbyDrivers reloads online drivers around center. Failures keep
// the previous list.
func (c *Controller) RefreshNearbyDrivers(ctx context.Context, center types.Point) {
	drivers, err := c.deps.Nearby.GetNearbyDrivers(ctx, center, c.cfg.NearbyRadiusMeters)
	if err != nil {
		c.log.WithError(err).Warn("nearby drivers refresh failed")
		return
	}
	c.update(func(s *State) { s.NearbyDrivers = drivers })
}

// Landmarks searches places for pickup or destination suggestions. Failures
// return an empty list.
func (c *Controller) Landmarks(ctx context.Context, query string, near *types.Point) []maps.Landmark {
	var opts *maps.SearchOptions
	if near != nil {
		opts = &maps.SearchOptions{Near: *near, RadiusMeters: uint(c.cfg.NearbyRadiusMeters * 5)}
	}
	results, err := c.deps.Landmarks.SearchLandmarks(ctx, query, opts)
	if err != nil {
		c.log.WithError(err).Warn("landmark search failed")
		return []maps.Landmark{}
	}
	return results
}
