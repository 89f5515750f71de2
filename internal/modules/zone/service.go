// README: Zone catalog resolves coordinates to fare zones and service areas with a TTL cache.
package zone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"rider/internal/cache"
	"rider/internal/geo"
	"rider/internal/observability"
	"rider/internal/types"
)

// DefaultTTL is how long fetched zones and boundaries are served before a refetch.
const DefaultTTL = 5 * time.Minute

const (
	zonesKey      = "zones"
	boundariesKey = "boundaries"
)

// ErrZonesUnavailable wraps a failed fetch. Callers get an empty result for
// that call and may retry later.
var ErrZonesUnavailable = errors.New("zone configuration unavailable")

type Catalog struct {
	src        Source
	zones      *cache.Cache[[]Zone]
	boundaries *cache.Cache[[]Boundary]
	log        *logrus.Entry
}

func NewCatalog(src Source, ttl time.Duration, log *logrus.Entry) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{
		src:        src,
		zones:      cache.New[[]Zone](ttl),
		boundaries: cache.New[[]Boundary](ttl),
		log:        log,
	}
}

// WithClock replaces the cache time source. Intended for tests.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	c.zones.WithClock(now)
	c.boundaries.WithClock(now)
	return c
}

// ResolveZone returns the name of the zone containing p. When several zones
// overlap at p the one with the smallest polygon area wins; equal areas keep
// source order. ok is false when no zone contains p.
func (c *Catalog) ResolveZone(ctx context.Context, p types.Point) (name string, ok bool, err error) {
	zones, err := c.activeZones(ctx)
	if err != nil {
		return "", false, err
	}

	bestArea := 0.0
	for _, z := range zones {
		if !geo.PointInPolygon(p, z.Points) {
			continue
		}
		area := geo.PolygonArea(z.Points)
		if !ok || area < bestArea {
			name, bestArea, ok = z.Name, area, true
		}
	}
	return name, ok, nil
}

// WithinServiceArea reports whether p lies inside at least one active
// service boundary. No configured boundaries means nowhere is serviceable.
func (c *Catalog) WithinServiceArea(ctx context.Context, p types.Point) (bool, error) {
	boundaries, err := c.activeBoundaries(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range boundaries {
		if geo.PointInPolygon(p, b.Points) {
			return true, nil
		}
	}
	return false, nil
}

// InvalidateCache forces the next lookup to refetch zones and boundaries.
func (c *Catalog) InvalidateCache() {
	c.zones.Clear()
	c.boundaries.Clear()
}

func (c *Catalog) activeZones(ctx context.Context) ([]Zone, error) {
	if zones, ok := c.zones.Get(zonesKey); ok {
		return zones, nil
	}
	fetched, err := c.src.FetchZones(ctx)
	if err != nil {
		observability.ZoneFetchFailuresTotal.WithLabelValues("zones").Inc()
		c.log.WithError(err).Warn("fetching fare zones failed")
		return nil, fmt.Errorf("%w: %v", ErrZonesUnavailable, err)
	}
	active := make([]Zone, 0, len(fetched))
	for _, z := range fetched {
		if z.Active && len(z.Points) >= 3 {
			active = append(active, z)
		}
	}
	c.zones.Set(zonesKey, active)
	return active, nil
}

func (c *Catalog) activeBoundaries(ctx context.Context) ([]Boundary, error) {
	if b, ok := c.boundaries.Get(boundariesKey); ok {
		return b, nil
	}
	fetched, err := c.src.FetchBoundaries(ctx)
	if err != nil {
		observability.ZoneFetchFailuresTotal.WithLabelValues("boundaries").Inc()
		c.log.WithError(err).Warn("fetching service boundaries failed")
		return nil, fmt.Errorf("%w: %v", ErrZonesUnavailable, err)
	}
	active := make([]Boundary, 0, len(fetched))
	for _, b := range fetched {
		if b.Active && len(b.Points) >= 3 {
			active = append(active, b)
		}
	}
	c.boundaries.Set(boundariesKey, active)
	return active, nil
}
