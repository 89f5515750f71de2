// README: Pricing service resolves zone-based fares and applies passenger discounts.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"rider/internal/observability"
	"rider/internal/types"
)

var (
	// ErrFareUnavailable means no configured fare covers the trip. Callers
	// must not fall back to a guessed amount.
	ErrFareUnavailable = errors.New("no fare configured for this trip")
	ErrNoPickupZone    = fmt.Errorf("%w: pickup is outside every fare zone", ErrFareUnavailable)
)

// ZoneResolver maps a coordinate to a fare zone name.
type ZoneResolver interface {
	ResolveZone(ctx context.Context, p types.Point) (string, bool, error)
}

type Resolver struct {
	zones ZoneResolver
	rules RuleSource
}

func NewResolver(zones ZoneResolver, rules RuleSource) *Resolver {
	return &Resolver{zones: zones, rules: rules}
}

// displaySuffix matches a trailing " - ₱50" style price tag on a place name.
var displaySuffix = regexp.MustCompile(`\s+-\s+\p{Sc}\s*[0-9][0-9,]*(?:\.[0-9]+)?\s*$`)

// CanonicalDestination strips a trailing display price from a destination name.
func CanonicalDestination(name string) string {
	return strings.TrimSpace(displaySuffix.ReplaceAllString(name, ""))
}

// ResolveFare looks up the fare from the zone containing pickup to the named
// destination, then to the zone containing destination.
func (s *Resolver) ResolveFare(ctx context.Context, pickup types.Point, destinationName string, destination types.Point) (Quote, error) {
	pickupZone, ok, err := s.zones.ResolveZone(ctx, pickup)
	if err != nil {
		return Quote{}, fmt.Errorf("resolving pickup zone: %w", err)
	}
	if !ok {
		return Quote{}, ErrNoPickupZone
	}

	key := CanonicalDestination(destinationName)
	if key != "" {
		amount, found, err := s.rules.ZoneToDestination(ctx, pickupZone, key)
		if err != nil {
			return Quote{}, err
		}
		if found {
			observability.FareResolutionsTotal.WithLabelValues(string(SourceZoneDestination)).Inc()
			return Quote{Amount: amount, PickupZone: pickupZone, DestinationKey: key, Source: SourceZoneDestination}, nil
		}
	}

	destZone, ok, err := s.zones.ResolveZone(ctx, destination)
	if err != nil {
		return Quote{}, fmt.Errorf("resolving destination zone: %w", err)
	}
	if ok {
		amount, found, err := s.rules.ZoneToZone(ctx, pickupZone, destZone)
		if err != nil {
			return Quote{}, err
		}
		if found {
			observability.FareResolutionsTotal.WithLabelValues(string(SourceZoneZone)).Inc()
			return Quote{
				Amount:          amount,
				PickupZone:      pickupZone,
				DestinationKey:  key,
				DestinationZone: destZone,
				Source:          SourceZoneZone,
			}, nil
		}
	}

	observability.FareResolutionsTotal.WithLabelValues("none").Inc()
	return Quote{}, fmt.Errorf("%w: %s to %s", ErrFareUnavailable, pickupZone, key)
}

// Discounted returns fare reduced by discountPercent, unrounded.
func Discounted(fare, discountPercent float64) float64 {
	if discountPercent <= 0 {
		return fare
	}
	return fare * (100 - discountPercent) / 100
}

// ApplyDiscount returns the discounted fare floored to a whole currency unit.
// The floored amount is both quoted and charged.
func ApplyDiscount(fare, discountPercent float64) int64 {
	return int64(math.Floor(Discounted(fare, discountPercent)))
}

// SplitFare charges the passenger and every companion the same base fare,
// each with their own discount, and sums the floored shares.
func SplitFare(base, passengerDiscount float64, companions []CompanionType, currency string) Split {
	split := Split{Base: base, Currency: currency}
	split.Shares = append(split.Shares, Share{
		Label:           "Passenger",
		DiscountPercent: passengerDiscount,
		Amount:          ApplyDiscount(base, passengerDiscount),
	})
	for _, c := range companions {
		pct := CompanionDiscounts[c]
		split.Shares = append(split.Shares, Share{
			Label:           companionLabel(c),
			DiscountPercent: pct,
			Amount:          ApplyDiscount(base, pct),
		})
	}
	for _, sh := range split.Shares {
		split.Total += sh.Amount
	}
	return split
}

// Breakdown renders the split as a single display line.
func (s Split) Breakdown() string {
	parts := make([]string, 0, len(s.Shares)+1)
	for _, sh := range s.Shares {
		if sh.DiscountPercent > 0 {
			parts = append(parts, fmt.Sprintf("%s %s%d (-%g%%)", sh.Label, s.Currency, sh.Amount, sh.DiscountPercent))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s%d", sh.Label, s.Currency, sh.Amount))
	}
	parts = append(parts, fmt.Sprintf("Total %s%d", s.Currency, s.Total))
	return strings.Join(parts, ", ")
}

func companionLabel(c CompanionType) string {
	switch c {
	case CompanionStudent:
		return "Student"
	case CompanionSenior:
		return "Senior"
	case CompanionChild:
		return "Child"
	default:
		return "Companion"
	}
}
