// README: Fare quotes, rules and companion fare types.
package pricing

// Source identifies which lookup produced a quote.
type Source string

const (
	SourceZoneDestination Source = "zone_destination"
	SourceZoneZone        Source = "zone_zone"
)

// FareRule is a configured fixed fare. Exactly one of Destination or
// DestinationZone is set.
type FareRule struct {
	Zone            string
	Destination     string
	DestinationZone string
	Amount          float64
}

type Quote struct {
	Amount          float64
	PickupZone      string
	DestinationKey  string
	DestinationZone string
	Source          Source
}

// CompanionType is the fare category of a rider travelling with the passenger.
type CompanionType string

const (
	CompanionRegular CompanionType = "regular"
	CompanionStudent CompanionType = "student"
	CompanionSenior  CompanionType = "senior"
	CompanionChild   CompanionType = "child"
)

// CompanionDiscounts is the fixed discount percentage for each companion type.
var CompanionDiscounts = map[CompanionType]float64{
	CompanionRegular: 0,
	CompanionStudent: 20,
	CompanionSenior:  20,
	CompanionChild:   50,
}

// Share is one rider's part of a split fare.
type Share struct {
	Label           string
	DiscountPercent float64
	Amount          int64
}

type Split struct {
	Base     float64
	Shares   []Share
	Total    int64
	Currency string
}
