// Package location provides Firebase-based driver location queries and push
// notifications for the passenger session.
package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"rider/internal/geo"
	"rider/internal/types"
)

const (
	driverLocationsNode = "driver_locations"
	driverTokensNode    = "driver_tokens"
)

// FirebaseService provides driver location queries via RTDB and push
// notifications via FCM. It is decoupled from the booking module.
type FirebaseService struct {
	dbClient  *db.Client
	msgClient *messaging.Client
	log       *logrus.Entry
}

// NewFirebaseService builds the RTDB and FCM clients from an initialised app.
func NewFirebaseService(ctx context.Context, app *firebase.App, log *logrus.Entry) (*FirebaseService, error) {
	dbClient, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return &FirebaseService{dbClient: dbClient, msgClient: msgClient, log: log}, nil
}

// rtdbDriverEntry mirrors a single driver entry under /driver_locations.
type rtdbDriverEntry struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Status      string  `json:"status"`
	VehicleType string  `json:"vehicleType"`
	Timestamp   int64   `json:"timestamp"`
}

func (e rtdbDriverEntry) toLocation(id string) DriverLocation {
	return DriverLocation{
		DriverID:    types.ID(id),
		Position:    types.Point{Lat: e.Lat, Lng: e.Lng},
		Status:      e.Status,
		VehicleType: e.VehicleType,
		UpdatedAt:   time.UnixMilli(e.Timestamp).UTC(),
	}
}

// queryOnlineDrivers fetches only drivers with status "online".
func (s *FirebaseService) queryOnlineDrivers(ctx context.Context) (map[string]rtdbDriverEntry, error) {
	ref := s.dbClient.NewRef(driverLocationsNode)

	var data map[string]rtdbDriverEntry
	if err := ref.OrderByChild("status").EqualTo(DriverOnline).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("querying online drivers: %w", err)
	}
	return data, nil
}

// GetNearbyDrivers returns online drivers within radiusMeters of center,
// closest first.
func (s *FirebaseService) GetNearbyDrivers(ctx context.Context, center types.Point, radiusMeters float64) ([]DriverLocation, error) {
	data, err := s.queryOnlineDrivers(ctx)
	if err != nil {
		return nil, err
	}
	return nearby(data, center, radiusMeters), nil
}

func nearby(data map[string]rtdbDriverEntry, center types.Point, radiusMeters float64) []DriverLocation {
	var result []DriverLocation
	for id, entry := range data {
		loc := entry.toLocation(id)
		loc.Distance = geo.HaversineMeters(center, loc.Position)
		if loc.Distance <= radiusMeters {
			result = append(result, loc)
		}
	}
	geo.SortByDistance(result, func(d DriverLocation) float64 { return d.Distance })
	return result
}

// GetDriverLocation reads one driver's entry. ok is false when absent.
func (s *FirebaseService) GetDriverLocation(ctx context.Context, driverID types.ID) (DriverLocation, bool, error) {
	var entry *rtdbDriverEntry
	if err := s.dbClient.NewRef(driverLocationsNode).Child(string(driverID)).Get(ctx, &entry); err != nil {
		return DriverLocation{}, false, fmt.Errorf("reading driver %s: %w", driverID, err)
	}
	if entry == nil {
		return DriverLocation{}, false, nil
	}
	return entry.toLocation(string(driverID)), true, nil
}

// DeviceToken resolves the FCM token registered by a driver's device.
func (s *FirebaseService) DeviceToken(ctx context.Context, driverID types.ID) (string, error) {
	var token string
	if err := s.dbClient.NewRef(driverTokensNode).Child(string(driverID)).Get(ctx, &token); err != nil {
		return "", fmt.Errorf("reading token for driver %s: %w", driverID, err)
	}
	return token, nil
}

// NotifyDriverNewBooking sends an FCM data message to a driver's device.
func (s *FirebaseService) NotifyDriverNewBooking(ctx context.Context, deviceToken string, n BookingNotice) error {
	if deviceToken == "" {
		return fmt.Errorf("empty device token for booking %s", string(n.BookingID))
	}

	msg := &messaging.Message{
		Token: deviceToken,
		Data:  noticeData(n),
		Notification: &messaging.Notification{
			Title: "New ride request",
			Body:  fmt.Sprintf("Pickup nearby, fare %s %d", n.Currency, n.Fare),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := s.msgClient.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM for booking %s: %w", n.BookingID, err)
	}

	s.log.WithFields(logrus.Fields{"booking_id": n.BookingID, "message_id": messageID}).Debug("FCM sent")
	return nil
}

func noticeData(n BookingNotice) map[string]string {
	return map[string]string{
		"type":        "new_booking",
		"booking_id":  string(n.BookingID),
		"pickup_lat":  strconv.FormatFloat(n.Pickup.Lat, 'f', 6, 64),
		"pickup_lng":  strconv.FormatFloat(n.Pickup.Lng, 'f', 6, 64),
		"dropoff_lat": strconv.FormatFloat(n.Destination.Lat, 'f', 6, 64),
		"dropoff_lng": strconv.FormatFloat(n.Destination.Lng, 'f', 6, 64),
		"address":     n.Address,
		"fare":        strconv.FormatInt(n.Fare, 10),
		"currency":    n.Currency,
	}
}
