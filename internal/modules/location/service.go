// README: Driver feed turns point reads of a driver's position into a stream of changes.
package location

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"rider/internal/types"
)

// Reader is the point lookup a Feed polls.
type Reader interface {
	GetDriverLocation(ctx context.Context, driverID types.ID) (DriverLocation, bool, error)
}

type Feed struct {
	reader   Reader
	interval time.Duration
	log      *logrus.Entry
}

func NewFeed(reader Reader, interval time.Duration, log *logrus.Entry) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{reader: reader, interval: interval, log: log}
}

// WatchDriver calls fn for every new position of driverID until ctx ends.
// A position is new when its timestamp or coordinates differ from the last
// one delivered. Read errors are logged and retried on the next tick.
func (f *Feed) WatchDriver(ctx context.Context, driverID types.ID, fn func(DriverLocation)) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	var last DriverLocation
	var seen bool
	for {
		loc, ok, err := f.reader.GetDriverLocation(ctx, driverID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			f.log.WithError(err).WithField("driver_id", driverID).Warn("driver location read failed")
		case ok && (!seen || loc.UpdatedAt != last.UpdatedAt || loc.Position != last.Position):
			last, seen = loc, true
			fn(loc)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
