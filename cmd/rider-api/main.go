// README: Entry point; loads config, wires services and serves the rider API until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"rider/internal/config"
	httptransport "rider/internal/http"
	"rider/internal/http/handlers"
	"rider/internal/infra"
	"rider/internal/logging"
	"rider/internal/maps"
	"rider/internal/modules/location"
	"rider/internal/modules/matching"
	"rider/internal/modules/order"
	"rider/internal/modules/passenger"
	"rider/internal/modules/pricing"
	"rider/internal/modules/route"
	"rider/internal/modules/trip"
	"rider/internal/modules/zone"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("rider api stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	log := logging.Module(logger, "main")

	app, err := infra.NewFirebaseApp(ctx, infra.FirebaseConfig{
		ProjectID:       cfg.Firebase.ProjectID,
		CredentialsFile: cfg.Firebase.CredentialsFile,
		DatabaseURL:     cfg.Firebase.DatabaseURL,
	})
	if err != nil {
		return err
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		return err
	}
	fs, err := infra.NewFirestore(ctx, app)
	if err != nil {
		return err
	}
	defer fs.Close()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	routes, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Region)
	if err != nil {
		return err
	}
	places, err := maps.NewPlacesService(cfg.Maps.APIKey, cfg.Maps.Language, cfg.Maps.Region)
	if err != nil {
		return err
	}

	zones := zone.NewCatalog(zone.NewPostgresSource(dbPool), cfg.Zones.CacheTTL, logging.Module(logger, "zone"))
	fares := pricing.NewResolver(zones, pricing.NewPostgresRules(dbPool))

	orderStore := order.NewFirestoreStore(fs)
	orderSvc := order.NewService(orderStore, logging.Module(logger, "order"))

	ledger := passenger.NewLedgerService(passenger.NewRedisLedgerStore(redisClient), passenger.LedgerPolicy{
		Limit:      cfg.Ledger.Limit,
		ResetAfter: cfg.Ledger.ResetAfter,
	}, logging.Module(logger, "passenger"))

	drivers, err := location.NewFirebaseService(ctx, app, logging.Module(logger, "location"))
	if err != nil {
		return err
	}
	feed := location.NewFeed(drivers, cfg.Driver.PollInterval, logging.Module(logger, "location"))

	dispatcher := matching.NewService(matching.NewStore(redisClient), drivers, drivers, orderStore, matching.Config{
		MaxCandidates: cfg.Matching.MaxCandidates,
		PoolSize:      cfg.Matching.PoolSize,
		RadiusMeters:  cfg.Matching.RadiusMeters,
	}, logging.Module(logger, "matching"))

	sessions := trip.NewManager(ctx, trip.Deps{
		Bookings:    orderSvc,
		Profiles:    passenger.NewFirestoreProfiles(fs),
		Ledger:      ledger,
		RatingFlags: passenger.NewRedisRatingFlags(redisClient),
		ServiceArea: zones,
		Fares:       fares,
		Dispatcher:  dispatcher,
		Drivers:     feed,
		Nearby:      drivers,
		Landmarks:   places,
		Routes:      routes,
	}, tripConfig(cfg), logging.Module(logger, "trip"))
	defer sessions.Close()
	go sessions.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router, err := httptransport.NewRouter(httptransport.RouterDeps{
		Sessions:    handlers.ManagerSessions(sessions),
		Verifier:    verifier,
		BookingRate: cfg.HTTP.BookingRate,
		Redis:       redisClient,
		Log:         logging.Module(logger, "http"),
	})
	if err != nil {
		return err
	}

	log.Info("rider api starting")
	return httptransport.NewServer(cfg.HTTP.Addr, router, logging.Module(logger, "http")).Run(ctx)
}

func tripConfig(cfg config.Config) trip.Config {
	tc := trip.DefaultConfig()
	tc.DriverMinMoveMeters = cfg.Trip.DriverMinMoveMeters
	tc.DriverMinInterval = cfg.Trip.DriverMinInterval
	tc.DriverStaleAfter = cfg.Trip.DriverStaleAfter
	tc.NearMeters = cfg.Trip.NearMeters
	tc.VeryNearMeters = cfg.Trip.VeryNearMeters
	tc.AlertCooldown = cfg.Trip.AlertCooldown
	tc.CancelGrace = cfg.Trip.CancelGrace
	tc.AvgSpeedKmh = cfg.Trip.AvgSpeedKmh
	tc.Currency = cfg.Trip.Currency
	tc.CurrencySymbol = cfg.Trip.CurrencySymbol
	tc.SessionIdleTimeout = cfg.Trip.SessionIdleTimeout
	tc.SessionReapInterval = cfg.Trip.SessionReapInterval
	tc.Route = route.Config{
		CheckInterval:    cfg.Route.CheckInterval,
		DeviationMeters:  cfg.Route.DeviationMeters,
		Cooldown:         cfg.Route.Cooldown,
		FallbackSpeedMps: cfg.Route.FallbackSpeedKmh / 3.6,
	}
	return tc
}
