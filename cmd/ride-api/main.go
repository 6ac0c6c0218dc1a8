// README: Entry point; loads config, wires stores, dispatch and notifiers, serves HTTP until signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sharedride/internal/config"
	httptransport "sharedride/internal/http"
	"sharedride/internal/http/handlers"
	"sharedride/internal/infra"
	"sharedride/internal/modules/dispatch"
	"sharedride/internal/modules/geocrypt"
	"sharedride/internal/modules/location"
	"sharedride/internal/modules/payment"
	"sharedride/internal/modules/pricing"
	"sharedride/internal/modules/ride"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := infra.NewLogger(cfg.Log.Level, cfg.Log.Format, nil)

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("ride-api stopped")
	}
}

type backends struct {
	rides    ride.Store
	payments payment.Store
	checks   map[string]handlers.Pinger
	closers  []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	codec, err := geocrypt.NewFromHex(cfg.LocationKey)
	if err != nil {
		return fmt.Errorf("location key: %w", err)
	}

	b, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		b.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var app *firebase.App
	if cfg.NeedsFirebaseApp() {
		app, err = infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			return err
		}
	}

	verifier, err := newVerifier(ctx, cfg, app)
	if err != nil {
		return err
	}

	var fb *location.FirebaseService
	if app != nil && (cfg.Availability == config.AvailabilityFirebase || cfg.Notify.FCM) {
		fb, err = location.NewFirebaseService(ctx, app, location.Options{
			RadiusKm:  cfg.Dispatch.RadiusKm,
			Database:  cfg.Firebase.DatabaseURL != "",
			Messaging: cfg.Notify.FCM,
		}, log)
		if err != nil {
			return err
		}
	}

	payments := payment.NewService(b.payments, log)
	coord := ride.NewCoordinator(b.rides, codec, pricing.NewCalculator(),
		ride.WithCharger(payments),
		ride.WithLogger(log),
		ride.WithFreshnessWindow(cfg.Dispatch.Freshness),
	)

	var (
		registry dispatch.Registry
		writer   dispatch.AvailabilityWriter
	)
	switch cfg.Availability {
	case config.AvailabilityRedis:
		r := dispatch.NewRedisRegistry(rdb, cfg.Dispatch.RadiusKm)
		registry, writer = r, r
	case config.AvailabilityFirebase:
		registry = fb
	default:
		r := dispatch.NewMemoryRegistry(cfg.Dispatch.RadiusKm)
		registry, writer = r, r
	}

	var pending dispatch.PendingStore = dispatch.NewMemoryPendingStore()
	if rdb != nil {
		pending = dispatch.NewRedisPendingStore(rdb)
	}

	hub := dispatch.NewHub(0)
	notifier := dispatch.Fanout{hub}
	if cfg.Notify.RedisRelay {
		relay := dispatch.NewRedisRelay(rdb, hub, log)
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error().Err(err).Msg("notification relay stopped")
			}
		}()
		notifier = dispatch.Fanout{relay}
	}
	if cfg.Notify.FCM && fb != nil {
		notifier = append(notifier, dispatch.NewPushNotifier(fb))
	}

	broadcaster := dispatch.NewBroadcaster(coord, registry, pending, notifier, cfg.Dispatch, log)
	defer broadcaster.Wait()

	router, err := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:        coord,
		Dispatch:     broadcaster,
		Availability: writer,
		Hub:          hub,
		Verifier:     verifier,
		Checks:       b.checks,
		Log:          log,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("env", cfg.Env).
		Str("store", cfg.Store).
		Str("availability", cfg.Availability).
		Str("auth", cfg.Auth.Provider).
		Msg("ride-api starting")
	return httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log).Run(ctx)
}

func openStores(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{checks: map[string]handlers.Pinger{}}
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.rides = ride.NewPGStore(pool)
		b.payments = payment.NewPGStore(pool)
		b.checks["postgres"] = pool.Ping
	case config.StoreMongo:
		client, db, err := infra.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })
		rides := ride.NewMongoStore(db)
		if err := rides.EnsureIndexes(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("ride indexes: %w", err)
		}
		payments := payment.NewMongoStore(db)
		if err := payments.EnsureIndexes(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("payment indexes: %w", err)
		}
		b.rides, b.payments = rides, payments
		b.checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	default:
		b.rides = ride.NewMemoryStore()
		b.payments = payment.NewMemoryStore()
	}
	return b, nil
}

func newVerifier(ctx context.Context, cfg config.Config, app *firebase.App) (infra.TokenVerifier, error) {
	if cfg.Auth.Provider == config.AuthJWT {
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret)
	}
	return infra.NewFirebaseVerifier(ctx, app)
}
