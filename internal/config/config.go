// README: Config loader; environment variables via go-envconfig with defaults for HTTP, stores, dispatch and auth.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"

	AvailabilityRedis    = "redis"
	AvailabilityFirebase = "firebase"
	AvailabilityMemory   = "memory"

	AuthFirebase = "firebase"
	AuthJWT      = "jwt"
)

type HTTPConfig struct {
	Addr            string        `env:"RIDEHAIL_HTTP_ADDR, default=:8080"`
	ShutdownTimeout time.Duration `env:"RIDEHAIL_HTTP_SHUTDOWN_TIMEOUT, default=10s"`
}

type LogConfig struct {
	Level  string `env:"RIDEHAIL_LOG_LEVEL, default=info"`
	Format string `env:"RIDEHAIL_LOG_FORMAT, default=json"`
}

type DBConfig struct {
	DSN string `env:"RIDEHAIL_DB_DSN"`
}

type MongoConfig struct {
	URI      string `env:"RIDEHAIL_MONGO_URI"`
	Database string `env:"RIDEHAIL_MONGO_DATABASE, default=sharedride"`
}

type RedisConfig struct {
	Addr string `env:"RIDEHAIL_REDIS_ADDR, default=localhost:6379"`
	DB   int    `env:"RIDEHAIL_REDIS_DB, default=0"`
}

type DispatchConfig struct {
	RadiusKm        float64       `env:"RIDEHAIL_DISPATCH_RADIUS_KM, default=3"`
	Freshness       time.Duration `env:"RIDEHAIL_DISPATCH_FRESHNESS, default=10m"`
	DeliveryTimeout time.Duration `env:"RIDEHAIL_DISPATCH_DELIVERY_TIMEOUT, default=3s"`
	OfferTTL        time.Duration `env:"RIDEHAIL_DISPATCH_OFFER_TTL, default=2m"`
	MaxOffers       int           `env:"RIDEHAIL_DISPATCH_MAX_OFFERS, default=0"`
}

type NotifyConfig struct {
	RedisRelay bool `env:"RIDEHAIL_NOTIFY_REDIS_RELAY, default=true"`
	FCM        bool `env:"RIDEHAIL_NOTIFY_FCM, default=false"`
}

type AuthConfig struct {
	Provider  string `env:"RIDEHAIL_AUTH, default=firebase"`
	JWTSecret string `env:"RIDEHAIL_JWT_SECRET"`
}

type FirebaseConfig struct {
	ProjectID       string `env:"RIDEHAIL_FIREBASE_PROJECT_ID"`
	CredentialsFile string `env:"RIDEHAIL_FIREBASE_CREDENTIALS"`
	DatabaseURL     string `env:"RIDEHAIL_FIREBASE_DATABASE_URL"`
}

type Config struct {
	Env string `env:"RIDEHAIL_ENV, default=development"`
	// LocationKey is the hex AES-256 key for stored coordinates. There is no default.
	LocationKey  string `env:"RIDEHAIL_LOCATION_KEY, required"`
	Store        string `env:"RIDEHAIL_STORE, default=postgres"`
	Availability string `env:"RIDEHAIL_AVAILABILITY, default=redis"`

	HTTP     HTTPConfig
	Log      LogConfig
	DB       DBConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
	Notify   NotifyConfig
	Auth     AuthConfig
	Firebase FirebaseConfig
}

// Load reads the process environment.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}
	cfg.Store = strings.ToLower(cfg.Store)
	cfg.Availability = strings.ToLower(cfg.Availability)
	cfg.Auth.Provider = strings.ToLower(cfg.Auth.Provider)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c Config) NeedsRedis() bool {
	return c.Availability == AvailabilityRedis || c.Notify.RedisRelay
}

// NeedsFirebaseApp reports whether Firebase auth, RTDB or FCM is in use.
func (c Config) NeedsFirebaseApp() bool {
	return c.Auth.Provider == AuthFirebase || c.Availability == AvailabilityFirebase || c.Notify.FCM
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LocationKey) == "" {
		errs = append(errs, errors.New("RIDEHAIL_LOCATION_KEY is required"))
	}
	switch c.Store {
	case StorePostgres:
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("RIDEHAIL_DB_DSN is required for the postgres store"))
		}
	case StoreMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("RIDEHAIL_MONGO_URI is required for the mongo store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown RIDEHAIL_STORE %q", c.Store))
	}
	switch c.Availability {
	case AvailabilityRedis, AvailabilityMemory:
	case AvailabilityFirebase:
		if c.Firebase.DatabaseURL == "" {
			errs = append(errs, errors.New("RIDEHAIL_FIREBASE_DATABASE_URL is required for firebase availability"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RIDEHAIL_AVAILABILITY %q", c.Availability))
	}
	switch c.Auth.Provider {
	case AuthFirebase:
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("RIDEHAIL_FIREBASE_PROJECT_ID is required for firebase auth"))
		}
	case AuthJWT:
		if len(c.Auth.JWTSecret) < 16 {
			errs = append(errs, errors.New("RIDEHAIL_JWT_SECRET must be at least 16 bytes for jwt auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RIDEHAIL_AUTH %q", c.Auth.Provider))
	}
	// Push looks up device tokens in RTDB.
	if c.Notify.FCM && c.Firebase.DatabaseURL == "" {
		errs = append(errs, errors.New("RIDEHAIL_FIREBASE_DATABASE_URL is required when RIDEHAIL_NOTIFY_FCM is enabled"))
	}
	if c.Dispatch.RadiusKm < 0 {
		errs = append(errs, errors.New("RIDEHAIL_DISPATCH_RADIUS_KM must not be negative"))
	}
	if c.Dispatch.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("RIDEHAIL_DISPATCH_DELIVERY_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}
