package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/sing3demons/instance-identity/internal/config"
	"github.com/sing3demons/instance-identity/internal/database"
	"github.com/sing3demons/instance-identity/internal/discover"
	"github.com/sing3demons/instance-identity/internal/identity"
	"github.com/sing3demons/instance-identity/internal/keyring"
	"github.com/sing3demons/instance-identity/internal/keystone"
	"github.com/sing3demons/instance-identity/internal/metrics"
	"github.com/sing3demons/instance-identity/internal/notify"
	"github.com/sing3demons/instance-identity/internal/token"
	"github.com/sing3demons/instance-identity/pkg/kafka"
	"github.com/sing3demons/instance-identity/pkg/kp"
	"github.com/sing3demons/instance-identity/pkg/logger"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

const (
	pathVendordata = "/vendordata/instance-identity"
	pathDiscovery  = "/.well-known/openid-configuration"
	pathJwks       = "/.well-known/jwks.json"
	pathMetrics    = "/metrics"
)

func main() {
	godotenv.Load()
	cfg, err := config.NewConfigManager()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	mlog.SetDefault(logger.NewLoggerWithConfig(cfg.ServiceName, cfg.Version, &cfg.LoggerConfig))

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	m, err := metrics.New(nil)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	app := kp.NewMicroservice(cfg)

	store, closeStore, err := newStateStore(startupCtx, cfg)
	if err != nil {
		log.Fatalf("failed to open jwks state: %v", err)
	}
	app.OnShutdown(closeStore)

	ringOpts := []keyring.Option{
		keyring.WithMaxKeys(cfg.Oidc.MaxKeys),
		keyring.WithRotationPeriod(cfg.Oidc.KeyRotationPeriod),
		keyring.WithLogger(mlog.Default()),
		keyring.WithOnRotate(func(_ context.Context, ev keyring.RotationEvent) {
			m.KeyRotated(ev.Algorithm, ev.Keys)
			if ev.PersistErr != nil {
				m.PersistenceFailed()
			}
		}),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafka.New(cfg.Kafka.PublisherConfig())
		if err != nil {
			log.Fatalf("failed to create kafka publisher: %v", err)
		}
		notifier := notify.NewRotationNotifier(publisher, cfg.Kafka.RotationTopic, cfg.JwksURI(), m)
		ringOpts = append(ringOpts, keyring.WithOnRotate(notifier.OnRotate))
		app.OnShutdown(func(context.Context) {
			if err := notifier.Close(); err != nil {
				log.Printf("failed to close kafka publisher: %v", err)
			}
		})
	}

	ring, err := keyring.New(startupCtx, cfg.Oidc.SigningAlgorithm, store, ringOpts...)
	if err != nil {
		log.Fatalf("failed to initialise key ring: %v", err)
	}

	rotator := keyring.NewRotator(ring, cfg.Oidc.RotationCheckInterval)
	if rotator.Enabled() {
		rotatorCtx, stopRotator := context.WithCancel(context.Background())
		rotatorDone := make(chan struct{})
		go func() {
			defer close(rotatorDone)
			rotator.Run(rotatorCtx)
		}()
		// runs before the notifier is closed; a rotation in flight finishes first
		app.OnShutdown(func(context.Context) {
			stopRotator()
			<-rotatorDone
		})
	}

	issuer := token.NewTokenIssuer(ring, token.Config{
		Issuer:             cfg.Oidc.Issuer,
		Audience:           cfg.Oidc.Audience,
		Lifetime:           cfg.Oidc.TokenLifetime,
		AllowClaimOverride: cfg.Oidc.AllowClaimOverride,
	}, token.WithRecorder(m))

	var keystoneClient *keystone.Client
	if cfg.Keystone.Enabled || cfg.ProjectNameLookup {
		keystoneClient = keystone.NewClient(cfg.Keystone, nil)
	}

	identityOpts := []identity.Option{identity.WithLookupRecorder(m)}
	if cfg.ProjectNameLookup {
		cache := identity.NewMemoryCache(identity.DefaultProjectNameTTL)
		if cfg.RedisConfig.Addr != "" {
			rdb, err := database.NewRedisConfig(&cfg.RedisConfig)
			if err != nil {
				log.Fatalf("failed to connect to redis: %v", err)
			}
			app.OnShutdown(func(context.Context) { rdb.Close() })
			cache = identity.NewRedisCache(rdb, identity.DefaultProjectNameTTL)
		}
		identityOpts = append(identityOpts, identity.WithProjectNames(keystoneClient, cache))
	}
	identityHandler := identity.NewIdentityHandler(identity.NewIdentityService(issuer, identityOpts...))

	claims := append(token.RegisteredClaims(), identity.InstanceClaims()...)
	discoverHandler := discover.NewDiscoverHandler(cfg, ring, claims)

	app.Use(kp.RecoverMiddleware)
	app.Use(m.Middleware(pathVendordata, pathDiscovery, pathJwks, pathMetrics))
	if cfg.Keystone.Enabled {
		app.Use(keystone.AuthMiddleware(keystoneClient))
	}

	app.POST(pathVendordata, identityHandler.VendordataHandler)
	app.GET(pathDiscovery, discoverHandler.OIDCHandler)
	app.GET(pathJwks, discoverHandler.JwksHandler)
	app.Handle("GET "+pathMetrics, m.Handler())

	app.Start()
}

// newStateStore opens the configured JWKS persistence backend. The returned func releases it.
func newStateStore(ctx context.Context, cfg *config.AppConfig) (keyring.StateStore, func(context.Context), error) {
	switch cfg.State.Backend {
	case config.BackendMongo:
		db, err := database.NewDatabase(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		return keyring.NewMongoStore(db.Collection(keyring.StateCollection)), func(ctx context.Context) {
			if err := db.Close(ctx); err != nil {
				log.Printf("failed to close mongo: %v", err)
			}
		}, nil
	case config.BackendRedis:
		rdb, err := database.NewRedisConfig(&cfg.RedisConfig)
		if err != nil {
			return nil, nil, err
		}
		return keyring.NewRedisStore(rdb, keyring.DefaultRedisStateKey), func(context.Context) { rdb.Close() }, nil
	default:
		return keyring.NewFileStore(cfg.State.Path), func(context.Context) {}, nil
	}
}
