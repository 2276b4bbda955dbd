package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/layer-3/vaultgate/adapters/events"
	"github.com/layer-3/vaultgate/adapters/store"
	"github.com/layer-3/vaultgate/adapters/tokenizer"
	"github.com/layer-3/vaultgate/adapters/users"
	"github.com/layer-3/vaultgate/config"
	"github.com/layer-3/vaultgate/internal/log"
	"github.com/layer-3/vaultgate/ports"
	"github.com/layer-3/vaultgate/service"
	transport "github.com/layer-3/vaultgate/transport/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("VAULTGATE_CONFIG"), "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := log.Setup(cfg.Log.Level, cfg.Log.Pretty, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := log.New("main")
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signKey, err := loadSigningKey(cfg.Session.KeyFile, logger)
	if err != nil {
		return err
	}

	db, err := users.OpenSQLite(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo, err := users.NewBunUserRepository(ctx, db)
	if err != nil {
		return err
	}

	st, publisher, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	authService := service.NewAuthService(
		service.Config{
			Domain:     cfg.Auth.Domain,
			URI:        cfg.Auth.URI,
			Statement:  cfg.Auth.Statement,
			ChainIDs:   cfg.Auth.ChainIDs,
			ChainID:    cfg.Auth.ChainID,
			SessionTTL: cfg.Session.TTL,
			NonceTTL:   cfg.Auth.NonceTTL,
			NonceSize:  cfg.Auth.NonceSize,
		},
		tokenizer.NewJWTTokenizer(signKey, cfg.Session.Issuer),
		st,
		userRepo,
		events.NewWatermillPublisher(publisher),
		log.New("auth"),
	)

	gin.SetMode(gin.ReleaseMode)
	router := transport.SetupRouter(authService, transport.CookieOptions{
		Name:   cfg.Session.CookieName,
		Domain: cfg.Session.CookieDomain,
		Secure: cfg.Session.CookieSecure,
	}, log.New("http"))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("address", cfg.ListenAddr).
			Str("domain", cfg.Auth.Domain).
			Msg("started server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openBackend selects Redis for shared state and events when configured, in-process otherwise
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ports.Store, message.Publisher, func(), error) {
	wmLogger := log.NewWatermillAdapter(log.New("events"))

	if cfg.Redis.URL == "" {
		logger.Warn().Msg("no redis configured, nonces and revocations are local to this process")
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		return store.NewMemoryStore(), pubSub, func() { _ = pubSub.Close() }, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		wmLogger,
	)
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	closeFn := func() {
		_ = publisher.Close()
		_ = redisClient.Close()
	}
	return store.NewRedisStore(redisClient, cfg.Redis.Prefix), publisher, closeFn, nil
}

// loadSigningKey reads the session signing key, generating an ephemeral one when no file is set
func loadSigningKey(path string, logger zerolog.Logger) (*ecdsa.PrivateKey, error) {
	if path == "" {
		logger.Warn().Msg("no session key file configured, sessions will not survive a restart")
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	keyPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("session key must be on the P-256 curve")
	}

	logger.Info().Str("file", path).Msg("parsed session key")
	return key, nil
}
