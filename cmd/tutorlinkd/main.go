// Command tutorlinkd serves the session-request API: REST mutations, list
// snapshots, and per-actor SSE change streams.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/tutorlink/tutorlink/auth"
	"github.com/tutorlink/tutorlink/catalog"
	"github.com/tutorlink/tutorlink/feed"
	"github.com/tutorlink/tutorlink/feed/redisrelay"
	"github.com/tutorlink/tutorlink/httpapi"
	"github.com/tutorlink/tutorlink/lifecycle"
	"github.com/tutorlink/tutorlink/requests"
	"github.com/tutorlink/tutorlink/requeststore"
	"github.com/tutorlink/tutorlink/requeststore/memory"
	"github.com/tutorlink/tutorlink/requeststore/sqlite"
)

// Config is populated from the environment via envdecode.
type Config struct {
	// Addr is the listen address. ENV: TUTORLINK_ADDR
	Addr string `env:"TUTORLINK_ADDR,default=127.0.0.1:8080"`
	// DBPath selects the sqlite store when set; empty runs in-memory.
	// ENV: TUTORLINK_DB_PATH
	DBPath string `env:"TUTORLINK_DB_PATH"`
	// RedisAddr enables the Redis Streams change relay for multi-node
	// deployments. Empty consumes the store feed directly.
	// ENV: TUTORLINK_REDIS_ADDR
	RedisAddr string `env:"TUTORLINK_REDIS_ADDR"`
	// CatalogPath points at the YAML provider/subject catalog. Empty runs
	// with an open catalog that admits any provider id.
	// ENV: TUTORLINK_CATALOG_PATH
	CatalogPath string `env:"TUTORLINK_CATALOG_PATH"`
	// AuthMode is "static" or "jwt". ENV: TUTORLINK_AUTH_MODE
	AuthMode string `env:"TUTORLINK_AUTH_MODE,default=static"`
	// StaticTokens is a comma-separated list of token=actor pairs for
	// static auth mode. ENV: TUTORLINK_STATIC_TOKENS
	StaticTokens string `env:"TUTORLINK_STATIC_TOKENS"`
	// JWTSecret is the HS256 shared secret for jwt auth mode.
	// ENV: TUTORLINK_JWT_SECRET
	JWTSecret string `env:"TUTORLINK_JWT_SECRET"`
	// JWTIssuer, if set, is required to match the iss claim.
	// ENV: TUTORLINK_JWT_ISSUER
	JWTIssuer string `env:"TUTORLINK_JWT_ISSUER"`
	// LogLevel is debug, info, warn or error. ENV: TUTORLINK_LOG_LEVEL
	LogLevel string `env:"TUTORLINK_LOG_LEVEL,default=info"`
	// ShutdownGrace bounds graceful shutdown. ENV: TUTORLINK_SHUTDOWN_GRACE
	ShutdownGrace time.Duration `env:"TUTORLINK_SHUTDOWN_GRACE,default=10s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tutorlinkd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid TUTORLINK_LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	cat, closeCatalog, err := openCatalog(cfg, log)
	if err != nil {
		return err
	}
	defer closeCatalog()

	authenticator, err := buildAuthenticator(cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	fatal := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	source, closeRelay, err := openFeedSource(ctx, cfg, store, log, fatal)
	if err != nil {
		return err
	}
	defer closeRelay()

	router := feed.NewRouter(feed.WithLogger(log))
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		if err := router.Run(ctx, source); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("feed.router.stop", slog.String("err", err.Error()))
		}
	}()

	engine := lifecycle.New(store, cat, lifecycle.WithLogger(log))
	handler := httpapi.New(engine, router, cat, authenticator, httpapi.WithLogger(log))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server.listen", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(fmt.Errorf("server failed: %w", err))
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("server.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server.shutdown.timeout", slog.String("err", err.Error()))
	}
	<-routerDone
	log.Info("server.shutdown.done")
	return nil
}

func openStore(cfg Config, log *slog.Logger) (requeststore.Store, error) {
	if cfg.DBPath == "" {
		log.Info("store.open", slog.String("backend", "memory"))
		return memory.New(), nil
	}
	s, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %q: %w", cfg.DBPath, err)
	}
	log.Info("store.open", slog.String("backend", "sqlite"), slog.String("path", cfg.DBPath))
	return s, nil
}

func openCatalog(cfg Config, log *slog.Logger) (catalog.Catalog, func(), error) {
	if cfg.CatalogPath == "" {
		log.Warn("catalog.open.unconfigured")
		return openCatalogAny{}, func() {}, nil
	}
	f, err := catalog.OpenFile(cfg.CatalogPath, catalog.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open catalog at %q: %w", cfg.CatalogPath, err)
	}
	log.Info("catalog.open", slog.String("path", cfg.CatalogPath))
	return f, func() { _ = f.Close() }, nil
}

func buildAuthenticator(cfg Config) (auth.Authenticator, error) {
	switch cfg.AuthMode {
	case "static":
		tokens, err := parseStaticTokens(cfg.StaticTokens)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return nil, errors.New("static auth mode requires TUTORLINK_STATIC_TOKENS")
		}
		return auth.NewStatic(tokens), nil
	case "jwt":
		return auth.NewJWT(auth.JWTConfig{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
		})
	default:
		return nil, fmt.Errorf("unknown TUTORLINK_AUTH_MODE %q", cfg.AuthMode)
	}
}

func parseStaticTokens(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, actor, ok := strings.Cut(pair, "=")
		if !ok || token == "" || actor == "" {
			return nil, fmt.Errorf("malformed TUTORLINK_STATIC_TOKENS entry %q", pair)
		}
		tokens[token] = actor
	}
	return tokens, nil
}

// openFeedSource returns the change channel the router consumes: the store
// feed directly, or the Redis Streams relay when TUTORLINK_REDIS_ADDR is
// set so that every node observes every node's changes. A relay loop
// failing is fatal to the process: with the pump dead the node would keep
// serving while silently publishing nothing.
func openFeedSource(ctx context.Context, cfg Config, store requeststore.Store, log *slog.Logger, fatal func(error)) (<-chan requests.Change, func(), error) {
	if cfg.RedisAddr == "" {
		return store.Changes(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis at %q: %w", cfg.RedisAddr, err)
	}

	relay := redisrelay.New(redisrelay.Config{Client: client, Logger: log})
	if err := relay.SeekTail(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to position relay consumer: %w", err)
	}
	go func() {
		if err := relay.Pump(ctx, store.Changes()); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("feed.relay.pump.stop", slog.String("err", err.Error()))
			fatal(fmt.Errorf("feed relay pump failed: %w", err))
		}
	}()
	go func() {
		if err := relay.Consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("feed.relay.consume.stop", slog.String("err", err.Error()))
			fatal(fmt.Errorf("feed relay consumer failed: %w", err))
		}
	}()
	log.Info("feed.relay.start", slog.String("addr", cfg.RedisAddr))

	closer := func() {
		_ = relay.Close()
		_ = client.Close()
	}
	return relay.Changes(), closer, nil
}

// openCatalogAny admits any provider id. It backs deployments without a
// catalog file, where provider identity lives entirely with the clients.
type openCatalogAny struct{}

func (openCatalogAny) Provider(ctx context.Context, id string) (catalog.Provider, error) {
	return catalog.Provider{ID: id, Name: id, Available: true}, nil
}

func (openCatalogAny) Providers(ctx context.Context) ([]catalog.Provider, error) {
	return []catalog.Provider{}, nil
}

func (openCatalogAny) Subjects(ctx context.Context) ([]catalog.Subject, error) {
	return []catalog.Subject{}, nil
}
