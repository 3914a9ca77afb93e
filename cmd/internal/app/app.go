// Package app wires the courier server runtime: config, logging, metrics,
// storage backends and HTTP routes.
//
// It is intentionally small and deterministic to keep CI gates strict and
// behavior predictable.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"courier/cmd/identity"
	authapi "courier/cmd/internal/auth/api"
	"courier/cmd/internal/chat"
	chatapi "courier/cmd/internal/chat/api"
	"courier/cmd/security/token"

	"github.com/gocql/gocql"
	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the courier server runtime: it owns the HTTP server wiring and the
// lifecycle of every storage backend.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool
	cassandra *gocql.Session

	metrics *Metrics

	auth *authapi.Handler
	chat *chatapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: NewMetrics(),
	}

	// Identity persistence: Postgres when configured, in-memory otherwise.
	var idStore identity.Store
	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		a.dbPool = pool
		a.dbEnabled = true

		idStore, err = identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			a.closeStores()
			return nil, err
		}
		log.Info("identity.store.postgres", "schema", cfg.DBSchema)
	} else {
		idStore = identity.NewInMemoryStore()
		log.Info("identity.store.inmemory")
	}

	chatStore, err := a.newChatStore(cfg, log)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	tokens, err := newTokenManager(cfg, log)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	svc, err := chat.NewService(log, chatStore, identityDirectory{store: idStore})
	if err != nil {
		a.closeStores()
		return nil, err
	}

	authCfg := authapi.LoadConfigFromEnv()
	a.auth, err = authapi.NewHandler(log, idStore, tokens, authCfg)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.chat, err = chatapi.NewHandler(log, svc, tokens, authCfg.MaxBodyBytes)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	return a, nil
}

// newChatStore builds the message store for the selected backend.
func (a *App) newChatStore(cfg Config, log Logger) (chat.Store, error) {
	switch backend := cfg.EffectiveChatBackend(); backend {
	case BackendPostgres:
		if a.dbPool == nil {
			return nil, errors.New("app: chat backend postgres requires COURIER_DATABASE_URL")
		}
		log.Info("chat.store.postgres", "schema", cfg.DBSchema)
		return chat.NewPostgresStore(a.dbPool, chat.WithSchema(cfg.DBSchema))

	case BackendCassandra:
		session, err := NewCassandraSession(cfg)
		if err != nil {
			return nil, err
		}
		a.cassandra = session
		log.Info("chat.store.cassandra",
			"hosts", cfg.CassandraHosts,
			"keyspace", cfg.CassandraKeyspace,
		)
		return chat.NewCassandraStore(session)

	case BackendMemory:
		log.Info("chat.store.inmemory")
		return chat.NewInMemoryStore(), nil

	default:
		return nil, fmt.Errorf("app: unknown chat backend %q", backend)
	}
}

func newTokenManager(cfg Config, log Logger) (*token.Manager, error) {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		// Dev fallback: an ephemeral secret keeps local runs working but
		// invalidates every token on restart.
		secret = make([]byte, token.MinSecretBytes)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		log.Warn("auth.token.ephemeral_secret", "hint", "set COURIER_JWT_SECRET in production")
	}
	return token.NewManager(token.Config{
		Secret: secret,
		TTL:    cfg.JWTTTL,
		Issuer: cfg.JWTIssuer,
	})
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.auth, a.chat)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log, a.metrics),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"chat_backend", a.cfg.EffectiveChatBackend(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.closeStores()
	a.log.Info("server.stopped")
	return nil
}

// closeStores releases backend resources. Store Close methods are no-ops
// because the app owns the pool and session lifecycles directly.
func (a *App) closeStores() {
	if a.cassandra != nil {
		a.cassandra.Close()
		a.cassandra = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
