// Package app wires configuration into a ready token service. Every command
// goes through Open so they share one way of choosing the store and the lock.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/govease-queue/internal/config"
	"github.com/hackgods/govease-queue/internal/db"
	"github.com/hackgods/govease-queue/internal/lock"
	"github.com/hackgods/govease-queue/internal/logger/sl"
	redisclient "github.com/hackgods/govease-queue/internal/redis"
	"github.com/hackgods/govease-queue/internal/token"
)

type App struct {
	Service *token.Service
	Redis   *redis.Client

	closers []func()
}

// Open connects the configured store and, when Redis is configured, the
// distributed scope lock. Close releases both.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{}

	repo, err := a.openRepository(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.UsesRedis() {
		rdb, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		locker = redisclient.NewScopeLocker(rdb, cfg.LockTTL, cfg.LockWait)
		log.Info("redis scope locks enabled", slog.String("addr", cfg.RedisAddr), sl.Secret("password", cfg.RedisPassword))
	} else {
		log.Info("redis not configured, using in-process scope locks")
	}

	a.Service = token.NewService(repo, locker, log)
	return a, nil
}

func (a *App) openRepository(ctx context.Context, cfg config.Config, log *slog.Logger) (token.Repository, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := db.MigratePostgres(ctx, pool); err != nil {
			return nil, err
		}
		log.Info("using postgres store")
		return token.NewPgRepository(pool), nil

	case config.BackendSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		log.Info("using sqlite store", slog.String("path", cfg.SQLitePath))
		return token.NewSQLiteRepository(conn), nil

	case config.BackendMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return token.NewMemoryRepository(), nil
	}
	return nil, errors.New("unknown store backend " + cfg.StoreBackend)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
