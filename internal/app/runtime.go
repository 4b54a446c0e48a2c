package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/engine/auth"
	"siteline/internal/feed"
	"siteline/internal/logging"
	"siteline/internal/migrate"
	"siteline/internal/notify"
	"siteline/internal/repo"
)

// Runtime is everything a command or the API server needs for one workspace.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Feed   *feed.Service
	Notify notify.Service
	Log    *zap.Logger

	redis *redis.Client
}

type Options struct {
	Workspace string
	// ActorID is bound to the admin role when the workspace has no role
	// bindings yet.
	ActorID string
	// Service names the process in log lines.
	Service string
	// RedisAddr overrides notifications.redis_addr from the config.
	RedisAddr string
}

// Open prepares the workspace: database, migrations, config, logger, role
// tables and the services built on them. Close releases what Open acquired.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, opts.Service)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, BusyTimeout: cfg.StoreTimeout()})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{DB: conn, Config: cfg, Log: log}
	if err := rt.init(ctx, opts); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) init(ctx context.Context, opts Options) error {
	if err := migrate.Migrate(rt.DB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	rt.Engine = engine.New(rt.DB, rt.Config, rt.Log)
	if err := auth.Seed(ctx, rt.Engine.Repo, rt.Config); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	if err := bootstrapAdmin(ctx, rt.Engine.Repo, opts.ActorID); err != nil {
		return err
	}
	fs, err := feed.NewService(rt.Engine.Repo, rt.Config.Feed.CacheSize, rt.Log)
	if err != nil {
		return err
	}
	fs.Timeout = rt.Config.StoreTimeout()
	rt.Feed = fs
	rt.Notify = notify.Service{Feed: fs, Log: rt.Log, Timeout: rt.Config.StoreTimeout()}

	addr := opts.RedisAddr
	if addr == "" {
		addr = rt.Config.Notifications.RedisAddr
	}
	if addr == "" {
		rt.Notify.Store = notify.SQLStore{Repo: rt.Engine.Repo}
		return nil
	}
	rt.redis = notify.NewRedisClient(addr, rt.Config.Notifications.RedisDB)
	if err := rt.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", addr, err)
	}
	rt.Notify.Store = notify.NewRedisStore(rt.redis, rt.Config.Notifications.KeyPrefix)
	rt.Log.Info("watermarks in redis", zap.String("addr", addr))
	return nil
}

// Close releases the database, Redis client and logger.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	if rt.Log != nil {
		_ = rt.Log.Sync()
	}
	return errors.Join(errs...)
}

// bootstrapAdmin gives the first actor to open a fresh workspace the admin
// role, so someone can grant the others.
func bootstrapAdmin(ctx context.Context, r repo.Repo, actorID string) error {
	if actorID == "" {
		return nil
	}
	n, err := r.CountRoleBindings(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return r.InTx(ctx, "bootstrap admin", func(tx *sql.Tx) error {
		if err := r.EnsureActor(ctx, tx, actorID, "", now); err != nil {
			return fmt.Errorf("ensure actor: %w", err)
		}
		if err := r.AssignRole(ctx, tx, actorID, string(domain.RoleAdmin)); err != nil {
			return fmt.Errorf("assign admin: %w", err)
		}
		return nil
	})
}

// Actor resolves actorID to its stored role.
func (rt *Runtime) Actor(ctx context.Context, actorID string) (domain.Actor, error) {
	return auth.ResolveActor(ctx, rt.Engine.Repo, actorID)
}
