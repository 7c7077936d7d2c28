package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/privlog/internal/config"
	"github.com/roach88/privlog/internal/directory"
	"github.com/roach88/privlog/internal/engine"
	"github.com/roach88/privlog/internal/identity"
	"github.com/roach88/privlog/internal/notes"
	"github.com/roach88/privlog/internal/store"
	"github.com/roach88/privlog/internal/transport"
)

// env is everything a command needs to act as the local agent.
type env struct {
	cfg       config.Config
	id        *identity.Identity
	store     *store.Store
	engine    *engine.Engine
	redis     redis.UniversalClient
	transport *transport.Redis
	logger    *slog.Logger
}

// loadConfig reads --config when given and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.Identity != "" {
		cfg.IdentityPath = opts.Identity
	}
	if opts.RedisAddr != "" {
		cfg.Redis.Addr = opts.RedisAddr
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// openEnv loads the identity, opens the store and builds the engine. When
// a Redis address is configured the engine delivers through it and uses
// it as the directory; otherwise events are only stored and delivered by
// a later run or tick.
func openEnv(ctx context.Context, opts *RootOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	id, err := identity.Load(cfg.IdentityPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load identity (run 'privlog keygen' first)", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	e := &env{cfg: cfg, id: id, store: st, logger: logger}
	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithResendInterval(cfg.ResendInterval),
		engine.WithRetroactiveRecipients(),
	}

	if cfg.Redis.Addr != "" {
		e.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := e.redis.Ping(ctx).Err(); err != nil {
			e.Close()
			return nil, WrapExitError(ExitCommandError, "failed to reach redis", err)
		}
		e.transport = transport.NewRedis(e.redis, id, cfg.TransportOptions(logger))

		dir := directory.NewRedis(e.redis, transport.Keys{Prefix: cfg.Redis.Prefix})
		if len(cfg.LinkedDevices) > 0 {
			if err := dir.Link(ctx, id.ID(), cfg.LinkedDevices...); err != nil {
				e.Close()
				return nil, WrapExitError(ExitCommandError, "failed to register linked devices", err)
			}
		}
		engOpts = append(engOpts, engine.WithTransport(e.transport), engine.WithDirectory(dir))
	} else {
		dir := &directory.Static{}
		dir.Link(id.ID(), cfg.LinkedDevices...)
		engOpts = append(engOpts, engine.WithDirectory(dir))
	}

	e.engine = engine.New(st, id, notes.NewRegistry(nil), engOpts...)
	return e, nil
}

// requireNetwork fails commands that cannot work offline.
func (e *env) requireNetwork() error {
	if e.transport == nil {
		return NewExitError(ExitCommandError, "no redis address configured (set redis.addr or --redis)")
	}
	return nil
}

// Close releases the transport, Redis client and store.
func (e *env) Close() error {
	var errs []error
	if e.transport != nil {
		errs = append(errs, e.transport.Close())
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
