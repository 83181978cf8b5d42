package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ggoodman/ssebridge/bridge/redisbridge"
	"github.com/ggoodman/ssebridge/config"
	"github.com/ggoodman/ssebridge/lifecycle"
	"github.com/ggoodman/ssebridge/lifecycle/fslifecycle"
	"github.com/ggoodman/ssebridge/lifecycle/redislifecycle"
	"github.com/redis/go-redis/v9"
)

// backend holds the connections a command needs. Close releases them.
type backend struct {
	client redis.UniversalClient
	bridge *redisbridge.Bridge
	// markers is where finish markers live: Redis keys or, with a finish
	// directory, files.
	markers lifecycle.MarkerStore
	fs      *fslifecycle.Store
	cfg     config.Config
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openBackend(cfg config.Config, log *slog.Logger) (*backend, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	b, err := redisbridge.New(redisbridge.Config{Client: client})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	be := &backend{client: client, bridge: b, cfg: cfg}
	if cfg.FinishDir != "" {
		fs, err := fslifecycle.New(cfg.FinishDir, fslifecycle.WithLogger(log))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		be.fs = fs
		be.markers = fs
	} else {
		be.markers = redislifecycle.New(client)
	}
	return be, nil
}

// resolver returns the finish resolver sessions use, or nil when finish
// tracking is off.
func (be *backend) resolver() lifecycle.Resolver {
	if !be.cfg.Tracking() {
		return nil
	}
	policy := lifecycle.FailOpen
	if be.cfg.FailClosed {
		policy = lifecycle.FailClosed
	}
	return lifecycle.NewKeyResolver(be.markers, be.cfg.KeyPrefix, lifecycle.WithFailurePolicy(policy))
}

func (be *backend) Close() error {
	return be.client.Close()
}
