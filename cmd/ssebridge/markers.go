package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/ssebridge/config"
	"github.com/ggoodman/ssebridge/lifecycle"
	"github.com/ggoodman/ssebridge/sse"
)

func runStart(ctx context.Context, args []string) error {
	var configPath, channel string
	var ttl time.Duration
	fs := newFlagSet("start", &configPath)
	fs.StringVarP(&channel, "channel", "c", sse.DefaultChannel, "Channel to mark live")
	fs.DurationVar(&ttl, "ttl", 0, "Expire the marker after this long (0 keeps it)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withMarkers(ctx, configPath, func(m *lifecycle.Markers, log *slog.Logger) error {
		if err := m.Start(ctx, channel, ttl); err != nil {
			return err
		}
		log.InfoContext(ctx, "channel.start.ok", slog.String("channel", channel), slog.Duration("ttl", ttl))
		return nil
	})
}

func runFinish(ctx context.Context, args []string) error {
	var configPath, channel string
	fs := newFlagSet("finish", &configPath)
	fs.StringVarP(&channel, "channel", "c", sse.DefaultChannel, "Channel to finish")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withMarkers(ctx, configPath, func(m *lifecycle.Markers, log *slog.Logger) error {
		if err := m.Finish(ctx, channel); err != nil {
			return err
		}
		log.InfoContext(ctx, "channel.finish.ok", slog.String("channel", channel))
		return nil
	})
}

func withMarkers(ctx context.Context, configPath string, fn func(*lifecycle.Markers, *slog.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)
	if !cfg.Tracking() {
		return fmt.Errorf("finish tracking is off: set %s or a finish directory", config.KeyPrefixEnv)
	}

	be, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	return fn(lifecycle.NewMarkers(be.markers, cfg.KeyPrefix), log)
}
