package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ggoodman/ssebridge/config"
	"github.com/ggoodman/ssebridge/internal/engine"
	"github.com/ggoodman/ssebridge/sse"
)

func runTail(ctx context.Context, args []string) error {
	var configPath, channel string
	var probes bool
	fs := newFlagSet("tail", &configPath)
	fs.StringVarP(&channel, "channel", "c", sse.DefaultChannel, "Channel to stream")
	fs.BoolVar(&probes, "probes", false, "Also print keepalive probe lines")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	be, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	opts := []engine.EngineOption{engine.WithLogger(log)}
	if probes {
		opts = append(opts, engine.WithProbe(cfg.ProbePayload))
	}
	if cfg.Timeout != 0 {
		opts = append(opts, engine.WithTimeout(cfg.Timeout))
	}
	eng, err := engine.NewEngine(be.bridge, be.resolver(), opts...)
	if err != nil {
		return err
	}

	sess, err := eng.Open(ctx, channel)
	if errors.Is(err, engine.ErrChannelFinished) {
		fmt.Fprintf(os.Stderr, "channel %q is finished\n", channel)
		return nil
	}
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	for seg, err := range sess.Segments(ctx) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if _, err := os.Stdout.Write(seg.Data); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "stream ended: %s\n", sess.CloseReason())
	return nil
}
