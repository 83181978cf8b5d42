package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ggoodman/ssebridge/config"
	"github.com/ggoodman/ssebridge/ssehttp"
)

func runServe(ctx context.Context, args []string) error {
	var configPath, addr, path string
	var probe bool
	fs := newFlagSet("serve", &configPath)
	fs.StringVar(&addr, "addr", "", "Listen address (overrides SSE_ADDR)")
	fs.StringVar(&path, "path", "", "Stream path (overrides SSE_PATH)")
	fs.BoolVar(&probe, "probe", false, "Enable keepalive probes (overrides SSE_PROBE_ENABLED)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if path != "" {
		cfg.Path = path
	}
	if fs.Changed("probe") {
		cfg.ProbeEnabled = probe
	}

	log := newLogger(cfg.LogLevel)

	be, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = be.bridge.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	if be.fs != nil {
		if err := be.fs.Watch(ctx); err != nil {
			log.WarnContext(ctx, "fslifecycle.watch.fail", slog.String("err", err.Error()))
		}
	}

	opts := []ssehttp.Option{
		ssehttp.WithLogger(log),
		ssehttp.WithPath(cfg.Path),
	}
	if cfg.ProbePayload != "" {
		opts = append(opts, ssehttp.WithProbePayload(cfg.ProbePayload))
	}
	if cfg.ProbeEnabled {
		opts = append(opts, ssehttp.WithProbe(cfg.ProbePayload))
	}
	switch {
	case cfg.Timeout == config.NoTimeout:
		opts = append(opts, ssehttp.WithTimeout(ssehttp.NoTimeout))
	case cfg.Timeout > 0:
		opts = append(opts, ssehttp.WithTimeout(cfg.Timeout))
	}
	if cfg.PublishEndpoints {
		opts = append(opts, ssehttp.WithPublishEndpoints())
	}

	h, err := ssehttp.New(be.bridge, be.resolver(), opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so open streams drain on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.InfoContext(ctx, "server.listen", slog.String("addr", cfg.Addr), slog.String("path", h.Path()), slog.Bool("tracking", cfg.Tracking()), slog.Bool("probe", cfg.ProbeEnabled))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
