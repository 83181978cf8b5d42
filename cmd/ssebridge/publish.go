package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ggoodman/ssebridge"
	"github.com/ggoodman/ssebridge/config"
	"github.com/ggoodman/ssebridge/sse"
)

func runPublish(ctx context.Context, args []string) error {
	var configPath, channel string
	var msg sse.Message
	var asJSON bool
	fs := newFlagSet("publish", &configPath)
	fs.StringVarP(&channel, "channel", "c", sse.DefaultChannel, "Channel to publish to")
	fs.StringVarP(&msg.Type, "type", "t", "", "Event type")
	fs.StringVar(&msg.ID, "id", "", "Event ID")
	fs.IntVar(&msg.Retry, "retry", 0, "Reconnect hint in milliseconds")
	fs.BoolVar(&asJSON, "json", false, "Treat data as a JSON value")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: ssebridge publish [options] <data|->")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("publish takes exactly one data argument")
	}

	data, err := readData(fs.Arg(0))
	if err != nil {
		return err
	}
	if asJSON {
		if !json.Valid([]byte(data)) {
			return errors.New("data is not valid JSON")
		}
		msg.Data = json.RawMessage(data)
	} else {
		msg.Data = data
	}

	return withPublisher(ctx, configPath, func(p *ssebridge.Publisher) (int64, error) {
		return p.Publish(ctx, channel, msg)
	})
}

func runControl(ctx context.Context, args []string) error {
	var configPath, channel string
	fs := newFlagSet("control", &configPath)
	fs.StringVarP(&channel, "channel", "c", sse.DefaultChannel, "Channel to signal")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: ssebridge control [options] <health-check|disconnect|command>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("control takes exactly one command argument")
	}

	return withPublisher(ctx, configPath, func(p *ssebridge.Publisher) (int64, error) {
		return p.SendControl(ctx, channel, sse.Control(fs.Arg(0)))
	})
}

func withPublisher(ctx context.Context, configPath string, fn func(*ssebridge.Publisher) (int64, error)) error {
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

	n, err := fn(ssebridge.NewPublisher(be.bridge, ssebridge.WithLogger(log)))
	if err != nil {
		return err
	}
	fmt.Printf("delivered to %d subscriber(s)\n", n)
	return nil
}

// readData returns arg, or stdin when arg is "-".
func readData(arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}
