// Command ssebridge serves pub/sub channels to Server-Sent Events clients
// and publishes to them from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.2.0"
var version = "0.1.0"

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"serve", "Serve the event stream over HTTP", runServe},
	{"publish", "Publish a message to a channel", runPublish},
	{"control", "Send a control signal to a channel", runControl},
	{"tail", "Stream a channel to stdout", runTail},
	{"start", "Create a channel's finish marker", runStart},
	{"finish", "Delete a channel's finish marker", runFinish},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ssebridge: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}
	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return nil
	case "--version", "version":
		fmt.Printf("ssebridge %s\n", version)
		return nil
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, args[1:])
		}
	}
	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ssebridge %s

Bridges pub/sub channels to Server-Sent Events clients.

Usage:
  ssebridge <command> [options]

Commands:
`, version)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprint(os.Stderr, `
Configuration is read from --config (TOML) and the environment
(SSE_REDIS_URL or REDIS_URL, SSE_REDIS_CHANNEL_KEY_PREFIX, ...).

Examples:
  ssebridge serve --addr :8080 --probe
  ssebridge publish -c game:1 -t roll 4
  ssebridge control -c game:1 disconnect
  ssebridge finish -c game:1
`)
}

// newFlagSet returns a flag set carrying the options every command shares.
func newFlagSet(name string, configPath *string) *flag.FlagSet {
	fs := flag.NewFlagSet("ssebridge "+name, flag.ContinueOnError)
	fs.StringVar(configPath, "config", "", "TOML configuration file")
	return fs
}
