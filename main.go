package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mixfleet/cmd/dispatcher"
	"mixfleet/cmd/inventory"
	"mixfleet/cmd/orderservice"
	"mixfleet/cmd/simulator"
	"mixfleet/cmd/tracker"
	"mixfleet/internal/cli"
)

func main() {
	// check for help flag first
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	// optional .env for local development; real deployments set env vars
	_ = godotenv.Load()

	// parse all command-line arguments
	mode, svcArgs, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// ensure that mode is not empty
	if mode == "" {
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// create context cancelled on SIGINT/SIGTERM signals ensuring graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// run the service specified by the mode flag
	switch mode {
	case cli.ModeOrder:
		fs := flag.NewFlagSet(cli.ModeOrder, flag.ContinueOnError)
		port := fs.Int("port", 3000, "HTTP port for the API")
		maxConc := fs.Int("max-concurrent", 50, "Maximum number of concurrent requests")
		cli.AttachUsage(fs, cli.ModeOrder)

		parseOrExit(fs, svcArgs)
		requirePort(fs, *port)
		if *maxConc <= 0 {
			fmt.Fprintln(os.Stderr, "Error: --max-concurrent must be > 0")
			fs.Usage()
			os.Exit(2)
		}

		if err := orderservice.Run(ctx, *port, *maxConc); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeDispatcher:
		fs := flag.NewFlagSet(cli.ModeDispatcher, flag.ContinueOnError)
		sweep := fs.Int("sweep-interval", 15, "Backlog sweep interval in seconds")
		prefetch := fs.Int("prefetch", 1, "RabbitMQ prefetch count")
		cli.AttachUsage(fs, cli.ModeDispatcher)

		parseOrExit(fs, svcArgs)
		requirePositive(fs, "--sweep-interval", *sweep)
		requirePositive(fs, "--prefetch", *prefetch)

		if err := dispatcher.Run(ctx, *sweep, *prefetch); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeSimulator:
		fs := flag.NewFlagSet(cli.ModeSimulator, flag.ContinueOnError)
		speed := fs.Float64("speed-factor", 0, "Divide simulated phase durations (0 = use config value)")
		recovery := fs.Int("recovery-interval", 30, "Recovery sweep interval in seconds")
		prefetch := fs.Int("prefetch", 8, "RabbitMQ prefetch count")
		cli.AttachUsage(fs, cli.ModeSimulator)

		parseOrExit(fs, svcArgs)
		if *speed < 0 {
			fmt.Fprintln(os.Stderr, "Error: --speed-factor must be >= 0")
			fs.Usage()
			os.Exit(2)
		}
		requirePositive(fs, "--recovery-interval", *recovery)
		requirePositive(fs, "--prefetch", *prefetch)

		if err := simulator.Run(ctx, *speed, *recovery, *prefetch); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeInventory:
		fs := flag.NewFlagSet(cli.ModeInventory, flag.ContinueOnError)
		prefetch := fs.Int("prefetch", 4, "RabbitMQ prefetch count")
		cli.AttachUsage(fs, cli.ModeInventory)

		parseOrExit(fs, svcArgs)
		requirePositive(fs, "--prefetch", *prefetch)

		if err := inventory.Run(ctx, *prefetch); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeTracker:
		fs := flag.NewFlagSet(cli.ModeTracker, flag.ContinueOnError)
		port := fs.Int("port", 3002, "HTTP port for the API")
		prefetch := fs.Int("prefetch", 8, "RabbitMQ prefetch count")
		cli.AttachUsage(fs, cli.ModeTracker)

		parseOrExit(fs, svcArgs)
		requirePort(fs, *port)
		requirePositive(fs, "--prefetch", *prefetch)

		if err := tracker.Run(ctx, *port, *prefetch); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Millisecond):
	}
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func requirePort(fs *flag.FlagSet, port int) {
	if port <= 0 || port > 65535 {
		fmt.Fprintln(os.Stderr, "Error: --port must be between 1 and 65535")
		fs.Usage()
		os.Exit(2)
	}
}

func requirePositive(fs *flag.FlagSet, name string, v int) {
	if v <= 0 {
		fmt.Fprintf(os.Stderr, "Error: %s must be > 0\n", name)
		fs.Usage()
		os.Exit(2)
	}
}
