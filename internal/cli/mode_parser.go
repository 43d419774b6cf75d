package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeOrder      = "order-service"
	ModeDispatcher = "dispatcher"
	ModeSimulator  = "simulator"
	ModeInventory  = "inventory-engine"
	ModeTracker    = "tracker"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeOrder, "order", "orders":
		return ModeOrder, true
	case ModeDispatcher, "dispatch":
		return ModeDispatcher, true
	case ModeSimulator, "sim":
		return ModeSimulator, true
	case ModeInventory, "inventory":
		return ModeInventory, true
	case ModeTracker, "tracking", "track":
		return ModeTracker, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `dispatcher --sweep-interval=15`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--mode=") {
			mode = strings.TrimPrefix(arg, "--mode=")
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, nil
	}

	if m, ok := isKnownMode(mode); ok {
		mode = m
	}

	return mode, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // switch the color to cyan

	fmt.Fprintln(w, `Usage:
  ./mixfleet --mode=<service> [flags]

Services (modes):
  order-service       HTTP API for placing and cancelling orders
  dispatcher          Matches pending orders to available trucks
  simulator           Drives the truck delivery cycle
  inventory-engine    Deducts plant materials when trucks load
  tracker             Live fleet/order views over HTTP

Examples:
  ./mixfleet --mode=order-service --port=3000
  ./mixfleet --mode=dispatcher --sweep-interval=15
  ./mixfleet --mode=simulator --speed-factor=2 --prefetch=8
  ./mixfleet --mode=inventory-engine --prefetch=4
  ./mixfleet --mode=tracker --port=3002`)

	fmt.Fprint(w, "\033[0m") // switch back to normal
}

func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./mixfleet --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
