// Command skarabflash bulk-loads firmware onto one or more SKARAB
// FPGA boards over a reliable UDP transfer protocol. It is a thin
// CLI wrapper around skarabflash.Upload; all core logic lives in
// the library.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/ska-sa/skarabflash"
	"github.com/ska-sa/skarabflash/internal/firmware"
	"github.com/ska-sa/skarabflash/internal/observability"
	"github.com/ska-sa/skarabflash/internal/runloop"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("skarabflash", flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	imagePath := fs.String("f", "", "firmware image path (required)")
	chunkSize := fs.Int("s", firmware.DefaultChunkSize, "chunk size (65 < N <= 9000)")
	burstPerPeer := fs.Int("t", 0, "retry-burst abort threshold, scaled by peer count")
	burstFlat := fs.Int("T", 0, "retry-burst abort threshold, not scaled by peer count")
	verbose := fs.Int("v", 0, "increase verbosity (repeatable count via -v N)")
	quiet := fs.Bool("q", false, "decrease verbosity")
	metricsAddr := fs.String("metrics-addr", "", "optional host:port to serve Prometheus metrics on")
	jsonLog := fs.Bool("json-log", !term.IsTerminal(int(os.Stderr.Fd())), "emit JSON log lines instead of console formatting (default: on when stderr is not a terminal)")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return skarabflash.ExOK
		}
		return skarabflash.ExUsage
	}

	peers := fs.Args()
	if *imagePath == "" || len(peers) == 0 {
		fs.Usage()
		return skarabflash.ExUsage
	}

	verbosity := *verbose
	if *quiet {
		verbosity--
	}

	opts := skarabflash.Options{
		ImagePath: *imagePath,
		Peers:     peers,
		ChunkSize: *chunkSize,
		Verbosity: verbosity,
		Logger:    observability.NewLogger(version, os.Stderr, *jsonLog),
	}

	switch {
	case *burstFlat > 0:
		opts.RetryBurstLimit = *burstFlat
		opts.RetryBurstPerPeer = false
	case *burstPerPeer > 0:
		opts.RetryBurstLimit = *burstPerPeer
		opts.RetryBurstPerPeer = true
	default:
		opts.RetryBurstLimit = runloop.DefaultBurstLimit
	}

	if *metricsAddr != "" {
		opts.Metrics = observability.NewMetrics()
		go serveMetrics(*metricsAddr, opts.Metrics)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	exitCode, err := skarabflash.Upload(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "skarabflash:", err)
	}
	return exitCode
}

func serveMetrics(addr string, m *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	_ = http.ListenAndServe(addr, mux)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: skarabflash -f FILE [options] peer [peer...]")
	fs.PrintDefaults()
}

// version is overridden at build time via -ldflags.
var version = "dev"
