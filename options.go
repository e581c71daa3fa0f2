package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fzft/go-reactor/node"
	"github.com/spf13/pflag"
)

var errUsage = errors.New("usage")

// Options contains the command-line configuration.
type Options struct {
	Port int // positional, required

	Workers     int    // Number of worker goroutines.
	MaxRequests int    // Bound of the work queue.
	MaxFD       int    // Maximum tracked connections.
	MaxEvents   int    // Events drained per wait call.
	DocRoot     string // Directory served over HTTP; empty serves a built-in page.
	CacheSize   int    // Number of files kept in the file cache.
	MetricsAddr string // Address of the Prometheus endpoint; empty disables it.
	LogLevel    string
	Version     bool
}

func NewOptions() *Options {
	return &Options{
		Workers:     node.DefaultWorkers,
		MaxRequests: node.DefaultMaxRequests,
		MaxFD:       node.MaxFD,
		MaxEvents:   node.DefaultMaxEvents,
		CacheSize:   128,
		LogLevel:    "info",
	}
}

// AddFlags binds the Options fields to command-line flags on the given FlagSet.
func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&opts.Workers, "workers", opts.Workers, "Number of worker goroutines.")
	fs.IntVar(&opts.MaxRequests, "max-requests", opts.MaxRequests, "Maximum number of pending tasks in the work queue.")
	fs.IntVar(&opts.MaxFD, "max-fd", opts.MaxFD, "Maximum number of simultaneous connections.")
	fs.IntVar(&opts.MaxEvents, "max-events", opts.MaxEvents, "Maximum number of events drained per wait call.")
	fs.StringVar(&opts.DocRoot, "doc-root", opts.DocRoot, "Directory to serve files from.")
	fs.IntVar(&opts.CacheSize, "cache-entries", opts.CacheSize, "Number of files kept in memory. 0 disables the cache.")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "Address to expose Prometheus metrics on, e.g. :9090.")
	fs.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: debug, info, warn or error.")
	fs.BoolVar(&opts.Version, "version", opts.Version, "Print the version and exit.")
}

// Complete reads the positional port argument.
func (opts *Options) Complete(args []string) error {
	if opts.Version {
		return nil
	}
	if len(args) != 1 {
		return errUsage
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[0])
	}
	opts.Port = port
	return nil
}

// Validate rejects values the server cannot run with.
func (opts *Options) Validate() error {
	if opts.MaxFD <= 0 {
		return fmt.Errorf("--max-fd must be positive, got %d", opts.MaxFD)
	}
	if opts.MaxEvents <= 0 {
		return fmt.Errorf("--max-events must be positive, got %d", opts.MaxEvents)
	}
	// worker count and queue bound are checked by the pool itself
	return nil
}
