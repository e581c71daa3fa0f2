package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fzft/go-reactor/httpconn"
	"github.com/fzft/go-reactor/log"
	"github.com/fzft/go-reactor/node"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	name := filepath.Base(args[0])
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] port_number\n", name)
		fs.PrintDefaults()
	}

	opts := NewOptions()
	opts.AddFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if err := opts.Complete(fs.Args()); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
		}
		fs.Usage()
		return 1
	}
	if opts.Version {
		fmt.Println(VersionString())
		return 0
	}
	if err := opts.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := log.InitLogger(opts.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "invalid log level:", err)
		return 1
	}
	defer log.Logger.Sync()

	if err := serve(opts); err != nil {
		log.Logger.Error("server exited", zap.Error(err))
		return 1
	}
	return 0
}

func serve(opts *Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cache, err := httpconn.NewFileCache(opts.CacheSize)
	if err != nil {
		return err
	}
	handler := &httpconn.Handler{
		DocRoot: opts.DocRoot,
		Server:  ServerName(),
		Cache:   cache,
	}

	registry := prometheus.NewRegistry()
	s := node.NewServer(node.Config{
		Port:        opts.Port,
		Workers:     opts.Workers,
		MaxRequests: opts.MaxRequests,
		MaxFD:       opts.MaxFD,
		MaxEvents:   opts.MaxEvents,
		Registerer:  registry,
	})
	s.SetHandler(handler.NewConn)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Run(ctx)
	})

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:    opts.MetricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		}
		g.Go(func() error {
			log.Logger.Info("serving metrics", zap.String("addr", opts.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	return g.Wait()
}
