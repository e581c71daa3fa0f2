//go:build linux
// +build linux

package node

import (
	"context"
	"net"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fzft/go-reactor/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const MaxFD = 65535

type Config struct {
	Port        int
	Workers     int
	MaxRequests int
	MaxFD       int
	MaxEvents   int
	// Registerer receives the reactor metrics. Nil keeps them unregistered.
	Registerer prometheus.Registerer
}

func (c *Config) setDefaults() {
	if c.MaxFD <= 0 {
		c.MaxFD = MaxFD
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
}

type Server struct {
	cfg     Config
	handler ProtocolFactory
	metrics *Metrics

	mu    sync.Mutex
	addr  *net.TCPAddr
	nctx  *Context
	ready chan struct{}
}

func NewServer(cfg Config) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:     cfg,
		metrics: NewMetrics(cfg.Registerer),
		ready:   make(chan struct{}),
	}
}

func (s *Server) SetHandler(handler ProtocolFactory) {
	s.handler = handler
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, nil before Ready.
func (s *Server) Addr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// UserCount returns the live connection count.
func (s *Server) UserCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nctx == nil {
		return 0
	}
	return s.nctx.UserCount()
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Run listens and serves until ctx is done or the multiplexer fails.
func (s *Server) Run(ctx context.Context) error {
	// writes to a reset peer must come back as EPIPE instead of killing the process
	signal.Ignore(syscall.SIGPIPE)

	lnFd, addr, err := listenTCP(s.cfg.Port)
	if err != nil {
		log.Logger.Error("listen error", zap.Int("port", s.cfg.Port), zap.Error(err))
		return err
	}
	defer func() {
		if err := CloseFd(lnFd); err != nil {
			log.Logger.Debug("failed to close listener", zap.Error(err))
		}
	}()

	poll, err := NewPoll(s.cfg.MaxEvents)
	if err != nil {
		return err
	}
	defer func() {
		if err := poll.Close(); err != nil {
			log.Logger.Info("failed to close epoll", zap.Error(err))
		}
	}()

	nctx := NewContext(poll, s.metrics)
	table := NewConnectionTable(nctx, s.cfg.MaxFD, s.handler)
	reactor, err := NewReactor(nctx, lnFd, table, ReactorConfig{
		Workers:     s.cfg.Workers,
		MaxRequests: s.cfg.MaxRequests,
		MaxEvents:   s.cfg.MaxEvents,
	})
	if err != nil {
		log.Logger.Error("failed to create reactor", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.addr = addr
	s.nctx = nctx
	s.mu.Unlock()
	close(s.ready)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Logger.Info("stop requested")
			reactor.Stop()
		case <-done:
		}
	}()

	log.Logger.Info("listening on", zap.Stringer("addr", addr),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("max_requests", s.cfg.MaxRequests),
		zap.Int("max_fd", s.cfg.MaxFD))

	// blocking
	err = reactor.Run()
	log.Logger.Info("shutting down server")
	return err
}
