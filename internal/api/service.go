package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logx "conductor/pkg/logx"
)

// Config controls the operational HTTP listener.
type Config struct {
	Enabled bool
	Addr    string // default 127.0.0.1:8090, loopback on purpose
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:8090"
	}
	return c
}

// Service owns the HTTP server lifecycle around a Server's router.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	srv *Server

	httpSrv *http.Server
	group   *errgroup.Group
}

func NewService(cfg Config, srv *Server, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, srv: srv}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Start(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		// already running
		return
	}

	httpSrv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpSrv = httpSrv

	g := &errgroup.Group{}
	s.group = g
	g.Go(func() error {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logx.String("addr", httpSrv.Addr), logx.Err(err))
			return err
		}
		return nil
	})

	s.log.Info("service started", logx.String("addr", s.cfg.Addr))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	httpSrv := s.httpSrv
	g := s.group
	s.httpSrv = nil
	s.group = nil
	s.mu.Unlock()

	if httpSrv == nil {
		return
	}
	start := time.Now()
	if err := httpSrv.Shutdown(ctx); err != nil {
		_ = httpSrv.Close()
	}
	if g != nil {
		_ = g.Wait()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}
