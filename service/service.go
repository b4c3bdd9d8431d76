package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/jit-stress/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = 8080
)

// Config selects the listen addresses. A zero port picks a free one.
type Config struct {
	HealthzAddr    string
	HealthzPort    int
	MetricsEnabled bool
	MetricsAddr    string
	MetricsPort    int
}

// Service runs the healthz and metrics servers next to a test run.
type Service struct {
	log     log.Logger
	cfg     Config
	Healthz *HealthzServer
	Metrics *MetricsServer

	healthzAddr net.Addr
	metricsAddr net.Addr
	wg          sync.WaitGroup
}

func New(logger log.Logger, cfg Config) *Service {
	logger = logger.New("component", "service")
	return &Service{
		log:     logger,
		cfg:     cfg,
		Healthz: NewHealthzServer(logger),
		Metrics: NewMetricsServer(),
	}
}

// Start binds both listeners and serves them in the background.
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("service starting")

	healthzLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.HealthzAddr, strconv.Itoa(s.cfg.HealthzPort)))
	if err != nil {
		return fmt.Errorf("failed to listen for healthz: %w", err)
	}
	s.healthzAddr = healthzLn.Addr()
	s.serve("healthz", healthzLn, s.Healthz.Serve)

	if s.cfg.MetricsEnabled {
		metricsLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.MetricsAddr, strconv.Itoa(s.cfg.MetricsPort)))
		if err != nil {
			_ = s.Healthz.Shutdown(ctx)
			return fmt.Errorf("failed to listen for metrics: %w", err)
		}
		s.metricsAddr = metricsLn.Addr()
		s.serve("metrics", metricsLn, s.Metrics.Serve)
	}

	s.log.Info("service started")
	return nil
}

func (s *Service) serve(name string, ln net.Listener, fn func(net.Listener) error) {
	s.log.Info("starting server", "server", name, "addr", ln.Addr())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server failed", "server", name, "err", err)
			metrics.RecordErrorDetails("error serving "+name, err)
		}
	}()
}

// HealthzAddr returns the bound healthz address, nil before Start.
func (s *Service) HealthzAddr() net.Addr {
	return s.healthzAddr
}

// MetricsAddr returns the bound metrics address, nil when disabled.
func (s *Service) MetricsAddr() net.Addr {
	return s.metricsAddr
}

func (s *Service) Shutdown(ctx context.Context) error {
	s.log.Info("service shutting down")

	err := errors.Join(s.Healthz.Shutdown(ctx), s.Metrics.Shutdown(ctx))
	s.wg.Wait()

	s.log.Info("service stopped")
	return err
}
