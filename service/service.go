package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum-optimism/optimism/op-service/httputil"

	"github.com/ethereum-optimism/infra/op-dispval/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"
)

// Config selects which of the auxiliary servers run next to a suite
type Config struct {
	Log            log.Logger
	HealthzAddr    string // empty disables the healthz server
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int
}

// DefaultHealthzAddr is the address the healthz server binds when enabled
func DefaultHealthzAddr() string {
	return net.JoinHostPort(HealthzHost, HealthzPort)
}

type Service struct {
	log     log.Logger
	cfg     Config
	Healthz *HealthzServer
	Metrics *httputil.HTTPServer
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	s := &Service{
		log: cfg.Log,
		cfg: cfg,
	}
	if cfg.HealthzAddr != "" {
		s.Healthz = NewHealthzServer(cfg.Log)
	}
	return s
}

// Start launches the enabled servers. A healthz server that fails to bind is logged and
// counted, it does not stop the suite. A metrics server that fails to start is returned.
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("service starting")

	if s.Healthz != nil {
		go func() {
			addr := s.cfg.HealthzAddr
			s.log.Info("starting healthz server", "addr", addr)
			if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("error starting healthz server", err)
			}
		}()
	}

	if s.cfg.MetricsEnabled {
		addr := net.JoinHostPort(s.cfg.MetricsHost, strconv.Itoa(s.cfg.MetricsPort))
		s.log.Info("starting metrics server", "addr", addr)
		srv, err := opmetrics.StartServer(metrics.Registry, s.cfg.MetricsHost, s.cfg.MetricsPort)
		if err != nil {
			metrics.RecordErrorDetails("error starting metrics server", err)
			return err
		}
		s.log.Info("started metrics server", "endpoint", srv.Addr())
		s.Metrics = srv
	}

	s.log.Info("service started")
	return nil
}

func (s *Service) Shutdown(ctx context.Context) error {
	s.log.Info("service shutting down")

	var result error
	if s.Healthz != nil {
		if err := s.Healthz.Shutdown(); err != nil {
			result = errors.Join(result, err)
		}
		s.log.Info("healthz stopped")
	}

	if s.Metrics != nil {
		if err := s.Metrics.Stop(ctx); err != nil {
			result = errors.Join(result, err)
		}
		s.log.Info("metrics stopped")
	}

	s.log.Info("service stopped")
	return result
}
