package service

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// HealthzServer answers liveness probes while a suite is running
type HealthzServer struct {
	log log.Logger

	mu     sync.Mutex
	ctx    context.Context
	server *http.Server
	ready  chan struct{}
	addr   net.Addr
	closed bool
}

func NewHealthzServer(logger log.Logger) *HealthzServer {
	return &HealthzServer{log: logger, ready: make(chan struct{})}
}

// Start serves /healthz on addr until Shutdown is called. It blocks like http.Server.Serve.
func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	server := &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ln.Close()
		return http.ErrServerClosed
	}
	h.server = server
	h.ctx = ctx
	h.addr = ln.Addr()
	h.mu.Unlock()
	close(h.ready)

	return server.Serve(ln)
}

// Addr blocks until the server listens and returns the bound address
func (h *HealthzServer) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr, nil
}

func (h *HealthzServer) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(context.WithoutCancel(h.ctx))
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}
