package observability

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	"github.com/stagepool/stagepool/pkg/core"
)

// MetricsServer serves the Prometheus text exposition of a registry over
// fasthttp, for scraping at /metrics.
type MetricsServer struct {
	addr     string
	gatherer prometheus.Gatherer
	logger   core.Logger

	mu     sync.Mutex
	server *fasthttp.Server
}

// NewMetricsServer creates a scrape endpoint for the given gatherer. A
// nil gatherer serves DefaultRegistry.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, logger core.Logger) *MetricsServer {
	if gatherer == nil {
		gatherer = DefaultRegistry
	}
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &MetricsServer{addr: addr, gatherer: gatherer, logger: logger}
}

// Start begins listening. It returns once the listener goroutine is
// launched; listen errors are logged.
func (s *MetricsServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("metrics server is already running")
	}
	s.server = &fasthttp.Server{
		Handler: s.handle,
		Name:    "stagepool-metrics",
	}
	srv := s.server
	go func() {
		if err := srv.ListenAndServe(s.addr); err != nil {
			s.logger.Errorf("metrics server on %s stopped: %v", s.addr, err)
		}
	}()
	s.logger.Infof("metrics endpoint listening on %s", s.addr)
	return nil
}

// Stop shuts the listener down gracefully.
func (s *MetricsServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown()
	s.server = nil
	return err
}

// handle renders the registry in the Prometheus text format.
func (s *MetricsServer) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != "/metrics" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	families, err := s.gatherer.Gather()
	if err != nil {
		s.logger.Errorf("metrics gather failed: %v", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	ctx.SetContentType(string(format))
	enc := expfmt.NewEncoder(ctx.Response.BodyWriter(), format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			s.logger.Errorf("metrics encode failed: %v", err)
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
	}
}
