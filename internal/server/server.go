package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cloud-image-relay/internal/relay"
)

// Uploader is the part of *relay.Relay the front door depends on.
type Uploader interface {
	Upload(ctx context.Context, req relay.UploadRequest) (relay.UploadResult, error)
	Ping(ctx context.Context) error
	Backend() string
}

// BuildInfo is reported by /health and /metrics.
type BuildInfo struct {
	Version string
	Commit  string
}

type Config struct {
	Addr  string // e.g. ":3000"
	Build BuildInfo

	Relay   Uploader
	Breaker *relay.CircuitBreaker // optional, for health and metrics

	CORS   CORSConfig
	Static StaticConfig

	// MaxUploadBytes caps the request body; 0 disables the limit.
	MaxUploadBytes int64
	// MultipartMemory is the in-memory budget passed to ParseMultipartForm.
	MultipartMemory int64

	Logger *zap.Logger
}

type Server struct {
	httpServer *http.Server
	handler    http.Handler

	relay           Uploader
	breaker         *relay.CircuitBreaker
	build           BuildInfo
	log             *zap.Logger
	metrics         *Metrics
	probe           *vendorProbe
	maxUploadBytes  int64
	multipartMemory int64
}

const defaultMultipartMemory = 32 << 20

func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MultipartMemory <= 0 {
		cfg.MultipartMemory = defaultMultipartMemory
	}

	s := &Server{
		relay:           cfg.Relay,
		breaker:         cfg.Breaker,
		build:           cfg.Build,
		log:             log,
		metrics:         NewMetrics(),
		probe:           &vendorProbe{ping: cfg.Relay.Ping, ttl: vendorPingTTL},
		maxUploadBytes:  cfg.MaxUploadBytes,
		multipartMemory: cfg.MultipartMemory,
	}

	static := newSPAHandler(cfg.Static)
	if !static.indexAvailable() {
		log.Warn("fallback document missing; unmatched paths will return 404",
			zap.String("dir", cfg.Static.Dir),
			zap.String("index", static.index),
		)
	}

	exporter := NewPrometheusExporter(s.metrics, cfg.Breaker, cfg.Build.Version, cfg.Relay.Backend())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /live", s.HandleLive)
	mux.HandleFunc("GET /ready", s.HandleReady)
	mux.Handle("GET /metrics", exporter.Handler())
	mux.Handle("GET /", static)

	// Outermost first: requestID -> logging -> recovery -> cors -> security -> compression -> mux
	var handler http.Handler = mux
	handler = compressionMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = corsMiddleware(cfg.CORS)(handler)
	handler = recoveryMiddleware(log)(handler)
	handler = loggingMiddleware(log, s.metrics)(handler)
	handler = requestIDMiddleware(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}

	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Metrics returns the server's counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. http.ErrServerClosed is reported as nil.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("backend", s.relay.Backend()))
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
