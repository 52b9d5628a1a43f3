package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/handlers"
	"pdfsqueeze/internal/metrics"
)

// Handlers groups the endpoint handlers the server routes to
type Handlers struct {
	Compress *handlers.CompressHandler
	Download *handlers.DownloadHandler
	Health   *handlers.HealthHandler
}

// Server wraps the HTTP server
type Server struct {
	logger *zap.Logger
	cfg    *config.Config
	srv    *http.Server
}

// New creates a new server instance
func New(logger *zap.Logger, cfg *config.Config, m *metrics.Metrics, h Handlers) *Server {
	r := mux.NewRouter()

	// Add request ID middleware
	r.Use(handlers.RequestIDMiddleware)

	// Metrics endpoint with optional basic auth
	metricsHandler := promhttp.Handler()
	if cfg.MetricsUsername != "" && cfg.MetricsPassword != "" {
		authMiddleware := handlers.BasicAuth(cfg.MetricsUsername, cfg.MetricsPassword)
		r.Handle("/metrics", authMiddleware(metricsHandler))
	} else {
		r.Handle("/metrics", metricsHandler)
	}

	r.HandleFunc("/health", h.Health.Health).Methods("GET")

	var compress http.Handler = http.HandlerFunc(h.Compress.Compress)
	compress = withTimeout(cfg.RequestTimeout, compress)
	if cfg.RateLimitPerIP > 0 {
		limiter := handlers.NewIPRateLimiter(cfg.RateLimitPerIP, cfg.RateLimitBurst, m)
		compress = limiter.Middleware(compress)
	}
	r.Handle("/compress", compress).Methods("POST")

	r.HandleFunc("/downloads/{id}", h.Download.Download).Methods("GET")

	return &Server{
		logger: logger,
		cfg:    cfg,
		srv: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// withTimeout bounds the request context; zero leaves it unbounded
func withTimeout(d time.Duration, next http.Handler) http.Handler {
	if d <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.cfg.EnableHTTPS {
		return s.startHTTPS()
	}
	return s.startHTTP()
}

func (s *Server) startHTTP() error {
	s.srv.Addr = ":" + s.cfg.Port
	s.logger.Info("starting HTTP server", zap.String("addr", s.srv.Addr))

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

func (s *Server) startHTTPS() error {
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(s.cfg.LetsEncryptDomains...),
		Cache:      autocert.DirCache(s.cfg.LetsEncryptCacheDir),
		Email:      s.cfg.LetsEncryptEmail,
	}

	// HTTP server for ACME challenges and redirects
	go func() {
		s.logger.Info("starting HTTP server for challenges/redirects", zap.String("addr", ":80"))
		if err := http.ListenAndServe(":80", m.HTTPHandler(nil)); err != nil {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.srv.Addr = ":443"
	s.srv.TLSConfig = &tls.Config{GetCertificate: m.GetCertificate}
	s.logger.Info("starting HTTPS server", zap.String("addr", s.srv.Addr), zap.Strings("domains", s.cfg.LetsEncryptDomains))

	go func() {
		if err := s.srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("HTTPS server error", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown waits for interrupt signal and gracefully shuts down the
// server. In-flight runs get the request timeout to finish.
func (s *Server) WaitForShutdown() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	<-stop

	s.logger.Info("shutting down server...")

	grace := 10 * time.Second
	if s.cfg.RequestTimeout > grace {
		grace = s.cfg.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}

	s.logger.Info("server stopped")
	return nil
}
