package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"tlsgate/stats"
)

// HTTPServer serves HTTP or HTTPS through a Listener so every request carries
// its connection id and captured ClientHello.
type HTTPServer struct {
	addr      string
	tlsConfig *tls.Config
	handler   http.Handler
	maxHello  int
	logger    *log.Logger
	stats     *stats.Tracker
	server    *http.Server
	listener  net.Listener
}

// HTTPServerConfig configures an HTTPServer. A nil TLSConfig serves plain
// HTTP, in which case no ClientHello is ever captured.
type HTTPServerConfig struct {
	Addr          string
	TLSConfig     *tls.Config
	Handler       http.Handler
	MaxHelloBytes int
	Logger        *log.Logger
	Stats         *stats.Tracker
}

// NewHTTPServer creates a server; call Start to begin accepting.
func NewHTTPServer(cfg HTTPServerConfig) *HTTPServer {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &HTTPServer{
		addr:      cfg.Addr,
		tlsConfig: cfg.TLSConfig,
		handler:   cfg.Handler,
		maxHello:  cfg.MaxHelloBytes,
		logger:    cfg.Logger,
		stats:     cfg.Stats,
	}
}

// Start binds the address and serves in the background.
func (s *HTTPServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	inner, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	var ln net.Listener = NewListener(inner, s.maxHello, s.stats)
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.handler,
		ConnContext:       ConnContext,
		TLSConfig:         s.tlsConfig,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          s.logger,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Listener: server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address when listening, else the configured one.
func (s *HTTPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// LoadTLSConfig loads a certificate pair for HTTPS.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
