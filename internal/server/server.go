package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thruflo/esprelay/internal/auth"
	"github.com/thruflo/esprelay/internal/config"
	"github.com/thruflo/esprelay/internal/logging"
	"github.com/thruflo/esprelay/internal/relay"
	"github.com/thruflo/esprelay/web"
)

// limiterCleanupInterval is how often stale rate limit entries are dropped.
const limiterCleanupInterval = 10 * time.Minute

// Server is the relay's HTTP front end.
type Server struct {
	addr       string
	guard      *auth.Guard
	creds      auth.Credentials
	relay      *relay.Service
	deviceKey  string
	trustProxy bool
	assets     fs.FS
	static     fs.FS
	limiter    *rateLimiter
	log        *logging.Logger
	upgrader   websocket.Upgrader
	handler    http.Handler

	// HTTP server
	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	started  bool
}

// Config holds server configuration options.
type Config struct {
	// Addr is the listen address, e.g. ":8000". Port 0 picks a free port.
	Addr        string
	Guard       *auth.Guard
	Credentials auth.Credentials
	Relay       *relay.Service
	// DeviceKey, when non-empty, must be sent by devices in X-Device-Key.
	DeviceKey string
	// Assets holds index.html and login.html. Defaults to the embedded
	// console.
	Assets fs.FS
	// Static is served under /static/. Nil leaves the route unmounted.
	Static    fs.FS
	RateLimit RateLimitConfig
	// TrustProxy takes client IPs from X-Forwarded-For and X-Real-IP.
	TrustProxy bool
	// Now drives the login rate limiter. Defaults to time.Now.
	Now    func() time.Time
	Logger *logging.Logger
}

// NewServer creates a new Server instance.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Guard == nil {
		return nil, errors.New("session guard is required")
	}
	if cfg.Relay == nil {
		return nil, errors.New("relay service is required")
	}
	if cfg.Credentials.Username == "" {
		return nil, errors.New("operator username is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	assets := cfg.Assets
	if assets == nil {
		assets = web.Embedded()
	}

	s := &Server{
		addr:       cfg.Addr,
		guard:      cfg.Guard,
		creds:      cfg.Credentials,
		relay:      cfg.Relay,
		deviceKey:  cfg.DeviceKey,
		trustProxy: cfg.TrustProxy,
		assets:     assets,
		static:     cfg.Static,
		limiter:    newRateLimiter(cfg.RateLimit, cfg.Now, log),
		log:        log,
		upgrader: websocket.Upgrader{
			// The feed is session guarded and SameSite=Lax keeps the
			// cookie off cross-site upgrades.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.handler = s.withRequestLog(s.withCORS(s.routes()))

	return s, nil
}

// NewServerFromConfig wires a Server from loaded configuration.
func NewServerFromConfig(cfg *config.Config, svc *relay.Service, log *logging.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	codec, err := auth.NewCodec(cfg.Session.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	guard, err := auth.NewGuard(auth.GuardConfig{
		Codec:    codec,
		Operator: cfg.Operator.Username,
		MaxAge:   cfg.Session.MaxAge.Std(),
		Secure:   cfg.Session.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session guard: %w", err)
	}

	return NewServer(&Config{
		Addr:  cfg.Server.Addr,
		Guard: guard,
		Credentials: auth.Credentials{
			Username:     cfg.Operator.Username,
			Password:     cfg.Operator.Password,
			PasswordHash: cfg.Operator.PasswordHash,
		},
		Relay:      svc,
		DeviceKey:  cfg.Devices.Key,
		Assets:     web.Assets(cfg.Server.StaticDir),
		Static:     web.Static(cfg.Server.StaticDir),
		TrustProxy: cfg.Server.TrustProxy,
		Logger:     log,
	})
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server.
// The server runs until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.started = true
	s.mu.Unlock()

	s.log.Info("relay listening", "addr", listener.Addr().String(), "devices", s.relay.Registry().Len())

	stop := make(chan struct{})
	defer close(stop)
	go s.cleanupLimiter(ctx, stop)
	go func() {
		select {
		case <-ctx.Done():
			if err := s.Stop(); err != nil {
				s.log.Error("shutdown failed", "error", err)
			}
		case <-stop:
		}
	}()

	err = s.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	// Websocket feeds are hijacked and ignored by Shutdown; closing the hub
	// ends them.
	s.relay.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.started = false
	s.log.Info("relay stopped")
	return nil
}

// ListenAddr returns the actual address the server is listening on.
// Useful when port 0 is used to get an available port.
// Returns empty string if not started.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// cleanupLimiter periodically drops stale login rate limit entries.
func (s *Server) cleanupLimiter(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.limiter.cleanup()
		}
	}
}
