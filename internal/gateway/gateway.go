// ABOUTME: Gateway orchestrator that serves the chat HTTP API
// ABOUTME: Owns the hub, account store, dedupe cache and HTTP server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/hub"
	"github.com/2389/coven-chat/internal/store"
)

// DefaultKeepAlive is the interval between SSE keepalive comments.
const DefaultKeepAlive = 25 * time.Second

// Gateway serves the chat API over HTTP.
type Gateway struct {
	hub         *hub.Hub
	registrar   *Registrar
	verifier    *auth.JWTVerifier
	dedupe      *dedupe.Cache
	tokenTTL    time.Duration
	allowSignup bool
	keepAlive   time.Duration
	closer      io.Closer
	addr        string

	httpServer *http.Server
	logger     *slog.Logger
	now        func() time.Time

	// done is closed at shutdown so live streams return before the HTTP
	// server waits for them.
	done      chan struct{}
	closeOnce sync.Once
}

// Options wires a Gateway from already constructed parts.
type Options struct {
	Hub         *hub.Hub
	Accounts    store.AccountStore
	Verifier    *auth.JWTVerifier
	Dedupe      *dedupe.Cache
	TokenTTL    time.Duration
	AllowSignup bool
	KeepAlive   time.Duration
	Addr        string
	// Closer is closed after the hub at shutdown, typically the store.
	Closer io.Closer
	Logger *slog.Logger
}

// New creates a Gateway from configuration: it opens the SQLite store,
// reloads persisted records into the hub and prepares the HTTP server.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	mode, err := hub.ParsePushMode(cfg.Live.PushMode)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}
	h := hub.New(hub.Options{
		Mode:      mode,
		Persister: sqlStore,
		Logger:    logger,
	})
	if err := h.Load(context.Background()); err != nil {
		sqlStore.Close()
		return nil, fmt.Errorf("loading records: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		h.Close()
		sqlStore.Close()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	return NewServer(Options{
		Hub:         h,
		Accounts:    sqlStore,
		Verifier:    verifier,
		Dedupe:      dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize, dedupe.WithSweepInterval(time.Minute)),
		TokenTTL:    cfg.Auth.TokenTTL,
		AllowSignup: cfg.Auth.SignupEnabled(),
		Addr:        cfg.Server.HTTPAddr,
		Closer:      sqlStore,
		Logger:      logger,
	}), nil
}

// NewServer creates a Gateway from parts. Hub, Accounts and Verifier are
// required.
func NewServer(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dedupe == nil {
		opts.Dedupe = dedupe.New(0, 0)
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = config.DefaultTokenTTL
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}

	g := &Gateway{
		hub:         opts.Hub,
		registrar:   NewRegistrar(opts.Accounts, opts.Hub, logger),
		verifier:    opts.Verifier,
		dedupe:      opts.Dedupe,
		tokenTTL:    opts.TokenTTL,
		allowSignup: opts.AllowSignup,
		keepAlive:   opts.KeepAlive,
		closer:      opts.Closer,
		addr:        opts.Addr,
		logger:      logger.With("component", "gateway"),
		now:         time.Now,
		done:        make(chan struct{}),
	}

	g.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Registrar exposes account management for administrative commands.
func (g *Gateway) Registrar() *Registrar {
	return g.registrar
}

// Handler returns the HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and auth endpoints - no token required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/api/auth/signup", g.handleSignup)
	mux.HandleFunc("/api/auth/login", g.handleLogin)

	authMiddleware := auth.HTTPAuthMiddleware(g.verifier)
	mux.Handle("/api/query", authMiddleware(http.HandlerFunc(g.handleQuery)))
	mux.Handle("/api/write", authMiddleware(http.HandlerFunc(g.handleWrite)))
	mux.Handle("/api/live", authMiddleware(http.HandlerFunc(g.handleLive)))

	return mux
}

// Run listens on the configured address and serves until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown ends live streams, stops the HTTP server and releases the hub,
// dedupe cache and store. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	g.closeOnce.Do(func() {
		g.logger.Info("shutting down gateway")
		close(g.done)

		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		g.hub.Close()
		g.dedupe.Close()
		if g.closer != nil {
			errs = appendCloseError(errs, "store close", g.closer.Close())
		}
	})
	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK until shutdown begins.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.done:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	default:
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d live queries)", g.hub.LiveCount())
}
