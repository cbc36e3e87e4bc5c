package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/portico/internal/auth"
	"github.com/MGallo-Code/portico/internal/config"
	"github.com/MGallo-Code/portico/internal/oauth"
	"github.com/MGallo-Code/portico/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// sessionStore is what run needs from a backing store: the auth.Store surface plus cleanup.
type sessionStore interface {
	auth.Store
	CleanupExpiredSessions(ctx context.Context) (int64, error)
	Close()
}

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer ps.Close()

	// Redis is optional; without it login initiation is not rate limited.
	var rl auth.RateLimiter = store.NoopRateLimiter{}
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		rl = store.NewRedisRateLimiter(rdb)
	} else {
		slog.Warn("REDIS_URL not set, login rate limiting disabled")
	}

	provs, err := cfg.Providers()
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}
	reg, err := oauth.NewRegistry(provs...)
	if err != nil {
		return err
	}
	attempts := oauth.NewVerifierStore(cfg.PKCETTL)

	h := &auth.AuthHandler{
		PS:        ps,
		RL:        rl,
		OAuth:     oauth.NewClient(reg, attempts, cfg.OAuthHTTPTimeout),
		Identity:  oauth.NewResolver(reg, cfg.OAuthHTTPTimeout),
		Cookies:   newCookieCodec(cfg),
		Providers: reg.IDs(),
		RateLogin: store.RateLimit{MaxAttempts: cfg.RateLoginMax, Window: cfg.RateLoginWindow},
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h, cfg.TrustProxyHeaders)}

	// Cleanup goroutine; drops expired sessions and abandoned login attempts.
	// Cancelled via cleanupCtx when run() returns.
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go runCleanup(cleanupCtx, cfg.SessionCleanupInterval, ps, attempts)

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("portico listening", "addr", ln.Addr().String(), "providers", reg.IDs(), "store", cfg.StoreDriver)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting new conns and waits for in-flight requests (and their session writes).
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// openStore connects the configured backing store. Postgres runs embedded migrations first.
func openStore(ctx context.Context, cfg *config.Config) (sessionStore, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		ss, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to set up sqlite store: %w", err)
		}
		return ss, nil
	default:
		ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up postgres store: %w", err)
		}
		migrationsFS, err := fs.Sub(migrationsDir, "migrations")
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("failed to access embedded migrations: %w", err)
		}
		if err := ps.Migrate(ctx, migrationsFS); err != nil {
			ps.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return ps, nil
	}
}

// newCookieCodec uses the configured keys, or random per-boot keys outside production.
// Config validation already rejects missing keys in production.
func newCookieCodec(cfg *config.Config) *auth.CookieCodec {
	hashKey, blockKey := cfg.CookieHashKey, cfg.CookieBlockKey
	if hashKey == nil || blockKey == nil {
		slog.Warn("COOKIE_HASH_KEY/COOKIE_BLOCK_KEY not set, using random keys; sessions will not survive a restart")
		hashKey = securecookie.GenerateRandomKey(64)
		blockKey = securecookie.GenerateRandomKey(32)
	}
	if !cfg.CookieSecure {
		slog.Warn("COOKIE_SECURE=false, session cookie will be sent over plain http")
	}
	return auth.NewCookieCodec(cfg.CookieName, hashKey, blockKey, cfg.CookieSecure)
}

// runCleanup ticks until ctx is done. Failures are logged and retried next tick.
func runCleanup(ctx context.Context, every time.Duration, ps sessionStore, attempts *oauth.VerifierStore) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := ps.CleanupExpiredSessions(ctx)
			if err != nil {
				slog.Warn("session cleanup failed", "error", err)
			} else {
				slog.Info("session cleanup complete", "deleted", n)
			}
			if swept := attempts.Sweep(); swept > 0 {
				slog.Info("stale login attempts swept", "count", swept)
			}
		case <-ctx.Done():
			return
		}
	}
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
// trustProxy enables RealIP; without it the rate limiter keys on the TCP peer address.
func buildRouter(h *auth.AuthHandler, trustProxy bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", h.LoginOptions)
	r.Get("/login", h.LoginOptions)
	r.Get("/health", h.CheckHealth)
	r.Get("/login-initiate/{provider}", h.LoginInitiate)
	r.Get("/callback/{provider}", h.Callback)
	r.Get("/logout", h.Logout)

	// Browser pages: unauthenticated requests are redirected to /login.
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/protected", h.Protected)
		r.Get("/protected/profile", h.Profile)
	})

	// API: unauthenticated requests get 401 JSON.
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuthAPI)
		r.Get("/api/me", h.Me)
	})

	return r
}
