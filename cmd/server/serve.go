package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/steveyegge/homegraph/internal/accesspolicy"
	"github.com/steveyegge/homegraph/internal/audit"
	"github.com/steveyegge/homegraph/internal/auth"
	"github.com/steveyegge/homegraph/internal/config"
	"github.com/steveyegge/homegraph/internal/graphindex"
	"github.com/steveyegge/homegraph/internal/idgen"
	"github.com/steveyegge/homegraph/internal/mcp"
	"github.com/steveyegge/homegraph/internal/storage"
	"github.com/steveyegge/homegraph/internal/storage/sqlite"
	"github.com/steveyegge/homegraph/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the graph host and sync service",
	RunE:  runServe,
}

// app bundles the wiring a request handler needs. Built once in runServe and
// closed over by the mux.
type app struct {
	cfg         config.Config
	store       storage.Store
	index       *graphindex.Index
	syncSvc     *sync.Service
	enforcer    *accesspolicy.Enforcer
	auditLog    *audit.Logger
	limiter     *auth.RateLimiter
	enrollments *auth.GuestEnrollmentStore
	versions    *idgen.VersionClock
}

func runServe(cmd *cobra.Command, _ []string) error {
	loader, err := config.New(cfgFile)
	if err != nil {
		logger.Error("configuration error", "err", err)
		os.Exit(exitConfigError)
	}
	cfg := loader.Current()

	store, err := sqlite.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open storage", "err", err)
		os.Exit(exitStorageFatal)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	index := graphindex.New(store)
	if err := index.Rebuild(ctx); err != nil {
		logger.Error("failed to build graph index", "err", err)
		os.Exit(exitStorageFatal)
	}

	sink, err := openAuditSink(cfg.AuditSinkPath)
	if err != nil {
		logger.Error("failed to open audit sink", "err", err)
		os.Exit(exitStorageFatal)
	}
	auditLog := audit.NewLogger(sink, 4096, audit.DefaultDetectorConfig)
	defer auditLog.Close()

	a := &app{
		cfg:         cfg,
		store:       store,
		index:       index,
		syncSvc:     sync.NewService(store, cfg.SyncBatchMax, idgen.NewVersionClock("server")),
		enforcer:    accesspolicy.NewEnforcer(auditLog),
		auditLog:    auditLog,
		limiter:     auth.NewRateLimiter(auth.RateLimiterConfig{Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax, Lockout: cfg.RateLimitLockout, BaseDelay: 50 * time.Millisecond, IdleEvict: 30 * time.Minute}),
		enrollments: auth.NewGuestEnrollmentStore(fmt.Sprintf("%x", cfg.SigningKey[:min(8, len(cfg.SigningKey))])),
		versions:    idgen.NewVersionClock("server"),
	}

	loader.WatchAndReload(func(next config.Config) {
		a.cfg = next
		a.limiter = auth.NewRateLimiter(auth.RateLimiterConfig{Window: next.RateLimitWindow, Max: next.RateLimitMax, Lockout: next.RateLimitLockout, BaseDelay: 50 * time.Millisecond, IdleEvict: 30 * time.Minute})
		logger.Info("reloaded hot-reloadable configuration")
	})

	mcpService := mcp.NewService(store, index, "server")
	mcpServer := mcp.NewServer(mcpService, a.enforcer)
	sdkServer := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "homegraph", Version: "1.0.0"}, nil)
	mcpServer.Register(sdkServer, a.callerFromContext)

	mux := http.NewServeMux()
	a.registerRoutes(mux)
	mcpHandler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return sdkServer }, nil)
	mux.Handle("/mcp", withRequestContext(mcpHandler))

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("error closing storage", "err", err)
	}
	os.Exit(exitOK)
	return nil
}

func openAuditSink(path string) (*os.File, error) {
	if path == "" {
		return os.Stderr, nil
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}

// callerFromContext resolves the authenticated Caller for an MCP request.
// The incoming *http.Request, whose headers carry the bearer token, is
// attached to the context by withRequestContext; verification failures resolve to an
// unauthenticated Caller so the access policy denies the call uniformly.
func (a *app) callerFromContext(ctx context.Context) mcp.Caller {
	req, _ := ctx.Value(requestContextKey{}).(*http.Request)
	if req == nil {
		return mcp.Caller{}
	}
	clientIP := clientIPFromRequest(req)
	token := bearerToken(req)
	if token == "" {
		return mcp.Caller{ClientIP: clientIP}
	}
	claims, err := auth.VerifyToken(a.cfg.SigningKey, token)
	if err != nil {
		a.auditLog.Emit(audit.Record{Event: audit.EventTokenInvalid, Severity: audit.SeverityWarning, ClientIP: clientIP})
		return mcp.Caller{ClientIP: clientIP}
	}
	a.auditLog.Emit(audit.Record{Event: audit.EventTokenVerified, Severity: audit.SeverityInfo, ClientIP: clientIP, SubjectID: claims.Subject})
	return mcp.Caller{Claims: claims, ClientIP: clientIP}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func clientIPFromRequest(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

// requestContextKey stashes the *http.Request on the context so a tool
// handler resolving a Caller (a.callerFromContext) can read its headers; the
// MCP SDK threads a request-derived context through to every tool call.
type requestContextKey struct{}

func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), requestContextKey{}, r)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
