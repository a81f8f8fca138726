// ABOUTME: Gateway orchestrator that wires the protocol server to its gRPC and HTTP transports
// ABOUTME: Manages credential storage, listeners (TCP or tailnet), maintenance loops and shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/config"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/credential"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/dedupe"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/handler"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/metrics"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/ratelimit"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/rpc"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/store"
)

// Tailnet ports used when tailscale is enabled.
const (
	tailnetGRPCPort = ":50051"
	tailnetHTTPPort = ":80"
)

// Gateway owns every long-lived component of the server process.
type Gateway struct {
	config      *config.Config
	store       store.Store
	credentials *credential.Service
	tokens      *auth.TokenService
	limiter     ratelimit.Limiter
	convs       *conversation.Store
	events      *conversation.EventBroadcaster
	protocol    *protocol.Server
	metrics     *metrics.Metrics
	grpcServer  *grpc.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// serverID identifies this gateway instance
	serverID string

	// denylist holds revoked token ids; nil when revocation is disabled
	denylist *dedupe.Cache

	// requestIDs rejects replayed stream request ids
	requestIDs *dedupe.Cache
}

// initStore opens the credential store selected by config and environment.
// An empty path keeps credentials in memory.
func initStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MCP_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		logger.Warn("no database path configured, credentials will not survive a restart")
		return store.NewMemoryStore(), nil
	}

	s, err := store.NewSQLiteStore(dbPath, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// createGRPCServer builds the gRPC server with keepalive settings and the
// bearer metadata interceptor.
func createGRPCServer(tokens auth.TokenValidator, logger *slog.Logger) *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(tokens, logger.With("component", "auth"))),
	)
}

// createTokenService builds the token service, with a revocation denylist
// when enabled. The denylist is unbounded; entries leave it only when the
// revoked token expires.
func createTokenService(cfg *config.Config) (*auth.TokenService, *dedupe.Cache, error) {
	opts := []auth.Option{auth.WithTTL(cfg.Auth.TokenTTL)}
	var denylist *dedupe.Cache
	if cfg.Auth.Revocation {
		denylist = dedupe.New(cfg.Auth.TokenTTL, 0)
		opts = append(opts, auth.WithDenylist(denylist))
	}
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), opts...)
	if err != nil {
		if denylist != nil {
			denylist.Close()
		}
		return nil, nil, fmt.Errorf("creating token service: %w", err)
	}
	return tokens, denylist, nil
}

// New creates a Gateway from cfg. The configuration must already be
// validated.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	creds, err := credential.NewService(s,
		credential.WithIterations(cfg.Auth.PBKDF2Iterations),
		credential.WithAudit(s),
		credential.WithLogger(logger),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating credential service: %w", err)
	}

	tokens, denylist, err := createTokenService(cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating rate limiter: %w", err)
	}

	h, err := handler.New(cfg.Handler, logger.With("component", "handler"))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating handler: %w", err)
	}

	events := conversation.NewEventBroadcaster(logger)
	convs := conversation.NewStore(
		conversation.WithMaxMessages(cfg.Conversations.MaxMessages),
		conversation.WithBroadcaster(events),
		conversation.WithLogger(logger),
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	proto, err := protocol.New(protocol.Config{
		Name:            "mcp-gateway",
		MaxAuthAttempts: cfg.Auth.MaxAuthAttempts,
		DrainTimeout:    cfg.Shutdown.DrainTimeout,
		HandlerTimeout:  cfg.Handler.Timeout,
		SanitizeInput:   cfg.Security.SanitizeInput,
	}, protocol.Deps{
		Credentials:   creds,
		Tokens:        tokens,
		Limiter:       limiter,
		Conversations: convs,
		Handler:       h,
		Metrics:       m,
		Audit:         s,
		Logger:        logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw := &Gateway{
		config:      cfg,
		store:       s,
		credentials: creds,
		tokens:      tokens,
		limiter:     limiter,
		convs:       convs,
		events:      events,
		protocol:    proto,
		metrics:     m,
		logger:      logger.With("component", "gateway"),
		serverID:    generateServerID(),
		denylist:    denylist,
		requestIDs:  dedupe.New(5*time.Minute, 100_000),
	}

	gw.grpcServer = createGRPCServer(tokens, logger)
	rpc.RegisterConversationServer(gw.grpcServer, newConversationServer(gw, logger.With("component", "grpc")))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Credentials exposes the credential service for administrative commands.
func (g *Gateway) Credentials() *credential.Service {
	return g.credentials
}

// Protocol exposes the protocol server.
func (g *Gateway) Protocol() *protocol.Server {
	return g.protocol
}

// ServeGRPC serves the session stream on lis until the gateway shuts down.
func (g *Gateway) ServeGRPC(lis net.Listener) error {
	return g.grpcServer.Serve(lis)
}

// routes builds the HTTP mux.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /api/v1/info", g.handleInfo)

	// Token endpoints authenticate with credentials or the presented token
	mux.HandleFunc("POST /api/v1/auth/token", g.handleIssueToken)
	mux.HandleFunc("POST /api/v1/auth/revoke", g.handleRevokeToken)
	mux.HandleFunc("POST /api/v1/messages", g.handleMessage)

	// Conversation endpoints - bearer token required
	authMiddleware := auth.HTTPAuthMiddleware(g.tokens, g.logger.With("component", "auth"))
	mux.Handle("POST /api/v1/conversations", authMiddleware(http.HandlerFunc(g.handleCreateConversation)))
	mux.Handle("GET /api/v1/conversations", authMiddleware(http.HandlerFunc(g.handleListConversations)))
	mux.Handle("GET /api/v1/conversations/{id}", authMiddleware(http.HandlerFunc(g.handleGetConversation)))
	mux.Handle("DELETE /api/v1/conversations/{id}", authMiddleware(http.HandlerFunc(g.handleDeleteConversation)))
	mux.Handle("GET /api/v1/conversations/{id}/transcript", authMiddleware(http.HandlerFunc(g.handleTranscript)))
	mux.Handle("GET /api/v1/conversations/{id}/events", authMiddleware(http.HandlerFunc(g.handleEvents)))

	if g.metrics != nil {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
		g.logger.Info("metrics enabled", "path", g.config.Metrics.Path)
	}
	return mux
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.logger.Warn("server addresses are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.ServeGRPC(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// runMaintenance evicts idle conversations and prunes idle rate limit
// state until ctx is done.
func (g *Gateway) runMaintenance(ctx context.Context) {
	cfg := g.config.Conversations
	if cfg.IdleTimeout > 0 {
		go g.convs.RunSweeper(ctx, cfg.SweepInterval, cfg.IdleTimeout)
	}

	window := g.config.RateLimit.Window
	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := g.limiter.Prune(window); n > 0 {
					g.logger.Debug("pruned rate limit state", "identities", n)
				}
			}
		}
	}()
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		select {
		case additionalErr := <-errCh:
			g.logger.Error("additional server error", "error", additionalErr)
		default:
		}
		return err
	}
}

// Run starts the gateway servers and blocks until ctx is canceled or a
// server fails. It returns nil after a graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	maintCtx, stopMaintenance := context.WithCancel(ctx)
	defer stopMaintenance()
	g.runMaintenance(maintCtx)

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown allows the drain timeout plus a margin for the
// transports, on a fresh context since Run's is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Shutdown.DrainTimeout+5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "mcp-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", tailnetGRPCPort)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.tsnetServer.Listen("tcp", tailnetHTTPPort)
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown drains the protocol server, then stops the transports and
// releases every resource. In-flight requests still running after the
// drain timeout are cancelled.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.protocol.Stop(ctx); err != nil {
		g.logger.Warn("protocol drain incomplete", "error", err)
	}

	// Closing the broadcaster ends open event streams so HTTP shutdown
	// does not wait on them.
	g.events.Close()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.requestIDs.Close()
	if g.denylist != nil {
		g.denylist.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK while the protocol server accepts work.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	info := g.protocol.Info()
	if info.ShuttingDown {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions, %d conversations)", info.Sessions, info.Conversations)
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("mcp-gateway-%d", time.Now().UnixNano()%1000000)
}
