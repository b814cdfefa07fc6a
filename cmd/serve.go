package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/config"
	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/resources"
	"github.com/teemow/inboxpilot/internal/server"
	"github.com/teemow/inboxpilot/internal/tools/action_tools"
	"github.com/teemow/inboxpilot/internal/tools/assistant_tools"
	"github.com/teemow/inboxpilot/internal/tools/common"
)

// serveFlags are the flags that override the config file.
type serveFlags struct {
	configPath         string
	debugMode          bool
	transport          string
	httpAddr           string
	yolo               bool
	googleClientID     string
	googleClientSecret string
	metricsEnabled     bool
	metricsAddr        string
	storeBackend       string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant server",
		Long: `Start the inboxpilot server. It accepts conversation requests over HTTP,
streams conversation updates to websocket viewers and exposes the same
operations as MCP tools.

Supports multiple transport types:
  - streamable-http: HTTP API, websocket stream and MCP endpoint at /mcp (default)
  - stdio: MCP over standard input/output

Safety Mode:
  By default, the MCP tools are read-only. Use --yolo to register the tools that
  send email, create events or change Drive files. The HTTP API is not affected.

Configuration:
  Settings come from the YAML file given by --config, then environment variables
  (GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, OPENAI_API_KEY, DATABASE_URL,
  INBOXPILOT_*), then flags.

Credentials:
  HTTP callers forward their Google tokens in the X-Google-Access-Token,
  X-Google-Refresh-Token and X-Google-Token-Expiry headers together with the
  X-Forwarded-Email identity set by the SSO proxy. Refreshed credentials are
  kept for the subject so later requests may omit the token headers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags.configPath, flags.debugMode)
			if err != nil {
				return err
			}
			applyServeFlags(cmd, &cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg, logger, flags.yolo)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().BoolVar(&flags.debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&flags.transport, "transport", config.TransportStreamableHTTP, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&flags.httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http transport)")
	cmd.Flags().BoolVar(&flags.yolo, "yolo", false, "Register MCP tools with side effects (send email, create events, modify files)")
	cmd.Flags().StringVar(&flags.googleClientID, "google-client-id", "", "Google OAuth client ID used for token refresh (can also be set via GOOGLE_CLIENT_ID)")
	cmd.Flags().StringVar(&flags.googleClientSecret, "google-client-secret", "", "Google OAuth client secret used for token refresh (can also be set via GOOGLE_CLIENT_SECRET)")
	cmd.Flags().BoolVar(&flags.metricsEnabled, "metrics-enabled", true, "Serve Prometheus metrics on a dedicated port (can also be set via INBOXPILOT_METRICS_ENABLED)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address (can also be set via INBOXPILOT_METRICS_ADDR)")
	cmd.Flags().StringVar(&flags.storeBackend, "store", config.StoreMemory, "Conversation store backend: memory, postgres, sqlite or dynamodb (can also be set via INBOXPILOT_STORE)")

	return cmd
}

// applyServeFlags copies explicitly set flags over cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, flags serveFlags) {
	changed := cmd.Flags().Changed
	if changed("transport") {
		cfg.Server.Transport = flags.transport
	}
	if changed("http-addr") {
		cfg.Server.HTTPAddr = flags.httpAddr
	}
	if changed("google-client-id") {
		cfg.Google.ClientID = flags.googleClientID
	}
	if changed("google-client-secret") {
		cfg.Google.ClientSecret = flags.googleClientSecret
	}
	if changed("metrics-enabled") {
		cfg.Server.MetricsEnabled = flags.metricsEnabled
	}
	if changed("metrics-addr") {
		cfg.Server.MetricsAddr = flags.metricsAddr
	}
	if changed("store") {
		cfg.Store.Backend = flags.storeBackend
	}
}

func runServe(cfg config.Config, logger *slog.Logger, yolo bool) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	transport := cfg.Server.Transport
	a, err := newApp(shutdownCtx, cfg, logger, appOptions{Instrument: transport != config.TransportStdio})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	serverContext, err := a.serverContext(context.Background())
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("error during server context shutdown", logging.Err(err))
		}
	}()
	health := server.NewHealthChecker(serverContext, version)

	// Start metrics server if enabled and not in stdio mode
	if transport != config.TransportStdio && cfg.Server.MetricsEnabled && a.provider.Enabled() {
		metricsServer, err := startMetricsServer(cfg.Server.MetricsAddr, a, health)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Warn("error during metrics server shutdown", logging.Err(err))
			}
		}()
	}

	mcpSrv := mcpserver.NewMCPServer("inboxpilot", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false), // Subscribe and listChanged
	)

	// readOnly is the inverse of yolo
	readOnly := !yolo
	if readOnly {
		logger.Info("registering read-only MCP tools (use --yolo to enable write operations)")
	} else {
		logger.Info("registering MCP tools with write operations enabled (--yolo flag is set)")
	}

	if err := registerAllTools(mcpSrv, serverContext, readOnly); err != nil {
		return err
	}

	switch transport {
	case config.TransportStdio:
		return runStdioServer(mcpSrv)
	case config.TransportStreamableHTTP:
		return runStreamableHTTPServer(shutdownCtx, mcpSrv, serverContext, health, cfg)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", transport)
	}
}

func startMetricsServer(addr string, a *app, health *server.HealthChecker) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		Enabled:                 true,
		InstrumentationProvider: a.provider,
		Health:                  health,
		Logger:                  a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	// Start binds before serving, so a bind failure shows up almost at once.
	select {
	case err := <-metricsErr:
		if err != nil {
			return nil, fmt.Errorf("metrics server failed to start: %w", err)
		}
	case <-time.After(250 * time.Millisecond):
	}
	a.logger.Info("metrics server started", slog.String("addr", metricsServer.Addr()))
	return metricsServer, nil
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// registerAllTools registers all MCP tools and resources
func registerAllTools(mcpSrv *mcpserver.MCPServer, ctx *server.ServerContext, readOnly bool) error {
	type toolRegistration struct {
		name     string
		register func() error
	}

	registrations := []toolRegistration{
		{
			name: "Assistant",
			register: func() error {
				return assistant_tools.RegisterAssistantTools(mcpSrv, ctx, readOnly)
			},
		},
		{
			name: "Actions",
			register: func() error {
				return action_tools.RegisterActionTools(mcpSrv, ctx, readOnly)
			},
		},
		{
			name: "Conversation Resources",
			register: func() error {
				return resources.RegisterConversationResources(mcpSrv, ctx)
			},
		},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return fmt.Errorf("failed to register %s: %w", reg.name, err)
		}
	}

	return nil
}

// newHTTPHandler mounts the MCP endpoint next to the conversation API and
// the health probes.
func newHTTPHandler(mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, health *server.HealthChecker) http.Handler {
	mcpHandler := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath("/mcp"),
		mcpserver.WithHTTPContextFunc(common.WithRequestHeaders),
	)

	mux := http.NewServeMux()
	server.NewAPI(sc).Register(mux)
	health.RegisterHealthEndpoints(mux)
	mux.Handle("/mcp", mcpHandler)
	return mux
}

func runStreamableHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, health *server.HealthChecker, cfg config.Config) error {
	addr := cfg.Server.HTTPAddr
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           newHTTPHandler(mcpSrv, sc, health),
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked websocket connections outlive Shutdown; they end when
		// the server context is cancelled.
		BaseContext: func(net.Listener) context.Context { return sc.Context() },
	}

	fmt.Printf("inboxpilot server starting on %s\n", addr)
	fmt.Printf("  Conversation API: /v1/conversations/{id}/messages\n")
	fmt.Printf("  Conversation stream: /v1/conversations/{id}/stream (websocket)\n")
	fmt.Printf("  MCP endpoint: /mcp\n")
	fmt.Printf("  Health endpoints: /healthz, /readyz\n")
	fmt.Printf("  Store backend: %s\n", cfg.Store.Backend)
	if cfg.Server.MetricsEnabled {
		fmt.Printf("  Metrics endpoint: %s/metrics\n", cfg.Server.MetricsAddr)
	}

	if cfg.Google.ClientID != "" && cfg.Google.ClientSecret != "" {
		fmt.Println("\n✓ Automatic token refresh: ENABLED")
	} else {
		fmt.Println("\n⚠ Automatic token refresh: DISABLED")
		fmt.Println("  Users will need to re-authenticate when tokens expire (~1 hour)")
		fmt.Println("  To enable, provide --google-client-id and --google-client-secret")
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("Shutdown signal received, stopping HTTP server...")
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		_ = sc.Shutdown()
		if err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		fmt.Println("HTTP server stopped normally")
	}

	fmt.Println("HTTP server gracefully stopped")
	return nil
}

// parseKeyValues parses repeated key=value flags into a field map.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q: expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
