package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/giantswarm/mcp-oauth/storage/memory"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/assistant"
	"github.com/teemow/inboxpilot/internal/auth"
	"github.com/teemow/inboxpilot/internal/calendar"
	"github.com/teemow/inboxpilot/internal/config"
	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/datetime"
	"github.com/teemow/inboxpilot/internal/dispatch"
	"github.com/teemow/inboxpilot/internal/drive"
	"github.com/teemow/inboxpilot/internal/gmail"
	"github.com/teemow/inboxpilot/internal/google"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/intent"
	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/server"
)

// app holds the components shared by serve, ask and history.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	provider *instrumentation.Provider
	audit    *instrumentation.AuditLogger

	store  *conversation.SyncStore
	checks map[string]server.ReadinessCheck

	vault     *auth.Vault
	manager   *auth.Manager
	engine    *dispatch.Engine
	assistant *assistant.Service
}

type appOptions struct {
	// Instrument enables the OpenTelemetry provider. Off for one-shot commands.
	Instrument bool
}

// loadConfig reads the config file at path and applies the shared logging
// flags on top of it.
func loadConfig(path string, debug bool) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	logger := logging.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newApp wires the conversation store, the token manager, the capability
// providers and the assistant pipeline from cfg. Call close when done.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger, checks: map[string]server.ReadinessCheck{}}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if !opts.Instrument {
		instrConfig.Enabled = false
	}
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	a.provider = provider
	a.audit = instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging)
	metrics := provider.Metrics()

	backend, err := a.openBackend(ctx)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	a.store = conversation.NewSyncStore(backend, conversation.Options{
		Logger:  logger,
		Metrics: metrics,
	})

	a.vault = auth.NewVault(memory.New(), logger)
	a.manager = auth.NewManager(auth.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		TokenURL:     cfg.Google.TokenURL,
		ExpirySkew:   cfg.Google.RefreshSkew,
		Logger:       logger,
		Metrics:      metrics,
	})

	client := google.ClientConfig{Endpoint: cfg.Google.Endpoint}
	capabilities := []dispatch.Capability{
		gmail.NewSendCapability(client, metrics, logger),
		calendar.NewCreateEventCapability(client, cfg.Google.CalendarID, metrics, logger),
	}
	capabilities = append(capabilities, drive.NewFiles(client, metrics, logger).Capabilities()...)

	a.engine, err = dispatch.NewEngine(dispatch.Config{
		Refresher: a.manager,
		Logger:    logger,
		Metrics:   metrics,
		Audit:     a.audit,
	}, capabilities...)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to create dispatch engine: %w", err)
	}

	loc := cfg.Location()
	var classifier intent.Classifier
	if cfg.OpenAI.APIKey != "" {
		c, err := intent.NewOpenAIClassifier(intent.OpenAIConfig{
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.OpenAI.Model,
			Location: loc,
			Logger:   logger,
		})
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to create intent classifier: %w", err)
		}
		classifier = c
	} else {
		logger.Info("no OpenAI API key configured, free-text requests need an explicit action")
	}

	a.assistant, err = assistant.NewService(assistant.Config{
		Store:       a.store,
		Resolver:    actions.NewResolver(datetime.New(datetime.WithLocation(loc))),
		Dispatcher:  a.engine,
		Classifier:  classifier,
		Credentials: a.vault,
		Logger:      logger,
	})
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to create assistant: %w", err)
	}
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (conversation.Backend, error) {
	sc := a.cfg.Store
	switch sc.Backend {
	case config.StoreMemory:
		return conversation.NewMemoryStore(), nil
	case config.StorePostgres, config.StoreSQLite:
		store, err := conversation.OpenSQLStore(ctx, conversation.DefaultSQLConfig(sc.Backend, sc.DSN))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", sc.Backend, err)
		}
		a.checks["database"] = func(ctx context.Context) error {
			return store.DB().PingContext(ctx)
		}
		return store, nil
	case config.StoreDynamoDB:
		store, err := conversation.OpenDynamoStore(ctx, sc.Region, sc.Table, sc.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to open dynamodb store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// serverContext builds the context shared by the HTTP API and the MCP tools.
func (a *app) serverContext(ctx context.Context) (*server.ServerContext, error) {
	sc, err := server.NewServerContext(ctx, server.Options{
		Assistant:   a.assistant,
		Store:       a.store,
		Credentials: a.vault,
		Metrics:     a.provider.Metrics(),
		Audit:       a.audit,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, err
	}
	for name, check := range a.checks {
		sc.AddReadinessCheck(name, check)
	}
	return sc, nil
}

// close releases the store and flushes instrumentation.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.provider != nil {
		errs = append(errs, a.provider.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error during shutdown", logging.Err(err))
	}
}
