package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teemow/inboxpilot/internal/assistant"
	"github.com/teemow/inboxpilot/internal/auth"
	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/instrumentation"
)

// ErrNoCredential is returned when a request carries no usable Google credential.
var ErrNoCredential = errors.New("no google credential: forward tokens or sign in first")

// CredentialLoader loads stored credentials. *auth.Vault implements it.
type CredentialLoader interface {
	Load(ctx context.Context, subject string) (auth.Credential, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Options configures a ServerContext.
type Options struct {
	Assistant *assistant.Service
	Store     conversation.Store

	// Credentials is optional; without it only forwarded tokens are accepted.
	Credentials CredentialLoader

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
	Now     func() time.Time
}

// ServerContext holds the dependencies shared by all transports.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	assistant   *assistant.Service
	store       conversation.Store
	credentials CredentialLoader
	metrics     *instrumentation.Metrics
	audit       *instrumentation.AuditLogger
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	checks   map[string]ReadinessCheck
	shutdown bool
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, opts Options) (*ServerContext, error) {
	if opts.Assistant == nil {
		return nil, errors.New("assistant service is required")
	}
	if opts.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:         shutdownCtx,
		cancel:      cancel,
		assistant:   opts.Assistant,
		store:       opts.Store,
		credentials: opts.Credentials,
		metrics:     opts.Metrics,
		audit:       opts.Audit,
		logger:      opts.Logger,
		now:         opts.Now,
		checks:      make(map[string]ReadinessCheck),
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Assistant returns the request pipeline.
func (sc *ServerContext) Assistant() *assistant.Service {
	return sc.assistant
}

// Store returns the conversation store.
func (sc *ServerContext) Store() conversation.Store {
	return sc.store
}

// Metrics returns the metrics recorder, which may be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger, which may be nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// Credential resolves the caller's Google credential. Forwarded token headers
// win; otherwise the credential stored for subject (or the forwarded user
// email when subject is empty) is loaded.
func (sc *ServerContext) Credential(ctx context.Context, h http.Header, subject string) (auth.Credential, error) {
	if cred, ok := auth.CredentialFromHeaders(h, sc.now()); ok {
		if cred.Subject == "" {
			cred.Subject = subject
		}
		return cred, nil
	}
	if subject == "" {
		subject = strings.TrimSpace(h.Get(auth.SubjectHeader))
	}
	if subject == "" || sc.credentials == nil {
		return auth.Credential{}, ErrNoCredential
	}
	cred, err := sc.credentials.Load(ctx, subject)
	if err != nil {
		return auth.Credential{}, errors.Join(ErrNoCredential, err)
	}
	return cred, nil
}

// AddReadinessCheck registers a named readiness check.
func (sc *ServerContext) AddReadinessCheck(name string, check ReadinessCheck) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.checks[name] = check
}

// runChecks runs all readiness checks and returns failures by name.
func (sc *ServerContext) runChecks(ctx context.Context) map[string]error {
	sc.mu.RLock()
	names := make([]string, 0, len(sc.checks))
	for name := range sc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]ReadinessCheck, len(names))
	for i, name := range names {
		checks[i] = sc.checks[name]
	}
	sc.mu.RUnlock()

	results := make(map[string]error, len(names))
	for i, name := range names {
		results[name] = checks[i](ctx)
	}
	return results
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
