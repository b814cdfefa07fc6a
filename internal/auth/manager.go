package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

const (
	// DefaultExpirySkew refreshes tokens that expire within this window.
	DefaultExpirySkew = 5 * time.Minute

	defaultRecentTTL  = time.Minute
	defaultRecentSize = 1024
)

// Config configures a Manager.
type Config struct {
	ClientID     string
	ClientSecret string

	// TokenURL is the identity provider's token endpoint (default: Google).
	TokenURL string

	// HTTPClient is used for token exchanges (default: http.DefaultClient).
	HTTPClient *http.Client

	// ExpirySkew is how early EnsureFresh refreshes (default: DefaultExpirySkew).
	ExpirySkew time.Duration

	// RecentTTL is how long a completed refresh is handed to callers still
	// holding the consumed refresh token (default: 1 minute).
	RecentTTL time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type recentRefresh struct {
	cred     Credential
	storedAt time.Time
}

// Manager refreshes credentials. It is safe for concurrent use and holds no
// user tokens beyond a short-lived cache of just-rotated results.
type Manager struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	skew       time.Duration
	recentTTL  time.Duration
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	now        func() time.Time

	group  singleflight.Group
	recent *lru.Cache[string, recentRefresh]
}

// NewManager creates a Manager from cfg.
func NewManager(cfg Config) *Manager {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = google.Endpoint.TokenURL
	}
	if cfg.ExpirySkew <= 0 {
		cfg.ExpirySkew = DefaultExpirySkew
	}
	if cfg.RecentTTL <= 0 {
		cfg.RecentTTL = defaultRecentTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	// lru.New only errors on a non-positive size.
	recent, _ := lru.New[string, recentRefresh](defaultRecentSize)

	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: cfg.HTTPClient,
		skew:       cfg.ExpirySkew,
		recentTTL:  cfg.RecentTTL,
		logger:     logging.WithOperation(cfg.Logger, "auth.refresh"),
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		recent:     recent,
	}
}

// EnsureFresh returns cred unchanged unless its access token is missing or
// expires within the configured skew, in which case it is refreshed.
func (m *Manager) EnsureFresh(ctx context.Context, cred Credential) (Credential, error) {
	if !cred.Expired(m.now(), m.skew) {
		return cred, nil
	}
	return m.Refresh(ctx, cred)
}

// Refresh exchanges cred's refresh token for a new access token.
//
// Concurrent calls for the same refresh token share a single exchange, and
// callers that arrive shortly after an exchange completed receive its result
// instead of replaying a refresh token the provider may already have rotated.
// A non-2xx token response yields a copy of cred with LastError set to
// RefreshAccessTokenError and a nil error. The only errors are
// ErrNoRefreshToken and the caller's own context error.
func (m *Manager) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	if cred.RefreshToken == "" {
		m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshResultNoRefreshToken)
		return cred, ErrNoRefreshToken
	}

	key := refreshKey(cred.RefreshToken)
	if hit, ok := m.recentResult(key, cred); ok {
		m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshResultCoalesced)
		return hit, nil
	}

	// The exchange outlives any single waiter so one cancelled caller cannot
	// fail the refresh for everybody sharing it.
	exchangeCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return m.refreshOnce(exchangeCtx, key, cred), nil
	})

	select {
	case <-ctx.Done():
		return cred, ctx.Err()
	case res := <-ch:
		return res.Val.(Credential), nil
	}
}

// refreshOnce runs inside the shared flight. A flight that finished between
// the caller's recent check and its DoChan has already spent the refresh
// token, so its result is looked up again before exchanging.
func (m *Manager) refreshOnce(ctx context.Context, key string, cred Credential) Credential {
	if hit, ok := m.recentResult(key, cred); ok {
		m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshResultCoalesced)
		return hit
	}
	return m.exchange(ctx, key, cred)
}

func (m *Manager) recentResult(key string, cred Credential) (Credential, bool) {
	entry, ok := m.recent.Get(key)
	if !ok {
		return Credential{}, false
	}
	if m.now().Sub(entry.storedAt) > m.recentTTL {
		m.recent.Remove(key)
		return Credential{}, false
	}
	// A caller that already holds the cached access token is asking for a new one.
	if entry.cred.AccessToken == cred.AccessToken {
		return Credential{}, false
	}
	return entry.cred, true
}

func (m *Manager) exchange(ctx context.Context, key string, cred Credential) Credential {
	ctx, span := instrumentation.StartSpan(ctx, "auth.refresh")
	defer span.End()

	logger := m.logger
	if cred.Subject != "" {
		logger = logger.With(logging.UserHash(cred.Subject))
	}

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	// An empty access token forces the token source to refresh.
	token, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		m.logExchangeFailure(logger, cred, err)
		m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshResultFailure)
		instrumentation.SetSpanError(span, err)

		failed := cred
		failed.LastError = RefreshAccessTokenError
		return failed
	}

	now := m.now()
	expiresAt := token.Expiry
	if token.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultAccessTokenExpiry)
	}
	if expiresAt.Before(cred.AccessTokenExpiresAt) {
		expiresAt = cred.AccessTokenExpiresAt
	}

	refreshed := Credential{
		Subject:              cred.Subject,
		AccessToken:          token.AccessToken,
		RefreshToken:         token.RefreshToken,
		AccessTokenExpiresAt: expiresAt,
	}
	// Refresh tokens are not guaranteed to rotate.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}

	m.recent.Add(key, recentRefresh{cred: refreshed, storedAt: now})
	m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshResultSuccess)
	instrumentation.SetSpanSuccess(span)

	logger.Info("credential refreshed",
		slog.String("access_token", logging.SanitizeToken(refreshed.AccessToken)),
		slog.Bool("rotated", refreshed.RefreshToken != cred.RefreshToken),
		slog.Time("expires_at", expiresAt),
	)
	return refreshed
}

func (m *Manager) logExchangeFailure(logger *slog.Logger, cred Credential, err error) {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		logger.Warn("token exchange failed", logging.Err(err))
		return
	}

	status := 0
	if rerr.Response != nil {
		status = rerr.Response.StatusCode
	}
	msg := "token endpoint rejected refresh"
	if rerr.ErrorCode == "invalid_grant" {
		msg = "refresh token revoked or expired, re-authentication required"
	}
	logger.Warn(msg,
		slog.Int("http_status", status),
		slog.String("error_code", rerr.ErrorCode),
		slog.String("refresh_token", logging.SanitizeToken(cred.RefreshToken)),
		slog.String("body", logging.TruncateBody(rerr.Body)),
	)
}

func refreshKey(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}
