package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/mcp-oauth/storage"

	"github.com/teemow/inboxpilot/internal/logging"
)

// vaultTimeout bounds a single token store call.
const vaultTimeout = 5 * time.Second

// Vault persists per-user credentials in an mcp-oauth token store.
type Vault struct {
	store  storage.TokenStore
	logger *slog.Logger
}

// NewVault creates a Vault over store. A nil logger falls back to slog.Default().
func NewVault(store storage.TokenStore, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{store: store, logger: logging.WithOperation(logger, "auth.vault")}
}

// Load returns the stored credential for subject, or ErrNoCredential.
func (v *Vault) Load(ctx context.Context, subject string) (Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, vaultTimeout)
	defer cancel()

	token, err := v.store.GetToken(ctx, subject)
	if err != nil || token == nil {
		return Credential{}, fmt.Errorf("%w: %s", ErrNoCredential, logging.AnonymizeEmail(subject))
	}
	return FromToken(subject, token), nil
}

// Save stores cred under its Subject. Credentials that need
// re-authentication are not stored so the last usable pair is kept for
// inspection; the caller surfaces the re-authentication request instead.
func (v *Vault) Save(ctx context.Context, cred Credential) error {
	if cred.Subject == "" {
		return fmt.Errorf("credential has no subject")
	}
	if cred.NeedsReauth() {
		v.logger.Warn("not storing credential that needs re-authentication", logging.UserHash(cred.Subject))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, vaultTimeout)
	defer cancel()

	if err := v.store.SaveToken(ctx, cred.Subject, cred.Token()); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}
