// Package auth acquires Microsoft Graph access tokens, preferring the
// identity broker and falling back to the device code flow.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultClientID is the Edge browser client ID, which works for SSO and token acquisition.
	DefaultClientID = "d7b530a4-7680-4c23-a8bf-c52c121d2e87"

	// DefaultRedirectURI is the redirect URI for native apps.
	DefaultRedirectURI = "https://login.microsoftonline.com/common/oauth2/nativeclient"

	// DefaultAuthority is used when no tenant-specific realm is available.
	DefaultAuthority = "https://login.microsoftonline.com/common"

	graphDefaultScope = "https://graph.microsoft.com/.default"

	// expiryMargin is how long before expiry a cached token is refreshed.
	expiryMargin = 5 * time.Minute
)

// Token represents an OAuth2 access token.
type Token struct {
	AccessToken string
	ExpiresOn   time.Time
	AccountID   string
}

// valid reports whether the token can still be used at now.
func (t *Token) valid(now time.Time) bool {
	return t != nil && now.Add(expiryMargin).Before(t.ExpiresOn)
}

// TokenSource can acquire access tokens.
type TokenSource interface {
	GetToken(ctx context.Context) (*Token, error)
	Close() error
}

// New returns the identity broker when it answers on the session bus and a
// device code client otherwise.
func New(ctx context.Context, clientID string, scopes []string) (TokenSource, error) {
	broker := NewBroker(clientID, scopes)
	if broker.IsAvailable(ctx) {
		slog.Info("using Microsoft Identity Broker for authentication")
		return broker, nil
	}
	broker.Close()

	slog.Info("broker not available, using device code flow")
	dc, err := NewDeviceCodeAuth(clientID, scopes)
	if err != nil {
		return nil, fmt.Errorf("initialize device code auth: %w", err)
	}
	return dc, nil
}
