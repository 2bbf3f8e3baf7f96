package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
)

// DeviceCodeAuth signs in with the OAuth device code flow. The MSAL cache
// is persisted so later runs refresh silently without a new prompt.
type DeviceCodeAuth struct {
	app    public.Client
	scopes []string
	prompt io.Writer

	mu    sync.Mutex
	token *Token
}

// NewDeviceCodeAuth creates a device code client. Sign-in instructions are
// written to stderr.
func NewDeviceCodeAuth(clientID string, scopes []string) (*DeviceCodeAuth, error) {
	if clientID == "" {
		clientID = DefaultClientID
	}
	if len(scopes) == 0 {
		scopes = []string{graphDefaultScope}
	}

	opts := []public.Option{public.WithAuthority(DefaultAuthority)}
	if path, err := cacheFilePath(); err != nil {
		slog.Warn("token cache disabled", "error", err)
	} else {
		opts = append(opts, public.WithCache(&fileCache{path: path}))
	}

	app, err := public.New(clientID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create MSAL client: %w", err)
	}
	return &DeviceCodeAuth{app: app, scopes: scopes, prompt: os.Stderr}, nil
}

// GetToken returns a valid access token, prompting only when no cached
// account can be refreshed.
func (d *DeviceCodeAuth) GetToken(ctx context.Context) (*Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.token.valid(time.Now()) {
		return d.token, nil
	}

	tok, err := d.silent(ctx)
	if err != nil {
		slog.Info("no usable cached sign-in, starting device code flow", "reason", err)
		if tok, err = d.deviceCode(ctx); err != nil {
			return nil, err
		}
	}
	d.token = tok
	return tok, nil
}

func (d *DeviceCodeAuth) silent(ctx context.Context) (*Token, error) {
	accounts, err := d.app.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cached accounts: %w", err)
	}

	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	var errs []error
	for _, acct := range accounts {
		res, err := d.app.AcquireTokenSilent(ctx, d.scopes, public.WithSilentAccount(acct))
		if err == nil {
			return tokenFromResult(res), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", acct.PreferredUsername, err))
	}
	return nil, errors.Join(errs...)
}

func (d *DeviceCodeAuth) deviceCode(ctx context.Context) (*Token, error) {
	dc, err := d.app.AcquireTokenByDeviceCode(ctx, d.scopes)
	if err != nil {
		return nil, fmt.Errorf("start device code flow: %w", err)
	}

	fmt.Fprintf(d.prompt, "\nSign in to Microsoft 365: open %s and enter code %s\n\n",
		dc.Result.VerificationURL, dc.Result.UserCode)

	res, err := dc.AuthenticationResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("device code auth: %w", err)
	}
	return tokenFromResult(res), nil
}

func tokenFromResult(res public.AuthResult) *Token {
	return &Token{
		AccessToken: res.AccessToken,
		ExpiresOn:   res.ExpiresOn,
		AccountID:   res.Account.HomeAccountID,
	}
}

// Close is a no-op for device code auth.
func (d *DeviceCodeAuth) Close() error {
	return nil
}

// fileCache persists the MSAL cache in a single file.
type fileCache struct {
	path string
}

func (f *fileCache) Replace(_ context.Context, c cache.Unmarshaler, _ cache.ReplaceHints) error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token cache: %w", err)
	}
	return c.Unmarshal(data)
}

// Export writes through a temporary file so a crash never leaves a
// truncated cache behind.
func (f *fileCache) Export(_ context.Context, c cache.Marshaler, _ cache.ExportHints) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create token cache dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// cacheFilePath returns ~/.cache/calslot/msal_token_cache.json.
func cacheFilePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "calslot", "msal_token_cache.json"), nil
}

var _ TokenSource = (*DeviceCodeAuth)(nil)
