package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

// Microsoft Identity Broker on the session bus.
const (
	brokerService   = "com.microsoft.identity.broker1"
	brokerPath      = "/com/microsoft/identity/broker1"
	brokerInterface = "com.microsoft.identity.Broker1"

	// The broker only accepts protocol "0.0".
	brokerProtocolVersion = "0.0"

	authTypeToken = 1
)

var (
	ErrBrokerNotAvailable = errors.New("microsoft identity broker not available")
	ErrNoAccounts         = errors.New("no accounts found in broker")
	ErrAuthFailed         = errors.New("authentication failed")
)

// brokerAccount is an account object as the broker returns it. It has to
// be passed back verbatim in token requests.
type brokerAccount map[string]any

func (a brokerAccount) str(key string) string {
	s, _ := a[key].(string)
	return s
}

// Broker gets tokens from the identity broker that ships with Intune and
// Edge on Linux. It never prompts; accounts must already be signed in.
type Broker struct {
	clientID string
	scopes   []string
	session  string

	mu      sync.Mutex
	conn    *dbus.Conn
	obj     dbus.BusObject
	token   *Token
	account brokerAccount
}

// NewBroker creates a broker client. The bus is not contacted until needed.
func NewBroker(clientID string, scopes []string) *Broker {
	if clientID == "" {
		clientID = DefaultClientID
	}
	if len(scopes) == 0 {
		scopes = []string{graphDefaultScope}
	}
	return &Broker{
		clientID: clientID,
		scopes:   scopes,
		session:  uuid.NewString(),
	}
}

func (b *Broker) busObject() (dbus.BusObject, error) {
	if b.obj != nil {
		return b.obj, nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerNotAvailable, err)
	}
	b.conn = conn
	b.obj = conn.Object(brokerService, brokerPath)
	return b.obj, nil
}

// Close closes the D-Bus connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn, b.obj = nil, nil
	return err
}

// IsAvailable reports whether a broker answers on the session bus.
func (b *Broker) IsAvailable(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.invoke(ctx, "getLinuxBrokerVersion", struct{}{})
	return err == nil
}

// GetToken returns a cached token or silently acquires one for the first
// signed-in account the broker accepts.
func (b *Broker) GetToken(ctx context.Context) (*Token, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token.valid(time.Now()) {
		return b.token, nil
	}

	candidates := []brokerAccount{}
	if b.account != nil {
		candidates = append(candidates, b.account)
	}
	if len(candidates) == 0 {
		accts, err := b.accounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("get accounts: %w", err)
		}
		if len(accts) == 0 {
			return nil, ErrNoAccounts
		}
		candidates = accts
	}

	for _, acct := range candidates {
		tok, err := b.silent(ctx, acct)
		if err != nil {
			slog.Debug("broker silent auth failed", "username", acct.str("username"), "error", err)
			continue
		}
		b.account, b.token = acct, tok
		return tok, nil
	}

	// The remembered account may have been signed out; retry from scratch next time.
	b.account = nil
	return nil, fmt.Errorf("%w: no account accepted silent auth", ErrAuthFailed)
}

// invoke calls method with the JSON encoding of req.
func (b *Broker) invoke(ctx context.Context, method string, req any) (map[string]any, error) {
	obj, err := b.busObject()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	call := obj.CallWithContext(ctx, brokerInterface+"."+method, 0, brokerProtocolVersion, b.session, string(body))
	if call.Err != nil {
		return nil, fmt.Errorf("dbus call %s: %w", method, call.Err)
	}

	var raw string
	if err := call.Store(&raw); err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var resp map[string]any
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if err := brokerError(resp["error"]); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

// brokerError turns the broker's "error" member, an object or a string,
// into an error.
func brokerError(v any) error {
	switch e := v.(type) {
	case nil:
		return nil
	case string:
		if e == "" {
			return nil
		}
		return fmt.Errorf("broker error: %s", e)
	default:
		data, _ := json.Marshal(e)
		return fmt.Errorf("broker error: %s", data)
	}
}

func (b *Broker) accounts(ctx context.Context) ([]brokerAccount, error) {
	resp, err := b.invoke(ctx, "getAccounts", map[string]any{
		"clientId":    b.clientID,
		"redirectUri": DefaultRedirectURI,
	})
	if err != nil {
		return nil, err
	}

	list, _ := resp["accounts"].([]any)
	out := make([]brokerAccount, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *Broker) silent(ctx context.Context, acct brokerAccount) (*Token, error) {
	authority := DefaultAuthority
	if realm := acct.str("realm"); realm != "" {
		authority = "https://login.microsoftonline.com/" + realm
	}

	params := map[string]any{
		"account":           map[string]any(acct),
		"authority":         authority,
		"authorizationType": authTypeToken,
		"clientId":          b.clientID,
		"redirectUri":       DefaultRedirectURI,
		"requestedScopes":   b.scopes,
	}
	if u := acct.str("username"); u != "" {
		params["username"] = u
	}

	resp, err := b.invoke(ctx, "acquireTokenSilently", map[string]any{"authParameters": params})
	if err != nil {
		return nil, err
	}
	return parseBrokerToken(resp, acct, time.Now())
}

// parseBrokerToken reads a token response. Newer brokers nest the token in
// brokerTokenResponse. A missing expiry is taken as one hour from now.
func parseBrokerToken(resp map[string]any, acct brokerAccount, now time.Time) (*Token, error) {
	src := resp
	if _, ok := resp["accessToken"].(string); !ok {
		if nested, ok := resp["brokerTokenResponse"].(map[string]any); ok {
			if err := brokerError(nested["error"]); err != nil {
				return nil, err
			}
			src = nested
		}
	}

	access, _ := src["accessToken"].(string)
	if access == "" {
		return nil, errors.New("no access token in broker response")
	}

	tok := &Token{AccessToken: access, ExpiresOn: now.Add(time.Hour)}
	switch exp := src["expiresOn"].(type) {
	case float64:
		tok.ExpiresOn = time.Unix(int64(exp), 0)
	case string:
		if n, err := strconv.ParseInt(exp, 10, 64); err == nil {
			tok.ExpiresOn = time.Unix(n, 0)
		}
	}

	tok.AccountID, _ = src["accountId"].(string)
	if tok.AccountID == "" {
		tok.AccountID = acct.str("localAccountId")
	}
	return tok, nil
}

var _ TokenSource = (*Broker)(nil)
