package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpuguy83/calslot/internal/calendar"
	"github.com/cpuguy83/calslot/internal/config"
)

func parse(t *testing.T, data string) *config.Config {
	t.Helper()
	for _, k := range []string{"GOOGLE_SERVICE_ACCOUNT_JSON", "GOOGLE_CALENDAR_ID", "CALSLOT_TIMEZONE", "CALSLOT_PROVIDER", "CALSLOT_ADDR"} {
		t.Setenv(k, "")
	}
	cfg, err := config.Parse([]byte(data))
	require.NoError(t, err)
	return cfg
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	sa := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(sa, []byte(`{
  "type": "service_account",
  "project_id": "calslot-test",
  "private_key_id": "1",
  "private_key": "not-a-real-key",
  "client_email": "calslot@calslot-test.iam.gserviceaccount.com",
  "client_id": "1",
  "token_uri": "https://oauth2.googleapis.com/token"
}`), 0o600))

	tests := []struct {
		name string
		yaml string
		want any
	}{
		{"memory", "provider: {type: memory, name: dry-run}", &calendar.MemoryProvider{}},
		{"ics", "provider: {type: ics, url: 'https://example.com/cal.ics'}", &calendar.ICSSource{}},
		{"caldav", "provider: {type: caldav, url: 'https://dav.example.com', username: me, password: pw}", &calendar.CalDAVSource{}},
		{"icloud", "provider: {type: icloud, username: me@icloud.com, password: pw}", &calendar.CalDAVSource{}},
		{"ms365", "provider: {type: ms365}", &calendar.MS365Source{}},
		{"google", "provider: {type: google, credentials_file: '" + sa + "'}", &calendar.GoogleSource{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(ctx, parse(t, tt.yaml))
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}

	p, err := New(ctx, parse(t, "provider: {type: memory, name: dry-run}"))
	require.NoError(t, err)
	assert.Equal(t, "dry-run", p.Name())
}

func TestNewConfigErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		yaml string
	}{
		{"google without credentials", "provider: {type: google}"},
		{"google with missing file", "provider: {type: google, credentials_file: /nonexistent/sa.json}"},
		{"unknown type", "provider: {type: outlook}"},
		{"bad filter", "provider: {type: memory}\nbusy_filters: {rules: [{field: title}]}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctx, parse(t, tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestNewPasswordCmdFailure(t *testing.T) {
	_, err := New(context.Background(), parse(t, "provider: {type: caldav, url: 'https://dav.example.com', password_cmd: 'exit 3'}"))
	assert.Error(t, err)
}
