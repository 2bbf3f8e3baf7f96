package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpuguy83/calslot/internal/config"
	"github.com/cpuguy83/calslot/internal/scheduler"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"GOOGLE_SERVICE_ACCOUNT_JSON", "GOOGLE_CALENDAR_ID", "CALSLOT_TIMEZONE", "CALSLOT_PROVIDER", "CALSLOT_ADDR"} {
		t.Setenv(k, "")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	defer a.close()

	cmd := a.rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDryRunSlots(t *testing.T) {
	isolate(t)

	out, err := run(t, "--dry-run", "slots", "--duration", "60 minutes", "--json")
	require.NoError(t, err)

	var res scheduler.AvailabilityResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.AvailableSlots, 9)
}

func TestDryRunBook(t *testing.T) {
	isolate(t)

	out, err := run(t, "--dry-run", "book", "--day", "2026-10-16", "--time", "14:00", "--title", "Review")
	require.NoError(t, err)
	assert.Contains(t, out, `Booked "Review" Fri Oct 16 14:00 - 15:00`)
	assert.Contains(t, out, "memory://primary/mem-1")
}

func TestMissingCredentialsIsFatal(t *testing.T) {
	isolate(t)

	_, err := run(t, "slots")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestConfigFlag(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: UTC\nprovider: {type: memory}\nworking_hours: {start: '10:00', end: '12:00'}\n"), 0o600))

	out, err := run(t, "--config", path, "slots", "--duration", "30", "--json")
	require.NoError(t, err)

	var res scheduler.AvailabilityResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.AvailableSlots, 4)
}
