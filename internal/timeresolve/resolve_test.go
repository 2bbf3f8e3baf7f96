package timeresolve

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday 2026-10-14 16:20 IST.
func newTestResolver(t *testing.T) (*Resolver, time.Time) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	now := time.Date(2026, 10, 14, 16, 20, 0, 0, loc)
	return New(loc, WithClock(func() time.Time { return now.UTC() })), now
}

func TestResolveFallback(t *testing.T) {
	r, now := newTestResolver(t)
	want := time.Date(now.Year(), now.Month(), now.Day(), 10, 0, 0, 0, r.Location())

	for _, text := range []string{"", "   ", "!!!???", "zzqx blorp"} {
		got := r.Resolve(text)
		assert.True(t, got.Equal(want), "%q resolved to %s", text, got)
		assert.Equal(t, r.Location(), got.Location())
	}
}

func TestParseUnrecognized(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Parse("")
	assert.True(t, errors.Is(err, ErrUnrecognized))
}

func TestParseLayouts(t *testing.T) {
	r, _ := newTestResolver(t)
	loc := r.Location()

	tests := []struct {
		text string
		want time.Time
	}{
		{"2026-10-20", time.Date(2026, 10, 20, 0, 0, 0, 0, loc)},
		{"2026/10/20", time.Date(2026, 10, 20, 0, 0, 0, 0, loc)},
		{"2026-10-20 15:30", time.Date(2026, 10, 20, 15, 30, 0, 0, loc)},
		{"2026-10-20T15:30:00", time.Date(2026, 10, 20, 15, 30, 0, 0, loc)},
		{"2026-10-20T10:00:00Z", time.Date(2026, 10, 20, 15, 30, 0, 0, loc)},
		{"14:00", time.Date(2026, 10, 14, 14, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := r.Parse(tt.text)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
			assert.Equal(t, loc, got.Location())
		})
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	r, now := newTestResolver(t)

	t.Run("relative", func(t *testing.T) {
		got, err := r.Parse("in 2 days")
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, 2).Format("2006-01-02"), got.Format("2006-01-02"))
	})

	t.Run("tomorrow with time", func(t *testing.T) {
		got, err := r.Parse("tomorrow 3pm")
		require.NoError(t, err)
		assert.True(t, got.Equal(time.Date(2026, 10, 15, 15, 0, 0, 0, now.Location())), "got %s", got)
	})

	t.Run("weekday prefers the future", func(t *testing.T) {
		got, err := r.Parse("Tuesday")
		require.NoError(t, err)
		assert.Equal(t, time.Tuesday, got.Weekday())
		assert.True(t, got.After(now))
		assert.True(t, got.Before(now.AddDate(0, 0, 8)))
	})

	t.Run("written date", func(t *testing.T) {
		got, err := r.Parse("October 20, 2026 3:30 PM")
		require.NoError(t, err)
		assert.Equal(t, "2026-10-20 15:30", got.Format("2006-01-02 15:04"))
		assert.Equal(t, r.Location(), got.Location())
	})
}

func TestAnchor(t *testing.T) {
	r, now := newTestResolver(t)

	assert.True(t, r.Anchor("today").Equal(now))
	assert.True(t, r.Anchor(" Today ").Equal(now))

	tomorrow := r.Anchor("TOMORROW")
	assert.Equal(t, now.Add(24*time.Hour).Format("2006-01-02"), tomorrow.Format("2006-01-02"))

	assert.Equal(t, "2026-10-20", r.Anchor("2026-10-20").Format("2006-01-02"))
	assert.True(t, r.Anchor("").Equal(r.Fallback()))
}
