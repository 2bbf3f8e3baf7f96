package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	m := NewMemoryProvider("mem", nil)
	m.SetClock(func() time.Time { return at(8) })
	m.AddBusy("primary",
		Interval{Start: at(14), End: at(15)},
		Interval{Start: at(10), End: at(11)},
	)
	m.AddBusy("other", Interval{Start: at(12), End: at(13)})

	t.Run("busy keeps insertion order and calendar scope", func(t *testing.T) {
		busy, err := m.QueryBusy(ctx, "primary", at(9), at(18))
		require.NoError(t, err)
		require.Len(t, busy, 2)
		assert.True(t, busy[0].Start.Equal(at(14)))
		assert.True(t, busy[1].Start.Equal(at(10)))
	})

	t.Run("busy outside the range is dropped", func(t *testing.T) {
		busy, err := m.QueryBusy(ctx, "primary", at(11), at(14))
		require.NoError(t, err)
		assert.Empty(t, busy)
	})

	t.Run("create records the request", func(t *testing.T) {
		b, err := m.CreateEvent(ctx, "primary", BookingRequest{Start: at(16), End: at(17), Summary: "Sync"})
		require.NoError(t, err)
		assert.Equal(t, "mem-1", b.ID)
		assert.Equal(t, "memory://primary/mem-1", b.Link)
		require.Len(t, m.Created(), 1)

		busy, err := m.QueryBusy(ctx, "primary", at(9), at(18))
		require.NoError(t, err)
		assert.Len(t, busy, 3)
	})

	t.Run("upcoming is sorted", func(t *testing.T) {
		events, err := m.ListUpcoming(ctx, "primary", 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[0].Start.Equal(at(10)))
		assert.True(t, events[1].Start.Equal(at(14)))
	})

	t.Run("injected failure", func(t *testing.T) {
		boom := errors.New("boom")
		m.FailWith(boom)
		defer m.FailWith(nil)

		_, err := m.QueryBusy(ctx, "primary", at(9), at(18))
		assert.ErrorIs(t, err, boom)
		_, err = m.CreateEvent(ctx, "primary", BookingRequest{})
		assert.ErrorIs(t, err, boom)
	})
}
