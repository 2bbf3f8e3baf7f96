package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpuguy83/calslot/internal/availability"
	"github.com/cpuguy83/calslot/internal/calendar"
	"github.com/cpuguy83/calslot/internal/timeresolve"
)

type recorder struct {
	got []*calendar.Booking
	err error
}

func (r *recorder) BookingCreated(_ context.Context, b *calendar.Booking) error {
	r.got = append(r.got, b)
	return r.err
}

func setup(t *testing.T, opts ...Option) (*Scheduler, *calendar.MemoryProvider, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, loc)

	mem := calendar.NewMemoryProvider("memory", nil)
	mem.SetClock(func() time.Time { return now })
	r := timeresolve.New(loc, timeresolve.WithClock(func() time.Time { return now }))
	e := availability.NewEngine(mem, r, availability.Options{})
	return New(e, opts...), mem, loc
}

func TestCheckAvailability(t *testing.T) {
	s, mem, loc := setup(t)
	ctx := context.Background()

	mem.AddBusy(calendar.PrimaryCalendar, calendar.Interval{
		Start: time.Date(2026, 10, 15, 10, 0, 0, 0, loc),
		End:   time.Date(2026, 10, 15, 11, 0, 0, 0, loc),
	})

	res, err := s.CheckAvailability(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, res.AvailableSlots, 8)
	assert.Equal(t, Slot{Start: "2026-10-15T09:00:00+05:30", End: "2026-10-15T10:00:00+05:30"}, res.AvailableSlots[0])
	assert.Equal(t, "2026-10-15T11:00:00+05:30", res.AvailableSlots[1].Start)

	res, err = s.CheckAvailability(ctx, "not a number", "today")
	require.NoError(t, err)
	assert.Len(t, res.AvailableSlots, 8, "unreadable duration means an hour")
}

func TestCheckAvailabilityFullyBookedEncodesEmptyList(t *testing.T) {
	s, mem, loc := setup(t)
	mem.AddBusy(calendar.PrimaryCalendar, calendar.Interval{
		Start: time.Date(2026, 10, 15, 9, 0, 0, 0, loc),
		End:   time.Date(2026, 10, 15, 18, 0, 0, 0, loc),
	})

	res, err := s.CheckAvailability(context.Background(), "90 minutes", "today")
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"available_slots":[]}`, string(data))
}

func TestScheduleMeeting(t *testing.T) {
	obs := &recorder{}
	s, mem, loc := setup(t, WithObserver(obs))
	ctx := context.Background()

	res, err := s.ScheduleMeeting(ctx, "30 minutes", "2026-10-16", "14:30", "")
	require.NoError(t, err)

	assert.Equal(t, "memory://primary/mem-1", res.EventLink)
	assert.Equal(t, DefaultTitle, res.Event.Summary)

	created := mem.Created()
	require.Len(t, created, 1)
	assert.True(t, created[0].Start.Equal(time.Date(2026, 10, 16, 14, 30, 0, 0, loc)))
	assert.Equal(t, 30*time.Minute, created[0].End.Sub(created[0].Start))

	require.Len(t, obs.got, 1)
	assert.Equal(t, res.Event, obs.got[0])
}

func TestScheduleMeetingJoinsDayAndTime(t *testing.T) {
	s, mem, loc := setup(t)

	res, err := s.ScheduleMeeting(context.Background(), "30 minutes", "tomorrow", "3pm", "")
	require.NoError(t, err)
	assert.Equal(t, "New Meeting", res.Event.Summary)

	created := mem.Created()
	require.Len(t, created, 1)
	assert.True(t, created[0].Start.Equal(time.Date(2026, 10, 16, 15, 0, 0, 0, loc)), "got %s", created[0].Start)
	assert.True(t, created[0].End.Equal(time.Date(2026, 10, 16, 15, 30, 0, 0, loc)))
	assert.Equal(t, "Asia/Kolkata", created[0].TimeZone)
}

func TestScheduleMeetingFallsBackToTenOClock(t *testing.T) {
	obs := &recorder{err: errors.New("no desktop")}
	s, mem, loc := setup(t, WithObserver(obs))

	res, err := s.ScheduleMeeting(context.Background(), "", "zzqx", "", "Standup")
	require.NoError(t, err, "observer failures do not fail the booking")
	assert.Equal(t, "Standup", res.Event.Summary)

	created := mem.Created()
	require.Len(t, created, 1)
	assert.True(t, created[0].Start.Equal(time.Date(2026, 10, 15, 10, 0, 0, 0, loc)))
	assert.Equal(t, time.Hour, created[0].End.Sub(created[0].Start))
}

func TestScheduleMeetingProviderError(t *testing.T) {
	obs := &recorder{}
	s, mem, _ := setup(t, WithObserver(obs))
	mem.FailWith(calendar.ErrReadOnly)

	_, err := s.ScheduleMeeting(context.Background(), "", "tomorrow", "", "")
	assert.ErrorIs(t, err, calendar.ErrReadOnly)
	assert.Empty(t, obs.got)
}

func TestListUpcoming(t *testing.T) {
	s, mem, loc := setup(t)
	mem.Add(calendar.PrimaryCalendar,
		calendar.Event{
			UID:      "b",
			Summary:  "Review",
			Start:    time.Date(2026, 10, 15, 15, 0, 0, 0, loc),
			End:      time.Date(2026, 10, 15, 16, 0, 0, 0, loc),
			Location: "https://meet.google.com/abc-defg-hij",
		},
		calendar.Event{
			UID:     "a",
			Summary: "Holiday",
			Start:   time.Date(2026, 10, 16, 0, 0, 0, 0, loc),
			End:     time.Date(2026, 10, 17, 0, 0, 0, 0, loc),
			AllDay:  true,
		},
	)

	res, err := s.ListUpcoming(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)

	assert.Equal(t, "b", res.Events[0].ID)
	assert.Equal(t, "2026-10-15T15:00:00+05:30", res.Events[0].Start)
	require.NotNil(t, res.Events[0].MeetingLink)
	assert.Equal(t, "Meet", res.Events[0].MeetingLink.Service)

	assert.Equal(t, "2026-10-16", res.Events[1].Start)
	assert.Equal(t, "2026-10-17", res.Events[1].End)
	assert.Nil(t, res.Events[1].MeetingLink)
}
