package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpuguy83/calslot/internal/availability"
	"github.com/cpuguy83/calslot/internal/calendar"
	"github.com/cpuguy83/calslot/internal/config"
	"github.com/cpuguy83/calslot/internal/scheduler"
	"github.com/cpuguy83/calslot/internal/timeresolve"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *calendar.MemoryProvider, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, loc)

	mem := calendar.NewMemoryProvider("memory", nil)
	mem.SetClock(func() time.Time { return now })
	r := timeresolve.New(loc, timeresolve.WithClock(func() time.Time { return now }))
	sched := scheduler.New(availability.NewEngine(mem, r, availability.Options{}))
	return New(sched, cfg), mem, loc
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{})
	w := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAvailability(t *testing.T) {
	s, mem, loc := newTestServer(t, config.ServerConfig{})
	mem.AddBusy(calendar.PrimaryCalendar, calendar.Interval{
		Start: time.Date(2026, 10, 15, 10, 0, 0, 0, loc),
		End:   time.Date(2026, 10, 15, 11, 0, 0, 0, loc),
	})

	w := do(s, http.MethodPost, "/v1/availability", `{"duration":"60 minutes","day":"today"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res scheduler.AvailabilityResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.AvailableSlots, 8)
	assert.Equal(t, "2026-10-15T09:00:00+05:30", res.AvailableSlots[0].Start)

	// Empty body uses the defaults.
	w = do(s, http.MethodPost, "/v1/availability", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(s, http.MethodPost, "/v1/availability", `{"duration":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleMeeting(t *testing.T) {
	s, mem, _ := newTestServer(t, config.ServerConfig{})

	w := do(s, http.MethodPost, "/v1/meetings", `{"duration":"30 minutes","day":"2026-10-16","time":"14:00","title":"Design review"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res struct {
		EventLink string `json:"event_link"`
		Event     struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
			Start   string `json:"start"`
		} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "memory://primary/mem-1", res.EventLink)
	assert.Equal(t, "Design review", res.Event.Summary)
	assert.Equal(t, "2026-10-16T14:00:00+05:30", res.Event.Start)
	assert.Len(t, mem.Created(), 1)
}

func TestProviderFailure(t *testing.T) {
	s, mem, _ := newTestServer(t, config.ServerConfig{})
	mem.FailWith(errors.New("backend unavailable"))

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/v1/availability", `{}`},
		{http.MethodPost, "/v1/meetings", `{"day":"tomorrow"}`},
		{http.MethodGet, "/v1/events", ""},
	} {
		w := do(s, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadGateway, w.Code, tc.path)

		var body errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Contains(t, body.Error.Message, "backend unavailable")
		assert.Equal(t, w.Header().Get("X-Request-ID"), body.Error.RequestID)
		assert.NotEmpty(t, body.Error.RequestID)
	}
}

func TestErrorCarriesCallerRequestID(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/events?max=-1", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":{"message":"max must be a non-negative integer","request_id":"req-42"}}`, w.Body.String())
}

func TestEvents(t *testing.T) {
	s, mem, loc := newTestServer(t, config.ServerConfig{})
	for i := 1; i <= 3; i++ {
		start := time.Date(2026, 10, 15+i, 9, 0, 0, 0, loc)
		mem.Add(calendar.PrimaryCalendar, calendar.Event{UID: "e", Summary: "Standup", Start: start, End: start.Add(15 * time.Minute)})
	}

	w := do(s, http.MethodGet, "/v1/events?max=2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res scheduler.UpcomingResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Events, 2)

	w = do(s, http.MethodGet, "/v1/events?max=lots", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{RateLimit: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		w := do(s, http.MethodGet, "/v1/events", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(s, http.MethodGet, "/v1/events", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Health checks are not limited.
	w = do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{RateLimit: -1, Burst: 1})
	for i := 0; i < 5; i++ {
		w := do(s, http.MethodGet, "/v1/events", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(0.001, 1)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))
	assert.Len(t, rl.limits, 2)

	now = now.Add(5 * time.Minute)
	assert.False(t, rl.allow("10.0.0.2"), "recently seen client keeps its bucket")

	now = now.Add(limiterIdleTTL + time.Second)
	assert.True(t, rl.allow("10.0.0.3"))
	assert.Len(t, rl.limits, 1, "idle clients are dropped")
	_, kept := rl.limits["10.0.0.3"]
	assert.True(t, kept)
}

func TestRun(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
