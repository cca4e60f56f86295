package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appreminder "github.com/alem-hub/study-planner/internal/application/reminder"
	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/internal/domain/power"
	"github.com/alem-hub/study-planner/internal/domain/reminder"
	"github.com/alem-hub/study-planner/internal/domain/shared"
	"github.com/alem-hub/study-planner/internal/infrastructure/messaging"
	"github.com/alem-hub/study-planner/internal/interface/http/handlers"
	"github.com/alem-hub/study-planner/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeStats struct {
	stats   delivery.Stats
	updates chan delivery.Stats
}

func (f *fakeStats) ReadStats(context.Context) (delivery.Stats, error) { return f.stats, nil }
func (f *fakeStats) Subscribe(int) (<-chan delivery.Stats, func())   { return f.updates, func() {} }

type fakeReminder struct {
	mu         sync.Mutex
	calls      []string
	err        error
	catchUpErr error
}

func (f *fakeReminder) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeReminder) State(context.Context) reminder.Obligation { return reminder.NotScheduled() }
func (f *fakeReminder) Schedule(context.Context) error            { return f.record("schedule") }
func (f *fakeReminder) Cancel(context.Context) error              { return f.record("cancel") }
func (f *fakeReminder) Reschedule(_ context.Context, spec string) error {
	return f.record("reschedule " + spec)
}
func (f *fakeReminder) RequestImmediateCatchUp(context.Context) (appreminder.CatchUpResult, error) {
	if f.catchUpErr != nil {
		return appreminder.CatchUpResult{}, f.catchUpErr
	}
	return appreminder.CatchUpResult{RunID: "run-1"}, nil
}

type fakeSignals struct {
	got []power.Transition
	err error
}

func (f *fakeSignals) Publish(_ context.Context, t power.Transition) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, t)
	return nil
}

func newTestServer(deps Dependencies, mutate ...func(*Config)) http.Handler {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	for _, m := range mutate {
		m(&cfg)
	}
	deps.Logger = logger.Discard()
	return NewServer(cfg, deps).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Middleware errors use a flat body, so decoding is best effort.
	var resp JSONResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestGetStats(t *testing.T) {
	at := time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)
	reason := "quota_exceeded"
	stats := &fakeStats{stats: delivery.Stats{
		LastAttemptAt:     at,
		LastFailureReason: &reason,
		TotalScheduled:    4,
		TotalDelivered:    3,
		TotalFailed:       1,
	}}
	h := newTestServer(Dependencies{Stats: stats})

	rec, resp := do(t, h, http.MethodGet, "/api/v1/delivery/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(4), data["total_scheduled"])
	assert.Equal(t, 0.75, data["delivery_rate"])
	assert.Equal(t, false, data["is_reliable"])
	assert.Equal(t, float64(at.UnixMilli()), data["last_delivery_attempt"])
	assert.Equal(t, "quota_exceeded", data["last_delivery_reason"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStreamStats(t *testing.T) {
	stats := &fakeStats{
		stats:   delivery.Stats{TotalScheduled: 1, TotalDelivered: 1},
		updates: make(chan delivery.Stats, 1),
	}
	srv := httptest.NewServer(newTestServer(Dependencies{Stats: stats}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/delivery/stats/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readData := func() map[string]any {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var v map[string]any
				require.NoError(t, json.Unmarshal([]byte(data), &v))
				return v
			}
		}
	}

	first := readData()
	assert.Equal(t, float64(1), first["total_scheduled"])
	assert.Equal(t, float64(0), first["last_delivery_attempt"])

	stats.updates <- delivery.Stats{TotalScheduled: 2, TotalDelivered: 1, TotalFailed: 1}
	next := readData()
	assert.Equal(t, float64(2), next["total_scheduled"])
	assert.Equal(t, 0.5, next["delivery_rate"])
}

func TestScheduleAndCancel(t *testing.T) {
	rem := &fakeReminder{}
	h := newTestServer(Dependencies{Reminder: rem})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/reminder/schedule", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/reminder/schedule", `{"schedule":"0 20 * * *"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/reminder", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"schedule", "reschedule 0 20 * * *", "cancel"}, rem.calls)

	rec, resp := do(t, h, http.MethodGet, "/api/v1/reminder", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(reminder.StateNotScheduled), resp.Data.(map[string]any)["state"])
}

func TestSchedule_InvalidSpec(t *testing.T) {
	rem := &fakeReminder{err: shared.ErrInvalidSchedule}
	h := newTestServer(Dependencies{Reminder: rem})

	rec, resp := do(t, h, http.MethodPost, "/api/v1/reminder/schedule", `{"schedule":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_request", resp.Error.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/reminder/schedule", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatchUp(t *testing.T) {
	h := newTestServer(Dependencies{Reminder: &fakeReminder{}})
	rec, resp := do(t, h, http.MethodPost, "/api/v1/reminder/catch-up", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "run-1", resp.Data.(map[string]any)["run_id"])

	h = newTestServer(Dependencies{Reminder: &fakeReminder{catchUpErr: shared.ErrObligationNotFound}})
	rec, resp = do(t, h, http.MethodPost, "/api/v1/reminder/catch-up", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_scheduled", resp.Error.Code)
}

func TestPowerSignal(t *testing.T) {
	sig := &fakeSignals{}
	h := newTestServer(Dependencies{Signals: sig})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/power/signals", `{"signal":"power_save_mode_changed","power_save_on":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sig.got, 1)
	assert.Equal(t, power.SignalPowerSaveModeChanged, sig.got[0].Signal)
	assert.True(t, sig.got[0].PowerSaveOn)
	assert.Equal(t, "http", sig.got[0].Source)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/power/signals", `{"signal":"battery_okay","power_save_on":true,"source":"agent"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, sig.got[1].PowerSaveOn)
	assert.Equal(t, "agent", sig.got[1].Source)

	rec, resp := do(t, h, http.MethodPost, "/api/v1/power/signals", `{"signal":"screen_on"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_signal", resp.Error.Code)

	closed := newTestServer(Dependencies{Signals: &fakeSignals{err: messaging.ErrBusClosed}})
	rec, _ = do(t, closed, http.MethodPost, "/api/v1/power/signals", `{"signal":"battery_okay"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestControlEndpointsRequireKey(t *testing.T) {
	rem := &fakeReminder{}
	h := newTestServer(Dependencies{Reminder: rem}, func(c *Config) { c.APIKeys = []string{"secret"} })

	rec, _ := do(t, h, http.MethodDelete, "/api/v1/reminder", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/reminder", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/reminder", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"cancel"}, rem.calls)
}

func TestHealthAndReady(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("ledger", func(context.Context) error { return nil })
	checker.AddOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	h := newTestServer(Dependencies{HealthChecker: checker})

	rec, _ := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	checker.AddCheck("ledger", func(context.Context) error { return errors.New("disk I/O error") })
	rec, _ = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(Dependencies{}, func(c *Config) { c.RateLimitPerMinute = 2 })

	for range 2 {
		rec, _ := do(t, h, http.MethodGet, "/live", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := do(t, h, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestNotConfigured(t *testing.T) {
	h := newTestServer(Dependencies{})
	rec, _ := do(t, h, http.MethodGet, "/api/v1/delivery/stats", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownTimeout = time.Second
	srv := NewServer(cfg, Dependencies{Logger: logger.Discard()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/live")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, srv.Uptime())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
