package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func pass(context.Context) error { return nil }

func fail(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func probeStatus(t *testing.T, h http.HandlerFunc) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		checks   []CheckFunc
		runs     int
		wantCode int
		wantFail map[string]string
	}{
		{name: "NoChecks", wantCode: http.StatusOK},
		{name: "Passing", checks: []CheckFunc{pass, pass}, runs: 3, wantCode: http.StatusOK},
		{name: "BelowThreshold", checks: []CheckFunc{fail("temporary")}, runs: 2, wantCode: http.StatusOK},
		{
			name:     "Failing",
			checks:   []CheckFunc{pass, fail("connection refused")},
			runs:     3,
			wantCode: http.StatusServiceUnavailable,
			wantFail: map[string]string{"c1": "connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			for i, fn := range tt.checks {
				h.AddLivenessCheck("c"+string(rune('0'+i)), time.Second, fn)
			}
			for _, c := range h.live {
				runN(c, tt.runs)
			}

			code, body := probeStatus(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantFail, body.Checks)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "ok", body.Status)
			} else {
				assert.Equal(t, "unhealthy", body.Status)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("GateClosedByDefault", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("db", time.Second, pass)

		code, body := probeStatus(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks, "_readiness")
	})
	t.Run("GateToggles", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		code, _ := probeStatus(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, code)

		h.SetReady(false)
		code, _ = probeStatus(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})
	t.Run("OneFailing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("db", time.Second, pass)
		h.AddReadinessCheck("redis", time.Second, fail("dial tcp: refused"))
		h.SetReady(true)
		runN(h.ready[1], 3)

		code, body := probeStatus(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, map[string]string{"redis": "dial tcp: refused"}, body.Checks)
	})
}

func TestCheckThresholds(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	down := true
	h := New(WithThresholds(Thresholds{Failure: 2, Success: 2}), WithLogger(zap.New(core)))
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	c := h.live[0]

	assert.Nil(t, c.getLastError())
	runN(c, 1)
	assert.True(t, c.isHealthy())
	assert.EqualError(t, c.getLastError(), "down")

	runN(c, 1)
	assert.False(t, c.isHealthy())

	down = false
	runN(c, 1)
	assert.False(t, c.isHealthy(), "one pass is below the success threshold")
	runN(c, 1)
	assert.True(t, c.isHealthy())

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "Check failing", logs.All()[0].Message)
	assert.Equal(t, "Check recovered", logs.All()[1].Message)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, PingCheck("postgres", fakePinger{})(ctx))
	err := PingCheck("redis", fakePinger{err: errors.New("refused")})(ctx)
	require.Error(t, err)
	assert.Equal(t, "ping redis: refused", err.Error())

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, fail("err"))
	h.AddReadinessCheck("ready", time.Second, pass)
	h.SetReady(true)
	h.Start(context.Background(), 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
	assert.Eventually(t, func() bool { return !h.live[0].isHealthy() }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}
