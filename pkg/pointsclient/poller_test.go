package pointsclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pointshop/pkg/pointsclient"
)

// fakeOrders serves a scripted sequence of order statuses and tracks
// concurrent requests.
type fakeOrders struct {
	script   []string
	polls    atomic.Int32
	balances atomic.Int32
	inflight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (f *fakeOrders) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.inflight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inflight.Add(-1)

	if r.URL.Path == "/points/balance" {
		f.balances.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"balance": 7})
		return
	}
	if !strings.HasPrefix(r.URL.Path, "/orders/") {
		http.NotFound(w, r)
		return
	}
	time.Sleep(f.delay)
	n := int(f.polls.Add(1)) - 1
	if n >= len(f.script) {
		n = len(f.script) - 1
	}
	status := f.script[n]
	if status == "error" {
		writeJSON(w, http.StatusBadGateway, map[string]any{"code": 502, "error": "INTERNAL", "message": "bad gateway"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": "o1", "status": status})
}

func TestPoller_CompletesAfterSkippedTick(t *testing.T) {
	f := &fakeOrders{script: []string{"error", pointsclient.StatusWaitingConfirmation, pointsclient.StatusCompleted}}
	srv := httptest.NewServer(f)
	defer srv.Close()

	var errs atomic.Int32
	c := newClient(t, srv.URL, pointsclient.WithUserID("u1"), fastRetry())
	p := c.WatchTopup(context.Background(), "o1", pointsclient.PollConfig{
		Interval: 5 * time.Millisecond,
		OnError:  func(error) { errs.Add(1) },
	})

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish")
	}
	res := p.Result()
	require.NoError(t, res.Err)
	assert.Equal(t, pointsclient.StatusCompleted, res.Order.Status)
	assert.Equal(t, int64(7), res.Balance)

	assert.Equal(t, int32(1), errs.Load(), "failed tick is reported once and not retried")
	assert.Equal(t, int32(3), f.polls.Load())
	assert.Equal(t, int32(1), f.balances.Load())

	p.Stop()
	p.Stop()
}

func TestPoller_OneRequestInFlight(t *testing.T) {
	f := &fakeOrders{
		script: []string{"waiting_confirmation", "waiting_confirmation", "waiting_confirmation", "completed"},
		delay:  15 * time.Millisecond,
	}
	srv := httptest.NewServer(f)
	defer srv.Close()

	c := newClient(t, srv.URL)
	p := c.WatchTopup(context.Background(), "o1", pointsclient.PollConfig{Interval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.False(t, f.overlap.Load(), "requests overlapped")
}

func TestPoller_Cancelled(t *testing.T) {
	f := &fakeOrders{script: []string{pointsclient.StatusCancelled}}
	srv := httptest.NewServer(f)
	defer srv.Close()

	p := newClient(t, srv.URL).WatchTopup(context.Background(), "o1", pointsclient.PollConfig{Interval: time.Millisecond})
	res := p.Result()
	assert.True(t, errors.Is(res.Err, pointsclient.ErrOrderCancelled))
	assert.Zero(t, f.balances.Load())
}

func TestPoller_Stop(t *testing.T) {
	f := &fakeOrders{script: []string{pointsclient.StatusWaitingConfirmation}}
	srv := httptest.NewServer(f)
	defer srv.Close()

	var updates atomic.Int32
	p := newClient(t, srv.URL).WatchTopup(context.Background(), "o1", pointsclient.PollConfig{
		Interval: 2 * time.Millisecond,
		OnUpdate: func(*pointsclient.Order) { updates.Add(1) },
	})
	assert.Eventually(t, func() bool { return updates.Load() > 0 }, 5*time.Second, time.Millisecond)

	p.Stop()
	after := updates.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, updates.Load(), "no callbacks after Stop")
	assert.True(t, errors.Is(p.Result().Err, context.Canceled))
	assert.Zero(t, f.balances.Load())
}
