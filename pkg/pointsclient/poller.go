package pointsclient

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// DefaultPollInterval is the top-up status polling period.
const DefaultPollInterval = 4 * time.Second

// ErrOrderCancelled is the poll result for a top-up that was cancelled
// instead of completed.
var ErrOrderCancelled = errors.New("order cancelled")

// PollConfig configures a top-up watch.
type PollConfig struct {
	// Interval defaults to DefaultPollInterval.
	Interval time.Duration
	// OnUpdate is called with every successfully fetched order.
	OnUpdate func(o *Order)
	// OnError is called for a failed tick. The tick is skipped.
	OnError func(err error)
}

// PollResult is the outcome of a finished watch.
type PollResult struct {
	Order *Order
	// Balance is the points balance fetched once after completion.
	Balance int64
	Err     error
}

// Poller watches a points top-up order until it completes or is cancelled.
// At most one request is in flight at any time.
type Poller struct {
	client *Client
	id     string
	cfg    PollConfig

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	res    PollResult
}

// WatchTopup starts polling the order in the background. Call Stop when the
// result is no longer needed.
func (c *Client) WatchTopup(ctx context.Context, orderID string, cfg PollConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{
		client: c,
		id:     orderID,
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.loop(ctx)
	return p
}

// Stop cancels polling and waits for the loop to exit. No callback runs after
// Stop returns. Safe to call more than once.
func (p *Poller) Stop() {
	p.once.Do(p.cancel)
	<-p.done
}

// Done is closed when polling ends.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Result returns the outcome once Done is closed.
func (p *Poller) Result() PollResult {
	<-p.done
	return p.res
}

// Wait blocks until polling ends or ctx is done.
func (p *Poller) Wait(ctx context.Context) (PollResult, error) {
	select {
	case <-p.done:
		return p.res, nil
	case <-ctx.Done():
		return PollResult{}, ctx.Err()
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	defer p.once.Do(p.cancel)

	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			p.res.Err = ctx.Err()
			return
		case <-t.C:
		}

		o, err := p.client.getOrderOnce(ctx, p.id)
		if ctx.Err() != nil {
			// Stopped mid-request: drop the response.
			p.res.Err = ctx.Err()
			return
		}
		if err != nil {
			p.client.lg.Debug("Top-up poll failed", zap.String("order_id", p.id), zap.Error(err))
			if p.cfg.OnError != nil {
				p.cfg.OnError(err)
			}
			if HasCode(err, CodeNotFound) {
				p.res.Err = err
				return
			}
			continue
		}
		if p.cfg.OnUpdate != nil {
			p.cfg.OnUpdate(o)
		}

		switch o.Status {
		case StatusCompleted:
			p.res.Order = o
			p.res.Balance, p.res.Err = p.client.Balance(ctx)
			return
		case StatusCancelled:
			p.res.Order = o
			p.res.Err = ErrOrderCancelled
			return
		}
	}
}

// getOrderOnce fetches an order without retries; the next tick is the retry.
func (c *Client) getOrderOnce(ctx context.Context, id string) (*Order, error) {
	var out Order
	if err := c.do(ctx, call{method: http.MethodGet, path: "/orders/" + url.PathEscape(id), out: &out, once: true}); err != nil {
		return nil, err
	}
	return &out, nil
}
