// Package pointsclient is a Go client for the points shop REST API.
//
// Idempotent reads are retried with capped exponential backoff. Mutating
// calls are attempted exactly once so a payment proof is never submitted
// twice by the client.
package pointsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrUpstreamTimeout is returned when a request exceeds the per-request
// timeout or the connection times out.
var ErrUpstreamTimeout = errors.New("upstream timeout")

// Stable error codes returned by the API.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeCouponNotFound     = "COUPON_NOT_FOUND"
	CodeCouponIneligible   = "COUPON_INELIGIBLE"
	CodeCouponExhausted    = "COUPON_EXHAUSTED"
	CodeInsufficientPoints = "INSUFFICIENT_POINTS"
	CodeIllegalTransition  = "ILLEGAL_TRANSITION"
	CodeOverRedemption     = "OVER_REDEMPTION"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
)

// Error is a non-2xx API response.
type Error struct {
	Status  int    `json:"code"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *Error) retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// HasCode reports whether err is an API error with the given code.
func HasCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// RetryConfig bounds retries of idempotent reads.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultRetry is used unless WithRetry overrides it.
var DefaultRetry = RetryConfig{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxRetries:      4,
}

// Client calls the API on behalf of one user, optionally with an admin key.
type Client struct {
	base    *url.URL
	http    *http.Client
	userID  string
	apiKey  string
	timeout time.Duration
	retry   RetryConfig
	lg      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

func WithUserID(id string) Option { return func(cl *Client) { cl.userID = id } }

func WithAPIKey(key string) Option { return func(cl *Client) { cl.apiKey = key } }

// WithTimeout bounds every single attempt. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(cl *Client) { cl.timeout = d } }

func WithRetry(r RetryConfig) Option { return func(cl *Client) { cl.retry = r } }

func WithLogger(lg *zap.Logger) Option { return func(cl *Client) { cl.lg = lg } }

// New creates a client for the API rooted at baseURL, e.g.
// "https://shop.example.com/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base:    u,
		http:    http.DefaultClient,
		timeout: 10 * time.Second,
		retry:   DefaultRetry,
		lg:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// As returns a copy of the client acting for another user.
func (c *Client) As(userID string) *Client {
	cp := *c
	cp.userID = userID
	return &cp
}

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	out    any
	// once disables retries even for GET.
	once bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	if cl.method != http.MethodGet || cl.once {
		return c.attempt(ctx, cl)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.retry.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := c.attempt(ctx, cl)
		if err == nil || isTransient(ctx, err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		c.lg.Warn("Retrying request",
			zap.String("path", cl.path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	// Transport failures and per-attempt timeouts.
	return true
}

func (c *Client) attempt(ctx context.Context, cl call) error {
	parent := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.base.JoinPath(cl.path)
	if len(cl.query) > 0 {
		u.RawQuery = cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		buf, err := json.Marshal(cl.body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if c.apiKey != "" {
		req.Header.Set("api_key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if parent.Err() == nil && isTimeout(ctx, err) {
			return errors.Wrapf(ErrUpstreamTimeout, "%s %s", cl.method, cl.path)
		}
		return errors.Wrapf(err, "%s %s", cl.method, cl.path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Status = resp.StatusCode
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if cl.out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		if parent.Err() == nil && isTimeout(ctx, err) {
			return errors.Wrapf(ErrUpstreamTimeout, "%s %s", cl.method, cl.path)
		}
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func page(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}

// PointPrice returns the current point price.
func (c *Client) PointPrice(ctx context.Context) (*PointPrice, error) {
	var out PointPrice
	if err := c.do(ctx, call{method: http.MethodGet, path: "/settings/point-price", out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the user's points balance.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := c.do(ctx, call{method: http.MethodGet, path: "/points/balance", out: &out}); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// History returns a page of the user's ledger, newest first.
func (c *Client) History(ctx context.Context, limit, offset int) (*History, error) {
	var out History
	if err := c.do(ctx, call{method: http.MethodGet, path: "/points/history", query: page(limit, offset), out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quote prices a cart without creating anything.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var out Quote
	if err := c.do(ctx, call{method: http.MethodPost, path: "/orders/quote", body: req, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateCoupon checks a code against an order amount.
func (c *Client) ValidateCoupon(ctx context.Context, code string, amount decimal.Decimal, items []CouponItem) (*CouponCheck, error) {
	body := struct {
		Code        string          `json:"code"`
		OrderAmount decimal.Decimal `json:"orderAmount"`
		OrderItems  []CouponItem    `json:"orderItems,omitempty"`
	}{code, amount, items}
	var out CouponCheck
	if err := c.do(ctx, call{method: http.MethodPost, path: "/shop/coupons/validate", body: body, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceOrder submits a product order.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	return c.orderCall(ctx, http.MethodPost, "/orders", req)
}

// BuyPoints creates a points top-up order for amount of currency.
func (c *Client) BuyPoints(ctx context.Context, amount decimal.Decimal) (*Order, error) {
	body := struct {
		Amount decimal.Decimal `json:"amount"`
	}{amount}
	return c.orderCall(ctx, http.MethodPost, "/orders/points-purchase", body)
}

// SubmitPaymentProof attaches a bank transfer proof to an order.
func (c *Client) SubmitPaymentProof(ctx context.Context, orderID, imageURL, note string) (*Order, error) {
	body := struct {
		OrderID      string `json:"orderId"`
		PaymentImage string `json:"paymentImage"`
		Note         string `json:"note,omitempty"`
	}{orderID, imageURL, note}
	return c.orderCall(ctx, http.MethodPost, "/orders/payment-confirmation", body)
}

// GetOrder fetches one of the user's orders.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	return c.orderCall(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil)
}

// ListOrders returns a page of the user's orders, newest first.
func (c *Client) ListOrders(ctx context.Context, status string, limit, offset int) (*OrderList, error) {
	q := page(limit, offset)
	if status != "" {
		q.Set("status", status)
	}
	var out OrderList
	if err := c.do(ctx, call{method: http.MethodGet, path: "/orders", query: q, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels an order that has not entered fulfillment.
func (c *Client) CancelOrder(ctx context.Context, id, reason string) (*Order, error) {
	body := struct {
		Reason string `json:"reason,omitempty"`
	}{reason}
	return c.orderCall(ctx, http.MethodPost, "/orders/"+url.PathEscape(id)+"/cancel", body)
}

// ConfirmDelivery completes a delivered order.
func (c *Client) ConfirmDelivery(ctx context.Context, id string) (*Order, error) {
	return c.orderCall(ctx, http.MethodPost, "/orders/"+url.PathEscape(id)+"/confirm-delivery", nil)
}

// ApprovePayment approves a payment proof. Requires an admin key.
func (c *Client) ApprovePayment(ctx context.Context, id string) (*Order, error) {
	return c.orderCall(ctx, http.MethodPost, "/admin/system-orders/"+url.PathEscape(id)+"/approve-payment", nil)
}

// RejectPayment rejects a payment proof, cancelling the order when cancel is
// set. Requires an admin key.
func (c *Client) RejectPayment(ctx context.Context, id, note string, cancel bool) (*Order, error) {
	body := struct {
		Note   string `json:"note"`
		Cancel bool   `json:"cancel"`
	}{note, cancel}
	return c.orderCall(ctx, http.MethodPost, "/admin/system-orders/"+url.PathEscape(id)+"/reject-payment", body)
}

func (c *Client) orderCall(ctx context.Context, method, path string, body any) (*Order, error) {
	var out Order
	if err := c.do(ctx, call{method: method, path: path, body: body, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}
