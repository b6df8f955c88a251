package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/domain/order"
	"github.com/xenking/pointshop/internal/domain/points"
	"github.com/xenking/pointshop/internal/domain/pricing"
	"github.com/xenking/pointshop/internal/domain/product"
	"github.com/xenking/pointshop/internal/domain/settings"
)

// Stable machine-readable error codes.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeCouponNotFound     = "COUPON_NOT_FOUND"
	CodeCouponIneligible   = "COUPON_INELIGIBLE"
	CodeCouponExhausted    = "COUPON_EXHAUSTED"
	CodeInsufficientPoints = "INSUFFICIENT_POINTS"
	CodeIllegalTransition  = "ILLEGAL_TRANSITION"
	CodeOverRedemption     = "OVER_REDEMPTION"
	CodePricingFrozen      = "PRICING_FROZEN"
	CodePointPriceUnset    = "POINT_PRICE_NOT_CONFIGURED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeInternal           = "INTERNAL"
)

var (
	errUnauthorized     = errors.New("unauthorized")
	errForbidden        = errors.New("forbidden")
	errRouteNotFound    = errors.New("route not found")
	errMethodNotAllowed = errors.New("method not allowed")
)

// badRequestError is malformed input rejected by the handler itself.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps an error to its HTTP status and stable code.
func classify(err error) (int, string) {
	var (
		br *badRequestError
		ve validator.ValidationErrors
	)
	switch {
	case errors.As(err, &br), errors.As(err, &ve),
		errors.Is(err, order.ErrValidation),
		errors.Is(err, points.ErrInvalidAmount),
		errors.Is(err, points.ErrInvalidReason),
		errors.Is(err, settings.ErrInvalidPointPrice):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, coupon.ErrCouponNotFound):
		return http.StatusNotFound, CodeCouponNotFound
	case errors.Is(err, coupon.ErrCouponIneligible):
		return http.StatusUnprocessableEntity, CodeCouponIneligible
	case errors.Is(err, coupon.ErrCouponExhausted):
		return http.StatusUnprocessableEntity, CodeCouponExhausted
	case errors.Is(err, points.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity, CodeInsufficientPoints
	case errors.Is(err, order.ErrIllegalTransition), errors.Is(err, order.ErrConflict):
		return http.StatusConflict, CodeIllegalTransition
	case errors.Is(err, pricing.ErrOverRedemption):
		return http.StatusUnprocessableEntity, CodeOverRedemption
	case errors.Is(err, order.ErrPricingFrozen):
		return http.StatusConflict, CodePricingFrozen
	case errors.Is(err, settings.ErrNotConfigured):
		return http.StatusServiceUnavailable, CodePointPriceUnset
	case errors.Is(err, order.ErrNotFound), errors.Is(err, product.ErrNotFound), errors.Is(err, errRouteNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, errMethodNotAllowed):
		return http.StatusMethodNotAllowed, CodeMethodNotAllowed
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, CodeForbidden
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msg = describeValidation(ve)
	}
	writeJSON(w, status, ErrorResponse{Code: status, Error: code, Message: msg})
}

func describeValidation(ve validator.ValidationErrors) string {
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", ns, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: failed %s", ns, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	// An empty body decodes as an empty object.
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: %v", err)
	}
	return h.validate.Struct(dst)
}
