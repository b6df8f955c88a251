package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation error")
	// ErrIllegalTransition is matched by every *IllegalTransitionError.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrPricingFrozen is returned when editing priced fields after
	// fulfillment has begun.
	ErrPricingFrozen = errors.New("order pricing is frozen")
	// ErrConflict is returned when the stored order changed underneath a
	// guarded update.
	ErrConflict = errors.New("order was modified concurrently")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Fields an IllegalTransitionError can refer to.
const (
	FieldStatus        = "status"
	FieldPaymentStatus = "payment_status"
)

// IllegalTransitionError reports a state change outside the transition table.
type IllegalTransitionError struct {
	Field string
	From  string
	To    string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot change %s from %s to %s", e.Field, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrValidation }
