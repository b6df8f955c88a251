// Package points implements the append-only points ledger.
package points

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrInsufficientPoints is returned when a debit would drive the balance
	// below zero.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrInvalidAmount is returned for non-positive ledger amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidReason is returned for empty or unknown reason codes.
	ErrInvalidReason = errors.New("unknown reason code")
)

// Reason codes a ledger mutation.
type Reason string

const (
	ReasonOrderCompleted    Reason = "order-completed"
	ReasonOrderRedeemed     Reason = "order-points-redeemed"
	ReasonOrderCancelRefund Reason = "order-cancelled-refund"
	ReasonPurchaseCredit    Reason = "points-purchase-credit"
	ReasonSuggestionPackage Reason = "suggestion-package-purchase"
	ReasonAdminGrant        Reason = "admin-grant"
	ReasonAdminDeduct       Reason = "admin-deduct"
	ReasonPredictionReward  Reason = "prediction-reward"
	ReasonCheckIn           Reason = "check-in"
)

// Valid reports whether r is a known reason code.
func (r Reason) Valid() bool {
	switch r {
	case ReasonOrderCompleted, ReasonOrderRedeemed, ReasonOrderCancelRefund,
		ReasonPurchaseCredit, ReasonSuggestionPackage, ReasonAdminGrant,
		ReasonAdminDeduct, ReasonPredictionReward, ReasonCheckIn:
		return true
	default:
		return false
	}
}

// Kind distinguishes debits, credits and refunds in the audit trail.
type Kind string

const (
	KindDebit  Kind = "debit"
	KindCredit Kind = "credit"
	KindRefund Kind = "refund"
)

// Entry is an immutable ledger record. Amount is signed: negative for debits.
type Entry struct {
	ID        string
	UserID    string
	Amount    int64
	Kind      Kind
	Reason    Reason
	Note      string
	OrderID   string
	Balance   int64
	CreatedAt time.Time
}

// Page selects a window of history, newest first.
type Page struct {
	Limit  int
	Offset int
}

// Repository persists entries and balances.
type Repository interface {
	// Balance returns the user's current balance; unknown users have zero.
	Balance(ctx context.Context, userID string) (int64, error)
	// Append applies e.Amount to the user's balance and stores the entry in
	// one atomic step, setting e.Balance to the resulting balance. A
	// negative amount that would make the balance negative fails with
	// ErrInsufficientPoints and stores nothing.
	Append(ctx context.Context, e *Entry) error
	// History returns entries for userID newest first, with the total count.
	History(ctx context.Context, userID string, page Page) ([]Entry, int, error)
}
