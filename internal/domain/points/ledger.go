package points

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mutation describes a single ledger operation.
type Mutation struct {
	UserID  string
	Amount  int64
	Reason  Reason
	Note    string
	OrderID string
}

// Ledger records reason-coded point movements through a Repository.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a Ledger backed by repo.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Balance returns the user's balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.repo.Balance(ctx, userID)
}

// History returns the user's entries newest first.
func (l *Ledger) History(ctx context.Context, userID string, page Page) ([]Entry, int, error) {
	if page.Limit <= 0 {
		page.Limit = 20
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return l.repo.History(ctx, userID, page)
}

// Debit removes points, failing with ErrInsufficientPoints when the balance
// cannot cover the amount.
func (l *Ledger) Debit(ctx context.Context, m Mutation) (*Entry, error) {
	return l.append(ctx, KindDebit, m, -m.Amount)
}

// Credit adds points unconditionally.
func (l *Ledger) Credit(ctx context.Context, m Mutation) (*Entry, error) {
	return l.append(ctx, KindCredit, m, m.Amount)
}

// Refund adds points back, tagged as a refund. Callers guard against
// refunding the same order twice.
func (l *Ledger) Refund(ctx context.Context, m Mutation) (*Entry, error) {
	return l.append(ctx, KindRefund, m, m.Amount)
}

func (l *Ledger) append(ctx context.Context, kind Kind, m Mutation, signed int64) (*Entry, error) {
	if m.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if m.UserID == "" {
		return nil, errors.New("user id required")
	}
	if !m.Reason.Valid() {
		return nil, ErrInvalidReason
	}

	e := &Entry{
		ID:        uuid.New().String(),
		UserID:    m.UserID,
		Amount:    signed,
		Kind:      kind,
		Reason:    m.Reason,
		Note:      m.Note,
		OrderID:   m.OrderID,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Append(ctx, e); err != nil {
		if errors.Is(err, ErrInsufficientPoints) {
			return nil, ErrInsufficientPoints
		}
		return nil, errors.Wrapf(err, "append %s entry", kind)
	}

	zctx.From(ctx).Info("Points ledger entry",
		zap.String("user_id", e.UserID),
		zap.Int64("amount", e.Amount),
		zap.String("reason", string(e.Reason)),
		zap.Int64("balance", e.Balance),
	)
	return e, nil
}
