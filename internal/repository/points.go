package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pointshop/internal/domain/points"
)

const (
	getBalanceSQL = `SELECT balance FROM point_balances WHERE user_id = $1`

	creditBalanceSQL = `INSERT INTO point_balances AS b (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = b.balance + EXCLUDED.balance
		RETURNING balance`

	// Zero rows means the debit would overdraw, or the user has no balance.
	debitBalanceSQL = `UPDATE point_balances SET balance = balance + $2
		WHERE user_id = $1 AND balance + $2 >= 0
		RETURNING balance`

	insertEntrySQL = `INSERT INTO point_entries
		(id, user_id, amount, kind, reason, note, order_id, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	countEntriesSQL = `SELECT COUNT(*) FROM point_entries WHERE user_id = $1`

	listEntriesSQL = `SELECT id, user_id, amount, kind, reason, note, order_id, balance, created_at
		FROM point_entries WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`
)

var _ points.Repository = (*LedgerRepository)(nil)

// LedgerRepository implements points.Repository backed by PostgreSQL.
type LedgerRepository struct {
	q querier
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{q: pool}
}

// Balance returns the user's balance, zero for users without entries.
func (r *LedgerRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var b int64
	err := r.q.QueryRow(ctx, getBalanceSQL, userID).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "get balance of %q", userID)
	}
	return b, nil
}

// Append applies the entry to the balance and records it. Both statements
// run in one transaction, or in a savepoint when q is already a transaction.
func (r *LedgerRepository) Append(ctx context.Context, e *points.Entry) error {
	query := creditBalanceSQL
	if e.Amount < 0 {
		query = debitBalanceSQL
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		var balance int64
		if err := tx.QueryRow(ctx, query, e.UserID, e.Amount).Scan(&balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return points.ErrInsufficientPoints
			}
			return errors.Wrapf(err, "apply %d points to %q", e.Amount, e.UserID)
		}
		if _, err := tx.Exec(ctx, insertEntrySQL,
			e.ID, e.UserID, e.Amount, string(e.Kind), string(e.Reason), e.Note, e.OrderID, balance, e.CreatedAt,
		); err != nil {
			return errors.Wrapf(err, "insert ledger entry for %q", e.UserID)
		}
		e.Balance = balance
		return nil
	})
}

// History returns the user's entries newest first and the total count.
func (r *LedgerRepository) History(ctx context.Context, userID string, page points.Page) ([]points.Entry, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, countEntriesSQL, userID).Scan(&total); err != nil {
		return nil, 0, errors.Wrapf(err, "count ledger entries of %q", userID)
	}
	rows, err := r.q.Query(ctx, listEntriesSQL, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "list ledger entries of %q", userID)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "list ledger entries of %q", userID)
	}
	return entries, total, nil
}

func scanEntry(row pgx.CollectableRow) (points.Entry, error) {
	var (
		e            points.Entry
		id           uuid.UUID
		kind, reason string
	)
	err := row.Scan(&id, &e.UserID, &e.Amount, &kind, &reason, &e.Note, &e.OrderID, &e.Balance, &e.CreatedAt)
	e.ID = id.String()
	e.Kind = points.Kind(kind)
	e.Reason = points.Reason(reason)
	return e, err
}
