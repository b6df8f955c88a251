package points

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLedgerRepo struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []Entry
	err      error
}

func newMockLedgerRepo() *mockLedgerRepo {
	return &mockLedgerRepo{balances: map[string]int64{}}
}

func (m *mockLedgerRepo) Balance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], m.err
}

func (m *mockLedgerRepo) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	next := m.balances[e.UserID] + e.Amount
	if next < 0 {
		return ErrInsufficientPoints
	}
	m.balances[e.UserID] = next
	e.Balance = next
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockLedgerRepo) History(_ context.Context, userID string, page Page) ([]Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	total := len(out)
	if page.Offset >= total {
		return nil, total, nil
	}
	out = out[page.Offset:]
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, total, nil
}

func TestLedger_DebitCreditRefund(t *testing.T) {
	ctx := context.Background()
	repo := newMockLedgerRepo()
	l := NewLedger(repo)

	_, err := l.Credit(ctx, Mutation{UserID: "u1", Amount: 200, Reason: ReasonAdminGrant})
	require.NoError(t, err)

	e, err := l.Debit(ctx, Mutation{UserID: "u1", Amount: 50, Reason: ReasonOrderRedeemed, OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, int64(-50), e.Amount)
	assert.Equal(t, KindDebit, e.Kind)
	assert.Equal(t, int64(150), e.Balance)

	e, err = l.Refund(ctx, Mutation{UserID: "u1", Amount: 50, Reason: ReasonOrderCancelRefund, OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, KindRefund, e.Kind)
	assert.Equal(t, int64(200), e.Balance)

	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), bal)
}

func TestLedger_DebitInsufficient(t *testing.T) {
	ctx := context.Background()
	repo := newMockLedgerRepo()
	repo.balances["u1"] = 30
	l := NewLedger(repo)

	_, err := l.Debit(ctx, Mutation{UserID: "u1", Amount: 31, Reason: ReasonSuggestionPackage})
	require.ErrorIs(t, err, ErrInsufficientPoints)
	assert.Empty(t, repo.entries)
	assert.Equal(t, int64(30), repo.balances["u1"])
}

func TestLedger_InvalidInput(t *testing.T) {
	l := NewLedger(newMockLedgerRepo())

	tests := []struct {
		name string
		m    Mutation
	}{
		{name: "zero amount", m: Mutation{UserID: "u1", Amount: 0, Reason: ReasonAdminGrant}},
		{name: "negative amount", m: Mutation{UserID: "u1", Amount: -5, Reason: ReasonAdminGrant}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Credit(context.Background(), tt.m)
			require.ErrorIs(t, err, ErrInvalidAmount)
		})
	}

	_, err := l.Credit(context.Background(), Mutation{Amount: 5, Reason: ReasonAdminGrant})
	require.Error(t, err)
}

func TestLedger_RejectsUnknownReason(t *testing.T) {
	repo := newMockLedgerRepo()
	repo.balances["u1"] = 100
	l := NewLedger(repo)

	tests := []struct {
		name   string
		reason Reason
	}{
		{name: "empty", reason: ""},
		{name: "unknown", reason: "bogus"},
		{name: "wrong case", reason: "ADMIN-GRANT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Credit(context.Background(), Mutation{UserID: "u1", Amount: 5, Reason: tt.reason})
			require.ErrorIs(t, err, ErrInvalidReason)
			_, err = l.Debit(context.Background(), Mutation{UserID: "u1", Amount: 5, Reason: tt.reason})
			require.ErrorIs(t, err, ErrInvalidReason)
		})
	}

	bal, err := l.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal, "rejected mutations store nothing")
}

func TestLedger_RepoError(t *testing.T) {
	repo := newMockLedgerRepo()
	repo.err = errors.New("db down")

	_, err := NewLedger(repo).Credit(context.Background(), Mutation{UserID: "u1", Amount: 1, Reason: ReasonAdminGrant})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append credit entry")
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	repo := newMockLedgerRepo()
	repo.balances["u1"] = 100
	l := NewLedger(repo)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, Mutation{UserID: "u1", Amount: 10, Reason: ReasonSuggestionPackage}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, int64(0), repo.balances["u1"])
}

func TestLedger_HistoryDefaults(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newMockLedgerRepo())
	for range 25 {
		_, err := l.Credit(ctx, Mutation{UserID: "u1", Amount: 1, Reason: ReasonCheckIn})
		require.NoError(t, err)
	}

	entries, total, err := l.History(ctx, "u1", Page{})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, entries, 20)
	assert.Equal(t, int64(25), entries[0].Balance)
}
