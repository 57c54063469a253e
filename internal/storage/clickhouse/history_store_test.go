package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/domain"
)

func feeEntry(id string, pool domain.AccountType, amount, at int64) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:          id,
		Seq:         1,
		Account:     domain.SystemAccount("BTC", pool),
		EntryType:   domain.EntryFee,
		Amount:      amount,
		ReferenceID: "ref-" + id,
		CreatedAt:   at,
	}
}

func TestHistoryStore_FeeTotals(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewHistoryStore(conn)
	ctx := context.Background()

	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	day2 := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC).UnixMilli()

	entries := []*domain.LedgerEntry{
		feeEntry("a", domain.AccountProtocolFees, 600, day1),
		feeEntry("b", domain.AccountCharityFund, 300, day1),
		feeEntry("c", domain.AccountProtocolFees, 60, day2),
		{
			ID:          "d",
			Account:     domain.UserAccount("u1", "BTC", domain.AccountMain),
			EntryType:   domain.EntryDeposit,
			Amount:      9000,
			ReferenceID: "ref-d",
			CreatedAt:   day1,
		},
	}
	require.NoError(t, store.Append(ctx, entries))
	// Re-appending must not double count.
	require.NoError(t, store.Append(ctx, entries[:1]))

	totals, err := store.FeeTotals(ctx, day1-1000, 0)
	require.NoError(t, err)
	require.Len(t, totals, 3)

	assert.Equal(t, "2024-03-01", totals[0].Day)
	assert.Equal(t, domain.AccountCharityFund, totals[0].Pool)
	assert.Equal(t, int64(300), totals[0].Amount)

	assert.Equal(t, domain.AccountProtocolFees, totals[1].Pool)
	assert.Equal(t, int64(600), totals[1].Amount)
	assert.Equal(t, int64(1), totals[1].Entries)

	assert.Equal(t, "2024-03-02", totals[2].Day)

	only1, err := store.FeeTotals(ctx, day1, day1+1000)
	require.NoError(t, err)
	assert.Len(t, only1, 2)
}

func TestHistoryStore_AppendEmpty(t *testing.T) {
	store := NewHistoryStore(nil)
	assert.NoError(t, store.Append(context.Background(), nil))
}
