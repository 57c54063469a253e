package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

func withdrawal(id string, usd int64, status domain.WithdrawalStatus, createdAt int64) *domain.WithdrawalRequest {
	return &domain.WithdrawalRequest{
		ID:                 id,
		UserID:             "u1",
		Asset:              "USDT",
		Amount:             usd * 1000000,
		DestinationAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		NetworkCode:        "ethereum",
		FeeAmount:          usd * 10000,
		NetAmount:          usd * 990000,
		UsdValueCents:      domain.Dollars(usd),
		Status:             status,
		KYCTier:            1,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
}

func TestWithdrawalStore_SumUsdSince(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWithdrawalStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, withdrawal("w1", 4000, domain.WithdrawalCompleted, 2000)))
	require.NoError(t, store.Insert(ctx, withdrawal("w2", 900, domain.WithdrawalApproved, 3000)))
	require.NoError(t, store.Insert(ctx, withdrawal("w3", 700, domain.WithdrawalRejected, 3000)))
	require.NoError(t, store.Insert(ctx, withdrawal("w4", 500, domain.WithdrawalCompleted, 1000)))
	assert.ErrorIs(t, store.Insert(ctx, withdrawal("w1", 1, domain.WithdrawalPending, 1)), storage.ErrDuplicateKey)

	sum, err := store.SumUsdSince(ctx, "u1", 2000, domain.LimitStatuses)
	require.NoError(t, err)
	assert.Equal(t, domain.Dollars(4900), sum)

	none, err := store.SumUsdSince(ctx, "u2", 0, domain.LimitStatuses)
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestWithdrawalStore_Transition(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWithdrawalStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, withdrawal("w1", 100, domain.WithdrawalApproved, 1000)))

	err := store.Transition(ctx, "w1", domain.WithdrawalApproved, domain.WithdrawalProcessing, domain.WithdrawalUpdate{UpdatedAt: 2000})
	require.NoError(t, err)

	err = store.Transition(ctx, "w1", domain.WithdrawalApproved, domain.WithdrawalProcessing, domain.WithdrawalUpdate{UpdatedAt: 2001})
	assert.ErrorIs(t, err, storage.ErrConflict)

	err = store.Transition(ctx, "missing", domain.WithdrawalApproved, domain.WithdrawalProcessing, domain.WithdrawalUpdate{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Transition(ctx, "w1", domain.WithdrawalProcessing, domain.WithdrawalCompleted,
		domain.WithdrawalUpdate{PayoutTxHash: "0xabc", UpdatedAt: 3000})
	require.NoError(t, err)

	got, err := store.GetByID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCompleted, got.Status)
	assert.Equal(t, "0xabc", got.PayoutTxHash)
	assert.Equal(t, int64(3000), got.UpdatedAt)

	completed, err := store.ListByUser(ctx, "u1", domain.WithdrawalCompleted, 10, 0)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
}

func TestBridgeStore_ObserveAndSettle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBridgeStore(pool)
	ctx := context.Background()

	b := &domain.BridgeTransfer{
		ID:                 "b1",
		UserID:             "u1",
		Asset:              "USDT",
		Amount:             100000000,
		FeeAmount:          100000,
		NetAmount:          99900000,
		FromChain:          "ethereum",
		ToChain:            "tron",
		DestinationAddress: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		ReferenceID:        "bridge:b1",
		Status:             domain.DepositObserved,
		CreatedAt:          1000,
		UpdatedAt:          1000,
	}
	require.NoError(t, store.Insert(ctx, b))

	got, err := store.Observe(ctx, "b1", "dest-tx", 5, 19, 2000)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositConfirming, got.Status)
	assert.Equal(t, "dest-tx", got.DestTxHash)

	got, err = store.Observe(ctx, "b1", "", 19, 19, 3000)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositConfirmed, got.Status)
	assert.Equal(t, "dest-tx", got.DestTxHash)

	require.NoError(t, store.Transition(ctx, "b1", domain.DepositConfirmed, domain.DepositCredited, "", 4000))
	assert.ErrorIs(t, store.Transition(ctx, "b1", domain.DepositConfirmed, domain.DepositCredited, "", 4001), storage.ErrConflict)

	got, err = store.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got.SettledAt)

	_, err = store.Observe(ctx, "missing", "", 1, 1, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
