package ledger

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"testing"
	"time"

	"custody-ledger/internal/chain"
	"custody-ledger/internal/config"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage/memory"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, sink *failingSink) (*Ledger, *memory.LedgerStore, *bytes.Buffer) {
	t.Helper()

	policy, err := config.DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy: %v", err)
	}
	registry, err := chain.NewRegistry(policy.Assets, policy.Networks)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	store := memory.NewLedgerStore(policy.BalanceFloors())
	var logs bytes.Buffer
	opts := Options{
		Store:  store,
		Assets: registry,
		Logger: log.New(&logs, "", 0),
		Now:    func() time.Time { return testNow },
	}
	if sink != nil {
		opts.Sink = sink
	}
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, store, &logs
}

func custody(asset domain.AssetCode) domain.AccountKey {
	return domain.SystemAccount(asset, domain.AccountCustody)
}

func userMain(userID string, asset domain.AssetCode) domain.AccountKey {
	return domain.UserAccount(userID, asset, domain.AccountMain)
}

func fund(t *testing.T, l *Ledger, userID string, asset domain.AssetCode, amount int64) {
	t.Helper()
	if _, err := l.Reward(context.Background(), userID, asset, amount, "fund:"+userID+":"+string(asset), ""); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func balance(t *testing.T, l *Ledger, key domain.AccountKey) int64 {
	t.Helper()
	m, err := l.Balance(context.Background(), key)
	if err != nil {
		t.Fatalf("Balance(%s): %v", key, err)
	}
	return m.Units
}

func TestRecord_DoubleEntry(t *testing.T) {
	l, _, _ := newTestLedger(t, nil)
	ctx := context.Background()

	receipt, err := l.Record(ctx, []*domain.LedgerEntry{
		{Account: custody("BTC"), EntryType: domain.EntryDeposit, Amount: -100000000, ReferenceID: "dep-1"},
		{Account: userMain("u1", "BTC"), EntryType: domain.EntryDeposit, Amount: 99000000, ReferenceID: "dep-1"},
		{Account: domain.SystemAccount("BTC", domain.AccountProtocolFees), EntryType: domain.EntryFee, Amount: 600000, ReferenceID: "dep-1"},
		{Account: domain.SystemAccount("BTC", domain.AccountCharityFund), EntryType: domain.EntryFee, Amount: 300000, ReferenceID: "dep-1"},
		{Account: domain.SystemAccount("BTC", domain.AccountAcademyFund), EntryType: domain.EntryFee, Amount: 100000, ReferenceID: "dep-1"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if receipt.Replayed {
		t.Error("first record reported as replayed")
	}

	var sum int64
	for _, e := range receipt.Entries {
		sum += e.Amount
		if len(e.ID) != 64 || e.Seq == 0 || e.CreatedAt != testNow.UnixMilli() {
			t.Errorf("entry not fully assigned: %+v", e)
		}
	}
	if sum != 0 {
		t.Errorf("entries sum to %d, want 0", sum)
	}
	for i := 1; i < len(receipt.Entries); i++ {
		if receipt.Entries[i-1].Account.String() > receipt.Entries[i].Account.String() {
			t.Errorf("entries not in account key order")
		}
	}

	if got := balance(t, l, userMain("u1", "BTC")); got != 99000000 {
		t.Errorf("user balance = %d, want 99000000", got)
	}
	if got := balance(t, l, custody("BTC")); got != -100000000 {
		t.Errorf("custody balance = %d, want -100000000", got)
	}
}

func TestRecord_Rejects(t *testing.T) {
	l, store, _ := newTestLedger(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		entries []*domain.LedgerEntry
		want    error
	}{
		{"empty", nil, domain.ErrInvalidEntry},
		{"unbalanced", []*domain.LedgerEntry{
			{Account: custody("BTC"), EntryType: domain.EntryDeposit, Amount: -100, ReferenceID: "r"},
			{Account: userMain("u1", "BTC"), EntryType: domain.EntryDeposit, Amount: 99, ReferenceID: "r"},
		}, domain.ErrUnbalanced},
		{"balanced across assets only", []*domain.LedgerEntry{
			{Account: custody("BTC"), EntryType: domain.EntrySwap, Amount: -100, ReferenceID: "r"},
			{Account: userMain("u1", "ETH"), EntryType: domain.EntrySwap, Amount: 100, ReferenceID: "r"},
		}, domain.ErrUnbalanced},
		{"zero amount", []*domain.LedgerEntry{
			{Account: custody("BTC"), EntryType: domain.EntryDeposit, Amount: 0, ReferenceID: "r"},
		}, domain.ErrInvalidEntry},
		{"unknown asset", []*domain.LedgerEntry{
			{Account: custody("DOGE"), EntryType: domain.EntryDeposit, Amount: -1, ReferenceID: "r"},
			{Account: userMain("u1", "DOGE"), EntryType: domain.EntryDeposit, Amount: 1, ReferenceID: "r"},
		}, domain.ErrUnknownAsset},
		{"mixed references", []*domain.LedgerEntry{
			{Account: custody("BTC"), EntryType: domain.EntryDeposit, Amount: -1, ReferenceID: "r1"},
			{Account: userMain("u1", "BTC"), EntryType: domain.EntryDeposit, Amount: 1, ReferenceID: "r2"},
		}, domain.ErrInvalidEntry},
		{"duplicate line", []*domain.LedgerEntry{
			{Account: custody("BTC"), EntryType: domain.EntryDeposit, Amount: -2, ReferenceID: "r"},
			{Account: userMain("u1", "BTC"), EntryType: domain.EntryDeposit, Amount: 1, ReferenceID: "r"},
			{Account: userMain("u1", "BTC"), EntryType: domain.EntryDeposit, Amount: 1, ReferenceID: "r"},
		}, domain.ErrInvalidEntry},
		{"user holds system type", []*domain.LedgerEntry{
			{Account: domain.UserAccount("u1", "BTC", domain.AccountCustody), EntryType: domain.EntryDeposit, Amount: -1, ReferenceID: "r"},
			{Account: userMain("u1", "BTC"), EntryType: domain.EntryDeposit, Amount: 1, ReferenceID: "r"},
		}, domain.ErrInvalidEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Record(ctx, tt.entries)
			if !errors.Is(err, tt.want) {
				t.Errorf("Record() error = %v, want %v", err, tt.want)
			}
		})
	}

	entries, _ := store.Query(ctx, domain.HistoryFilter{})
	if len(entries) != 0 {
		t.Errorf("rejected batches wrote %d entries", len(entries))
	}
}

func TestRecord_ReplayIsNoOp(t *testing.T) {
	l, _, _ := newTestLedger(t, nil)
	ctx := context.Background()

	batch := func() []*domain.LedgerEntry {
		return []*domain.LedgerEntry{
			{Account: custody("ETH"), EntryType: domain.EntryDeposit, Amount: -500, ReferenceID: "deposit:ethereum:0xabc:0xdef"},
			{Account: userMain("u1", "ETH"), EntryType: domain.EntryDeposit, Amount: 500, ReferenceID: "deposit:ethereum:0xabc:0xdef"},
		}
	}

	first, err := l.Record(ctx, batch())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	for i := 0; i < 3; i++ {
		again, err := l.Record(ctx, batch())
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if !again.Replayed {
			t.Errorf("replay %d not reported as replayed", i)
		}
		if len(again.Entries) != len(first.Entries) || again.Entries[0].ID != first.Entries[0].ID {
			t.Errorf("replay %d returned different entries", i)
		}
	}

	if got := balance(t, l, userMain("u1", "ETH")); got != 500 {
		t.Errorf("balance after replays = %d, want 500", got)
	}
}

func TestRecord_InsufficientBalance(t *testing.T) {
	l, _, _ := newTestLedger(t, nil)
	ctx := context.Background()

	fund(t, l, "u1", "BTC", 100000000)

	_, err := l.Transfer(ctx, userMain("u1", "BTC"), custody("BTC"), 200000000, domain.EntryWithdrawal, "w1", "")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("Transfer() error = %v, want ErrInsufficientBalance", err)
	}

	var balErr *domain.BalanceError
	if !errors.As(err, &balErr) {
		t.Fatalf("error %T is not a BalanceError", err)
	}
	want := "insufficient balance in main: available 1.00000000 BTC, requested 2.00000000 BTC"
	if balErr.Error() != want {
		t.Errorf("Error() = %q, want %q", balErr.Error(), want)
	}

	if got := balance(t, l, userMain("u1", "BTC")); got != 100000000 {
		t.Errorf("balance changed to %d", got)
	}
}

// TestRecord_ConcurrentNeverNegative applies random concurrent transfers and
// checks that balances stay non-negative and equal the sum of the accepted
// operations.
func TestRecord_ConcurrentNeverNegative(t *testing.T) {
	l, _, _ := newTestLedger(t, nil)
	ctx := context.Background()

	fund(t, l, "u1", "USDT", 10000)

	type result struct {
		main, locked int64
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied result
	)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(g)))
			for i := 0; i < 50; i++ {
				amount := rng.Int63n(900) + 1
				ref := "op-" + string(rune('a'+g)) + "-" + string(rune('A'+i%26)) + string(rune('A'+i/26))

				var err error
				var delta result
				switch rng.Intn(3) {
				case 0:
					_, err = l.Lock(ctx, "u1", "USDT", amount, domain.EntryWithdrawal, ref)
					delta = result{main: -amount, locked: amount}
				case 1:
					_, err = l.Unlock(ctx, "u1", "USDT", amount, domain.EntryWithdrawal, ref)
					delta = result{main: amount, locked: -amount}
				default:
					_, err = l.Transfer(ctx, userMain("u1", "USDT"), custody("USDT"), amount, domain.EntryWithdrawal, ref, "")
					delta = result{main: -amount}
				}
				if err == nil {
					mu.Lock()
					applied.main += delta.main
					applied.locked += delta.locked
					mu.Unlock()
				} else if !errors.Is(err, domain.ErrInsufficientBalance) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	mainBal := balance(t, l, userMain("u1", "USDT"))
	lockedBal := balance(t, l, domain.UserAccount("u1", "USDT", domain.AccountLocked))
	if mainBal < 0 || lockedBal < 0 {
		t.Fatalf("negative balance: main=%d locked=%d", mainBal, lockedBal)
	}
	if mainBal != 10000+applied.main || lockedBal != applied.locked {
		t.Errorf("balances main=%d locked=%d, want %d and %d", mainBal, lockedBal, 10000+applied.main, applied.locked)
	}
}

func TestBalancesAndHistory(t *testing.T) {
	l, _, _ := newTestLedger(t, nil)
	ctx := context.Background()

	fund(t, l, "u1", "BTC", 150000000)
	fund(t, l, "u1", "USDT", 5000000)

	if _, err := l.Stake(ctx, "u1", "BTC", 50000000, "stake-1"); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if _, err := l.Lock(ctx, "u1", "USDT", 1000000, domain.EntrySwap, "lock-1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := l.Unstake(ctx, "u1", "BTC", 10000000, "unstake-1"); err != nil {
		t.Fatalf("Unstake: %v", err)
	}

	views, err := l.Balances(ctx, "u1")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if len(views) != 2 || views[0].Asset != "BTC" || views[1].Asset != "USDT" {
		t.Fatalf("Balances() = %+v", views)
	}
	btc := views[0]
	if btc.Available != "1.10000000" || btc.Staking != "0.40000000" || btc.Locked != "0.00000000" {
		t.Errorf("BTC view = %+v", btc)
	}
	if views[1].Available != "4.000000" || views[1].Locked != "1.000000" {
		t.Errorf("USDT view = %+v", views[1])
	}

	history, err := l.History(ctx, "u1", domain.HistoryFilter{Asset: "BTC", Limit: 2})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].ReferenceID != "unstake-1" {
		t.Errorf("History() newest first, got %d entries starting %q", len(history), history[0].ReferenceID)
	}

	stakes, err := l.History(ctx, "u1", domain.HistoryFilter{EntryType: domain.EntryStake})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(stakes) != 2 {
		t.Errorf("stake entries = %d, want 2", len(stakes))
	}

	if _, err := l.History(ctx, "", domain.HistoryFilter{}); err == nil {
		t.Error("History without user accepted")
	}
}

type failingSink struct {
	mu      sync.Mutex
	err     error
	batches int
}

func (s *failingSink) Append(_ context.Context, _ []*domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	return s.err
}

func (s *failingSink) FeeTotals(context.Context, int64, int64) ([]domain.FeeTotal, error) {
	return nil, nil
}

func TestRecord_ForwardsToSink(t *testing.T) {
	sink := &failingSink{}
	l, _, logs := newTestLedger(t, sink)
	ctx := context.Background()

	fund(t, l, "u1", "BTC", 10)
	fund(t, l, "u1", "BTC", 10) // replay, not forwarded
	if sink.batches != 1 {
		t.Errorf("sink batches = %d, want 1", sink.batches)
	}

	sink.err = errors.New("clickhouse down")
	if _, err := l.Reward(ctx, "u1", "BTC", 5, "bonus", ""); err != nil {
		t.Fatalf("sink failure surfaced: %v", err)
	}
	if !bytes.Contains(logs.Bytes(), []byte("clickhouse down")) {
		t.Errorf("sink failure not logged: %q", logs.String())
	}
}
