package clickhouse

import (
	"context"
	"fmt"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// HistoryStore implements storage.HistorySink on the ledger_history table.
// The table is a ReplacingMergeTree keyed by entry_id, so re-appending the
// same entries is collapsed; reads use FINAL to see the collapsed view.
type HistoryStore struct {
	conn *Conn
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(conn *Conn) *HistoryStore {
	return &HistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.HistorySink = (*HistoryStore)(nil)

// Append adds committed entries in one batch.
func (s *HistoryStore) Append(ctx context.Context, entries []*domain.LedgerEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	defer func() { observe("history_append", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_history (
			entry_id, seq, user_id, asset, account_type, bucket,
			entry_type, amount, balance_after, reference_id, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range entries {
		err = batch.Append(
			e.ID, e.Seq, e.Account.UserID, string(e.Account.Asset),
			string(e.Account.Type), e.Account.Bucket, string(e.EntryType),
			e.Amount, e.BalanceAfter, e.ReferenceID, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// FeeTotals aggregates fee-pool credits per UTC day, asset and pool within
// [fromMs, toMs]. toMs of 0 leaves the range open.
func (s *HistoryStore) FeeTotals(ctx context.Context, fromMs, toMs int64) (_ []domain.FeeTotal, err error) {
	start := time.Now()
	defer func() { observe("history_fee_totals", start, err) }()

	if toMs <= 0 {
		toMs = int64(^uint64(0) >> 1)
	}

	query := `
		SELECT
			toString(toDate(fromUnixTimestamp64Milli(created_at), 'UTC')) AS day,
			asset,
			account_type,
			sum(amount) AS total,
			count() AS entries
		FROM ledger_history FINAL
		WHERE account_type IN (?, ?, ?)
		  AND amount > 0
		  AND created_at >= ? AND created_at <= ?
		GROUP BY day, asset, account_type
		ORDER BY day ASC, asset ASC, account_type ASC
	`

	rows, err := s.conn.Query(ctx, query,
		string(domain.AccountProtocolFees),
		string(domain.AccountCharityFund),
		string(domain.AccountAcademyFund),
		fromMs, toMs,
	)
	if err != nil {
		return nil, fmt.Errorf("query fee totals: %w", err)
	}
	defer rows.Close()

	return scanFeeTotals(rows)
}

// scanFeeTotals scans aggregate rows.
func scanFeeTotals(rows chRows) ([]domain.FeeTotal, error) {
	var result []domain.FeeTotal

	for rows.Next() {
		var (
			t           domain.FeeTotal
			asset, pool string
			entries     uint64
		)
		if err := rows.Scan(&t.Day, &asset, &pool, &t.Amount, &entries); err != nil {
			return nil, fmt.Errorf("scan fee total row: %w", err)
		}
		t.Asset = domain.AssetCode(asset)
		t.Pool = domain.AccountType(pool)
		t.Entries = int64(entries)
		result = append(result, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fee total rows: %w", err)
	}
	return result, nil
}
