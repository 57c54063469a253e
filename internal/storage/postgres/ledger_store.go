package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// Balances are serialized with row locks taken in sorted key order.
type LedgerStore struct {
	pool   *Pool
	floors domain.BalanceFloors
}

// NewLedgerStore creates a new LedgerStore enforcing floors.
func NewLedgerStore(pool *Pool, floors domain.BalanceFloors) *LedgerStore {
	return &LedgerStore{pool: pool, floors: floors}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// GetBalance returns the account, or a zero account if never touched.
func (s *LedgerStore) GetBalance(ctx context.Context, key domain.AccountKey) (*domain.Account, error) {
	query := `
		SELECT user_id, asset, account_type, bucket, balance, version, created_at, updated_at
		FROM accounts
		WHERE user_id = $1 AND asset = $2 AND account_type = $3 AND bucket = $4
	`

	row := s.pool.QueryRow(ctx, query, key.UserID, string(key.Asset), string(key.Type), key.Bucket)
	acc, err := scanAccount(row)
	if err != nil {
		if isNotFoundError(err) {
			return &domain.Account{Key: key}, nil
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return acc, nil
}

// ApplyDelta atomically adds delta to the balance of key.
func (s *LedgerStore) ApplyDelta(ctx context.Context, key domain.AccountKey, delta int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := nowMs()
	balance, err := lockAccount(ctx, tx, key, now)
	if err != nil {
		return 0, err
	}
	next := balance + delta
	if !s.floors.Allows(key, next) {
		return balance, balanceError(key, balance, delta)
	}
	if err := updateAccount(ctx, tx, key, next, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return next, nil
}

// ListByUser retrieves all accounts of a user, ordered by key.
func (s *LedgerStore) ListByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	query := `
		SELECT user_id, asset, account_type, bucket, balance, version, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY asset ASC, account_type ASC, bucket ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var result []*domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return result, nil
}

// Commit appends entries and moves balances in one transaction.
func (s *LedgerStore) Commit(ctx context.Context, entries []*domain.LedgerEntry) (err error) {
	if len(entries) == 0 {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("ledger_commit", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock each touched account once, in sorted key order.
	keys := make(map[string]domain.AccountKey, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		keys[e.Account.String()] = e.Account
		ids = append(ids, e.ID)
	}
	order := make([]string, 0, len(keys))
	for k := range keys {
		order = append(order, k)
	}
	sort.Strings(order)

	now := nowMs()
	balances := make(map[string]int64, len(keys))
	for _, k := range order {
		b, err := lockAccount(ctx, tx, keys[k], now)
		if err != nil {
			return err
		}
		balances[k] = b
	}

	// Replays hold the same row locks, so this check cannot race.
	var existing int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE entry_id = ANY($1)`, ids,
	).Scan(&existing); err != nil {
		return fmt.Errorf("check existing entries: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	next := make(map[string]int64, len(keys))
	for k, b := range balances {
		next[k] = b
	}
	for _, e := range entries {
		k := e.Account.String()
		next[k] += e.Amount
		e.BalanceAfter = next[k]
	}
	for _, k := range order {
		if !s.floors.Allows(keys[k], next[k]) {
			return balanceError(keys[k], balances[k], next[k]-balances[k])
		}
	}
	for _, k := range order {
		if next[k] == balances[k] {
			continue
		}
		if err := updateAccount(ctx, tx, keys[k], next[k], now); err != nil {
			return err
		}
	}

	insert := `
		INSERT INTO ledger_entries (
			entry_id, user_id, asset, account_type, bucket, entry_type,
			amount, balance_after, reference_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`
	for _, e := range entries {
		err := tx.QueryRow(ctx, insert,
			e.ID,
			e.Account.UserID,
			string(e.Account.Asset),
			string(e.Account.Type),
			e.Account.Bucket,
			string(e.EntryType),
			e.Amount,
			e.BalanceAfter,
			e.ReferenceID,
			e.Description,
			e.CreatedAt,
		).Scan(&e.Seq)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert ledger entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetByReference retrieves all entries of a reference, ordered by seq ASC.
func (s *LedgerStore) GetByReference(ctx context.Context, referenceID string) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT seq, entry_id, user_id, asset, account_type, bucket, entry_type,
			amount, balance_after, reference_id, description, created_at
		FROM ledger_entries
		WHERE reference_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, referenceID)
	if err != nil {
		return nil, fmt.Errorf("get entries by reference: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Query retrieves entries matching filter, newest first.
func (s *LedgerStore) Query(ctx context.Context, filter domain.HistoryFilter) ([]*domain.LedgerEntry, error) {
	filter = filter.Normalize()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Asset != "" {
		add("asset = $%d", string(filter.Asset))
	}
	if filter.EntryType != "" {
		add("entry_type = $%d", string(filter.EntryType))
	}
	if filter.ReferenceID != "" {
		add("reference_id = $%d", filter.ReferenceID)
	}
	if filter.FromMs > 0 {
		add("created_at >= $%d", filter.FromMs)
	}
	if filter.ToMs > 0 {
		add("created_at <= $%d", filter.ToMs)
	}

	query := `
		SELECT seq, entry_id, user_id, asset, account_type, bucket, entry_type,
			amount, balance_after, reference_id, description, created_at
		FROM ledger_entries
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// lockAccount creates the account row if missing and locks it.
func lockAccount(ctx context.Context, tx pgx.Tx, key domain.AccountKey, now int64) (int64, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (user_id, asset, account_type, bucket, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $5)
		ON CONFLICT (user_id, asset, account_type, bucket) DO NOTHING
	`, key.UserID, string(key.Asset), string(key.Type), key.Bucket, now)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		SELECT balance FROM accounts
		WHERE user_id = $1 AND asset = $2 AND account_type = $3 AND bucket = $4
		FOR UPDATE
	`, key.UserID, string(key.Asset), string(key.Type), key.Bucket).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("lock account: %w", err)
	}
	return balance, nil
}

func updateAccount(ctx context.Context, tx pgx.Tx, key domain.AccountKey, balance, now int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $5, version = version + 1, updated_at = $6
		WHERE user_id = $1 AND asset = $2 AND account_type = $3 AND bucket = $4
	`, key.UserID, string(key.Asset), string(key.Type), key.Bucket, balance, now)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func balanceError(key domain.AccountKey, balance, delta int64) error {
	return &domain.BalanceError{
		Account:   key,
		Available: domain.Money{Asset: key.Asset, Units: balance},
		Requested: domain.Money{Asset: key.Asset, Units: -delta},
	}
}

// scanAccount scans a single row into an Account.
func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		acc         domain.Account
		asset, kind string
	)
	err := row.Scan(
		&acc.Key.UserID,
		&asset,
		&kind,
		&acc.Key.Bucket,
		&acc.Balance,
		&acc.Version,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.Key.Asset = domain.AssetCode(asset)
	acc.Key.Type = domain.AccountType(kind)
	return &acc, nil
}

// scanEntries scans ledger entry rows.
func scanEntries(rows pgx.Rows) ([]*domain.LedgerEntry, error) {
	var result []*domain.LedgerEntry
	for rows.Next() {
		var (
			e                      domain.LedgerEntry
			asset, kind, entryType string
		)
		err := rows.Scan(
			&e.Seq,
			&e.ID,
			&e.Account.UserID,
			&asset,
			&kind,
			&e.Account.Bucket,
			&entryType,
			&e.Amount,
			&e.BalanceAfter,
			&e.ReferenceID,
			&e.Description,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Account.Asset = domain.AssetCode(asset)
		e.Account.Type = domain.AccountType(kind)
		e.EntryType = domain.EntryType(entryType)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return result, nil
}
