package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// DepositStore implements storage.DepositStore using PostgreSQL.
type DepositStore struct {
	pool *Pool
}

// NewDepositStore creates a new DepositStore.
func NewDepositStore(pool *Pool) *DepositStore {
	return &DepositStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DepositStore = (*DepositStore)(nil)

const depositColumns = `
	id, network, tx_hash, from_address, to_address, user_id, asset, amount,
	confirmations, block_number, block_timestamp, status, fee_charged, amount_credited,
	detected_at, confirmed_at, credited_at, failed_at, failure_reason, reorg_flagged
`

// Upsert inserts an observation or merges it into the existing record.
// Confirmations keep the maximum and terminal statuses are never left.
func (s *DepositStore) Upsert(ctx context.Context, d *domain.DepositObservation, minConfirmations int64) (*domain.DepositObservation, error) {
	if d == nil || d.ID == "" || d.TxHash == "" || d.ToAddress == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO deposits (
			id, network, tx_hash, from_address, to_address, user_id, asset, amount,
			confirmations, block_number, block_timestamp, status, detected_at, confirmed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			CASE WHEN $9 >= $13 THEN 'confirmed' WHEN $9 > 0 THEN 'confirming' ELSE 'observed' END,
			$12,
			CASE WHEN $9 >= $13 THEN $12 ELSE 0 END
		)
		ON CONFLICT (network, tx_hash, to_address) DO UPDATE SET
			confirmations = CASE
				WHEN deposits.status IN ('credited', 'failed') THEN deposits.confirmations
				ELSE GREATEST(deposits.confirmations, EXCLUDED.confirmations)
			END,
			block_number = CASE
				WHEN deposits.status IN ('credited', 'failed') THEN deposits.block_number
				ELSE GREATEST(deposits.block_number, EXCLUDED.block_number)
			END,
			block_timestamp = CASE
				WHEN deposits.status IN ('credited', 'failed') OR EXCLUDED.block_number <= deposits.block_number
				THEN deposits.block_timestamp
				ELSE EXCLUDED.block_timestamp
			END,
			status = CASE
				WHEN deposits.status IN ('credited', 'failed') THEN deposits.status
				WHEN GREATEST(deposits.confirmations, EXCLUDED.confirmations) >= $13 THEN 'confirmed'
				WHEN GREATEST(deposits.confirmations, EXCLUDED.confirmations) > 0 THEN 'confirming'
				ELSE 'observed'
			END,
			confirmed_at = CASE
				WHEN deposits.status IN ('observed', 'confirming')
					AND GREATEST(deposits.confirmations, EXCLUDED.confirmations) >= $13
				THEN EXCLUDED.detected_at
				ELSE deposits.confirmed_at
			END
		RETURNING ` + depositColumns

	row := s.pool.QueryRow(ctx, query,
		d.ID,
		string(d.Network),
		d.TxHash,
		d.FromAddress,
		d.ToAddress,
		d.UserID,
		string(d.Asset),
		d.Amount,
		d.Confirmations,
		d.BlockNumber,
		d.BlockTimestamp,
		d.DetectedAt,
		minConfirmations,
	)
	stored, err := scanDeposit(row)
	if err != nil {
		return nil, fmt.Errorf("upsert deposit: %w", err)
	}
	return stored, nil
}

// GetByID retrieves a deposit by ID. Returns ErrNotFound if not exists.
func (s *DepositStore) GetByID(ctx context.Context, id string) (*domain.DepositObservation, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE id = $1`

	d, err := scanDeposit(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get deposit by id: %w", err)
	}
	return d, nil
}

// GetByKey retrieves a deposit by its natural key. Returns ErrNotFound if not exists.
func (s *DepositStore) GetByKey(ctx context.Context, network domain.NetworkCode, txHash, toAddress string) (*domain.DepositObservation, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE network = $1 AND tx_hash = $2 AND to_address = $3`

	d, err := scanDeposit(s.pool.QueryRow(ctx, query, string(network), txHash, toAddress))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get deposit by key: %w", err)
	}
	return d, nil
}

// MarkCredited moves confirmed → credited.
func (s *DepositStore) MarkCredited(ctx context.Context, id string, credit domain.DepositCredit) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposits
		SET status = 'credited', fee_charged = $2, amount_credited = $3, credited_at = $4
		WHERE id = $1 AND status = 'confirmed'
	`, id, credit.FeeCharged, credit.AmountCredited, credit.CreditedAt)
	if err != nil {
		return fmt.Errorf("mark deposit credited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

// MarkFailed moves a non-terminal deposit to failed.
func (s *DepositStore) MarkFailed(ctx context.Context, id, reason string, at int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposits
		SET status = 'failed', failure_reason = $2, failed_at = $3
		WHERE id = $1 AND status NOT IN ('credited', 'failed')
	`, id, reason, at)
	if err != nil {
		return fmt.Errorf("mark deposit failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

// FlagReorg marks a credited deposit as invalidated by a reorg.
func (s *DepositStore) FlagReorg(ctx context.Context, id, reason string, at int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposits
		SET reorg_flagged = TRUE, failure_reason = $2, failed_at = $3
		WHERE id = $1 AND status = 'credited'
	`, id, reason, at)
	if err != nil {
		return fmt.Errorf("flag deposit reorg: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

// ListByUser retrieves deposits of a user, newest first.
func (s *DepositStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositObservation, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits
		WHERE user_id = $1
		ORDER BY detected_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	return s.list(ctx, query, userID, limitOrAll(limit), offset)
}

// ListByStatus retrieves deposits in status, oldest first.
func (s *DepositStore) ListByStatus(ctx context.Context, status domain.DepositStatus, limit int) ([]*domain.DepositObservation, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits
		WHERE status = $1
		ORDER BY detected_at ASC, id ASC
		LIMIT $2`

	return s.list(ctx, query, string(status), limitOrAll(limit))
}

func (s *DepositStore) list(ctx context.Context, query string, args ...any) ([]*domain.DepositObservation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	defer rows.Close()

	var result []*domain.DepositObservation
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deposits: %w", err)
	}
	return result, nil
}

func (s *DepositStore) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deposits WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check deposit exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

// scanDeposit scans a single row into a DepositObservation.
func scanDeposit(row pgx.Row) (*domain.DepositObservation, error) {
	var (
		d                      domain.DepositObservation
		network, asset, status string
	)
	err := row.Scan(
		&d.ID,
		&network,
		&d.TxHash,
		&d.FromAddress,
		&d.ToAddress,
		&d.UserID,
		&asset,
		&d.Amount,
		&d.Confirmations,
		&d.BlockNumber,
		&d.BlockTimestamp,
		&status,
		&d.FeeCharged,
		&d.AmountCredited,
		&d.DetectedAt,
		&d.ConfirmedAt,
		&d.CreditedAt,
		&d.FailedAt,
		&d.FailureReason,
		&d.ReorgFlagged,
	)
	if err != nil {
		return nil, err
	}
	d.Network = domain.NetworkCode(network)
	d.Asset = domain.AssetCode(asset)
	d.Status = domain.DepositStatus(status)
	return &d, nil
}

// limitOrAll maps a non-positive limit to no limit.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
