package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// BridgeStore implements storage.BridgeStore using PostgreSQL.
type BridgeStore struct {
	pool *Pool
}

// NewBridgeStore creates a new BridgeStore.
func NewBridgeStore(pool *Pool) *BridgeStore {
	return &BridgeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BridgeStore = (*BridgeStore)(nil)

const bridgeColumns = `
	id, user_id, asset, amount, fee_amount, net_amount, from_chain, to_chain,
	destination_address, reference_id, dest_tx_hash, confirmations, status,
	failure_reason, created_at, updated_at, settled_at
`

// Insert adds a new transfer. Returns ErrDuplicateKey if id exists.
func (s *BridgeStore) Insert(ctx context.Context, b *domain.BridgeTransfer) error {
	query := `
		INSERT INTO bridge_transfers (` + bridgeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := s.pool.Exec(ctx, query,
		b.ID,
		b.UserID,
		string(b.Asset),
		b.Amount,
		b.FeeAmount,
		b.NetAmount,
		string(b.FromChain),
		string(b.ToChain),
		b.DestinationAddress,
		b.ReferenceID,
		b.DestTxHash,
		b.Confirmations,
		string(b.Status),
		b.FailureReason,
		b.CreatedAt,
		b.UpdatedAt,
		b.SettledAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert bridge transfer: %w", err)
	}
	return nil
}

// GetByID retrieves a transfer by ID. Returns ErrNotFound if not exists.
func (s *BridgeStore) GetByID(ctx context.Context, id string) (*domain.BridgeTransfer, error) {
	query := `SELECT ` + bridgeColumns + ` FROM bridge_transfers WHERE id = $1`

	b, err := scanBridge(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get bridge transfer by id: %w", err)
	}
	return b, nil
}

// ListByUser retrieves transfers of a user, newest first.
func (s *BridgeStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.BridgeTransfer, error) {
	query := `SELECT ` + bridgeColumns + ` FROM bridge_transfers
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, userID, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list bridge transfers: %w", err)
	}
	defer rows.Close()

	var result []*domain.BridgeTransfer
	for rows.Next() {
		b, err := scanBridge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bridge transfer: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bridge transfers: %w", err)
	}
	return result, nil
}

// Observe merges a destination-chain observation.
func (s *BridgeStore) Observe(ctx context.Context, id, destTxHash string, confirmations, minConfirmations, at int64) (*domain.BridgeTransfer, error) {
	query := `
		UPDATE bridge_transfers SET
			dest_tx_hash = CASE
				WHEN status IN ('credited', 'failed') OR $2 = '' THEN dest_tx_hash
				ELSE $2
			END,
			confirmations = CASE
				WHEN status IN ('credited', 'failed') THEN confirmations
				ELSE GREATEST(confirmations, $3)
			END,
			status = CASE
				WHEN status IN ('credited', 'failed') THEN status
				WHEN GREATEST(confirmations, $3) >= $4 THEN 'confirmed'
				WHEN GREATEST(confirmations, $3) > 0 THEN 'confirming'
				ELSE 'observed'
			END,
			updated_at = CASE WHEN status IN ('credited', 'failed') THEN updated_at ELSE $5 END
		WHERE id = $1
		RETURNING ` + bridgeColumns

	b, err := scanBridge(s.pool.QueryRow(ctx, query, id, destTxHash, confirmations, minConfirmations, at))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("observe bridge transfer: %w", err)
	}
	return b, nil
}

// Transition moves a transfer from → to.
func (s *BridgeStore) Transition(ctx context.Context, id string, from, to domain.DepositStatus, reason string, at int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_transfers
		SET status = $3,
			updated_at = $5,
			settled_at = CASE WHEN $3 = 'credited' THEN $5 ELSE settled_at END,
			failure_reason = CASE WHEN $3 = 'failed' THEN $4 ELSE failure_reason END
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), reason, at)
	if err != nil {
		return fmt.Errorf("transition bridge transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bridge_transfers WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check bridge transfer exists: %w", err)
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// scanBridge scans a single row into a BridgeTransfer.
func scanBridge(row pgx.Row) (*domain.BridgeTransfer, error) {
	var (
		b                             domain.BridgeTransfer
		asset, fromChain, toChain, st string
	)
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&asset,
		&b.Amount,
		&b.FeeAmount,
		&b.NetAmount,
		&fromChain,
		&toChain,
		&b.DestinationAddress,
		&b.ReferenceID,
		&b.DestTxHash,
		&b.Confirmations,
		&st,
		&b.FailureReason,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	b.Asset = domain.AssetCode(asset)
	b.FromChain = domain.NetworkCode(fromChain)
	b.ToChain = domain.NetworkCode(toChain)
	b.Status = domain.DepositStatus(st)
	return &b, nil
}
