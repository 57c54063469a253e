package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// WithdrawalStore implements storage.WithdrawalStore using PostgreSQL.
type WithdrawalStore struct {
	pool *Pool
}

// NewWithdrawalStore creates a new WithdrawalStore.
func NewWithdrawalStore(pool *Pool) *WithdrawalStore {
	return &WithdrawalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WithdrawalStore = (*WithdrawalStore)(nil)

const withdrawalColumns = `
	id, user_id, asset, amount, destination_address, network, fee_amount, net_amount,
	usd_value_cents, status, requires_approval, kyc_tier, payout_tx_hash, failure_reason,
	reviewed_by, created_at, updated_at
`

// Insert adds a new request. Returns ErrDuplicateKey if id exists.
func (s *WithdrawalStore) Insert(ctx context.Context, w *domain.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawals (` + withdrawalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := s.pool.Exec(ctx, query,
		w.ID,
		w.UserID,
		string(w.Asset),
		w.Amount,
		w.DestinationAddress,
		string(w.NetworkCode),
		w.FeeAmount,
		w.NetAmount,
		int64(w.UsdValueCents),
		string(w.Status),
		w.RequiresApproval,
		w.KYCTier,
		w.PayoutTxHash,
		w.FailureReason,
		w.ReviewedBy,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

// GetByID retrieves a request by ID. Returns ErrNotFound if not exists.
func (s *WithdrawalStore) GetByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`

	w, err := scanWithdrawal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get withdrawal by id: %w", err)
	}
	return w, nil
}

// ListByUser retrieves requests of a user, newest first.
func (s *WithdrawalStore) ListByUser(ctx context.Context, userID string, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	return s.list(ctx, query, userID, string(status), limitOrAll(limit), offset)
}

// ListByStatus retrieves requests in status, oldest first.
func (s *WithdrawalStore) ListByStatus(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`

	return s.list(ctx, query, string(status), limitOrAll(limit))
}

// SumUsdSince sums usd_value_cents of matching requests created at or after sinceMs.
func (s *WithdrawalStore) SumUsdSince(ctx context.Context, userID string, sinceMs int64, statuses []domain.WithdrawalStatus) (domain.UsdCents, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	var sum int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(usd_value_cents), 0)::BIGINT
		FROM withdrawals
		WHERE user_id = $1 AND created_at >= $2 AND status = ANY($3)
	`, userID, sinceMs, names).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum withdrawal usage: %w", err)
	}
	return domain.UsdCents(sum), nil
}

// Transition moves a request from → to.
func (s *WithdrawalStore) Transition(ctx context.Context, id string, from, to domain.WithdrawalStatus, update domain.WithdrawalUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE withdrawals
		SET status = $3,
			payout_tx_hash = CASE WHEN $4 = '' THEN payout_tx_hash ELSE $4 END,
			failure_reason = CASE WHEN $5 = '' THEN failure_reason ELSE $5 END,
			reviewed_by = CASE WHEN $6 = '' THEN reviewed_by ELSE $6 END,
			updated_at = $7
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), update.PayoutTxHash, update.FailureReason, update.ReviewedBy, update.UpdatedAt)
	if err != nil {
		return fmt.Errorf("transition withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM withdrawals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check withdrawal exists: %w", err)
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

func (s *WithdrawalStore) list(ctx context.Context, query string, args ...any) ([]*domain.WithdrawalRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	var result []*domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawals: %w", err)
	}
	return result, nil
}

// scanWithdrawal scans a single row into a WithdrawalRequest.
func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var (
		w                      domain.WithdrawalRequest
		asset, network, status string
		usd                    int64
	)
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&asset,
		&w.Amount,
		&w.DestinationAddress,
		&network,
		&w.FeeAmount,
		&w.NetAmount,
		&usd,
		&status,
		&w.RequiresApproval,
		&w.KYCTier,
		&w.PayoutTxHash,
		&w.FailureReason,
		&w.ReviewedBy,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Asset = domain.AssetCode(asset)
	w.NetworkCode = domain.NetworkCode(network)
	w.Status = domain.WithdrawalStatus(status)
	w.UsdValueCents = domain.UsdCents(usd)
	return &w, nil
}
