package postgres

import (
	"context"
	"fmt"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// DepositAddressStore implements storage.DepositAddressStore using PostgreSQL.
type DepositAddressStore struct {
	pool *Pool
}

// NewDepositAddressStore creates a new DepositAddressStore.
func NewDepositAddressStore(pool *Pool) *DepositAddressStore {
	return &DepositAddressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DepositAddressStore = (*DepositAddressStore)(nil)

// Insert registers an address. Returns ErrDuplicateKey if (network, address) exists.
func (s *DepositAddressStore) Insert(ctx context.Context, a *domain.DepositAddress) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deposit_addresses (network, address, user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, string(a.Network), a.Address, a.UserID, a.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert deposit address: %w", err)
	}
	return nil
}

// Get retrieves the owner of an address. Returns ErrNotFound if not exists.
func (s *DepositAddressStore) Get(ctx context.Context, network domain.NetworkCode, address string) (*domain.DepositAddress, error) {
	var a domain.DepositAddress
	var n string
	err := s.pool.QueryRow(ctx, `
		SELECT network, address, user_id, created_at
		FROM deposit_addresses
		WHERE network = $1 AND address = $2
	`, string(network), address).Scan(&n, &a.Address, &a.UserID, &a.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get deposit address: %w", err)
	}
	a.Network = domain.NetworkCode(n)
	return &a, nil
}

// ListByUser retrieves all addresses of a user, ordered by network.
func (s *DepositAddressStore) ListByUser(ctx context.Context, userID string) ([]*domain.DepositAddress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT network, address, user_id, created_at
		FROM deposit_addresses
		WHERE user_id = $1
		ORDER BY network ASC, address ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list deposit addresses: %w", err)
	}
	defer rows.Close()

	var result []*domain.DepositAddress
	for rows.Next() {
		var a domain.DepositAddress
		var n string
		if err := rows.Scan(&n, &a.Address, &a.UserID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deposit address: %w", err)
		}
		a.Network = domain.NetworkCode(n)
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deposit addresses: %w", err)
	}
	return result, nil
}
