package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// ReversalStore implements storage.ReversalStore using PostgreSQL.
type ReversalStore struct {
	pool *Pool
}

// NewReversalStore creates a new ReversalStore.
func NewReversalStore(pool *Pool) *ReversalStore {
	return &ReversalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReversalStore = (*ReversalStore)(nil)

const reversalColumns = `
	id, deposit_id, reference_id, user_id, asset, amount, entries, status,
	reason, created_at, decided_at, decided_by
`

// proposedEntryRow is the JSONB shape of a proposed entry. The account key
// is stored explicitly because domain.ProposedEntry hides it from API output.
type proposedEntryRow struct {
	UserID    string `json:"user_id"`
	Asset     string `json:"asset"`
	Type      string `json:"account_type"`
	Bucket    string `json:"bucket"`
	EntryType string `json:"entry_type"`
	Amount    int64  `json:"amount"`
}

// Insert adds a proposal. Returns ErrDuplicateKey if the deposit already has one.
func (s *ReversalStore) Insert(ctx context.Context, p *domain.ReversalProposal) error {
	rowsJSON := make([]proposedEntryRow, len(p.Entries))
	for i, e := range p.Entries {
		rowsJSON[i] = proposedEntryRow{
			UserID:    e.Account.UserID,
			Asset:     string(e.Account.Asset),
			Type:      string(e.Account.Type),
			Bucket:    e.Account.Bucket,
			EntryType: string(e.EntryType),
			Amount:    e.Amount,
		}
	}
	entries, err := json.Marshal(rowsJSON)
	if err != nil {
		return fmt.Errorf("marshal proposed entries: %w", err)
	}

	query := `
		INSERT INTO reversal_proposals (` + reversalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.pool.Exec(ctx, query,
		p.ID,
		p.DepositID,
		p.ReferenceID,
		p.UserID,
		string(p.Asset),
		p.Amount,
		entries,
		string(p.Status),
		p.Reason,
		p.CreatedAt,
		p.DecidedAt,
		p.DecidedBy,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert reversal proposal: %w", err)
	}
	return nil
}

// GetByID retrieves a proposal by ID. Returns ErrNotFound if not exists.
func (s *ReversalStore) GetByID(ctx context.Context, id string) (*domain.ReversalProposal, error) {
	return s.getOne(ctx, `SELECT `+reversalColumns+` FROM reversal_proposals WHERE id = $1`, id)
}

// GetByDeposit retrieves the proposal raised for a deposit.
func (s *ReversalStore) GetByDeposit(ctx context.Context, depositID string) (*domain.ReversalProposal, error) {
	return s.getOne(ctx, `SELECT `+reversalColumns+` FROM reversal_proposals WHERE deposit_id = $1`, depositID)
}

func (s *ReversalStore) getOne(ctx context.Context, query string, arg string) (*domain.ReversalProposal, error) {
	p, err := scanReversal(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get reversal proposal: %w", err)
	}
	return p, nil
}

// ListByStatus retrieves proposals in status, oldest first.
func (s *ReversalStore) ListByStatus(ctx context.Context, status domain.ReversalStatus, limit, offset int) ([]*domain.ReversalProposal, error) {
	query := `SELECT ` + reversalColumns + ` FROM reversal_proposals
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, string(status), limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list reversal proposals: %w", err)
	}
	defer rows.Close()

	var result []*domain.ReversalProposal
	for rows.Next() {
		p, err := scanReversal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reversal proposal: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reversal proposals: %w", err)
	}
	return result, nil
}

// Decide moves a pending proposal to status.
func (s *ReversalStore) Decide(ctx context.Context, id string, status domain.ReversalStatus, by string, at int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reversal_proposals
		SET status = $2, decided_by = $3, decided_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, string(status), by, at)
	if err != nil {
		return fmt.Errorf("decide reversal proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return storage.ErrConflict
	}
	return nil
}

// scanReversal scans a single row into a ReversalProposal.
func scanReversal(row pgx.Row) (*domain.ReversalProposal, error) {
	var (
		p             domain.ReversalProposal
		asset, status string
		entries       []byte
	)
	err := row.Scan(
		&p.ID,
		&p.DepositID,
		&p.ReferenceID,
		&p.UserID,
		&asset,
		&p.Amount,
		&entries,
		&status,
		&p.Reason,
		&p.CreatedAt,
		&p.DecidedAt,
		&p.DecidedBy,
	)
	if err != nil {
		return nil, err
	}

	var rowsJSON []proposedEntryRow
	if err := json.Unmarshal(entries, &rowsJSON); err != nil {
		return nil, fmt.Errorf("unmarshal proposed entries: %w", err)
	}
	p.Entries = make([]domain.ProposedEntry, len(rowsJSON))
	for i, r := range rowsJSON {
		p.Entries[i] = domain.ProposedEntry{
			Account: domain.AccountKey{
				UserID: r.UserID,
				Asset:  domain.AssetCode(r.Asset),
				Type:   domain.AccountType(r.Type),
				Bucket: r.Bucket,
			},
			EntryType: domain.EntryType(r.EntryType),
			Amount:    r.Amount,
		}
	}
	p.Asset = domain.AssetCode(asset)
	p.Status = domain.ReversalStatus(status)
	return &p, nil
}
