// Package ledger records balanced, idempotent batches of double-entry
// journal lines and serves balance and history reads.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/idhash"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/storage"
)

// AssetRegistry resolves asset scales.
type AssetRegistry interface {
	Asset(code domain.AssetCode) (*domain.Asset, error)
}

// Options configures a Ledger.
type Options struct {
	Store  storage.LedgerStore
	Assets AssetRegistry
	Sink   storage.HistorySink // optional
	Logger *log.Logger
	Now    func() time.Time
}

// Ledger is the only writer of balances.
type Ledger struct {
	store  storage.LedgerStore
	assets AssetRegistry
	sink   storage.HistorySink
	logger *log.Logger
	now    func() time.Time
}

// Receipt describes the outcome of Record. Replayed is true when the
// operation had already been recorded; Entries are then the stored ones.
type Receipt struct {
	ReferenceID string
	Replayed    bool
	Entries     []*domain.LedgerEntry
}

// New creates a Ledger.
func New(opts Options) (*Ledger, error) {
	if opts.Store == nil {
		return nil, errors.New("ledger: store is required")
	}
	if opts.Assets == nil {
		return nil, errors.New("ledger: asset registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		store:  opts.Store,
		assets: opts.Assets,
		sink:   opts.Sink,
		logger: logger,
		now:    now,
	}, nil
}

// Record validates and atomically commits one operation. Callers set
// Account, EntryType, Amount, ReferenceID and optionally Description; the
// ledger assigns ids and timestamps.
//
// Replaying an operation whose entries already exist is a successful no-op.
func (l *Ledger) Record(ctx context.Context, entries []*domain.LedgerEntry) (*Receipt, error) {
	start := time.Now()

	batch, err := l.prepare(entries)
	if err != nil {
		observability.RecordLedgerBatch("invalid", 0, time.Since(start).Seconds())
		return nil, err
	}
	ref := batch[0].ReferenceID

	err = l.store.Commit(ctx, batch)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicateKey):
		observability.RecordLedgerBatch("replayed", 0, time.Since(start).Seconds())
		existing, getErr := l.store.GetByReference(ctx, ref)
		if getErr != nil {
			return nil, fmt.Errorf("load replayed entries: %w", getErr)
		}
		return &Receipt{ReferenceID: ref, Replayed: true, Entries: existing}, nil
	case errors.Is(err, domain.ErrInsufficientBalance):
		observability.RecordLedgerBatch("rejected", 0, time.Since(start).Seconds())
		return nil, l.scaleBalanceError(err)
	default:
		observability.RecordLedgerBatch("error", 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("commit %s: %w", ref, err)
	}

	observability.RecordLedgerBatch("recorded", len(batch), time.Since(start).Seconds())
	l.forward(ctx, batch)

	return &Receipt{ReferenceID: ref, Entries: batch}, nil
}

// prepare validates entries and returns sorted copies with ids assigned.
func (l *Ledger) prepare(entries []*domain.LedgerEntry) ([]*domain.LedgerEntry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrInvalidEntry)
	}

	ref := entries[0].ReferenceID
	if ref == "" {
		return nil, fmt.Errorf("%w: missing reference id", domain.ErrInvalidEntry)
	}

	now := l.now().UnixMilli()
	sums := make(map[domain.AssetCode]int64)
	seen := make(map[string]struct{}, len(entries))
	batch := make([]*domain.LedgerEntry, 0, len(entries))

	for _, e := range entries {
		if e == nil {
			return nil, fmt.Errorf("%w: nil entry", domain.ErrInvalidEntry)
		}
		if e.ReferenceID != ref {
			return nil, fmt.Errorf("%w: batch mixes references %q and %q", domain.ErrInvalidEntry, ref, e.ReferenceID)
		}
		if err := e.Account.Validate(); err != nil {
			return nil, fmt.Errorf("%w: account %s", domain.ErrInvalidEntry, e.Account)
		}
		if !e.EntryType.IsValid() {
			return nil, fmt.Errorf("%w: entry type %q", domain.ErrInvalidEntry, e.EntryType)
		}
		if e.Amount == 0 {
			return nil, fmt.Errorf("%w: zero amount for %s", domain.ErrInvalidEntry, e.Account)
		}
		if _, err := l.assets.Asset(e.Account.Asset); err != nil {
			return nil, err
		}

		id := idhash.ComputeEntryID(e.EntryType, ref, e.Account)
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate %s entry for %s", domain.ErrInvalidEntry, e.EntryType, e.Account)
		}
		seen[id] = struct{}{}

		sum, ok := addChecked(sums[e.Account.Asset], e.Amount)
		if !ok {
			return nil, fmt.Errorf("%w: amount overflow", domain.ErrInvalidEntry)
		}
		sums[e.Account.Asset] = sum

		c := *e
		c.ID = id
		c.Seq = 0
		c.BalanceAfter = 0
		c.CreatedAt = now
		batch = append(batch, &c)
	}

	for asset, sum := range sums {
		if sum != 0 {
			return nil, fmt.Errorf("%w: %s sums to %d", domain.ErrUnbalanced, asset, sum)
		}
	}

	// Account key order is the lock order of both store backends.
	sort.SliceStable(batch, func(i, j int) bool {
		ki, kj := batch[i].Account.String(), batch[j].Account.String()
		if ki != kj {
			return ki < kj
		}
		return batch[i].EntryType < batch[j].EntryType
	})

	return batch, nil
}

// scaleBalanceError fills in the asset scale stores do not know about.
func (l *Ledger) scaleBalanceError(err error) error {
	var balErr *domain.BalanceError
	if !errors.As(err, &balErr) {
		return err
	}
	if a, aerr := l.assets.Asset(balErr.Account.Asset); aerr == nil {
		balErr.Available.Scale = a.Scale
		balErr.Requested.Scale = a.Scale
	}
	return balErr
}

func (l *Ledger) forward(ctx context.Context, batch []*domain.LedgerEntry) {
	if l.sink == nil {
		return
	}
	if err := l.sink.Append(ctx, batch); err != nil {
		observability.RecordHistorySinkError()
		l.logger.Printf("history sink: append %s: %v", batch[0].ReferenceID, err)
	}
}

func addChecked(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}
