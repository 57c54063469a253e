// Package watcher consumes chain watcher feeds and hands each message to
// the deposit reconciler. A message is acknowledged only after the
// reconciler accepted it or rejected it for good.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/reconciler"
	"custody-ledger/internal/storage"
)

// Message types on the wire. An empty type is an observation.
const (
	TypeObservation = "observation"
	TypeInvalidate  = "invalidate"
)

// Handler applies watcher messages. *reconciler.Reconciler implements it.
type Handler interface {
	Report(ctx context.Context, obs reconciler.Observation) (*domain.DepositObservation, error)
	Invalidate(ctx context.Context, inv reconciler.Invalidation) (*domain.ReversalProposal, error)
}

var _ Handler = (*reconciler.Reconciler)(nil)

// Message is one watcher report. Observation fields are flattened into
// the envelope; Reason is only used by invalidations.
type Message struct {
	Type string `json:"type,omitempty"`
	reconciler.Observation
	Reason string `json:"reason,omitempty"`
}

// Invalidation returns the invalidation carried by an invalidate message.
func (m *Message) Invalidation() reconciler.Invalidation {
	return reconciler.Invalidation{
		Network:   m.Network,
		TxHash:    m.TxHash,
		ToAddress: m.ToAddress,
		Reason:    m.Reason,
	}
}

// Decode parses a watcher message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode watcher message: %w", err)
	}
	switch m.Type {
	case "", TypeObservation:
		m.Type = TypeObservation
	case TypeInvalidate:
	default:
		return nil, fmt.Errorf("decode watcher message: unknown type %q", m.Type)
	}
	if m.Network == "" || m.TxHash == "" || m.ToAddress == "" {
		return nil, fmt.Errorf("decode watcher message: network, tx_hash and to_address are required")
	}
	return &m, nil
}

// Apply hands m to h.
func Apply(ctx context.Context, h Handler, m *Message) error {
	if m.Type == TypeInvalidate {
		_, err := h.Invalidate(ctx, m.Invalidation())
		return err
	}
	_, err := h.Report(ctx, m.Observation)
	return err
}

// Accepted reports whether err still counts as a processed message.
// A reorg after credit is accepted: the reversal proposal was raised.
func Accepted(err error) bool {
	return err == nil || errors.Is(err, domain.ErrReorgInvalidation)
}

// Permanent reports whether retrying the message can never succeed.
func Permanent(err error) bool {
	switch {
	case errors.Is(err, domain.ErrUnknownAsset),
		errors.Is(err, domain.ErrUnknownNetwork),
		errors.Is(err, domain.ErrUnknownDepositAddress),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidEntry),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidPolicy),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrInvalidInput):
		return true
	}
	return false
}

// Backoff configures retries of transient failures.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff returns the retry schedule used by both feeds.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}
}

func (b Backoff) next(d time.Duration) time.Duration {
	d *= 2
	if d > b.Max {
		d = b.Max
	}
	return d
}

// process decodes and applies one raw message, retrying transient
// failures until it is accepted, permanently rejected or ctx ends.
// A nil return means the message may be acknowledged.
func process(ctx context.Context, h Handler, data []byte, transport string, b Backoff, logger *log.Logger) error {
	m, err := Decode(data)
	if err != nil {
		observability.RecordWatcherMessage(transport, "malformed")
		logger.Printf("dropping malformed message: %v", err)
		return nil
	}

	delay := b.Initial
	for {
		err := Apply(ctx, h, m)
		switch {
		case Accepted(err):
			observability.RecordWatcherMessage(transport, "accepted")
			return nil
		case Permanent(err):
			observability.RecordWatcherMessage(transport, "rejected")
			logger.Printf("rejected %s %s/%s: %v", m.Type, m.Network, m.TxHash, err)
			return nil
		}

		observability.RecordWatcherMessage(transport, "retry")
		logger.Printf("retrying %s %s/%s in %v: %v", m.Type, m.Network, m.TxHash, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = b.next(delay)
	}
}
