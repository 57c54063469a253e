package withdrawal

import (
	"context"
	"time"

	"custody-ledger/internal/domain"
)

// enqueue hands an approved request to the dispatcher loop. A full queue
// is fine: the periodic scan picks the request up.
func (s *Service) enqueue(id string) {
	select {
	case s.queue <- id:
	default:
	}
}

// RunDispatcher submits approved requests until ctx is cancelled. Requests
// arrive from Request through the queue; the scan on interval retries
// those left approved by a payout outage.
func (s *Service) RunDispatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			s.dispatchLogged(ctx, id)
		case <-ticker.C:
			s.DispatchApproved(ctx, 100)
		}
	}
}

// DispatchApproved dispatches up to limit approved requests, oldest first,
// and returns how many reached processing.
func (s *Service) DispatchApproved(ctx context.Context, limit int) int {
	approved, err := s.withdrawals.ListByStatus(ctx, domain.WithdrawalApproved, limit)
	if err != nil {
		s.logger.Printf("dispatcher: list approved: %v", err)
		return 0
	}
	n := 0
	for _, w := range approved {
		if ctx.Err() != nil {
			return n
		}
		if s.dispatchLogged(ctx, w.ID) {
			n++
		}
	}
	return n
}

func (s *Service) dispatchLogged(ctx context.Context, id string) bool {
	w, err := s.Dispatch(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Printf("dispatcher: withdrawal %s: %v", id, err)
		}
		return false
	}
	return w.Status == domain.WithdrawalProcessing
}
