package worker

import (
	"context"
	"log/slog"
	"time"

	"counterserv/internal/service"
)

// Sweeper expires card orders that never received a payment outcome from
// either channel. It only touches pending rows, so it can never race a capture
// into an inconsistent state: the ledger write is the same conditional update
// the reconciler uses.
type Sweeper struct {
	ledger   service.Ledger
	interval time.Duration
	maxAge   time.Duration
}

func NewSweeper(ledger service.Ledger) *Sweeper {
	return &Sweeper{
		ledger:   ledger,
		interval: time.Minute,
		maxAge:   30 * time.Minute,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("starting pending-order sweeper", "interval", s.interval, "max_age", s.maxAge)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pending-order sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.ledger.ExpireStalePending(ctx, time.Now().Add(-s.maxAge))
			if err != nil {
				slog.Error("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired stale pending orders", "count", n)
			}
		}
	}
}
