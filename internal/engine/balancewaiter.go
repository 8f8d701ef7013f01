package engine

import (
	"context"
	"time"

	"dcafleet/internal/models"
)

// BalanceWaiter periodically revisits bots parked in waiting_for_balance
// and retries their deferred safety order once funds recover. Recovery is
// silent; only the original shortfall notifies.
type BalanceWaiter struct {
	eng      *Engine
	interval time.Duration
}

func NewBalanceWaiter(eng *Engine, interval time.Duration) *BalanceWaiter {
	return &BalanceWaiter{eng: eng, interval: interval}
}

func (bw *BalanceWaiter) Run(ctx context.Context) {
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	bw.eng.log.WithComponent("balance_waiter").Info("balance waiter started")
	for {
		select {
		case <-ctx.Done():
			bw.eng.log.WithComponent("balance_waiter").Info("balance waiter stopped")
			return
		case <-ticker.C:
			for _, r := range bw.eng.activeRunners() {
				if r.status() != models.BotStatusWaitingForBalance {
					continue
				}
				r.retryBalance(ctx)
			}
		}
	}
}
