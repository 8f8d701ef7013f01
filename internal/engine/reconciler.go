package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"dcafleet/internal/exchange"
	"dcafleet/internal/metrics"
	"dcafleet/internal/models"
	"dcafleet/internal/notify"
	"dcafleet/internal/planner"
)

// Reconciler polls the exchange for the fate of resting safety orders.
// Resting limit orders fill (or vanish) on the exchange's side without any
// tick reaching the strategy, so this loop is the only place those fills
// enter the ledger.
type Reconciler struct {
	eng      *Engine
	interval time.Duration
}

func NewReconciler(eng *Engine, interval time.Duration) *Reconciler {
	return &Reconciler{eng: eng, interval: interval}
}

func (rc *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.eng.log.WithComponent("reconciler").Info("order reconciler started")
	for {
		select {
		case <-ctx.Done():
			rc.eng.log.WithComponent("reconciler").Info("order reconciler stopped")
			return
		case <-ticker.C:
			for _, r := range rc.eng.activeRunners() {
				r.reconcile(ctx)
			}
		}
	}
}

// reconcile resolves each tracked pending order against the exchange.
// Polling errors are logged and retried on the next cycle; a definitive
// "unknown order" drops the order from tracking without counting it as a
// fill.
func (r *runner) reconcile(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.bot.Status {
	case models.BotStatusInPosition, models.BotStatusMonitoring, models.BotStatusWaitingForBalance:
	default:
		return
	}

	deal := r.eng.ledger.ActiveDeal(r.bot.ID)
	if deal == nil || len(deal.PendingSafetyOrders) == 0 {
		return
	}

	cfg := r.bot.Config
	log := r.logEntryLocked()
	filled := 0

	for _, pending := range deal.PendingSafetyOrders {
		state, err := r.eng.client.GetOrderStatus(ctx, cfg.Pair, pending.ID)
		if errors.Is(err, exchange.ErrOrderNotFound) {
			if r.eng.ledger.DropPendingSafetyOrder(r.bot.ID, pending.ID) {
				log.WithField("order_id", pending.ID).Warn("resting order unknown to exchange, dropped from tracking")
			}
			continue
		}
		if err != nil {
			log.WithError(err).WithField("order_id", pending.ID).Warn("order status poll failed")
			continue
		}

		switch state.Status {
		case models.OrderStatusFilled:
			changed, err := r.eng.ledger.SafetyOrderFilled(r.bot.ID, pending.ID, state.FilledPrice, state.FilledQty)
			if err != nil {
				log.WithError(err).WithField("order_id", pending.ID).Error("failed to record fill")
				continue
			}
			if !changed {
				continue
			}
			filled++
			log.WithFields(logrus.Fields{
				"order_id": pending.ID,
				"price":    state.FilledPrice,
				"quantity": state.FilledQty,
			}).Info("resting safety order filled")
			r.eng.notify(r.bot, "Safety order filled on "+cfg.Pair, notify.SeverityInfo)
		case models.OrderStatusCanceled:
			if r.eng.ledger.DropPendingSafetyOrder(r.bot.ID, pending.ID) {
				log.WithField("order_id", pending.ID).Warn("resting order canceled externally, dropped from tracking")
			}
		}
	}

	if filled > 0 {
		r.rollLadderLocked(ctx)
	}
}

// rollLadderLocked replaces consumed rungs with new resting orders priced
// by the regular ladder formula, re-anchored at the current average entry.
// The resting depth stays at immediate_safety_orders until the cap is hit.
func (r *runner) rollLadderLocked(ctx context.Context) {
	cfg := r.bot.Config
	log := r.logEntryLocked()

	deal := r.eng.ledger.ActiveDeal(r.bot.ID)
	if deal == nil {
		return
	}

	for deal.SafetyOrderCount() < cfg.MaxSafetyOrders && len(deal.PendingSafetyOrders) < cfg.ImmediateSafetyOrders {
		n := deal.SafetyOrderCount()
		price := planner.TriggerPrice(deal.AverageEntryPrice, cfg.PriceDeviation, cfg.SafetyOrderStepScale, n)
		notional := planner.OrderNotional(cfg.SafetyOrderSize, cfg.SafetyOrderVolumeScale, n)
		qty := notional / price

		order, err := r.eng.client.PlaceLimitOrder(ctx, cfg.Pair, models.OrderSideBuy, qty, price)
		if err != nil {
			log.WithError(err).Warn("failed to replace safety order, will retry next cycle")
			return
		}
		if err := r.eng.ledger.AddPendingSafetyOrder(r.bot.ID, order, cfg.MaxSafetyOrders); err != nil {
			log.WithError(err).WithField("order_id", order.ID).Error("failed to track replacement order")
			return
		}
		metrics.OrderPlaced(string(models.OrderKindSafety))
		log.WithFields(logrus.Fields{
			"order_id": order.ID,
			"price":    price,
			"quantity": qty,
		}).Info("replacement safety order resting")

		deal = r.eng.ledger.ActiveDeal(r.bot.ID)
		if deal == nil {
			return
		}
	}
}
