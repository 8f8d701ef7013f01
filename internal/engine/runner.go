package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dcafleet/internal/exchange"
	"dcafleet/internal/metrics"
	"dcafleet/internal/models"
	"dcafleet/internal/notify"
	"dcafleet/internal/planner"
)

const persistTimeout = 5 * time.Second

// runner drives one bot. Its mutex is the serialization point for every
// path that reads or mutates the bot's deal: tick handling, reconciliation
// and balance retries all take it before touching the ledger, so each
// read-decide-write cycle is atomic per bot.
type runner struct {
	eng *Engine

	mu              sync.Mutex
	bot             models.Bot
	cancel          context.CancelFunc
	lastPrice       float64
	balanceNotified bool
}

func newRunner(eng *Engine, bot models.Bot) *runner {
	return &runner{eng: eng, bot: bot}
}

func (r *runner) status() models.BotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bot.Status
}

func (r *runner) snapshot() models.Bot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bot
}

func (r *runner) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bot.Status.Active() {
		return fmt.Errorf("bot %s is already running (status %s)", r.bot.ID, r.bot.Status)
	}

	r.bot.LastError = ""
	r.balanceNotified = false
	r.setStatusLocked(models.BotStatusStarting)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	metrics.BotStarted()
	go r.run(runCtx)
	return nil
}

// halt moves the bot out of the active set. The open deal and any resting
// exchange orders are deliberately left in place.
func (r *runner) halt(target models.BotStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.bot.Status.Active() {
		// A paused bot holds no subscription but may still be stopped.
		if r.bot.Status == models.BotStatusPaused && target == models.BotStatusStopped {
			r.setStatusLocked(target)
			return nil
		}
		return fmt.Errorf("bot %s is not running (status %s)", r.bot.ID, r.bot.Status)
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.setStatusLocked(target)
	metrics.BotStopped()
	return nil
}

func (r *runner) cancelSubscription() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// run is the bot's task: connectivity gate, cycle open, then the tick loop.
func (r *runner) run(ctx context.Context) {
	log := r.logEntry()

	if err := r.eng.client.Ping(ctx); err != nil {
		r.fail(err, "exchange unreachable")
		return
	}

	r.mu.Lock()
	pair := r.bot.Config.Pair
	deal := r.eng.ledger.ActiveDeal(r.bot.ID)
	if deal == nil {
		if err := r.openCycleLocked(ctx); err != nil {
			r.failLocked(err, "failed to open deal")
			r.mu.Unlock()
			return
		}
	} else {
		log.WithField("deal_id", deal.ID).Info("resuming open deal")
		r.setStatusLocked(models.BotStatusInPosition)
	}
	r.mu.Unlock()

	ticks, err := r.eng.feed.Subscribe(ctx, pair)
	if err != nil {
		r.fail(err, "price subscription failed")
		return
	}
	log.Info("price subscription established")

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			if tick.Err != nil {
				r.fail(tick.Err, "price feed fault")
				return
			}
			r.handleTick(ctx, tick.Price)
		}
	}
}

// openCycleLocked places the base order, opens the deal and pre-places the
// configured number of resting safety orders. Any failure here is fatal
// for the bot.
func (r *runner) openCycleLocked(ctx context.Context) error {
	cfg := r.bot.Config
	log := r.logEntryLocked()

	order, err := r.eng.client.PlaceMarketOrder(ctx, cfg.Pair, models.OrderSideBuy, cfg.BaseOrderSize)
	if err != nil {
		return fmt.Errorf("base order: %w", err)
	}
	order.Kind = models.OrderKindBase
	metrics.OrderPlaced(string(models.OrderKindBase))

	deal, err := r.eng.ledger.CreateDeal(r.bot.ID, order)
	if err != nil {
		return fmt.Errorf("open deal: %w", err)
	}

	log.WithFields(logrus.Fields{
		"deal_id":  deal.ID,
		"price":    order.Price,
		"quantity": order.Quantity,
	}).Info("deal opened")
	r.eng.notify(r.bot, fmt.Sprintf("Deal opened on %s: bought %.8f @ %.8f", cfg.Pair, order.Quantity, order.Price), notify.SeverityInfo)

	rungs := planner.Ladder(order.Price, cfg)
	for n := 0; n < cfg.ImmediateSafetyOrders; n++ {
		rung := rungs[n]
		qty := rung.Notional / rung.Price
		soOrder, err := r.eng.client.PlaceLimitOrder(ctx, cfg.Pair, models.OrderSideBuy, qty, rung.Price)
		if err != nil {
			return fmt.Errorf("safety order %d: %w", n+1, err)
		}
		if err := r.eng.ledger.AddPendingSafetyOrder(r.bot.ID, soOrder, cfg.MaxSafetyOrders); err != nil {
			return fmt.Errorf("track safety order %d: %w", n+1, err)
		}
		metrics.OrderPlaced(string(models.OrderKindSafety))
		log.WithFields(logrus.Fields{
			"order_id": soOrder.ID,
			"price":    rung.Price,
			"quantity": qty,
		}).Info("safety order resting")
	}

	r.setStatusLocked(models.BotStatusInPosition)
	return nil
}

// handleTick is the strategy step: mark the position, then take profit
// before averaging down. Take profit wins when both conditions hold on the
// same tick.
func (r *runner) handleTick(ctx context.Context, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastPrice = price

	switch r.bot.Status {
	case models.BotStatusInPosition, models.BotStatusMonitoring:
	default:
		return
	}

	deal := r.eng.ledger.ActiveDeal(r.bot.ID)
	if deal == nil {
		return
	}

	if _, err := r.eng.ledger.UpdateUnrealizedPnl(r.bot.ID, price); err != nil {
		r.logEntryLocked().WithError(err).Warn("failed to mark position")
	}

	if r.takeProfitReached(deal, price) {
		r.closeDealLocked(ctx, deal)
		return
	}

	r.checkSafetyLocked(ctx, deal, price)
}

func (r *runner) takeProfitReached(deal *models.Deal, price float64) bool {
	if deal.AverageEntryPrice <= 0 {
		return false
	}
	pnlPct := (price - deal.AverageEntryPrice) / deal.AverageEntryPrice * 100
	return pnlPct >= r.bot.Config.TakeProfitPercentage
}

// closeDealLocked sells the whole position at market and completes the
// deal. With restart_cycles set the bot immediately opens the next cycle;
// otherwise it stops.
func (r *runner) closeDealLocked(ctx context.Context, deal *models.Deal) {
	cfg := r.bot.Config
	log := r.logEntryLocked()

	r.setStatusLocked(models.BotStatusClosing)

	order, err := r.eng.client.PlaceMarketOrder(ctx, cfg.Pair, models.OrderSideSell, deal.TotalQuantity)
	if err != nil {
		r.failLocked(err, "take profit order failed")
		return
	}
	metrics.OrderPlaced(string(models.OrderKindTP))

	realized := (order.Price - deal.AverageEntryPrice) * order.Quantity
	if _, err := r.eng.ledger.CloseDeal(r.bot.ID, realized); err != nil {
		r.failLocked(err, "failed to close deal")
		return
	}

	r.bot.TotalPnl += realized
	r.bot.DealsCount++
	r.persistStatsLocked(realized)
	metrics.DealClosed(realized)

	log.WithFields(logrus.Fields{
		"deal_id":    deal.ID,
		"exit_price": order.Price,
		"pnl":        realized,
	}).Info("take profit executed")
	r.eng.notify(r.bot, fmt.Sprintf("Take profit on %s: sold %.8f @ %.8f, PnL %.2f", cfg.Pair, order.Quantity, order.Price, realized), notify.SeverityInfo)

	if !cfg.RestartCycles {
		r.setStatusLocked(models.BotStatusStopped)
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
		metrics.BotStopped()
		return
	}

	r.setStatusLocked(models.BotStatusStarting)
	if err := r.openCycleLocked(ctx); err != nil {
		r.failLocked(err, "failed to open next cycle")
	}
}

// checkSafetyLocked fires the next ladder rung as a market buy once price
// reaches its trigger. Triggers are anchored at the base fill price, so a
// deep drop on one tick can only consume one rung per tick.
func (r *runner) checkSafetyLocked(ctx context.Context, deal *models.Deal, price float64) {
	cfg := r.bot.Config

	n := deal.SafetyOrderCount()
	if n >= cfg.MaxSafetyOrders {
		return
	}
	trigger := planner.TriggerPrice(deal.BaseOrder.Price, cfg.PriceDeviation, cfg.SafetyOrderStepScale, n)
	if price > trigger {
		return
	}

	notional := planner.OrderNotional(cfg.SafetyOrderSize, cfg.SafetyOrderVolumeScale, n)
	ok, available, err := r.eng.client.ValidateBalance(ctx, r.eng.cfg.QuoteAsset, notional)
	if err != nil {
		if exchange.IsRejection(err) {
			r.failLocked(err, "balance check rejected")
			return
		}
		r.logEntryLocked().WithError(err).Warn("balance check failed, will retry on next tick")
		return
	}
	if !ok {
		r.enterBalanceWaitLocked(notional, available)
		return
	}

	r.placeSafetyMarketLocked(ctx, n, notional)
}

// enterBalanceWaitLocked parks the bot until the balance waiter frees it.
// The notification fires exactly once per wait episode.
func (r *runner) enterBalanceWaitLocked(required, available float64) {
	r.setStatusLocked(models.BotStatusWaitingForBalance)
	if r.balanceNotified {
		return
	}
	r.balanceNotified = true
	r.logEntryLocked().WithFields(logrus.Fields{
		"required":  required,
		"available": available,
	}).Warn("insufficient balance for safety order")
	r.eng.notify(r.bot, fmt.Sprintf("Insufficient %s balance on %s: need %.2f, have %.2f", r.eng.cfg.QuoteAsset, r.bot.Config.Pair, required, available), notify.SeverityWarning)
}

func (r *runner) placeSafetyMarketLocked(ctx context.Context, n int, notional float64) {
	cfg := r.bot.Config

	r.setStatusLocked(models.BotStatusPlacingOrder)
	order, err := r.eng.client.PlaceMarketOrder(ctx, cfg.Pair, models.OrderSideBuy, notional)
	if err != nil {
		r.failLocked(err, "safety order failed")
		return
	}
	order.Kind = models.OrderKindSafety

	if err := r.eng.ledger.AddFilledSafetyOrder(r.bot.ID, order, cfg.MaxSafetyOrders); err != nil {
		r.failLocked(err, "failed to record safety order")
		return
	}
	metrics.OrderPlaced(string(models.OrderKindSafety))

	r.logEntryLocked().WithFields(logrus.Fields{
		"order_id": order.ID,
		"rung":     n + 1,
		"price":    order.Price,
		"quantity": order.Quantity,
	}).Info("safety order filled")
	r.eng.notify(r.bot, fmt.Sprintf("Safety order %d/%d filled on %s @ %.8f", n+1, cfg.MaxSafetyOrders, cfg.Pair, order.Price), notify.SeverityInfo)

	r.balanceNotified = false
	r.setStatusLocked(models.BotStatusInPosition)
}

// retryBalance re-attempts the deferred safety order at the last seen
// price. Called by the balance waiter; silent while funds stay short.
func (r *runner) retryBalance(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bot.Status != models.BotStatusWaitingForBalance {
		return
	}
	deal := r.eng.ledger.ActiveDeal(r.bot.ID)
	if deal == nil {
		r.setStatusLocked(models.BotStatusMonitoring)
		return
	}

	cfg := r.bot.Config
	n := deal.SafetyOrderCount()
	if n >= cfg.MaxSafetyOrders {
		r.balanceNotified = false
		r.setStatusLocked(models.BotStatusInPosition)
		return
	}

	// The rung may no longer be due: price can recover while funds are
	// short. Release the bot without buying in that case.
	trigger := planner.TriggerPrice(deal.BaseOrder.Price, cfg.PriceDeviation, cfg.SafetyOrderStepScale, n)
	if r.lastPrice > trigger {
		r.balanceNotified = false
		r.setStatusLocked(models.BotStatusInPosition)
		return
	}

	notional := planner.OrderNotional(cfg.SafetyOrderSize, cfg.SafetyOrderVolumeScale, n)
	ok, _, err := r.eng.client.ValidateBalance(ctx, r.eng.cfg.QuoteAsset, notional)
	if err != nil {
		r.logEntryLocked().WithError(err).Warn("balance recheck failed")
		return
	}
	if !ok {
		return
	}

	r.logEntryLocked().Info("balance recovered, placing deferred safety order")
	r.placeSafetyMarketLocked(ctx, n, notional)
}

func (r *runner) setStatusLocked(status models.BotStatus) {
	if r.bot.Status == status {
		return
	}
	prev := r.bot.Status
	r.bot.Status = status
	r.logEntryLocked().WithFields(logrus.Fields{
		"from": string(prev),
		"to":   string(status),
	}).Debug("status change")

	if r.eng.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.eng.repo.UpdateBotStatus(ctx, r.bot.ID, status); err != nil {
		r.logEntryLocked().WithError(err).Error("failed to persist status")
	}
}

func (r *runner) persistStatsLocked(pnlDelta float64) {
	if r.eng.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.eng.repo.UpdateBotStats(ctx, r.bot.ID, pnlDelta, 1); err != nil {
		r.logEntryLocked().WithError(err).Error("failed to persist bot stats")
	}
}

func (r *runner) fail(err error, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLocked(err, msg)
}

// failLocked is the single entry into the error state: status, last error,
// metrics, notification and subscription teardown.
func (r *runner) failLocked(err error, msg string) {
	r.logEntryLocked().WithError(err).Error(msg)
	r.bot.LastError = fmt.Sprintf("%s: %v", msg, err)
	r.setStatusLocked(models.BotStatusError)
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	metrics.BotErrored()
	metrics.BotStopped()
	r.eng.notify(r.bot, fmt.Sprintf("Bot error: %s: %v", msg, err), notify.SeverityError)
}

func (r *runner) logEntry() *logrus.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logEntryLocked()
}

func (r *runner) logEntryLocked() *logrus.Entry {
	return r.eng.log.WithPair(r.bot.Config.Pair).WithFields(logrus.Fields{
		"component": "engine",
		"bot_id":    r.bot.ID,
	})
}

func (e *Engine) logEntry(botID string) *logrus.Entry {
	return e.log.WithBotID(botID).WithField("component", "engine")
}
