// Package ledger owns per-bot deal state: the active deal, its order
// bookkeeping and the weighted-average entry math. Every mutation for a
// given bot is serialized on that bot's own lock; unrelated bots never
// contend. Mutations are written through to the repository best-effort:
// a store failure is logged and never corrupts in-memory state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dcafleet/internal/logger"
	"dcafleet/internal/models"
	"dcafleet/internal/store"
)

var (
	// ErrNoActiveDeal means the bot has no open deal to mutate.
	ErrNoActiveDeal = errors.New("no active deal")

	// ErrDealExists guards the one-active-deal-per-bot invariant.
	ErrDealExists = errors.New("bot already has an active deal")

	// ErrLadderFull is the strategy invariant guard: the ladder already
	// holds max_safety_orders rungs. It signals an internal bug upstream;
	// the ledger refuses the mutation instead of corrupting the deal.
	ErrLadderFull = errors.New("safety order ladder is full")
)

type Ledger struct {
	mu    sync.Mutex
	deals map[string]*models.Deal
	locks map[string]*sync.Mutex

	repo store.Repository
	log  *logger.Logger
}

// New builds a ledger. repo may be nil (tests, dry runs); persistence is
// then skipped entirely.
func New(repo store.Repository, log *logger.Logger) *Ledger {
	return &Ledger{
		deals: make(map[string]*models.Deal),
		locks: make(map[string]*sync.Mutex),
		repo:  repo,
		log:   log,
	}
}

func (l *Ledger) lockFor(botID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[botID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[botID] = lock
	}
	return lock
}

// CreateDeal opens a new deal from a filled base order.
func (l *Ledger) CreateDeal(botID string, baseOrder models.Order) (models.Deal, error) {
	lock := l.lockFor(botID)
	lock.Lock()
	defer lock.Unlock()

	if existing := l.deals[botID]; existing != nil && existing.Status == models.DealStatusActive {
		return models.Deal{}, ErrDealExists
	}

	deal := &models.Deal{
		ID:                fmt.Sprintf("deal-%s", uuid.New().String()[:8]),
		BotID:             botID,
		Status:            models.DealStatusActive,
		EntryTime:         baseOrder.Timestamp,
		BaseOrder:         baseOrder,
		AverageEntryPrice: baseOrder.Price,
		TotalQuantity:     baseOrder.Quantity,
	}
	l.deals[botID] = deal
	l.persist(deal)
	return snapshot(deal), nil
}

// RestoreDeal seeds an open deal loaded from the store at startup.
func (l *Ledger) RestoreDeal(deal models.Deal) {
	lock := l.lockFor(deal.BotID)
	lock.Lock()
	defer lock.Unlock()
	restored := deal
	l.deals[deal.BotID] = &restored
}

// AddPendingSafetyOrder registers a resting limit order on the ladder.
func (l *Ledger) AddPendingSafetyOrder(botID string, order models.Order, maxSafetyOrders int) error {
	lock := l.lockFor(botID)
	lock.Lock()
	defer lock.Unlock()

	deal := l.deals[botID]
	if deal == nil || deal.Status != models.DealStatusActive {
		return ErrNoActiveDeal
	}
	if deal.SafetyOrderCount() >= maxSafetyOrders {
		return ErrLadderFull
	}
	deal.PendingSafetyOrders = append(deal.PendingSafetyOrders, order)
	l.persist(deal)
	return nil
}

// AddFilledSafetyOrder records a market safety order that filled
// immediately and recomputes the weighted average entry.
func (l *Ledger) AddFilledSafetyOrder(botID string, order models.Order, maxSafetyOrders int) error {
	lock := l.lockFor(botID)
	lock.Lock()
	defer lock.Unlock()

	deal := l.deals[botID]
	if deal == nil || deal.Status != models.DealStatusActive {
		return ErrNoActiveDeal
	}
	if deal.SafetyOrderCount() >= maxSafetyOrders {
		return ErrLadderFull
	}
	order.Status = models.OrderStatusFilled
	deal.FilledSafetyOrders = append(deal.FilledSafetyOrders, order)
	recalcAverageEntry(deal)
	l.persist(deal)
	return nil
}

// SafetyOrderFilled moves a pending order to the filled list at its actual
// fill price/quantity and recomputes the average entry. Idempotent: a
// second call with the same order id is a no-op and reports changed=false.
func (l *Ledger) SafetyOrderFilled(botID, orderID string, fillPrice, fillQty float64) (bool, error) {
	lock := l.lockFor(botID)
	lock.Lock()
	defer lock.Unlock()

	deal := l.deals[botID]
	if deal == nil || deal.Status != models.DealStatusActive {
		return false, ErrNoActiveDeal
	}

	for _, filled := range deal.FilledSafetyOrders {
		if filled.ID == orderID {
			return false, nil
		}
	}

	idx := -1
	for i, pending := range deal.PendingSafetyOrders {
		if pending.ID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	order := deal.PendingSafetyOrders[idx]
	deal.PendingSafetyOrders = append(deal.PendingSafetyOrders[:idx], deal.PendingSafetyOrders[idx+1:]...)
	order.Status = models.OrderStatusFilled
	order.Price = fillPrice
	order.Quantity = fillQty
	deal.FilledSafetyOrders = append(deal.FilledSafetyOrders, order)
	recalcAverageEntry(deal)
	l.persist(deal)
	return true, nil
}

// DropPendingSafetyOrder removes an externally canceled order from pending
// tracking without counting it as filled.
func (l *Ledger) DropPendingSafetyOrder(botID, orderID string) bool {
	lock := l.lockFor(botID)
	lock.Lock()
	defer lock.Unlock()

	deal := l.deals[botID]
	if deal == nil || deal.Status != models.DealStatusActive {
		return false
	}
	for i, pending := range deal.PendingSafetyOrders {
		if pending.ID == orderID {
			deal.PendingSafetyOrders = append(deal.PendingSafetyOrders[:i], deal.PendingSafetyOrders[i+1:]...)
			l.persist(deal)
			return true
		}
	}
	return false
}

// UpdateUnrealizedPnl marks the open position at the current price.
func (l *Ledger) UpdateUnrealizedPnl(botID string, currentPrice float64) (float64, error) {
	lock := l.lockFor(botID)
	lock.Lock()
	defer lock.Unlock()

	deal := l.deals[botID]
	if deal == nil || deal.Status != models.DealStatusActive {
		return 0, ErrNoActiveDeal
	}
	deal.UnrealizedPnl = (currentPrice - deal.AverageEntryPrice) * deal.TotalQuantity
	return deal.UnrealizedPnl, nil
}

// CloseDeal completes the active deal with its realized PnL.
func (l *Ledger) CloseDeal(botID string, realizedPnl float64) (models.Deal, error) {
	lock := l.lockFor(botID)
	lock.Lock()
	defer lock.Unlock()

	deal := l.deals[botID]
	if deal == nil || deal.Status != models.DealStatusActive {
		return models.Deal{}, ErrNoActiveDeal
	}
	now := time.Now()
	deal.Status = models.DealStatusCompleted
	deal.RealizedPnl = realizedPnl
	deal.CloseTime = &now
	l.persist(deal)
	return snapshot(deal), nil
}

// ActiveDeal returns a copy of the bot's active deal, or nil.
func (l *Ledger) ActiveDeal(botID string) *models.Deal {
	lock := l.lockFor(botID)
	lock.Lock()
	defer lock.Unlock()

	deal := l.deals[botID]
	if deal == nil || deal.Status != models.DealStatusActive {
		return nil
	}
	copied := snapshot(deal)
	return &copied
}

func recalcAverageEntry(deal *models.Deal) {
	totalCost := deal.BaseOrder.Price * deal.BaseOrder.Quantity
	totalQty := deal.BaseOrder.Quantity
	for _, order := range deal.FilledSafetyOrders {
		totalCost += order.Price * order.Quantity
		totalQty += order.Quantity
	}
	if totalQty == 0 {
		deal.AverageEntryPrice = 0
		deal.TotalQuantity = 0
		return
	}
	deal.AverageEntryPrice = totalCost / totalQty
	deal.TotalQuantity = totalQty
}

func snapshot(deal *models.Deal) models.Deal {
	copied := *deal
	copied.FilledSafetyOrders = append([]models.Order(nil), deal.FilledSafetyOrders...)
	copied.PendingSafetyOrders = append([]models.Order(nil), deal.PendingSafetyOrders...)
	if deal.CloseTime != nil {
		t := *deal.CloseTime
		copied.CloseTime = &t
	}
	return copied
}

func (l *Ledger) persist(deal *models.Deal) {
	if l.repo == nil {
		return
	}
	copied := snapshot(deal)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.repo.UpsertDeal(ctx, &copied); err != nil {
		l.log.WithDealID(deal.ID).WithError(err).
			WithField("component", "ledger").
			WithField("bot_id", deal.BotID).
			Error("failed to persist deal")
	}
}
