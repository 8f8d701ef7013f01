package ledger

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"dcafleet/internal/logger"
	"dcafleet/internal/models"
)

const tolerance = 1e-9

func newTestLedger() *Ledger {
	return New(nil, logger.Discard())
}

func baseOrder(price, qty float64) models.Order {
	return models.Order{
		ID:        "base-1",
		Timestamp: time.Now(),
		Side:      models.OrderSideBuy,
		Price:     price,
		Quantity:  qty,
		Kind:      models.OrderKindBase,
		Status:    models.OrderStatusFilled,
	}
}

func pendingOrder(id string, price, qty float64) models.Order {
	return models.Order{
		ID:        id,
		Timestamp: time.Now(),
		Side:      models.OrderSideBuy,
		Price:     price,
		Quantity:  qty,
		Kind:      models.OrderKindSafety,
		Status:    models.OrderStatusNew,
	}
}

func TestCreateDealFromBaseFill(t *testing.T) {
	l := newTestLedger()

	deal, err := l.CreateDeal("b1", baseOrder(100, 0.1))
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	if deal.AverageEntryPrice != 100 || deal.TotalQuantity != 0.1 {
		t.Fatalf("avg=%f qty=%f, want 100/0.1", deal.AverageEntryPrice, deal.TotalQuantity)
	}

	pnl, err := l.UpdateUnrealizedPnl("b1", 100)
	if err != nil {
		t.Fatalf("update pnl: %v", err)
	}
	if pnl != 0 {
		t.Fatalf("unrealized pnl at entry price = %f, want 0", pnl)
	}
}

func TestOneActiveDealPerBot(t *testing.T) {
	l := newTestLedger()

	if _, err := l.CreateDeal("b1", baseOrder(100, 0.1)); err != nil {
		t.Fatalf("create deal: %v", err)
	}
	if _, err := l.CreateDeal("b1", baseOrder(101, 0.1)); !errors.Is(err, ErrDealExists) {
		t.Fatalf("second create = %v, want ErrDealExists", err)
	}

	if _, err := l.CloseDeal("b1", 1.0); err != nil {
		t.Fatalf("close deal: %v", err)
	}
	if _, err := l.CreateDeal("b1", baseOrder(101, 0.1)); err != nil {
		t.Fatalf("create after close: %v", err)
	}
}

func TestWeightedAverageOverFilledOnly(t *testing.T) {
	l := newTestLedger()

	if _, err := l.CreateDeal("b1", baseOrder(100, 0.1)); err != nil {
		t.Fatalf("create deal: %v", err)
	}

	// A resting order must not move the average.
	if err := l.AddPendingSafetyOrder("b1", pendingOrder("so-1", 99, 0.2), 5); err != nil {
		t.Fatalf("add pending: %v", err)
	}
	deal := l.ActiveDeal("b1")
	if deal.AverageEntryPrice != 100 || deal.TotalQuantity != 0.1 {
		t.Fatalf("pending order moved the average: avg=%f qty=%f", deal.AverageEntryPrice, deal.TotalQuantity)
	}

	changed, err := l.SafetyOrderFilled("b1", "so-1", 98, 0.2)
	if err != nil || !changed {
		t.Fatalf("fill = (%v, %v), want (true, nil)", changed, err)
	}

	deal = l.ActiveDeal("b1")
	wantQty := 0.3
	wantAvg := (100*0.1 + 98*0.2) / wantQty
	if math.Abs(deal.AverageEntryPrice-wantAvg) > tolerance || math.Abs(deal.TotalQuantity-wantQty) > tolerance {
		t.Fatalf("avg=%f qty=%f, want %f/%f", deal.AverageEntryPrice, deal.TotalQuantity, wantAvg, wantQty)
	}

	// avg*qty must equal the summed cost of base + filled.
	cost := deal.BaseOrder.Price * deal.BaseOrder.Quantity
	for _, o := range deal.FilledSafetyOrders {
		cost += o.Price * o.Quantity
	}
	if math.Abs(deal.AverageEntryPrice*deal.TotalQuantity-cost) > tolerance {
		t.Fatalf("avg*qty=%f, want Σ(price*qty)=%f", deal.AverageEntryPrice*deal.TotalQuantity, cost)
	}
}

func TestSafetyOrderFilledIdempotent(t *testing.T) {
	l := newTestLedger()

	if _, err := l.CreateDeal("b1", baseOrder(100, 0.1)); err != nil {
		t.Fatalf("create deal: %v", err)
	}
	if err := l.AddPendingSafetyOrder("b1", pendingOrder("so-1", 99, 0.1), 5); err != nil {
		t.Fatalf("add pending: %v", err)
	}

	changed, err := l.SafetyOrderFilled("b1", "so-1", 99, 0.1)
	if err != nil || !changed {
		t.Fatalf("first fill = (%v, %v), want (true, nil)", changed, err)
	}
	first := l.ActiveDeal("b1")

	changed, err = l.SafetyOrderFilled("b1", "so-1", 99, 0.1)
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if changed {
		t.Fatal("second fill with the same order id must be a no-op")
	}

	second := l.ActiveDeal("b1")
	if second.TotalQuantity != first.TotalQuantity || second.AverageEntryPrice != first.AverageEntryPrice {
		t.Fatalf("repeated fill changed state: %+v vs %+v", first, second)
	}
	if len(second.FilledSafetyOrders) != 1 {
		t.Fatalf("expected 1 filled safety order, got %d", len(second.FilledSafetyOrders))
	}
}

func TestLadderFullInvariant(t *testing.T) {
	l := newTestLedger()

	if _, err := l.CreateDeal("b1", baseOrder(100, 0.1)); err != nil {
		t.Fatalf("create deal: %v", err)
	}
	if err := l.AddPendingSafetyOrder("b1", pendingOrder("so-1", 99, 0.1), 2); err != nil {
		t.Fatalf("add pending 1: %v", err)
	}
	if err := l.AddPendingSafetyOrder("b1", pendingOrder("so-2", 98, 0.1), 2); err != nil {
		t.Fatalf("add pending 2: %v", err)
	}
	if err := l.AddPendingSafetyOrder("b1", pendingOrder("so-3", 97, 0.1), 2); !errors.Is(err, ErrLadderFull) {
		t.Fatalf("third add = %v, want ErrLadderFull", err)
	}

	deal := l.ActiveDeal("b1")
	if deal.SafetyOrderCount() != 2 {
		t.Fatalf("ladder count = %d, want 2", deal.SafetyOrderCount())
	}
}

func TestDropPendingSafetyOrder(t *testing.T) {
	l := newTestLedger()

	if _, err := l.CreateDeal("b1", baseOrder(100, 0.1)); err != nil {
		t.Fatalf("create deal: %v", err)
	}
	if err := l.AddPendingSafetyOrder("b1", pendingOrder("so-1", 99, 0.1), 5); err != nil {
		t.Fatalf("add pending: %v", err)
	}

	before := l.ActiveDeal("b1")

	if !l.DropPendingSafetyOrder("b1", "so-1") {
		t.Fatal("expected drop to report true")
	}

	after := l.ActiveDeal("b1")
	if len(after.PendingSafetyOrders) != 0 {
		t.Fatalf("pending not removed: %+v", after.PendingSafetyOrders)
	}
	if len(after.FilledSafetyOrders) != 0 {
		t.Fatal("dropped order must not appear as filled")
	}
	if after.TotalQuantity != before.TotalQuantity || after.AverageEntryPrice != before.AverageEntryPrice {
		t.Fatal("dropping a pending order must not change the position")
	}

	if l.DropPendingSafetyOrder("b1", "so-1") {
		t.Fatal("second drop of the same order must report false")
	}
}

func TestConcurrentFillsHoldInvariants(t *testing.T) {
	l := newTestLedger()

	if _, err := l.CreateDeal("b1", baseOrder(100, 1)); err != nil {
		t.Fatalf("create deal: %v", err)
	}
	const max = 10
	for i := 0; i < max; i++ {
		order := pendingOrder(orderID(i), 99-float64(i), 0.1)
		if err := l.AddPendingSafetyOrder("b1", order, max); err != nil {
			t.Fatalf("add pending %d: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < max; i++ {
		// Two workers per order race the same fill.
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = l.SafetyOrderFilled("b1", id, 98, 0.1)
			}(orderID(i))
		}
	}
	wg.Wait()

	deal := l.ActiveDeal("b1")
	if len(deal.FilledSafetyOrders) != max {
		t.Fatalf("filled = %d, want %d", len(deal.FilledSafetyOrders), max)
	}
	if deal.SafetyOrderCount() > max {
		t.Fatalf("ladder invariant violated: %d > %d", deal.SafetyOrderCount(), max)
	}
	wantQty := 1 + 0.1*max
	if math.Abs(deal.TotalQuantity-wantQty) > tolerance {
		t.Fatalf("total qty = %f, want %f", deal.TotalQuantity, wantQty)
	}
}

func orderID(i int) string {
	return "so-" + string(rune('a'+i))
}
