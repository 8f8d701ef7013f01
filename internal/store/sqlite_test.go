package store

import (
	"context"
	"testing"
	"time"

	"dcafleet/internal/models"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(":memory:")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("init repository: %v", err)
	}
	return repo
}

func testBot(id string) models.Bot {
	return models.Bot{
		ID:     id,
		Name:   "DCA Bot " + id,
		Status: models.BotStatusStopped,
		Config: models.BotConfig{
			Pair:                   "BTCUSDT",
			BaseOrderSize:          10,
			SafetyOrderSize:        10,
			SafetyOrderVolumeScale: 1.5,
			SafetyOrderStepScale:   1.2,
			MaxSafetyOrders:        5,
			ImmediateSafetyOrders:  1,
			PriceDeviation:         1.0,
			TakeProfitPercentage:   2.0,
		},
	}
}

func TestSaveAndListBots(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveBot(ctx, testBot("b1")); err != nil {
		t.Fatalf("save bot: %v", err)
	}
	if err := repo.UpdateBotStatus(ctx, "b1", models.BotStatusInPosition); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := repo.UpdateBotStats(ctx, "b1", 3.5, 1); err != nil {
		t.Fatalf("update stats: %v", err)
	}

	bots, err := repo.ListBots(ctx)
	if err != nil {
		t.Fatalf("list bots: %v", err)
	}
	if len(bots) != 1 {
		t.Fatalf("expected 1 bot, got %d", len(bots))
	}
	bot := bots[0]
	if bot.Status != models.BotStatusInPosition {
		t.Fatalf("status = %s, want in_position", bot.Status)
	}
	if bot.TotalPnl != 3.5 || bot.DealsCount != 1 {
		t.Fatalf("stats = (%f, %d), want (3.5, 1)", bot.TotalPnl, bot.DealsCount)
	}
	if bot.Config.Pair != "BTCUSDT" || bot.Config.MaxSafetyOrders != 5 {
		t.Fatalf("config did not round trip: %+v", bot.Config)
	}
}

func TestUpsertDealRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveBot(ctx, testBot("b1")); err != nil {
		t.Fatalf("save bot: %v", err)
	}

	entry := time.Now().UTC().Truncate(time.Second)
	deal := &models.Deal{
		ID:        "d1",
		BotID:     "b1",
		Status:    models.DealStatusActive,
		EntryTime: entry,
		BaseOrder: models.Order{
			ID: "1001", Timestamp: entry, Side: models.OrderSideBuy,
			Price: 100, Quantity: 0.1, Kind: models.OrderKindBase, Status: models.OrderStatusFilled,
		},
		FilledSafetyOrders: []models.Order{
			{ID: "1002", Timestamp: entry, Side: models.OrderSideBuy, Price: 99, Quantity: 0.1, Kind: models.OrderKindSafety, Status: models.OrderStatusFilled},
		},
		PendingSafetyOrders: []models.Order{
			{ID: "1003", Timestamp: entry, Side: models.OrderSideBuy, Price: 97.8, Quantity: 0.15, Kind: models.OrderKindSafety, Status: models.OrderStatusNew},
		},
		AverageEntryPrice: 99.5,
		TotalQuantity:     0.2,
	}

	if err := repo.UpsertDeal(ctx, deal); err != nil {
		t.Fatalf("upsert deal: %v", err)
	}

	loaded, err := repo.ActiveDeal(ctx, "b1")
	if err != nil {
		t.Fatalf("active deal: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected an active deal")
	}
	if loaded.BaseOrder.ID != "1001" || loaded.BaseOrder.Price != 100 {
		t.Fatalf("base order did not round trip: %+v", loaded.BaseOrder)
	}
	if len(loaded.FilledSafetyOrders) != 1 || loaded.FilledSafetyOrders[0].ID != "1002" {
		t.Fatalf("filled safety orders did not round trip: %+v", loaded.FilledSafetyOrders)
	}
	if len(loaded.PendingSafetyOrders) != 1 || loaded.PendingSafetyOrders[0].ID != "1003" {
		t.Fatalf("pending safety orders did not round trip: %+v", loaded.PendingSafetyOrders)
	}
	if loaded.AverageEntryPrice != 99.5 || loaded.TotalQuantity != 0.2 {
		t.Fatalf("deal aggregates did not round trip: avg=%f qty=%f", loaded.AverageEntryPrice, loaded.TotalQuantity)
	}
}

func TestClosedDealLeavesNoActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveBot(ctx, testBot("b1")); err != nil {
		t.Fatalf("save bot: %v", err)
	}

	entry := time.Now().UTC()
	closed := entry.Add(time.Hour)
	deal := &models.Deal{
		ID:        "d1",
		BotID:     "b1",
		Status:    models.DealStatusActive,
		EntryTime: entry,
		BaseOrder: models.Order{ID: "1001", Timestamp: entry, Side: models.OrderSideBuy, Price: 100, Quantity: 0.1, Kind: models.OrderKindBase, Status: models.OrderStatusFilled},
	}
	if err := repo.UpsertDeal(ctx, deal); err != nil {
		t.Fatalf("upsert active deal: %v", err)
	}

	deal.Status = models.DealStatusCompleted
	deal.CloseTime = &closed
	deal.RealizedPnl = 2.0
	if err := repo.UpsertDeal(ctx, deal); err != nil {
		t.Fatalf("upsert closed deal: %v", err)
	}

	active, err := repo.ActiveDeal(ctx, "b1")
	if err != nil {
		t.Fatalf("active deal: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active deal, got %+v", active)
	}

	deals, err := repo.ListDeals(ctx, "b1")
	if err != nil {
		t.Fatalf("list deals: %v", err)
	}
	if len(deals) != 1 || deals[0].Status != models.DealStatusCompleted || deals[0].RealizedPnl != 2.0 {
		t.Fatalf("closed deal did not round trip: %+v", deals)
	}
}
