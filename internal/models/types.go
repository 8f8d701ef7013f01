package models

import (
	"fmt"
	"time"
)

type OrderSide string
type OrderType string
type OrderKind string
type OrderStatus string
type DealStatus string
type BotStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"

	OrderKindBase   OrderKind = "base"
	OrderKindSafety OrderKind = "safety"
	OrderKindTP     OrderKind = "take_profit"

	OrderStatusNew      OrderStatus = "new"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusError    OrderStatus = "error"

	DealStatusActive    DealStatus = "active"
	DealStatusCompleted DealStatus = "completed"
	DealStatusCanceled  DealStatus = "canceled"
)

const (
	BotStatusStopped           BotStatus = "stopped"
	BotStatusStarting          BotStatus = "starting"
	BotStatusMonitoring        BotStatus = "monitoring"
	BotStatusPlacingOrder      BotStatus = "placing_order"
	BotStatusInPosition        BotStatus = "in_position"
	BotStatusClosing           BotStatus = "closing"
	BotStatusWaitingForBalance BotStatus = "waiting_for_balance"
	BotStatusPaused            BotStatus = "paused"
	BotStatusError             BotStatus = "error"
)

// Active reports whether the bot currently owns a price subscription.
func (s BotStatus) Active() bool {
	switch s {
	case BotStatusStarting, BotStatusMonitoring, BotStatusPlacingOrder,
		BotStatusInPosition, BotStatusClosing, BotStatusWaitingForBalance:
		return true
	}
	return false
}

type BotConfig struct {
	Pair                   string  `json:"pair"`
	BaseOrderSize          float64 `json:"base_order_size"`
	SafetyOrderSize        float64 `json:"safety_order_size"`
	SafetyOrderVolumeScale float64 `json:"safety_order_volume_scale"`
	SafetyOrderStepScale   float64 `json:"safety_order_step_scale"`
	MaxSafetyOrders        int     `json:"max_safety_orders"`
	ImmediateSafetyOrders  int     `json:"immediate_safety_orders"`
	PriceDeviation         float64 `json:"price_deviation"`
	TakeProfitPercentage   float64 `json:"take_profit_percentage"`
	RestartCycles          bool    `json:"restart_cycles"`
}

// Validate rejects configs that must never reach the orchestrator.
func (c BotConfig) Validate() error {
	if c.Pair == "" {
		return fmt.Errorf("config: pair is required")
	}
	if c.BaseOrderSize <= 0 {
		return fmt.Errorf("config: base_order_size must be positive, got %f", c.BaseOrderSize)
	}
	if c.SafetyOrderSize <= 0 {
		return fmt.Errorf("config: safety_order_size must be positive, got %f", c.SafetyOrderSize)
	}
	if c.SafetyOrderVolumeScale < 1 {
		return fmt.Errorf("config: safety_order_volume_scale must be >= 1, got %f", c.SafetyOrderVolumeScale)
	}
	if c.SafetyOrderStepScale < 1 {
		return fmt.Errorf("config: safety_order_step_scale must be >= 1, got %f", c.SafetyOrderStepScale)
	}
	if c.MaxSafetyOrders < 0 {
		return fmt.Errorf("config: max_safety_orders must be >= 0, got %d", c.MaxSafetyOrders)
	}
	if c.ImmediateSafetyOrders < 0 || c.ImmediateSafetyOrders > c.MaxSafetyOrders {
		return fmt.Errorf("config: immediate_safety_orders must be within [0, max_safety_orders], got %d", c.ImmediateSafetyOrders)
	}
	if c.PriceDeviation <= 0 {
		return fmt.Errorf("config: price_deviation must be positive, got %f", c.PriceDeviation)
	}
	if c.TakeProfitPercentage <= 0 {
		return fmt.Errorf("config: take_profit_percentage must be positive, got %f", c.TakeProfitPercentage)
	}
	return nil
}

type Bot struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     BotStatus `json:"status"`
	Config     BotConfig `json:"config"`
	TotalPnl   float64   `json:"total_pnl"`
	DealsCount int       `json:"deals_count"`
	LastError  string    `json:"last_error,omitempty"`
}

type Order struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Side      OrderSide   `json:"side"`
	Price     float64     `json:"price"`
	Quantity  float64     `json:"quantity"`
	Kind      OrderKind   `json:"order_type"`
	Status    OrderStatus `json:"status"`
}

type Deal struct {
	ID                  string     `json:"id"`
	BotID               string     `json:"bot_id"`
	Status              DealStatus `json:"status"`
	EntryTime           time.Time  `json:"entry_time"`
	CloseTime           *time.Time `json:"close_time,omitempty"`
	BaseOrder           Order      `json:"base_order"`
	FilledSafetyOrders  []Order    `json:"filled_safety_orders"`
	PendingSafetyOrders []Order    `json:"pending_safety_orders"`
	AverageEntryPrice   float64    `json:"average_entry_price"`
	TotalQuantity       float64    `json:"total_quantity"`
	UnrealizedPnl       float64    `json:"unrealized_pnl"`
	RealizedPnl         float64    `json:"realized_pnl"`
}

// SafetyOrderCount is the ladder occupancy: rungs already taken by filled
// or still-resting safety orders.
func (d *Deal) SafetyOrderCount() int {
	return len(d.FilledSafetyOrders) + len(d.PendingSafetyOrders)
}

type Tick struct {
	Pair      string    `json:"pair"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}
