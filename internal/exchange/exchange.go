package exchange

import (
	"context"

	"dcafleet/internal/models"
)

type Balance struct {
	Asset     string
	Free      float64
	Locked    float64
	Available float64
}

// OrderState is what a status poll returns for a previously accepted order.
type OrderState struct {
	OrderID     string
	Status      models.OrderStatus
	FilledQty   float64
	FilledPrice float64
}

// Gateway is the single exchange contract the engine consumes. Insufficient
// funds is never an error: ValidateBalance reports it as ok=false. Order
// placement can still fail on a balance race; that surfaces as a regular
// placement error.
type Gateway interface {
	Ping(ctx context.Context) error
	ValidateBalance(ctx context.Context, asset string, required float64) (bool, float64, error)
	PlaceMarketOrder(ctx context.Context, pair string, side models.OrderSide, notionalOrQty float64) (models.Order, error)
	PlaceLimitOrder(ctx context.Context, pair string, side models.OrderSide, qty, price float64) (models.Order, error)
	GetOrderStatus(ctx context.Context, pair, orderID string) (OrderState, error)
}

// PriceFeed delivers live ticks for a pair. A feed fault is delivered as a
// tick with Err set; the channel closes when the subscription ends.
type PriceFeed interface {
	Subscribe(ctx context.Context, pair string) (<-chan models.Tick, error)
}
