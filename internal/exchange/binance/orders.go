package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dcafleet/internal/exchange"
	"dcafleet/internal/models"
)

type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	TransactTime        int64  `json:"transactTime"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// PlaceMarketOrder places an IOC market order. Buys are sized in quote
// asset (quoteOrderQty); sells are sized in base quantity.
func (c *Client) PlaceMarketOrder(ctx context.Context, pair string, side models.OrderSide, notionalOrQty float64) (models.Order, error) {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	if side == models.OrderSideBuy {
		params.Set("quoteOrderQty", formatQty(notionalOrQty))
	} else {
		params.Set("quantity", formatQty(notionalOrQty))
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return models.Order{}, err
	}

	if resp.Status != "FILLED" {
		return models.Order{}, &exchange.RejectionError{Msg: fmt.Sprintf("market order not filled, status=%s", resp.Status)}
	}

	qty := parseFloatOrZero(resp.ExecutedQty)
	price := averageFillPrice(resp, qty)
	if price == 0 || qty == 0 {
		return models.Order{}, &exchange.RejectionError{Msg: "market order reported no fill price or quantity"}
	}

	kind := models.OrderKindBase
	if side == models.OrderSideSell {
		kind = models.OrderKindTP
	}

	c.log.WithOrderID(formatOrderID(resp.OrderID)).
		WithField("pair", pair).
		WithField("side", string(side)).
		Debug("market order filled")

	return models.Order{
		ID:        formatOrderID(resp.OrderID),
		Timestamp: time.UnixMilli(resp.TransactTime),
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Kind:      kind,
		Status:    models.OrderStatusFilled,
	}, nil
}

// PlaceLimitOrder places a GTC limit order and returns it with status new;
// the fill is discovered later by polling.
func (c *Client) PlaceLimitOrder(ctx context.Context, pair string, side models.OrderSide, qty, price float64) (models.Order, error) {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("side", string(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", formatQty(qty))
	params.Set("price", formatQty(price))

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return models.Order{}, err
	}

	c.log.WithOrderID(formatOrderID(resp.OrderID)).
		WithField("pair", pair).
		WithField("price", price).
		Debug("limit order resting")

	return models.Order{
		ID:        formatOrderID(resp.OrderID),
		Timestamp: time.UnixMilli(resp.TransactTime),
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Kind:      models.OrderKindSafety,
		Status:    models.OrderStatusNew,
	}, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, pair, orderID string) (exchange.OrderState, error) {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("orderId", orderID)

	var resp struct {
		OrderID             int64  `json:"orderId"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Price               string `json:"price"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v3/order", params, true, &resp); err != nil {
		return exchange.OrderState{}, err
	}

	filledQty := parseFloatOrZero(resp.ExecutedQty)
	fillPrice := parseFloatOrZero(resp.Price)
	if quote := parseFloatOrZero(resp.CummulativeQuoteQty); quote > 0 && filledQty > 0 {
		fillPrice = quote / filledQty
	}

	return exchange.OrderState{
		OrderID:     formatOrderID(resp.OrderID),
		Status:      mapOrderStatus(resp.Status),
		FilledQty:   filledQty,
		FilledPrice: fillPrice,
	}, nil
}

func mapOrderStatus(status string) models.OrderStatus {
	switch status {
	case "NEW":
		return models.OrderStatusNew
	case "FILLED":
		return models.OrderStatusFilled
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartial
	case "CANCELED", "EXPIRED":
		return models.OrderStatusCanceled
	default:
		return models.OrderStatusError
	}
}

func averageFillPrice(resp orderResponse, executedQty float64) float64 {
	if quote := parseFloatOrZero(resp.CummulativeQuoteQty); quote > 0 && executedQty > 0 {
		return quote / executedQty
	}
	var totalCost, totalQty float64
	for _, fill := range resp.Fills {
		price := parseFloatOrZero(fill.Price)
		qty := parseFloatOrZero(fill.Qty)
		totalCost += price * qty
		totalQty += qty
	}
	if totalQty == 0 {
		return 0
	}
	return totalCost / totalQty
}

func formatOrderID(id int64) string {
	return fmt.Sprintf("%d", id)
}

func formatQty(value float64) string {
	return fmt.Sprintf("%.8f", value)
}
