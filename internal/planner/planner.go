// Package planner holds the safety-order ladder math. Everything here is a
// pure computation over the bot config; placement and bookkeeping live in
// the engine and the ledger.
package planner

import (
	"math"

	"dcafleet/internal/models"
)

// TriggerDeviation is the cumulative percentage drop from the base fill
// price required before rung n+1 may be placed (n = safety orders already
// placed, filled or pending). The first rung sits priceDeviation below the
// base fill; every later rung adds priceDeviation*stepScale^i on top.
func TriggerDeviation(priceDeviation, stepScale float64, n int) float64 {
	deviation := priceDeviation
	for i := 1; i <= n; i++ {
		deviation += priceDeviation * math.Pow(stepScale, float64(i))
	}
	return deviation
}

// TriggerPrice applies the cumulative deviation for rung n+1 to the base
// fill price.
func TriggerPrice(basePrice, priceDeviation, stepScale float64, n int) float64 {
	return basePrice * (1 - TriggerDeviation(priceDeviation, stepScale, n)/100)
}

// OrderNotional is the quote-asset size of rung n+1 (0-indexed n).
func OrderNotional(safetyOrderSize, volumeScale float64, n int) float64 {
	return safetyOrderSize * math.Pow(volumeScale, float64(n))
}

type Rung struct {
	Price          float64
	Notional       float64
	TotalDeviation float64
}

// Ladder plans every rung of the safety-order ladder anchored at anchorPrice.
func Ladder(anchorPrice float64, cfg models.BotConfig) []Rung {
	rungs := make([]Rung, 0, cfg.MaxSafetyOrders)
	for n := 0; n < cfg.MaxSafetyOrders; n++ {
		deviation := TriggerDeviation(cfg.PriceDeviation, cfg.SafetyOrderStepScale, n)
		rungs = append(rungs, Rung{
			Price:          anchorPrice * (1 - deviation/100),
			Notional:       OrderNotional(cfg.SafetyOrderSize, cfg.SafetyOrderVolumeScale, n),
			TotalDeviation: deviation,
		})
	}
	return rungs
}
