package planner

import (
	"math"
	"testing"

	"dcafleet/internal/models"
)

const tolerance = 1e-9

func TestTriggerPriceFirstRung(t *testing.T) {
	// 1% below a 100 base fill.
	got := TriggerPrice(100, 1.0, 1.2, 0)
	if math.Abs(got-99.0) > tolerance {
		t.Fatalf("first rung trigger = %f, want 99.0", got)
	}
}

func TestTriggerPriceAccumulatesGeometrically(t *testing.T) {
	// Second rung: 1% + 1%*1.2 = 2.2% below 100.
	got := TriggerPrice(100, 1.0, 1.2, 1)
	if math.Abs(got-97.8) > tolerance {
		t.Fatalf("second rung trigger = %f, want 97.8", got)
	}

	// Third rung adds 1%*1.2^2 = 1.44% on top.
	got = TriggerPrice(100, 1.0, 1.2, 2)
	want := 100 * (1 - (1.0+1.2+1.44)/100)
	if math.Abs(got-want) > tolerance {
		t.Fatalf("third rung trigger = %f, want %f", got, want)
	}
}

func TestTriggerDeviationFlatScale(t *testing.T) {
	// stepScale=1 degenerates to evenly spaced rungs.
	for n := 0; n < 5; n++ {
		got := TriggerDeviation(2.0, 1.0, n)
		want := 2.0 * float64(n+1)
		if math.Abs(got-want) > tolerance {
			t.Fatalf("deviation(n=%d) = %f, want %f", n, got, want)
		}
	}
}

func TestOrderNotional(t *testing.T) {
	cases := []struct {
		n    int
		want float64
	}{
		{0, 10},
		{1, 15},
		{2, 22.5},
	}
	for _, tc := range cases {
		got := OrderNotional(10, 1.5, tc.n)
		if math.Abs(got-tc.want) > tolerance {
			t.Fatalf("notional(n=%d) = %f, want %f", tc.n, got, tc.want)
		}
	}
}

func TestLadderPlansEveryRung(t *testing.T) {
	cfg := models.BotConfig{
		Pair:                   "BTCUSDT",
		BaseOrderSize:          10,
		SafetyOrderSize:        10,
		SafetyOrderVolumeScale: 1.5,
		SafetyOrderStepScale:   1.2,
		MaxSafetyOrders:        3,
		PriceDeviation:         1.0,
		TakeProfitPercentage:   2.0,
	}

	rungs := Ladder(100, cfg)
	if len(rungs) != 3 {
		t.Fatalf("expected 3 rungs, got %d", len(rungs))
	}

	if math.Abs(rungs[0].Price-99.0) > tolerance {
		t.Fatalf("rung 0 price = %f, want 99.0", rungs[0].Price)
	}
	if math.Abs(rungs[1].Price-97.8) > tolerance {
		t.Fatalf("rung 1 price = %f, want 97.8", rungs[1].Price)
	}

	for i := 1; i < len(rungs); i++ {
		if rungs[i].Price >= rungs[i-1].Price {
			t.Fatalf("rung prices must strictly decrease: %f then %f", rungs[i-1].Price, rungs[i].Price)
		}
		if rungs[i].Notional <= rungs[i-1].Notional {
			t.Fatalf("rung notionals must grow with volume scale >1: %f then %f", rungs[i-1].Notional, rungs[i].Notional)
		}
	}
}
