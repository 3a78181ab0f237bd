package curve_test

import (
	"errors"
	"testing"

	"EconLedger/internal/curve"
)

const maxSupply = curve.DefaultMaxSupply

// ============================================================================
// Test: Price
// ============================================================================

func TestPrice_Monotonic(t *testing.T) {
	positions := []int64{
		0, 1, 1_000, 1_000_000, 100_000_000_000, 200_000_000_000,
		maxSupply - 1, maxSupply,
	}

	for i := 1; i < len(positions); i++ {
		lo := curve.Price(positions[i-1], maxSupply)
		hi := curve.Price(positions[i], maxSupply)
		if hi < lo {
			t.Errorf("price not monotonic: price(%d)=%d > price(%d)=%d",
				positions[i-1], lo, positions[i], hi)
		}
	}
}

func TestPrice_Bounds(t *testing.T) {
	if got := curve.Price(0, maxSupply); got != 0 {
		t.Errorf("price(0) = %d, want 0", got)
	}
	if got := curve.Price(maxSupply, maxSupply); got != 1_000_000 {
		t.Errorf("price(maxSupply) = %d, want 1_000_000 (par)", got)
	}
	// Quarter supply prices at a quarter of par
	if got := curve.Price(maxSupply/4, maxSupply); got != 250_000 {
		t.Errorf("price(maxSupply/4) = %d, want 250_000", got)
	}
}

// ============================================================================
// Test: Cost / TokensForSpend
// ============================================================================

func TestCost_PathIndependence(t *testing.T) {
	cases := []struct {
		name   string
		n      int64
		t1, t2 int64
	}{
		{"small", 0, 1_000, 2_000},
		{"mid-curve", 100_000_000_000, 3_000_000_000, 3_000_000_000},
		{"near-cap", maxSupply - 10_000_000, 4_000_000, 5_000_000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			whole, err := curve.Cost(tc.n, tc.t1+tc.t2, maxSupply)
			if err != nil {
				t.Fatalf("cost(n, t1+t2): %v", err)
			}

			first, err := curve.Cost(tc.n, tc.t1, maxSupply)
			if err != nil {
				t.Fatalf("cost(n, t1): %v", err)
			}
			second, err := curve.Cost(tc.n+tc.t1, tc.t2, maxSupply)
			if err != nil {
				t.Fatalf("cost(n+t1, t2): %v", err)
			}

			// Integer floor division loses at most 1 unit per evaluation.
			diff := whole - (first + second)
			if diff < 0 {
				diff = -diff
			}
			if diff > 1 {
				t.Errorf("path dependence: cost(%d,%d)=%d vs split %d+%d=%d",
					tc.n, tc.t1+tc.t2, whole, first, second, first+second)
			}
		})
	}
}

func TestTokensForSpend_WorkedScenario(t *testing.T) {
	// At position 100e9 of cap 400e9, a spend of 1,545,000,000 buys exactly
	// 6e9 tokens: cost(100e9, 6e9) = (2*100e9*6e9 + 36e18) / 800e9.
	const n = 100_000_000_000
	const spend = 1_545_000_000

	tokens, err := curve.TokensForSpend(n, spend, maxSupply)
	if err != nil {
		t.Fatalf("TokensForSpend: %v", err)
	}
	if tokens != 6_000_000_000 {
		t.Fatalf("tokens = %d, want 6_000_000_000", tokens)
	}

	// New position 106e9 prices at 0.265x par
	if got := curve.Price(n+tokens, maxSupply); got != 265_000 {
		t.Errorf("post-purchase price = %d, want 265_000", got)
	}

	// Round-trip: integral cost of the received tokens equals the spend
	cost, err := curve.Cost(n, tokens, maxSupply)
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != spend {
		t.Errorf("cost(n, t) = %d, want %d", cost, spend)
	}
}

func TestTokensForSpend_ZeroSpend(t *testing.T) {
	tokens, err := curve.TokensForSpend(1_000_000, 0, maxSupply)
	if err != nil {
		t.Fatalf("TokensForSpend: %v", err)
	}
	if tokens != 0 {
		t.Errorf("tokens = %d, want 0", tokens)
	}
}

func TestTokensForSpend_SupplyExhausted(t *testing.T) {
	// A spend large enough to clear the remaining supply must be rejected,
	// never partially filled.
	n := maxSupply - 1_000
	_, err := curve.TokensForSpend(n, 1_000_000_000, maxSupply)
	if !errors.Is(err, curve.ErrSupplyExhausted) {
		t.Errorf("err = %v, want ErrSupplyExhausted", err)
	}
}

func TestCost_SupplyExhausted(t *testing.T) {
	_, err := curve.Cost(maxSupply-10, 11, maxSupply)
	if !errors.Is(err, curve.ErrSupplyExhausted) {
		t.Errorf("err = %v, want ErrSupplyExhausted", err)
	}
}

// ============================================================================
// Test: SellProceeds
// ============================================================================

func TestSellProceeds_Spread(t *testing.T) {
	// Selling at half supply: spot price is 0.5 par, sells pay 0.45 par/unit.
	n := maxSupply / 2
	proceeds, err := curve.SellProceeds(n, 1_000_000, maxSupply)
	if err != nil {
		t.Fatalf("SellProceeds: %v", err)
	}
	// 1e6 * 9 * 2e11 / (10 * 4e11) = 450_000
	if proceeds != 450_000 {
		t.Errorf("proceeds = %d, want 450_000", proceeds)
	}
}

func TestSellProceeds_ExceedsPosition(t *testing.T) {
	if _, err := curve.SellProceeds(100, 101, maxSupply); err == nil {
		t.Error("expected error selling more than pool position")
	}
}

// ============================================================================
// Test: buy/sell conservation
// ============================================================================

func TestSupplyConservation(t *testing.T) {
	// Replay a mixed buy/sell sequence and verify position equals
	// net buys minus net sells at every step, bounded by [0, maxSupply].
	type step struct {
		buySpend int64 // quote units, 0 = sell instead
		sellQty  int64
	}

	steps := []step{
		{buySpend: 1_545_000_000},
		{buySpend: 500_000_000},
		{sellQty: 2_000_000_000},
		{buySpend: 100_000_000},
		{sellQty: 1},
	}

	var position, netBuys, netSells int64
	position = 100_000_000_000
	for i, s := range steps {
		if s.buySpend > 0 {
			tokens, err := curve.TokensForSpend(position, s.buySpend, maxSupply)
			if err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			position += tokens
			netBuys += tokens
		} else {
			if _, err := curve.SellProceeds(position, s.sellQty, maxSupply); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			position -= s.sellQty
			netSells += s.sellQty
		}

		if position < 0 || position > maxSupply {
			t.Fatalf("step %d: position %d out of bounds", i, position)
		}
		if position != 100_000_000_000+netBuys-netSells {
			t.Fatalf("step %d: position %d != start + buys %d - sells %d",
				i, position, netBuys, netSells)
		}
	}
}
