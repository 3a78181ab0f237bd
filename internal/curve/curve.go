// Package curve implements the bonding-curve price function and its
// closed-form integral. Every function is pure over (position, input):
// no hidden state, fully reproducible for deterministic replay.
package curve

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "EconLedger/internal/math"
)

// DefaultMaxSupply is the bonding-curve cap in token base units.
// Governance can override it via a ParamOverride event.
const DefaultMaxSupply int64 = 400_000_000_000

// ErrSupplyExhausted is returned when a buy would push the pool position past
// the supply cap. There are no partial fills: the caller reduces spend and
// retries.
var ErrSupplyExhausted = errors.New("supply exhausted: buy would exceed max supply")

// sellSpreadNum / sellSpreadDen encode the 0.9x asymmetric sell spread.
const (
	sellSpreadNum = 9
	sellSpreadDen = 10
)

// Price returns the marginal price at position n, in millionths of par
// (par = one quote unit per token at n == maxSupply).
//
//	price(n) = n / maxSupply
func Price(n, maxSupply int64) int64 {
	return fpmath.MulDiv(n, fpmath.PriceConfig.Scale, maxSupply)
}

// Cost returns the quote-currency cost to buy t tokens starting at position n:
// the closed-form integral of the linear price over [n, n+t].
//
//	cost(n, t) = (2nt + t^2) / (2 * maxSupply)
func Cost(n, t, maxSupply int64) (int64, error) {
	if t < 0 {
		return 0, fmt.Errorf("negative token amount: %d", t)
	}
	if n+t > maxSupply {
		return 0, ErrSupplyExhausted
	}

	// 2nt + t^2 can exceed int64; compute in big.Int.
	nt := fpmath.MultiplyInt128(n, t)
	tt := fpmath.MultiplyInt128(t, t)

	num := new(big.Int).Lsh(nt, 1) // 2nt
	num.Add(num, tt)

	cost := fpmath.DivideInt128(num, 2*maxSupply, fpmath.RoundDown)

	fpmath.ReleaseInt128(nt)
	fpmath.ReleaseInt128(tt)

	return cost, nil
}

// TokensForSpend inverts the cost integral: given a target spend c at position
// n, it returns the token quantity received.
//
//	t = -n + floor(sqrt(n^2 + 2 * maxSupply * c))
//
// Returns ErrSupplyExhausted if the clamp n+t <= maxSupply would reduce t
// below the amount implied by c: the caller must reduce spend rather than
// receive a partial fill at a wrong price.
func TokensForSpend(n, c, maxSupply int64) (int64, error) {
	if c < 0 {
		return 0, fmt.Errorf("negative spend: %d", c)
	}
	if c == 0 {
		return 0, nil
	}

	nn := fpmath.MultiplyInt128(n, n)
	mc := fpmath.MultiplyInt128(2*maxSupply, c)

	radicand := new(big.Int).Add(nn, mc)
	root := fpmath.Isqrt(radicand)

	fpmath.ReleaseInt128(nn)
	fpmath.ReleaseInt128(mc)

	t := new(big.Int).Sub(root, big.NewInt(n))
	if !t.IsInt64() {
		return 0, ErrSupplyExhausted
	}

	tokens := t.Int64()
	if tokens < 0 {
		tokens = 0
	}
	if n+tokens > maxSupply {
		return 0, ErrSupplyExhausted
	}

	return tokens, nil
}

// SellProceeds returns the quote-currency proceeds for selling t tokens at
// position n. Sells pay 0.9x the spot price per unit (asymmetric spread) and
// strictly decrease the position.
//
//	proceeds(n, t) = t * 0.9 * price(n) = 9nt / (10 * maxSupply)
func SellProceeds(n, t, maxSupply int64) (int64, error) {
	if t < 0 {
		return 0, fmt.Errorf("negative token amount: %d", t)
	}
	if t > n {
		return 0, fmt.Errorf("sell amount %d exceeds pool position %d", t, n)
	}

	nt := fpmath.MultiplyInt128(n, t)
	num := new(big.Int).Mul(nt, big.NewInt(sellSpreadNum))
	proceeds := fpmath.DivideInt128(num, sellSpreadDen*maxSupply, fpmath.RoundDown)
	fpmath.ReleaseInt128(nt)

	return proceeds, nil
}
