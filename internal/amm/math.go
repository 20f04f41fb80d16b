/*

This file contains the constant-product math shared by the router and by
position valuation. All formulas assume the 0.25% swap fee (9975/10000) and
floor every division, matching on-pool execution exactly so health checks
and strategies never over-estimate proceeds.

*/

package amm

import (
	"math/big"

	sdkmath "cosmossdk.io/math"
)

const (
	feeNumerator   = 9975
	feeDenominator = 10000
)

// GetMktSellAmount returns how much of the output reserve a market sell of
// aIn receives: aIn*9975*rOut / (rIn*10000 + aIn*9975).
func GetMktSellAmount(aIn, rIn, rOut sdkmath.Int) sdkmath.Int {
	if aIn.IsZero() {
		return sdkmath.ZeroInt()
	}
	if !rIn.IsPositive() || !rOut.IsPositive() {
		return sdkmath.ZeroInt()
	}
	aInWithFee := aIn.MulRaw(feeNumerator)
	numerator := aInWithFee.Mul(rOut)
	denominator := rIn.MulRaw(feeDenominator).Add(aInWithFee)
	return numerator.Quo(denominator)
}

// GetMktSellInAmount returns how much input is needed to receive aOut from
// the output reserve, the inverse of GetMktSellAmount rounded up.
func GetMktSellInAmount(aOut, rIn, rOut sdkmath.Int) sdkmath.Int {
	if aOut.IsZero() {
		return sdkmath.ZeroInt()
	}
	numerator := rIn.Mul(aOut).MulRaw(feeDenominator)
	denominator := rOut.Sub(aOut).MulRaw(feeNumerator)
	if !denominator.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return numerator.Quo(denominator).AddRaw(1)
}

// OptimalDeposit returns how much of one side to swap so that a two-sided
// deposit of (amtA, amtB) into a pool with reserves (resA, resB) leaves no
// dust. When reversed is true the swap sells token B instead of token A.
func OptimalDeposit(amtA, amtB, resA, resB sdkmath.Int) (swapAmt sdkmath.Int, reversed bool) {
	if amtA.Mul(resB).GTE(amtB.Mul(resA)) {
		return optimalDepositA(amtA, amtB, resA, resB), false
	}
	return optimalDepositA(amtB, amtA, resB, resA), true
}

// optimalDepositA solves the quadratic for the A-side swap amount, given
// amtA*resB >= amtB*resA. Derived from requiring the post-swap token ratio
// to equal the post-swap reserve ratio with the fee applied.
func optimalDepositA(amtA, amtB, resA, resB sdkmath.Int) sdkmath.Int {
	a := sdkmath.NewInt(feeNumerator)
	b := sdkmath.NewInt(feeNumerator + feeDenominator).Mul(resA)
	diff := amtA.Mul(resB).Sub(amtB.Mul(resA))
	if !diff.IsPositive() {
		return sdkmath.ZeroInt()
	}
	c := diff.MulRaw(feeDenominator).Quo(amtB.Add(resB)).Mul(resA)
	d := a.Mul(c).MulRaw(4)
	e := intSqrt(b.Mul(b).Add(d))
	numerator := e.Sub(b)
	denominator := a.MulRaw(2)
	if numerator.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return numerator.Quo(denominator)
}

func intSqrt(v sdkmath.Int) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(new(big.Int).Sqrt(v.BigInt()))
}
