/*

Package interest holds the utilization-driven borrow rate model used by the
lending vaults. The curve is a triple-slope: flat-ish below the first kink,
steeper between the kinks, and punitive above the second kink so utilization
is pushed back toward the target band.

*/

package interest

import (
	sdkmath "cosmossdk.io/math"
)

const secondsPerYear = 365 * 24 * 3600

// Model is an annualized triple-slope rate curve. All rates are LegacyDec
// fractions per year (0.10 == 10% APR); kinks are utilization fractions.
type Model struct {
	Kink1  sdkmath.LegacyDec // First utilization kink, e.g. 0.50
	Kink2  sdkmath.LegacyDec // Second utilization kink, e.g. 0.90
	Rate1  sdkmath.LegacyDec // APR at the top of the first segment
	Rate2  sdkmath.LegacyDec // APR held flat between the kinks
	Rate3  sdkmath.LegacyDec // APR at 100% utilization
}

// Default returns the tuned curve: 0-50% utilization climbs to 10% APR,
// 50-90% holds 10%, 90-100% climbs from 10% to 150%.
func Default() Model {
	return Model{
		Kink1: sdkmath.LegacyNewDecWithPrec(50, 2),
		Kink2: sdkmath.LegacyNewDecWithPrec(90, 2),
		Rate1: sdkmath.LegacyNewDecWithPrec(10, 2),
		Rate2: sdkmath.LegacyNewDecWithPrec(10, 2),
		Rate3: sdkmath.LegacyNewDecWithPrec(150, 2),
	}
}

// RatePerYear returns the borrow APR for the given debt and floating
// (idle) balances.
func (m Model) RatePerYear(debt, floating sdkmath.Int) sdkmath.LegacyDec {
	total := debt.Add(floating)
	if !total.IsPositive() || !debt.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}
	utilization := sdkmath.LegacyNewDecFromInt(debt).QuoInt(total)
	switch {
	case utilization.LTE(m.Kink1):
		// Linear from 0 up to Rate1 at Kink1.
		return utilization.Mul(m.Rate1).Quo(m.Kink1)
	case utilization.LTE(m.Kink2):
		// Linear from Rate1 at Kink1 to Rate2 at Kink2.
		span := m.Kink2.Sub(m.Kink1)
		progress := utilization.Sub(m.Kink1)
		return m.Rate1.Add(progress.Mul(m.Rate2.Sub(m.Rate1)).Quo(span))
	default:
		// Linear from Rate2 at Kink2 to Rate3 at 100%.
		span := sdkmath.LegacyOneDec().Sub(m.Kink2)
		progress := sdkmath.LegacyMinDec(utilization, sdkmath.LegacyOneDec()).Sub(m.Kink2)
		return m.Rate2.Add(progress.Mul(m.Rate3.Sub(m.Rate2)).Quo(span))
	}
}

// RatePerSec returns the per-second borrow rate for the given balances.
func (m Model) RatePerSec(debt, floating sdkmath.Int) sdkmath.LegacyDec {
	return m.RatePerYear(debt, floating).QuoInt64(secondsPerYear)
}
