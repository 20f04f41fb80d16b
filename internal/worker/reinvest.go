/*

This file contains the reinvest flow: harvest the farm reward, pay the
caller's bounty (with treasury and beneficial-vault slices), swap the rest
to base token, join the pool one-sided, and restake. Only totalBalance
grows, so every position's share appreciates in place.

*/

package worker

import (
	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/logger"
	"github.com/leverfarm/dnv/internal/types"
)

const bpsDenominator = 10000

// Reinvest compounds harvested rewards into the pooled LP. Rewards below
// the configured threshold accumulate in the operating account instead of
// forcing a dust-sized swap.
func (w *Worker) Reinvest(caller string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	log := logger.GetForComponent("worker")

	if err := w.farm.Harvest(w.Account(), w.cfg.FarmPoolID); err != nil {
		return err
	}
	rewardDenom := w.farm.RewardDenom()
	reward := w.bank.Balance(w.Account(), rewardDenom)
	if reward.LT(w.cfg.ReinvestThreshold) {
		log.Debug().
			Str("worker", w.cfg.Name).
			Str("reward", reward.String()).
			Str("threshold", w.cfg.ReinvestThreshold.String()).
			Msg("Reward below threshold, accumulating")
		return nil
	}
	if !reward.IsPositive() {
		return nil
	}

	bounty := reward.MulRaw(w.cfg.ReinvestBountyBps).QuoRaw(bpsDenominator)
	if bounty.IsPositive() {
		if err := w.payBounty(caller, bounty); err != nil {
			return err
		}
	}

	// Swap the remaining reward to base token and join the pool.
	remainder := w.bank.Balance(w.Account(), rewardDenom)
	if remainder.IsPositive() && rewardDenom != w.cfg.BaseDenom {
		if len(w.cfg.ReinvestPath) < 2 {
			return ErrInvalidReinvestPath
		}
		if _, err := w.router.SwapExactTokens(w.Account(), remainder, w.cfg.ReinvestPath, sdkmath.ZeroInt()); err != nil {
			return err
		}
	}
	add := w.strategies[types.StrategyAddBaseOnly]
	if err := add.Execute(w.Account(), w.Account(), sdkmath.ZeroInt(), types.NewPayload(types.StrategyAddBaseOnly)); err != nil {
		return err
	}

	// Restake without minting shares so existing holders absorb the growth.
	balance := w.bank.Balance(w.Account(), w.lpDenom)
	if balance.IsPositive() {
		if err := w.farm.Deposit(w.Account(), w.cfg.FarmPoolID, balance); err != nil {
			return err
		}
		w.totalBalance = w.totalBalance.Add(balance)
	}

	log.Info().
		Str("worker", w.cfg.Name).
		Str("caller", caller).
		Str("reward", reward.String()).
		Str("bounty", bounty.String()).
		Str("restaked_lp", balance.String()).
		Msg("Reinvest complete")
	return nil
}

// payBounty splits the bounty between the beneficial vault, the treasury,
// and the caller. The beneficial-vault slice is swapped into that vault's
// base token before it is credited.
func (w *Worker) payBounty(caller string, bounty sdkmath.Int) error {
	rewardDenom := w.farm.RewardDenom()

	bvSlice := bounty.MulRaw(w.cfg.BeneficialVaultBps).QuoRaw(bpsDenominator)
	if bvSlice.IsPositive() && w.cfg.BeneficialVault != "" {
		if len(w.cfg.BeneficialVaultPath) >= 2 {
			out, err := w.router.SwapExactTokens(w.Account(), bvSlice, w.cfg.BeneficialVaultPath, sdkmath.ZeroInt())
			if err != nil {
				return err
			}
			bvDenom := w.cfg.BeneficialVaultPath[len(w.cfg.BeneficialVaultPath)-1]
			if err := w.bank.SendCoin(w.Account(), w.cfg.BeneficialVault, bvDenom, out); err != nil {
				return err
			}
		} else {
			if err := w.bank.SendCoin(w.Account(), w.cfg.BeneficialVault, rewardDenom, bvSlice); err != nil {
				return err
			}
		}
	}

	treasurySlice := bounty.MulRaw(w.cfg.TreasuryBountyBps).QuoRaw(bpsDenominator)
	if treasurySlice.IsPositive() && w.cfg.TreasuryAccount != "" {
		if err := w.bank.SendCoin(w.Account(), w.cfg.TreasuryAccount, rewardDenom, treasurySlice); err != nil {
			return err
		}
	}

	callerSlice := bounty.Sub(bvSlice).Sub(treasurySlice)
	if callerSlice.IsPositive() {
		if err := w.bank.SendCoin(w.Account(), caller, rewardDenom, callerSlice); err != nil {
			return err
		}
	}
	return nil
}
