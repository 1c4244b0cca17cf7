package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
	"github.com/ratherlabs/rathervault/internal/execution"
	"github.com/ratherlabs/rathervault/internal/model"
)

// Invest supplies the vault's entire balances of both tokens as liquidity and
// stakes the minted LP into the matching chef pool. The two phases run as a
// saga: once liquidity is added, a staking failure removes that liquidity
// again before the error is surfaced.
func (v *Vault) Invest(ctx context.Context, tokenA, tokenB common.Address, variant ChefVariant) (model.InvestReport, error) {
	if err := v.Authorize(); err != nil {
		return model.InvestReport{}, err
	}
	unlock, err := v.lockOperations(ctx)
	if err != nil {
		return model.InvestReport{}, err
	}
	defer unlock()
	pair, err := v.pairFor(ctx, tokenA, tokenB)
	if err != nil {
		return model.InvestReport{}, err
	}
	pid, err := v.resolvePool(variant, pair)
	if err != nil {
		return model.InvestReport{}, err
	}

	balanceA, err := v.erc20BalanceOf(ctx, tokenA, v.Account())
	if err != nil {
		return model.InvestReport{}, err
	}
	balanceB, err := v.erc20BalanceOf(ctx, tokenB, v.Account())
	if err != nil {
		return model.InvestReport{}, err
	}
	// One empty side can not mint LP either.
	if balanceA.Sign() == 0 || balanceB.Sign() == 0 {
		return model.InvestReport{}, clierr.New(clierr.CodeNothingToInvest, fmt.Sprintf(
			"vault holds %s of %s and %s of %s; both sides must be non-zero",
			balanceA.String(), tokenA.Hex(), balanceB.String(), tokenB.Hex(),
		))
	}

	deadline, err := v.txDeadline()
	if err != nil {
		return model.InvestReport{}, err
	}

	report := model.InvestReport{
		Variant:  string(variant),
		PoolID:   pid,
		LPToken:  pair.Hex(),
		TokenAIn: balanceA.String(),
		TokenBIn: balanceB.String(),
	}

	plan := v.newPlan("invest")
	report.PlanID = plan.PlanID
	for _, token := range []struct {
		addr   common.Address
		amount *big.Int
	}{{tokenA, balanceA}, {tokenB, balanceB}} {
		approval, err := v.approvalStepIfNeeded(ctx, token.addr, v.Account(), v.router(), token.amount, execution.SignerVault)
		if err != nil {
			return report, err
		}
		if approval != nil {
			appendStep(&plan, *approval)
		}
	}
	addLiq, err := v.addLiquidityStep(tokenA, tokenB, balanceA, balanceB, deadline)
	if err != nil {
		return report, err
	}
	appendStep(&plan, addLiq)
	addLiqIdx := len(plan.Steps) - 1

	lpBefore, err := v.erc20BalanceOf(ctx, pair, v.Account())
	if err != nil {
		return report, err
	}

	bound := new(big.Int).Set(balanceA)
	if balanceB.Cmp(bound) > 0 {
		bound.Set(balanceB)
	}
	v.log.Info().Str("plan_id", plan.PlanID).Uint64("pid", pid).Str("variant", string(variant)).Msg("adding liquidity")
	if err := v.runPlan(ctx, &plan, v.newPolicy().WithApprovalBound(bound)); err != nil {
		return report, mapExecutionError(&plan, err)
	}

	lpAfter, err := v.erc20BalanceOf(ctx, pair, v.Account())
	if err != nil {
		return report, err
	}
	minted := new(big.Int).Sub(lpAfter, lpBefore)
	if minted.Sign() <= 0 {
		return report, clierr.New(clierr.CodeInternal, "liquidity confirmed but no LP was minted")
	}

	// The staking phase can now undo the liquidity phase: the minted amount
	// is known, so the compensating removal is concrete. The forward path
	// never granted the router an LP allowance, so the undo brings its own.
	undoDeadline, err := v.txDeadline()
	if err != nil {
		return report, err
	}
	undoApprove, err := v.approveStep(pair, v.router(), minted, execution.SignerVault)
	if err != nil {
		return report, err
	}
	undoRemove, err := v.removeLiquidityStep(tokenA, tokenB, minted, big.NewInt(0), big.NewInt(0), undoDeadline)
	if err != nil {
		return report, err
	}
	plan.Steps[addLiqIdx].Compensation = []execution.Step{undoApprove, undoRemove}
	numberCompensation(&plan.Steps[addLiqIdx])

	lpApproval, err := v.approvalStepIfNeeded(ctx, pair, v.Account(), v.chefAddress(variant), minted, execution.SignerVault)
	if err != nil {
		return report, err
	}
	if lpApproval != nil {
		appendStep(&plan, *lpApproval)
	}
	stake, err := v.stakeStep(variant, pid, minted)
	if err != nil {
		return report, err
	}
	appendStep(&plan, stake)

	v.log.Info().Str("plan_id", plan.PlanID).Str("lp_minted", minted.String()).Msg("staking minted lp")
	if err := v.runPlan(ctx, &plan, v.newPolicy().WithApprovalBound(minted)); err != nil {
		mapped := mapExecutionError(&plan, err)
		if rollbackErr := v.rollbackPlan(ctx, &plan); rollbackErr != nil {
			report.RollbackError = rollbackErr.Error()
			v.log.Error().Err(rollbackErr).Str("plan_id", plan.PlanID).Msg("rollback incomplete")
		} else {
			report.RolledBack = true
			v.log.Warn().Str("plan_id", plan.PlanID).Msg("staking failed, liquidity removed again")
		}
		return report, mapped
	}

	report.LPStaked = minted.String()
	return report, nil
}

// Divest unstakes the vault's whole position (harvesting rewards) and burns
// the LP back into both tokens. If the liquidity removal fails, the LP is
// staked again so the position survives intact.
func (v *Vault) Divest(ctx context.Context, tokenA, tokenB common.Address, variant ChefVariant) (model.DivestReport, error) {
	if err := v.Authorize(); err != nil {
		return model.DivestReport{}, err
	}
	unlock, err := v.lockOperations(ctx)
	if err != nil {
		return model.DivestReport{}, err
	}
	defer unlock()
	pair, err := v.pairFor(ctx, tokenA, tokenB)
	if err != nil {
		return model.DivestReport{}, err
	}
	pid, err := v.resolvePool(variant, pair)
	if err != nil {
		return model.DivestReport{}, err
	}

	staked, _, err := v.stakedPosition(ctx, variant, pid)
	if err != nil {
		return model.DivestReport{}, err
	}
	if staked.Sign() == 0 {
		return model.DivestReport{}, clierr.New(clierr.CodeInsufficientStaked, fmt.Sprintf(
			"vault has no stake in %s pool %d", variant, pid,
		))
	}

	report := model.DivestReport{
		Variant:    string(variant),
		PoolID:     pid,
		LPToken:    pair.Hex(),
		LPUnstaked: staked.String(),
	}

	rewardToken := common.HexToAddress(v.cfg.Contracts.RewardToken)
	rewardBefore, err := v.erc20BalanceOf(ctx, rewardToken, v.Account())
	if err != nil {
		return report, err
	}
	balanceABefore, err := v.erc20BalanceOf(ctx, tokenA, v.Account())
	if err != nil {
		return report, err
	}
	balanceBBefore, err := v.erc20BalanceOf(ctx, tokenB, v.Account())
	if err != nil {
		return report, err
	}

	plan := v.newPlan("divest")
	report.PlanID = plan.PlanID
	unstake, err := v.unstakeStep(variant, pid, staked)
	if err != nil {
		return report, err
	}
	// The chef allowance that funded the original deposit was spent by it, so
	// the restake compensation carries a fresh one.
	restakeApprove, err := v.approveStep(pair, v.chefAddress(variant), staked, execution.SignerVault)
	if err != nil {
		return report, err
	}
	restake, err := v.stakeStep(variant, pid, staked)
	if err != nil {
		return report, err
	}
	unstake.Compensation = []execution.Step{restakeApprove, restake}
	appendStep(&plan, unstake)

	v.log.Info().Str("plan_id", plan.PlanID).Uint64("pid", pid).Str("lp", staked.String()).Msg("unstaking position")
	if err := v.runPlan(ctx, &plan, v.newPolicy()); err != nil {
		return report, mapExecutionError(&plan, err)
	}

	deadline, err := v.txDeadline()
	if err != nil {
		return report, err
	}
	lpApproval, err := v.approvalStepIfNeeded(ctx, pair, v.Account(), v.router(), staked, execution.SignerVault)
	if err != nil {
		return report, err
	}
	if lpApproval != nil {
		appendStep(&plan, *lpApproval)
	}
	minA, minB := v.expectedRemovalMins(ctx, tokenA, tokenB, staked, deadline)
	removeLiq, err := v.removeLiquidityStep(tokenA, tokenB, staked, minA, minB, deadline)
	if err != nil {
		return report, err
	}
	appendStep(&plan, removeLiq)

	v.log.Info().Str("plan_id", plan.PlanID).Str("lp", staked.String()).Msg("removing liquidity")
	if err := v.runPlan(ctx, &plan, v.newPolicy().WithApprovalBound(staked)); err != nil {
		mapped := mapExecutionError(&plan, err)
		if rollbackErr := v.rollbackPlan(ctx, &plan); rollbackErr != nil {
			v.log.Error().Err(rollbackErr).Str("plan_id", plan.PlanID).Msg("restake rollback incomplete")
		} else {
			v.log.Warn().Str("plan_id", plan.PlanID).Msg("liquidity removal failed, position staked again")
		}
		return report, mapped
	}

	rewardAfter, err := v.erc20BalanceOf(ctx, rewardToken, v.Account())
	if err != nil {
		return report, err
	}
	balanceAAfter, err := v.erc20BalanceOf(ctx, tokenA, v.Account())
	if err != nil {
		return report, err
	}
	balanceBAfter, err := v.erc20BalanceOf(ctx, tokenB, v.Account())
	if err != nil {
		return report, err
	}
	report.RewardsOut = new(big.Int).Sub(rewardAfter, rewardBefore).String()
	report.TokenAOut = new(big.Int).Sub(balanceAAfter, balanceABefore).String()
	report.TokenBOut = new(big.Int).Sub(balanceBAfter, balanceBBefore).String()
	return report, nil
}

// expectedRemovalMins simulates the removal to learn the expected outputs and
// applies the slippage haircut to them. When the simulation can not run (for
// example the LP allowance is not in place yet) the bounds fall back to zero
// rather than blocking the divest.
func (v *Vault) expectedRemovalMins(ctx context.Context, tokenA, tokenB common.Address, liquidity, deadline *big.Int) (*big.Int, *big.Int) {
	minA, minB, err := v.simulateRemovalMins(ctx, tokenA, tokenB, liquidity, deadline)
	if err != nil {
		v.log.Warn().Err(err).Msg("removal simulation failed, divesting without slippage bounds")
		return big.NewInt(0), big.NewInt(0)
	}
	return minA, minB
}

func (v *Vault) simulateRemovalMins(ctx context.Context, tokenA, tokenB common.Address, liquidity, deadline *big.Int) (*big.Int, *big.Int, error) {
	zero := big.NewInt(0)
	data, err := routerABI.Pack("removeLiquidity",
		tokenA, tokenB, liquidity, zero, zero, v.Account(), deadline)
	if err != nil {
		return nil, nil, fmt.Errorf("pack removeLiquidity: %w", err)
	}
	router := v.router()
	raw, err := v.backend.CallContract(ctx, ethereum.CallMsg{From: v.Account(), To: &router, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("simulate removeLiquidity: %w", err)
	}
	out, err := routerABI.Unpack("removeLiquidity", raw)
	if err != nil {
		return nil, nil, fmt.Errorf("decode removeLiquidity result: %w", err)
	}
	if len(out) != 2 {
		return nil, nil, fmt.Errorf("removeLiquidity returned %d values", len(out))
	}
	expectedA, okA := out[0].(*big.Int)
	expectedB, okB := out[1].(*big.Int)
	if !okA || !okB {
		return nil, nil, fmt.Errorf("removeLiquidity returned unexpected types")
	}
	return minAfterSlippage(expectedA, v.cfg.SlippageBps), minAfterSlippage(expectedB, v.cfg.SlippageBps), nil
}
