package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
	"github.com/ratherlabs/rathervault/internal/execution"
)

// pairFor resolves the V2 pool for a token pair through the factory.
func (v *Vault) pairFor(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	out, err := v.call(ctx, v.factory(), factoryABI, "getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "getPair returned no value")
	}
	pair, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "getPair returned unexpected type")
	}
	if pair == (common.Address{}) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf(
			"no pool exists for %s / %s", tokenA.Hex(), tokenB.Hex(),
		))
	}
	return pair, nil
}

// minAfterSlippage applies a basis-point haircut, rounding down.
func minAfterSlippage(amount *big.Int, bps int64) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	keep := big.NewInt(10_000 - bps)
	out := new(big.Int).Mul(amount, keep)
	return out.Div(out, big.NewInt(10_000))
}

// txDeadline returns the absolute unix deadline for router calls. A
// non-positive window is already expired and never reaches the chain.
func (v *Vault) txDeadline() (*big.Int, error) {
	if v.cfg.Deadline <= 0 {
		return nil, clierr.New(clierr.CodeDeadlineExpired, "transaction deadline window is not in the future")
	}
	return big.NewInt(v.now().Add(v.cfg.Deadline).Unix()), nil
}

// approveStep grants spender an exact-amount allowance on token.
func (v *Vault) approveStep(token, spender common.Address, amount *big.Int, role execution.StepSigner) (execution.Step, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return execution.Step{}, clierr.Wrap(clierr.CodeInternal, "pack approve", err)
	}
	return makeStep(
		execution.StepTypeApproval, role, token, data, nil,
		fmt.Sprintf("approve %s to spend %s of %s", spender.Hex(), amount.String(), token.Hex()),
	), nil
}

// approvalStepIfNeeded returns an approval step only when the current
// allowance can not cover the amount.
func (v *Vault) approvalStepIfNeeded(ctx context.Context, token, holder, spender common.Address, amount *big.Int, role execution.StepSigner) (*execution.Step, error) {
	allowance, err := v.erc20Allowance(ctx, token, holder, spender)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil, nil
	}
	step, err := v.approveStep(token, spender, amount, role)
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// addLiquidityStep supplies both amounts in full, with slippage-derived
// minimums and the vault as LP recipient.
func (v *Vault) addLiquidityStep(tokenA, tokenB common.Address, amountA, amountB, deadline *big.Int) (execution.Step, error) {
	data, err := routerABI.Pack(
		"addLiquidity",
		tokenA, tokenB,
		amountA, amountB,
		minAfterSlippage(amountA, v.cfg.SlippageBps),
		minAfterSlippage(amountB, v.cfg.SlippageBps),
		v.Account(), deadline,
	)
	if err != nil {
		return execution.Step{}, clierr.Wrap(clierr.CodeInternal, "pack addLiquidity", err)
	}
	return makeStep(
		execution.StepTypeAddLiquidity, execution.SignerVault, v.router(), data, nil,
		fmt.Sprintf("add liquidity %s / %s", tokenA.Hex(), tokenB.Hex()),
	), nil
}

// removeLiquidityStep burns LP back into both tokens, paid to the vault.
func (v *Vault) removeLiquidityStep(tokenA, tokenB common.Address, liquidity, minA, minB, deadline *big.Int) (execution.Step, error) {
	data, err := routerABI.Pack(
		"removeLiquidity",
		tokenA, tokenB,
		liquidity, minA, minB,
		v.Account(), deadline,
	)
	if err != nil {
		return execution.Step{}, clierr.Wrap(clierr.CodeInternal, "pack removeLiquidity", err)
	}
	return makeStep(
		execution.StepTypeRemoveLiq, execution.SignerVault, v.router(), data, nil,
		fmt.Sprintf("remove %s LP of %s / %s", liquidity.String(), tokenA.Hex(), tokenB.Hex()),
	), nil
}
