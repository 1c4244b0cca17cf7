package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
	"github.com/ratherlabs/rathervault/internal/execution"
	"github.com/ratherlabs/rathervault/internal/id"
	"github.com/ratherlabs/rathervault/internal/model"
)

// Balances reports the vault account's live holdings: native, wrapped native
// and any extra tokens the caller asks about. Nothing is cached.
func (v *Vault) Balances(ctx context.Context, tokens []common.Address) (model.BalancesReport, error) {
	account := v.Account()
	if account == (common.Address{}) {
		return model.BalancesReport{}, clierr.New(clierr.CodeSigner, "no vault account configured")
	}

	native, err := v.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return model.BalancesReport{}, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
	}
	report := model.BalancesReport{
		VaultAccount: account.Hex(),
		NativeWei:    native.String(),
	}

	wrapped, err := v.tokenBalance(ctx, v.weth(), account)
	if err != nil {
		return model.BalancesReport{}, err
	}
	wrapped.Symbol = "WETH"
	report.WrappedNative = wrapped

	for _, token := range tokens {
		balance, err := v.tokenBalance(ctx, token, account)
		if err != nil {
			return model.BalancesReport{}, err
		}
		report.Tokens = append(report.Tokens, balance)
	}
	return report, nil
}

func (v *Vault) tokenBalance(ctx context.Context, token, account common.Address) (model.TokenBalance, error) {
	balance, err := v.erc20BalanceOf(ctx, token, account)
	if err != nil {
		return model.TokenBalance{}, err
	}
	decimals, err := v.erc20Decimals(ctx, token)
	if err != nil {
		return model.TokenBalance{}, err
	}
	return model.TokenBalance{
		Token:         token.Hex(),
		Decimals:      decimals,
		BaseUnits:     balance.String(),
		DecimalAmount: id.FormatDecimal(balance, decimals),
	}, nil
}

// DepositToken moves tokens from the owner account into the vault with an
// owner-signed transfer.
func (v *Vault) DepositToken(ctx context.Context, token common.Address, amount *big.Int) (model.PlanReport, error) {
	if err := v.Authorize(); err != nil {
		return model.PlanReport{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return model.PlanReport{}, clierr.New(clierr.CodeUsage, "deposit amount must be positive")
	}
	unlock, err := v.lockOperations(ctx)
	if err != nil {
		return model.PlanReport{}, err
	}
	defer unlock()
	ownerBalance, err := v.erc20BalanceOf(ctx, token, v.cfg.Owner)
	if err != nil {
		return model.PlanReport{}, err
	}
	if ownerBalance.Cmp(amount) < 0 {
		return model.PlanReport{}, clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"owner holds %s, deposit needs %s", ownerBalance.String(), amount.String(),
		))
	}

	data, err := erc20ABI.Pack("transfer", v.Account(), amount)
	if err != nil {
		return model.PlanReport{}, clierr.Wrap(clierr.CodeInternal, "pack transfer", err)
	}
	plan := v.newPlan("deposit-token")
	appendStep(&plan, makeStep(
		execution.StepTypeTransfer, execution.SignerOwner, token, data, nil,
		fmt.Sprintf("transfer %s of %s from owner to vault", amount.String(), token.Hex()),
	))

	v.log.Info().Str("plan_id", plan.PlanID).Str("token", token.Hex()).Msg("depositing token")
	if err := v.runPlan(ctx, &plan, v.newPolicy()); err != nil {
		return ReportFromPlan(plan), mapExecutionError(&plan, err)
	}
	return ReportFromPlan(plan), nil
}

// DepositETH wraps owner ETH into WETH held by the vault. When the owner is
// the vault account the wrap alone is enough; otherwise the wrapped amount is
// forwarded.
func (v *Vault) DepositETH(ctx context.Context, amount *big.Int) (model.PlanReport, error) {
	if err := v.Authorize(); err != nil {
		return model.PlanReport{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return model.PlanReport{}, clierr.New(clierr.CodeUsage, "deposit amount must be positive")
	}
	unlock, err := v.lockOperations(ctx)
	if err != nil {
		return model.PlanReport{}, err
	}
	defer unlock()
	ownerNative, err := v.backend.BalanceAt(ctx, v.cfg.Owner, nil)
	if err != nil {
		return model.PlanReport{}, clierr.Wrap(clierr.CodeUnavailable, "read owner native balance", err)
	}
	if ownerNative.Cmp(amount) < 0 {
		return model.PlanReport{}, clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"owner holds %s wei, deposit needs %s", ownerNative.String(), amount.String(),
		))
	}

	wrapData, err := wethABI.Pack("deposit")
	if err != nil {
		return model.PlanReport{}, clierr.Wrap(clierr.CodeInternal, "pack deposit", err)
	}
	plan := v.newPlan("deposit-eth")
	wrap := makeStep(
		execution.StepTypeWrap, execution.SignerOwner, v.weth(), wrapData, amount,
		fmt.Sprintf("wrap %s wei into WETH", amount.String()),
	)
	if v.Account() != v.cfg.Owner {
		// A confirmed wrap with a failed forward would strand WETH on the
		// owner, so the wrap carries its own undo.
		unwrapData, err := wethABI.Pack("withdraw", amount)
		if err != nil {
			return model.PlanReport{}, clierr.Wrap(clierr.CodeInternal, "pack withdraw", err)
		}
		wrap.Compensation = []execution.Step{makeStep(
			execution.StepTypeUnwrap, execution.SignerOwner, v.weth(), unwrapData, nil,
			fmt.Sprintf("unwrap %s wei back to owner native", amount.String()),
		)}
	}
	appendStep(&plan, wrap)
	if v.Account() != v.cfg.Owner {
		forwardData, err := wethABI.Pack("transfer", v.Account(), amount)
		if err != nil {
			return model.PlanReport{}, clierr.Wrap(clierr.CodeInternal, "pack transfer", err)
		}
		appendStep(&plan, makeStep(
			execution.StepTypeTransfer, execution.SignerOwner, v.weth(), forwardData, nil,
			"forward wrapped amount to the vault account",
		))
	}

	v.log.Info().Str("plan_id", plan.PlanID).Str("amount_wei", amount.String()).Msg("depositing native")
	if err := v.runPlan(ctx, &plan, v.newPolicy()); err != nil {
		mapped := mapExecutionError(&plan, err)
		if needsRollback(&plan) {
			if rollbackErr := v.rollbackPlan(ctx, &plan); rollbackErr != nil {
				v.log.Error().Err(rollbackErr).Str("plan_id", plan.PlanID).Msg("unwrap rollback incomplete")
			} else {
				v.log.Warn().Str("plan_id", plan.PlanID).Msg("forward failed, wrapped amount unwrapped again")
			}
		}
		return ReportFromPlan(plan), mapped
	}
	return ReportFromPlan(plan), nil
}

// WithdrawToken sends vault tokens back to the owner.
func (v *Vault) WithdrawToken(ctx context.Context, token common.Address, amount *big.Int) (model.PlanReport, error) {
	if err := v.Authorize(); err != nil {
		return model.PlanReport{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return model.PlanReport{}, clierr.New(clierr.CodeUsage, "withdraw amount must be positive")
	}
	unlock, err := v.lockOperations(ctx)
	if err != nil {
		return model.PlanReport{}, err
	}
	defer unlock()
	vaultBalance, err := v.erc20BalanceOf(ctx, token, v.Account())
	if err != nil {
		return model.PlanReport{}, err
	}
	if vaultBalance.Cmp(amount) < 0 {
		return model.PlanReport{}, clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"vault holds %s, withdraw needs %s", vaultBalance.String(), amount.String(),
		))
	}

	data, err := erc20ABI.Pack("transfer", v.cfg.Owner, amount)
	if err != nil {
		return model.PlanReport{}, clierr.Wrap(clierr.CodeInternal, "pack transfer", err)
	}
	plan := v.newPlan("withdraw-token")
	appendStep(&plan, makeStep(
		execution.StepTypeTransfer, execution.SignerVault, token, data, nil,
		fmt.Sprintf("transfer %s of %s from vault to owner", amount.String(), token.Hex()),
	))

	v.log.Info().Str("plan_id", plan.PlanID).Str("token", token.Hex()).Msg("withdrawing token")
	if err := v.runPlan(ctx, &plan, v.newPolicy()); err != nil {
		return ReportFromPlan(plan), mapExecutionError(&plan, err)
	}
	return ReportFromPlan(plan), nil
}

// WithdrawETH unwraps vault WETH and sends exactly that amount of native
// to the owner. Native funds beyond the unwrapped amount stay untouched.
func (v *Vault) WithdrawETH(ctx context.Context, amount *big.Int) (model.PlanReport, error) {
	if err := v.Authorize(); err != nil {
		return model.PlanReport{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return model.PlanReport{}, clierr.New(clierr.CodeUsage, "withdraw amount must be positive")
	}
	unlock, err := v.lockOperations(ctx)
	if err != nil {
		return model.PlanReport{}, err
	}
	defer unlock()
	wethBalance, err := v.erc20BalanceOf(ctx, v.weth(), v.Account())
	if err != nil {
		return model.PlanReport{}, err
	}
	if wethBalance.Cmp(amount) < 0 {
		return model.PlanReport{}, clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"vault holds %s WETH wei, withdraw needs %s", wethBalance.String(), amount.String(),
		))
	}

	unwrapData, err := wethABI.Pack("withdraw", amount)
	if err != nil {
		return model.PlanReport{}, clierr.Wrap(clierr.CodeInternal, "pack withdraw", err)
	}
	plan := v.newPlan("withdraw-eth")
	appendStep(&plan, makeStep(
		execution.StepTypeUnwrap, execution.SignerVault, v.weth(), unwrapData, nil,
		fmt.Sprintf("unwrap %s wei of WETH", amount.String()),
	))
	appendStep(&plan, makeStep(
		execution.StepTypeNativeTransfer, execution.SignerVault, v.cfg.Owner, nil, amount,
		"send unwrapped amount to the owner",
	))

	v.log.Info().Str("plan_id", plan.PlanID).Str("amount_wei", amount.String()).Msg("withdrawing native")
	if err := v.runPlan(ctx, &plan, v.newPolicy()); err != nil {
		return ReportFromPlan(plan), mapExecutionError(&plan, err)
	}
	return ReportFromPlan(plan), nil
}
