package execution

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
	"github.com/ratherlabs/rathervault/internal/registry"
)

var (
	policyERC20ABI  = mustPolicyABI(registry.ERC20ABI)
	policyRouterABI = mustPolicyABI(registry.SushiRouterABI)
	policyChefV1ABI = mustPolicyABI(registry.MasterChefV1ABI)
	policyChefV2ABI = mustPolicyABI(registry.MasterChefV2ABI)

	policyApproveSelector   = policyERC20ABI.Methods["approve"].ID
	policyAddLiqSelector    = policyRouterABI.Methods["addLiquidity"].ID
	policyRemoveLiqSelector = policyRouterABI.Methods["removeLiquidity"].ID
	policyV1DepositSelector = policyChefV1ABI.Methods["deposit"].ID
	policyV1WithdrawSel     = policyChefV1ABI.Methods["withdraw"].ID
	policyV2DepositSelector = policyChefV2ABI.Methods["deposit"].ID
	policyV2WithdrawSel     = policyChefV2ABI.Methods["withdrawAndHarvest"].ID
)

// Policy pins every protocol-touching step to the canonical contract set and
// bounds approvals to the amount the plan actually moves.
type Policy struct {
	Router           common.Address
	ChefV1           common.Address
	ChefV2           common.Address
	ApprovalBound    *big.Int
	AllowMaxApproval bool
}

func NewPolicy(contracts registry.Contracts) *Policy {
	return &Policy{
		Router: common.HexToAddress(contracts.Router),
		ChefV1: common.HexToAddress(contracts.ChefV1),
		ChefV2: common.HexToAddress(contracts.ChefV2),
	}
}

func (p *Policy) WithApprovalBound(amount *big.Int) *Policy {
	cp := *p
	if amount != nil {
		cp.ApprovalBound = new(big.Int).Set(amount)
	}
	return &cp
}

func (p *Policy) ValidateStep(step *Step, data []byte) error {
	if step == nil {
		return clierr.New(clierr.CodeInternal, "missing plan step")
	}
	switch step.Type {
	case StepTypeApproval:
		return p.validateApproval(data)
	case StepTypeAddLiquidity:
		return p.validateRouterCall(step, data, policyAddLiqSelector, "addLiquidity")
	case StepTypeRemoveLiq:
		return p.validateRouterCall(step, data, policyRemoveLiqSelector, "removeLiquidity")
	case StepTypeStake:
		return p.validateChefCall(step, data, policyV1DepositSelector, policyV2DepositSelector)
	case StepTypeUnstake:
		return p.validateChefCall(step, data, policyV1WithdrawSel, policyV2WithdrawSel)
	default:
		return nil
	}
}

func (p *Policy) validateApproval(data []byte) error {
	if len(data) < 4 || !bytes.Equal(data[:4], policyApproveSelector) {
		return clierr.New(clierr.CodePlan, "approval step must use ERC20 approve(spender,amount)")
	}
	args, err := policyERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodePlan, "approval step calldata is invalid")
	}
	spender, ok := toAddress(args[0])
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodePlan, "approval step has invalid spender")
	}
	if spender != p.Router && spender != p.ChefV1 && spender != p.ChefV2 {
		return clierr.New(clierr.CodePlan, "approval spender is not a canonical protocol contract")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodePlan, "approval step has invalid approval amount")
	}
	if p.AllowMaxApproval || p.ApprovalBound == nil {
		return nil
	}
	if amount.Cmp(p.ApprovalBound) > 0 {
		return clierr.New(
			clierr.CodePlan,
			fmt.Sprintf("approval amount %s exceeds planned amount %s", amount.String(), p.ApprovalBound.String()),
		)
	}
	return nil
}

func (p *Policy) validateRouterCall(step *Step, data []byte, selector []byte, method string) error {
	if !strings.EqualFold(strings.TrimSpace(step.Target), p.Router.Hex()) {
		return clierr.New(clierr.CodePlan, fmt.Sprintf("%s step target does not match canonical router", method))
	}
	if len(data) < 4 || !bytes.Equal(data[:4], selector) {
		return clierr.New(clierr.CodePlan, fmt.Sprintf("liquidity step must call %s", method))
	}
	return nil
}

func (p *Policy) validateChefCall(step *Step, data []byte, v1Selector, v2Selector []byte) error {
	target := common.HexToAddress(strings.TrimSpace(step.Target))
	if len(data) < 4 {
		return clierr.New(clierr.CodePlan, "staking step calldata is too short")
	}
	switch {
	case target == p.ChefV1:
		if !bytes.Equal(data[:4], v1Selector) {
			return clierr.New(clierr.CodePlan, "staking step selector does not match the v1 chef")
		}
	case target == p.ChefV2:
		if !bytes.Equal(data[:4], v2Selector) {
			return clierr.New(clierr.CodePlan, "staking step selector does not match the v2 chef")
		}
	default:
		return clierr.New(clierr.CodePlan, "staking step target is not a canonical chef contract")
	}
	return nil
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	default:
		return nil, false
	}
}

func mustPolicyABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
