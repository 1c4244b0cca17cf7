package vault

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
	"github.com/ratherlabs/rathervault/internal/execution"
	"github.com/ratherlabs/rathervault/internal/registry"
)

// Backend is the chain read surface the vault needs. *ethclient.Client
// satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Config struct {
	ChainID     int64
	RPCURL      string
	Owner       common.Address
	Contracts   registry.Contracts
	Pools       []registry.PoolEntry
	SlippageBps int64
	Deadline    time.Duration
	Timeout     time.Duration
}

// Vault plans and executes the owner's operations against a single vault
// account. Every mutating operation goes through the saga executor; reads hit
// the chain directly.
type Vault struct {
	cfg     Config
	log     zerolog.Logger
	backend Backend
	signers execution.Signers
	journal *execution.Journal

	// Swappable for tests; defaults run the real executor.
	runPlan      func(ctx context.Context, plan *execution.Plan, policy *execution.Policy) error
	rollbackPlan func(ctx context.Context, plan *execution.Plan) error
	now          func() time.Time
}

func New(cfg Config, log zerolog.Logger, backend Backend, signers execution.Signers, journal *execution.Journal) *Vault {
	v := &Vault{
		cfg:     cfg,
		log:     log,
		backend: backend,
		signers: signers,
		journal: journal,
		now:     time.Now,
	}
	v.runPlan = func(ctx context.Context, plan *execution.Plan, policy *execution.Policy) error {
		opts := execution.DefaultExecuteOptions()
		opts.StepTimeout = cfg.Timeout
		opts.Policy = policy
		return execution.ExecutePlan(ctx, journal, plan, signers, opts)
	}
	v.rollbackPlan = func(ctx context.Context, plan *execution.Plan) error {
		opts := execution.DefaultExecuteOptions()
		opts.StepTimeout = cfg.Timeout
		return execution.RollbackPlan(ctx, journal, plan, signers, opts)
	}
	return v
}

// Account is the address holding the vault's funds.
func (v *Vault) Account() common.Address {
	return v.signers.VaultAddress()
}

// Authorize gates every mutating operation on the owner signer. It runs
// before any plan is built or any RPC is dialed.
func (v *Vault) Authorize() error {
	if v.signers.Owner == nil {
		return clierr.New(clierr.CodeSigner, "no owner signer configured")
	}
	if v.cfg.Owner == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "no owner address configured")
	}
	if v.signers.Owner.Address() != v.cfg.Owner {
		return clierr.New(clierr.CodeUnauthorized, fmt.Sprintf(
			"signer %s is not the vault owner %s",
			v.signers.Owner.Address().Hex(), v.cfg.Owner.Hex(),
		))
	}
	return nil
}

// lockOperations takes the journal's file lock for the duration of one
// mutating operation, so multi-phase sagas and their rollbacks never
// interleave with another command against the same vault.
func (v *Vault) lockOperations(ctx context.Context) (func(), error) {
	if v.journal == nil {
		return func() {}, nil
	}
	if err := v.journal.Lock(ctx); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "serialize vault operations", err)
	}
	return v.journal.Unlock, nil
}

var (
	erc20ABI   = mustABI(registry.ERC20ABI)
	wethABI    = mustABI(registry.WETHABI)
	routerABI  = mustABI(registry.SushiRouterABI)
	factoryABI = mustABI(registry.SushiFactoryABI)
	chefV1ABI  = mustABI(registry.MasterChefV1ABI)
	chefV2ABI  = mustABI(registry.MasterChefV2ABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func (v *Vault) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s call", method), err)
	}
	raw, err := v.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("call %s", method), err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s result", method), err)
	}
	return out, nil
}

func (v *Vault) callUint(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) (*big.Int, error) {
	out, err := v.call(ctx, to, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s returned no value", method))
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s returned unexpected type", method))
	}
	return value, nil
}

func (v *Vault) erc20BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return v.callUint(ctx, token, erc20ABI, "balanceOf", account)
}

func (v *Vault) erc20Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return v.callUint(ctx, token, erc20ABI, "allowance", owner, spender)
}

func (v *Vault) erc20Decimals(ctx context.Context, token common.Address) (int, error) {
	out, err := v.call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, clierr.New(clierr.CodeUnavailable, "decimals returned no value")
	}
	if d, ok := out[0].(uint8); ok {
		return int(d), nil
	}
	return 0, clierr.New(clierr.CodeUnavailable, "decimals returned unexpected type")
}

// TokenDecimals reads a token's decimals for amount parsing and rendering.
func (v *Vault) TokenDecimals(ctx context.Context, token common.Address) (int, error) {
	return v.erc20Decimals(ctx, token)
}

func (v *Vault) weth() common.Address {
	return common.HexToAddress(v.cfg.Contracts.WETH)
}

func (v *Vault) router() common.Address {
	return common.HexToAddress(v.cfg.Contracts.Router)
}

func (v *Vault) factory() common.Address {
	return common.HexToAddress(v.cfg.Contracts.Factory)
}

func (v *Vault) newPolicy() *execution.Policy {
	return execution.NewPolicy(v.cfg.Contracts)
}

// classifyReason maps protocol revert strings onto the vault's stable codes.
func classifyReason(reason string) (clierr.Code, bool) {
	upper := strings.ToUpper(reason)
	switch {
	case strings.Contains(upper, "EXPIRED"):
		return clierr.CodeDeadlineExpired, true
	case strings.Contains(upper, "INSUFFICIENT_A_AMOUNT"),
		strings.Contains(upper, "INSUFFICIENT_B_AMOUNT"),
		strings.Contains(upper, "INSUFFICIENT_OUTPUT_AMOUNT"),
		strings.Contains(upper, "INSUFFICIENT_LIQUIDITY"):
		return clierr.CodeSlippageExceeded, true
	case strings.Contains(reason, "withdraw: not good"),
		strings.Contains(reason, "ds-math-sub-underflow"),
		strings.Contains(upper, "BORINGMATH"):
		return clierr.CodeInsufficientStaked, true
	case strings.Contains(upper, "TRANSFER_FROM_FAILED"),
		strings.Contains(upper, "TRANSFER_FAILED"),
		strings.Contains(reason, "transfer amount exceeds balance"):
		return clierr.CodeTransferFailed, true
	default:
		return clierr.CodeInternal, false
	}
}

// mapExecutionError re-types an executor failure using the decoded revert
// reason, falling back to the failed step's kind. The underlying error stays
// in the chain so the raw reason is never lost.
func mapExecutionError(plan *execution.Plan, err error) error {
	if err == nil {
		return nil
	}
	if reason := execution.RevertReason(err); reason != "" {
		if code, ok := classifyReason(reason); ok {
			return clierr.Wrap(code, reason, err)
		}
	}
	if step := failedStep(plan); step != nil {
		switch step.Type {
		case execution.StepTypeTransfer, execution.StepTypeNativeTransfer:
			return clierr.Wrap(clierr.CodeTransferFailed, "transfer step failed", err)
		case execution.StepTypeWrap, execution.StepTypeUnwrap:
			return clierr.Wrap(clierr.CodeWrapFailed, "wrap step failed", err)
		}
	}
	return err
}

func failedStep(plan *execution.Plan) *execution.Step {
	if plan == nil {
		return nil
	}
	for i := range plan.Steps {
		if plan.Steps[i].Status == execution.StepStatusFailed {
			return &plan.Steps[i]
		}
	}
	return nil
}
