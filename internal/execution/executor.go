package execution

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
	"github.com/ratherlabs/rathervault/internal/execution/signer"
)

type ExecuteOptions struct {
	Simulate           bool
	PollInterval       time.Duration
	StepTimeout        time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	Policy             *Policy
}

func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		Simulate:      true,
		PollInterval:  2 * time.Second,
		StepTimeout:   2 * time.Minute,
		GasMultiplier: 1.2,
	}
}

// Signers holds the two signing roles a plan can reference. The vault signer
// falls back to the owner signer when the vault runs in single-account mode.
type Signers struct {
	Owner signer.Signer
	Vault signer.Signer
}

func (s Signers) For(role StepSigner) signer.Signer {
	if role == SignerVault && s.Vault != nil {
		return s.Vault
	}
	return s.Owner
}

// VaultAddress is the account that holds the vault's balances.
func (s Signers) VaultAddress() common.Address {
	if s.Vault != nil {
		return s.Vault.Address()
	}
	if s.Owner != nil {
		return s.Owner.Address()
	}
	return common.Address{}
}

// ExecutePlan runs every pending step of a plan in order. It stops at the
// first failure, marks the plan failed and returns the step's error; callers
// that need all-or-nothing semantics follow up with RollbackPlan.
func ExecutePlan(ctx context.Context, journal *Journal, plan *Plan, signers Signers, opts ExecuteOptions) error {
	if plan == nil {
		return clierr.New(clierr.CodeInternal, "missing plan")
	}
	if signers.Owner == nil {
		return clierr.New(clierr.CodeSigner, "missing owner signer")
	}
	if len(plan.Steps) == 0 {
		return clierr.New(clierr.CodePlan, "plan has no executable steps")
	}
	if strings.TrimSpace(plan.RPCURL) == "" {
		return clierr.New(clierr.CodeUsage, "plan is missing an rpc url")
	}
	normalizeExecuteOptions(&opts)

	plan.Status = PlanStatusRunning
	plan.Touch()
	saveToJournal(journal, *plan)

	client, err := ethclient.DialContext(ctx, plan.RPCURL)
	if err != nil {
		plan.Status = PlanStatusFailed
		plan.Touch()
		saveToJournal(journal, *plan)
		return clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		plan.Status = PlanStatusFailed
		plan.Touch()
		saveToJournal(journal, *plan)
		return clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if plan.ChainID != 0 && chainID.Int64() != plan.ChainID {
		plan.Status = PlanStatusFailed
		plan.Touch()
		saveToJournal(journal, *plan)
		return clierr.New(clierr.CodePlan, fmt.Sprintf("plan chain mismatch: expected %d, rpc reports %d", plan.ChainID, chainID.Int64()))
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status == StepStatusConfirmed || step.Status == StepStatusCompensated {
			continue
		}
		if err := executeStep(ctx, client, chainID, signers.For(step.Signer), plan, step, opts); err != nil {
			markStepFailed(plan, step, err.Error())
			saveToJournal(journal, *plan)
			return err
		}
		plan.Touch()
		saveToJournal(journal, *plan)
	}
	plan.Status = PlanStatusCompleted
	plan.Touch()
	saveToJournal(journal, *plan)
	return nil
}

// RollbackPlan runs the compensation sequence of every confirmed step, newest
// step first. Rollback is best effort across steps: one step's failed undo
// does not stop another step's, and all failures are joined into the
// returned error.
func RollbackPlan(ctx context.Context, journal *Journal, plan *Plan, signers Signers, opts ExecuteOptions) error {
	if plan == nil {
		return clierr.New(clierr.CodeInternal, "missing plan")
	}
	normalizeExecuteOptions(&opts)
	// Compensations must not be blocked by the policy bounds that applied
	// to the forward path.
	opts.Policy = nil

	client, err := ethclient.DialContext(ctx, plan.RPCURL)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "connect rpc for rollback", err)
	}
	defer client.Close()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read chain id for rollback", err)
	}

	var failures []error
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		step := &plan.Steps[i]
		if step.Status != StepStatusConfirmed || len(step.Compensation) == 0 {
			continue
		}
		// Within a step's compensation sequence order matters: a leading
		// approval funds the undo that follows it, so a failure aborts the
		// rest of that sequence.
		compensated := true
		for c := range step.Compensation {
			comp := &step.Compensation[c]
			comp.Status = StepStatusPending
			if err := executeStep(ctx, client, chainID, signers.For(comp.Signer), plan, comp, opts); err != nil {
				comp.Status = StepStatusFailed
				comp.Error = err.Error()
				failures = append(failures, fmt.Errorf("compensate %s: %w", step.StepID, err))
				compensated = false
				break
			}
		}
		if compensated {
			step.Status = StepStatusCompensated
		}
	}
	plan.Status = PlanStatusRolledBack
	plan.Touch()
	saveToJournal(journal, *plan)
	if len(failures) > 0 {
		return clierr.Wrap(clierr.CodeInternal, "rollback incomplete", errors.Join(failures...))
	}
	return nil
}

func executeStep(ctx context.Context, client *ethclient.Client, chainID *big.Int, txSigner signer.Signer, plan *Plan, step *Step, opts ExecuteOptions) error {
	if txSigner == nil {
		return clierr.New(clierr.CodeSigner, "missing signer for step")
	}
	if !common.IsHexAddress(strings.TrimSpace(step.Target)) {
		return clierr.New(clierr.CodeUsage, "invalid step target address")
	}
	data, err := decodeHex(step.Data)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "decode step calldata", err)
	}
	if opts.Policy != nil {
		if err := opts.Policy.ValidateStep(step, data); err != nil {
			return err
		}
	}
	target := common.HexToAddress(strings.TrimSpace(step.Target))
	value, err := parseNonNegativeBaseUnits(step.Value)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "parse step value", err)
	}
	msg := ethereum.CallMsg{From: txSigner.Address(), To: &target, Value: value, Data: data}

	if opts.Simulate {
		if _, err := client.CallContract(ctx, msg, nil); err != nil {
			return wrapEVMExecutionError(clierr.CodeSimulation, fmt.Sprintf("simulate %s step", step.Type), err)
		}
		step.Status = StepStatusSimulated
	}

	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return wrapEVMExecutionError(clierr.CodeSimulation, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, client, opts.MaxPriorityFeeGwei)
	if err != nil {
		return err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return err
	}

	unlock := acquireSignerNonceLock(chainID, txSigner.Address())
	nonce, err := client.PendingNonceAt(ctx, txSigner.Address())
	if err != nil {
		unlock()
		return clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := txSigner.SignTx(chainID, tx)
	if err != nil {
		unlock()
		return clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		unlock()
		return wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	unlock()
	step.Status = StepStatusSubmitted
	step.TxHash = signed.Hash().Hex()

	return waitForReceipt(ctx, client, signed.Hash(), step, opts)
}

func waitForReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash, step *Step, opts ExecuteOptions) error {
	waitCtx, cancel := context.WithTimeout(ctx, opts.StepTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				step.Status = StepStatusConfirmed
				return nil
			}
			return clierr.New(clierr.CodeUnavailable, "transaction reverted on-chain")
		}
		if waitCtx.Err() != nil {
			return clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		}
		// Not-found and transient polling failures alike are retried until
		// the deadline.
		select {
		case <-waitCtx.Done():
			return clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func normalizeExecuteOptions(opts *ExecuteOptions) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
}

func resolveTipCap(ctx context.Context, client *ethclient.Client, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func parseNonNegativeBaseUnits(raw string) (*big.Int, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return nil, fmt.Errorf("invalid base-units integer")
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	return value, nil
}

func markStepFailed(plan *Plan, step *Step, msg string) {
	step.Status = StepStatusFailed
	step.Error = msg
	plan.Status = PlanStatusFailed
	plan.Touch()
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}

func saveToJournal(journal *Journal, plan Plan) {
	if journal != nil {
		_ = journal.Save(plan)
	}
}

// Broadcasts for the same (chain, sender) are serialized so pipelined steps
// do not race on the pending nonce.
var signerNonceLocks sync.Map

func acquireSignerNonceLock(chainID *big.Int, addr common.Address) func() {
	key := fmt.Sprintf("%s:%s", chainID.String(), strings.ToLower(addr.Hex()))
	mu, _ := signerNonceLocks.LoadOrStore(key, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}
