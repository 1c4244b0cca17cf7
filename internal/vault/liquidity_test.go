package vault

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
	"github.com/ratherlabs/rathervault/internal/execution"
)

func TestMinAfterSlippage(t *testing.T) {
	cases := []struct {
		amount int64
		bps    int64
		want   int64
	}{
		{10_000, 50, 9_950},
		{10_000, 0, 10_000},
		{1_000, 50, 995},
		{3, 50, 2}, // rounds down
		{0, 50, 0},
	}
	for _, tc := range cases {
		got := minAfterSlippage(big.NewInt(tc.amount), tc.bps)
		if got.Int64() != tc.want {
			t.Fatalf("minAfterSlippage(%d, %d) = %d, want %d", tc.amount, tc.bps, got.Int64(), tc.want)
		}
	}
}

func TestTxDeadlineExpiredWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Deadline = 0
	backend := newFakeBackend(cfg.Contracts)
	v := New(cfg, zerolog.Nop(), backend, execution.Signers{Owner: fakeSigner{addr: testOwner}}, nil)

	if _, err := v.txDeadline(); clierr.CodeOf(err) != clierr.CodeDeadlineExpired {
		t.Fatalf("expected expired deadline, got %v", err)
	}

	// Mutating operations fail before any step executes.
	backend.setBalance(tokenA, testVault, big.NewInt(10))
	backend.setBalance(tokenB, testVault, big.NewInt(10))
	ran := false
	v.runPlan = func(ctx context.Context, plan *execution.Plan, policy *execution.Policy) error {
		ran = true
		return nil
	}
	v.signers.Vault = fakeSigner{addr: testVault}
	_, err := v.Invest(context.Background(), tokenA, tokenB, ChefV1)
	if clierr.CodeOf(err) != clierr.CodeDeadlineExpired {
		t.Fatalf("expected expired deadline from invest, got %v", err)
	}
	if ran {
		t.Fatalf("no plan may execute with an expired deadline")
	}
}

func TestPairForUnknownPair(t *testing.T) {
	v, backend, _ := testVaultSplit(t)
	backend.pair = common.Address{}
	_, err := v.pairFor(context.Background(), tokenA, tokenB)
	if clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error for missing pool, got %v", err)
	}
}

func TestApprovalStepOnlyWhenShort(t *testing.T) {
	v, backend, _ := testVaultSplit(t)
	spender := v.router()

	step, err := v.approvalStepIfNeeded(context.Background(), tokenA, testVault, spender, big.NewInt(100), execution.SignerVault)
	if err != nil {
		t.Fatalf("approval check: %v", err)
	}
	if step == nil {
		t.Fatalf("zero allowance needs an approval step")
	}
	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(common.FromHex(step.Data)[4:])
	if err != nil {
		t.Fatalf("unpack approve: %v", err)
	}
	if args[0].(common.Address) != spender || args[1].(*big.Int).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("approval args = %v", args)
	}

	backend.allow[erc20Key(tokenA, testVault)+"|"+spender.Hex()] = big.NewInt(100)
	step, err = v.approvalStepIfNeeded(context.Background(), tokenA, testVault, spender, big.NewInt(100), execution.SignerVault)
	if err != nil {
		t.Fatalf("approval check: %v", err)
	}
	if step != nil {
		t.Fatalf("covered allowance must not produce a step")
	}
}
