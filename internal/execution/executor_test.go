package execution

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
)

type stubSigner struct {
	addr common.Address
}

func (s stubSigner) Address() common.Address { return s.addr }
func (s stubSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

func TestSignersVaultFallsBackToOwner(t *testing.T) {
	owner := stubSigner{addr: common.HexToAddress("0x1111111111111111111111111111111111111111")}
	signers := Signers{Owner: owner}
	if got := signers.For(SignerVault).Address(); got != owner.addr {
		t.Fatalf("expected fallback to owner, got %s", got.Hex())
	}
	if got := signers.VaultAddress(); got != owner.addr {
		t.Fatalf("expected vault address to be owner, got %s", got.Hex())
	}

	vault := stubSigner{addr: common.HexToAddress("0x2222222222222222222222222222222222222222")}
	signers.Vault = vault
	if got := signers.For(SignerVault).Address(); got != vault.addr {
		t.Fatalf("expected vault signer, got %s", got.Hex())
	}
	if got := signers.For(SignerOwner).Address(); got != owner.addr {
		t.Fatalf("expected owner signer, got %s", got.Hex())
	}
}

func TestExecutePlanRejectsBadInput(t *testing.T) {
	owner := stubSigner{addr: common.HexToAddress("0x1111111111111111111111111111111111111111")}
	ctx := context.Background()

	if err := ExecutePlan(ctx, nil, nil, Signers{Owner: owner}, ExecuteOptions{}); clierr.CodeOf(err) != clierr.CodeInternal {
		t.Fatalf("expected internal error for nil plan, got %v", err)
	}

	plan := NewPlan("invest", 1, "http://localhost:8545")
	plan.Steps = append(plan.Steps, Step{StepID: "s1", Type: StepTypeStake, Status: StepStatusPending, Target: "0x1", Data: "0x"})
	if err := ExecutePlan(ctx, nil, &plan, Signers{}, ExecuteOptions{}); clierr.CodeOf(err) != clierr.CodeSigner {
		t.Fatalf("expected signer error, got %v", err)
	}

	empty := NewPlan("invest", 1, "http://localhost:8545")
	if err := ExecutePlan(ctx, nil, &empty, Signers{Owner: owner}, ExecuteOptions{}); clierr.CodeOf(err) != clierr.CodePlan {
		t.Fatalf("expected plan error for empty steps, got %v", err)
	}

	noRPC := NewPlan("invest", 1, "")
	noRPC.Steps = append(noRPC.Steps, Step{StepID: "s1", Type: StepTypeStake, Status: StepStatusPending, Target: "0x1", Data: "0x"})
	if err := ExecutePlan(ctx, nil, &noRPC, Signers{Owner: owner}, ExecuteOptions{}); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error for missing rpc, got %v", err)
	}
}

func TestParseGwei(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1", want: "1000000000"},
		{in: "2.5", want: "2500000000"},
		{in: "0", want: "0"},
		{in: "0.000000001", want: "1"},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "0.0000000005", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseGwei(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseGwei(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseGwei(%q): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("parseGwei(%q) = %s, want %s", tc.in, got.String(), tc.want)
		}
	}
}

func TestResolveFeeCap(t *testing.T) {
	baseFee := big.NewInt(10_000_000_000)
	tipCap := big.NewInt(2_000_000_000)

	feeCap, err := resolveFeeCap(baseFee, tipCap, "")
	if err != nil {
		t.Fatalf("resolveFeeCap: %v", err)
	}
	want := big.NewInt(22_000_000_000)
	if feeCap.Cmp(want) != 0 {
		t.Fatalf("feeCap = %s, want %s", feeCap.String(), want.String())
	}

	override, err := resolveFeeCap(baseFee, tipCap, "50")
	if err != nil {
		t.Fatalf("resolveFeeCap override: %v", err)
	}
	if override.String() != "50000000000" {
		t.Fatalf("override feeCap = %s", override.String())
	}

	if _, err := resolveFeeCap(baseFee, tipCap, "1"); err == nil {
		t.Fatalf("expected fee cap below tip cap rejection")
	}
}

func TestDecodeHex(t *testing.T) {
	buf, err := decodeHex("0xdeadbeef")
	if err != nil || len(buf) != 4 {
		t.Fatalf("decodeHex: %v (%d bytes)", err, len(buf))
	}
	buf, err = decodeHex("")
	if err != nil || len(buf) != 0 {
		t.Fatalf("decodeHex empty: %v (%d bytes)", err, len(buf))
	}
	if _, err := decodeHex("0xzz"); err == nil {
		t.Fatalf("expected invalid hex error")
	}
}

func TestParseNonNegativeBaseUnits(t *testing.T) {
	v, err := parseNonNegativeBaseUnits("")
	if err != nil || v.Sign() != 0 {
		t.Fatalf("empty value: %v %s", err, v)
	}
	v, err = parseNonNegativeBaseUnits("1000000000000000000")
	if err != nil || v.String() != "1000000000000000000" {
		t.Fatalf("wei value: %v %s", err, v)
	}
	if _, err := parseNonNegativeBaseUnits("-5"); err == nil {
		t.Fatalf("expected negative rejection")
	}
	if _, err := parseNonNegativeBaseUnits("1.5"); err == nil {
		t.Fatalf("expected decimal rejection")
	}
}

func TestMarkStepFailed(t *testing.T) {
	plan := NewPlan("divest", 1, "")
	plan.Steps = append(plan.Steps, Step{StepID: "s1", Status: StepStatusPending})
	markStepFailed(&plan, &plan.Steps[0], "boom")
	if plan.Status != PlanStatusFailed {
		t.Fatalf("plan status = %s", plan.Status)
	}
	if plan.Steps[0].Status != StepStatusFailed || plan.Steps[0].Error != "boom" {
		t.Fatalf("step not marked failed: %+v", plan.Steps[0])
	}
}
