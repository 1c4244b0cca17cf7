package vault

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ratherlabs/rathervault/internal/errors"
)

func TestParseChefVariant(t *testing.T) {
	for _, in := range []string{"v1", "V1", " v1 "} {
		if got, err := ParseChefVariant(in); err != nil || got != ChefV1 {
			t.Fatalf("ParseChefVariant(%q) = %v, %v", in, got, err)
		}
	}
	if got, err := ParseChefVariant("v2"); err != nil || got != ChefV2 {
		t.Fatalf("ParseChefVariant(v2) = %v, %v", got, err)
	}
	if _, err := ParseChefVariant("v3"); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

// The two chef generations take different call shapes; the step builders must
// not cross them.
func TestStakeStepShapesPerVariant(t *testing.T) {
	v, backend, _ := testVaultSplit(t)

	v1Step, err := v.stakeStep(ChefV1, 1, big.NewInt(250))
	if err != nil {
		t.Fatalf("v1 stake step: %v", err)
	}
	if v1Step.Target != backend.chefV1.Hex() {
		t.Fatalf("v1 stake target = %s", v1Step.Target)
	}
	v1Args, err := chefV1ABI.Methods["deposit"].Inputs.Unpack(common.FromHex(v1Step.Data)[4:])
	if err != nil {
		t.Fatalf("unpack v1 deposit: %v", err)
	}
	if len(v1Args) != 2 {
		t.Fatalf("v1 deposit takes (pid, amount), got %d args", len(v1Args))
	}

	v2Step, err := v.stakeStep(ChefV2, 0, big.NewInt(250))
	if err != nil {
		t.Fatalf("v2 stake step: %v", err)
	}
	if v2Step.Target != backend.chefV2.Hex() {
		t.Fatalf("v2 stake target = %s", v2Step.Target)
	}
	v2Args, err := chefV2ABI.Methods["deposit"].Inputs.Unpack(common.FromHex(v2Step.Data)[4:])
	if err != nil {
		t.Fatalf("unpack v2 deposit: %v", err)
	}
	if len(v2Args) != 3 {
		t.Fatalf("v2 deposit takes (pid, amount, to), got %d args", len(v2Args))
	}
	if v2Args[2].(common.Address) != testVault {
		t.Fatalf("v2 recipient must be the vault account")
	}
}

func TestUnstakeStepHarvests(t *testing.T) {
	v, _, _ := testVaultSplit(t)

	v1Step, err := v.unstakeStep(ChefV1, 1, big.NewInt(10))
	if err != nil {
		t.Fatalf("v1 unstake step: %v", err)
	}
	sel := common.FromHex(v1Step.Data)[:4]
	if string(sel) != string(chefV1ABI.Methods["withdraw"].ID) {
		t.Fatalf("v1 unstake must call withdraw")
	}

	v2Step, err := v.unstakeStep(ChefV2, 0, big.NewInt(10))
	if err != nil {
		t.Fatalf("v2 unstake step: %v", err)
	}
	sel = common.FromHex(v2Step.Data)[:4]
	if string(sel) != string(chefV2ABI.Methods["withdrawAndHarvest"].ID) {
		t.Fatalf("v2 unstake must call withdrawAndHarvest")
	}
}

func TestResolvePoolUsesVariantAndToken(t *testing.T) {
	v, _, _ := testVaultSplit(t)

	pid, err := v.resolvePool(ChefV1, testPair)
	if err != nil || pid != 1 {
		t.Fatalf("resolvePool(v1, pair) = %d, %v", pid, err)
	}
	// Same LP token is not registered on the other chef.
	if _, err := v.resolvePool(ChefV2, testPair); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}
