package registry

import "strings"

// Contracts holds the protocol addresses for one chain. All of them are fixed
// at startup; the vault never mutates this set.
type Contracts struct {
	Router      string
	Factory     string
	ChefV1      string
	ChefV2      string
	WETH        string
	RewardToken string
}

// Ethereum mainnet deployment of SushiSwap and both MasterChef versions.
var mainnetContracts = Contracts{
	Router:      "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
	Factory:     "0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac",
	ChefV1:      "0xc2EdaD668740f1aA35E4D8f227fB8E17dcA888Cd",
	ChefV2:      "0xEF0881eC094552b2e128Cf945EF17a6752B4Ec5d",
	WETH:        "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	RewardToken: "0x6B3595068778DD592e39A122f4f5a5cF09C90fE2", // SUSHI
}

// DefaultContracts returns the built-in contract set for a chain id.
func DefaultContracts(chainID int64) (Contracts, bool) {
	if chainID == 1 {
		return mainnetContracts, true
	}
	return Contracts{}, false
}

// PoolEntry maps one staking pool: the LP token it accepts and its pid on the
// selected MasterChef version.
type PoolEntry struct {
	Variant string
	LPToken string
	PoolID  uint64
}

// Built-in pool book for mainnet. Config may extend or override it.
var mainnetPools = []PoolEntry{
	{Variant: "v1", LPToken: "0x397FF1542f962076d0BFE58eA045FfA2d347ACa0", PoolID: 1}, // USDC/WETH SLP
	{Variant: "v2", LPToken: "0xC3f279090a47e80990Fe3a9c30d24Cb117EF91a8", PoolID: 0}, // ALCX/WETH SLP
}

// DefaultPools returns the built-in pool book for a chain id.
func DefaultPools(chainID int64) []PoolEntry {
	if chainID == 1 {
		out := make([]PoolEntry, len(mainnetPools))
		copy(out, mainnetPools)
		return out
	}
	return nil
}

// LookupPool resolves (variant, lp token) to a pid within a pool book.
func LookupPool(pools []PoolEntry, variant, lpToken string) (uint64, bool) {
	for _, p := range pools {
		if strings.EqualFold(p.Variant, variant) && strings.EqualFold(p.LPToken, lpToken) {
			return p.PoolID, true
		}
	}
	return 0, false
}
