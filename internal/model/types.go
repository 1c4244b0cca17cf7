package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version string       `json:"version"`
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorBody   `json:"error"`
	Meta    EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	ChainID   int64     `json:"chain_id"`
}

// TokenBalance is one live-queried holding of the vault account; the vault
// keeps no duplicate of this number.
type TokenBalance struct {
	Token         string `json:"token"`
	Symbol        string `json:"symbol,omitempty"`
	Decimals      int    `json:"decimals"`
	BaseUnits     string `json:"base_units"`
	DecimalAmount string `json:"decimal_amount"`
}

type BalancesReport struct {
	VaultAccount  string         `json:"vault_account"`
	NativeWei     string         `json:"native_wei"`
	WrappedNative TokenBalance   `json:"wrapped_native"`
	Tokens        []TokenBalance `json:"tokens,omitempty"`
}

// StakingPosition mirrors what the chef contract reports for the vault.
type StakingPosition struct {
	Variant    string `json:"variant"`
	PoolID     uint64 `json:"pool_id"`
	LPToken    string `json:"lp_token"`
	Deposit    string `json:"deposit"`
	RewardDebt string `json:"reward_debt"`
}

type PlanReport struct {
	PlanID    string       `json:"plan_id"`
	Operation string       `json:"operation"`
	Status    string       `json:"status"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
	Steps     []StepReport `json:"steps,omitempty"`
}

type StepReport struct {
	StepID      string `json:"step_id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	Error       string `json:"error,omitempty"`
}

type InvestReport struct {
	Variant       string `json:"variant"`
	PoolID        uint64 `json:"pool_id"`
	LPToken       string `json:"lp_token"`
	TokenAIn      string `json:"token_a_in"`
	TokenBIn      string `json:"token_b_in"`
	LPStaked      string `json:"lp_staked"`
	PlanID        string `json:"plan_id"`
	RolledBack    bool   `json:"rolled_back,omitempty"`
	RollbackError string `json:"rollback_error,omitempty"`
}

type DivestReport struct {
	Variant    string `json:"variant"`
	PoolID     uint64 `json:"pool_id"`
	LPToken    string `json:"lp_token"`
	LPUnstaked string `json:"lp_unstaked"`
	TokenAOut  string `json:"token_a_out"`
	TokenBOut  string `json:"token_b_out"`
	RewardsOut string `json:"rewards_out"`
	PlanID     string `json:"plan_id"`
}
