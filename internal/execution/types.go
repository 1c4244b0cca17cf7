package execution

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

type PlanStatus string

type StepStatus string

type StepType string

type StepSigner string

const (
	PlanStatusPlanned    PlanStatus = "planned"
	PlanStatusRunning    PlanStatus = "running"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusFailed     PlanStatus = "failed"
	PlanStatusRolledBack PlanStatus = "rolled_back"
)

const (
	StepStatusPending     StepStatus = "pending"
	StepStatusSimulated   StepStatus = "simulated"
	StepStatusSubmitted   StepStatus = "submitted"
	StepStatusConfirmed   StepStatus = "confirmed"
	StepStatusFailed      StepStatus = "failed"
	StepStatusCompensated StepStatus = "compensated"
)

const (
	StepTypeApproval       StepType = "approval"
	StepTypeTransfer       StepType = "transfer"
	StepTypeWrap           StepType = "wrap"
	StepTypeUnwrap         StepType = "unwrap"
	StepTypeAddLiquidity   StepType = "add_liquidity"
	StepTypeRemoveLiq      StepType = "remove_liquidity"
	StepTypeStake          StepType = "stake"
	StepTypeUnstake        StepType = "unstake"
	StepTypeNativeTransfer StepType = "native_transfer"
)

const (
	// SignerOwner steps are signed by the owner account (deposit side).
	SignerOwner StepSigner = "owner"
	// SignerVault steps are signed by the vault account.
	SignerVault StepSigner = "vault"
)

// Step is one transaction of a plan. The compensation sequence, when present,
// is what the executor runs in order to undo this step if a later step fails;
// it must carry everything the undo needs to land, including any approval the
// forward path already spent.
type Step struct {
	StepID       string     `json:"step_id"`
	Type         StepType   `json:"type"`
	Status       StepStatus `json:"status"`
	Signer       StepSigner `json:"signer"`
	Description  string     `json:"description,omitempty"`
	Target       string     `json:"target"`
	Data         string     `json:"data"`
	Value        string     `json:"value"`
	TxHash       string     `json:"tx_hash,omitempty"`
	Error        string     `json:"error,omitempty"`
	Compensation []Step     `json:"compensation,omitempty"`
}

// Plan is one vault operation: an ordered step sequence executed as a saga
// against a single chain.
type Plan struct {
	PlanID    string     `json:"plan_id"`
	Operation string     `json:"operation"`
	Status    PlanStatus `json:"status"`
	ChainID   int64      `json:"chain_id"`
	RPCURL    string     `json:"rpc_url,omitempty"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
	Steps     []Step     `json:"steps"`
}

func NewPlan(operation string, chainID int64, rpcURL string) Plan {
	now := time.Now().UTC().Format(time.RFC3339)
	return Plan{
		PlanID:    NewPlanID(),
		Operation: operation,
		Status:    PlanStatusPlanned,
		ChainID:   chainID,
		RPCURL:    rpcURL,
		CreatedAt: now,
		UpdatedAt: now,
		Steps:     []Step{},
	}
}

func (p *Plan) Touch() {
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

func NewPlanID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "plan-unknown"
	}
	return fmt.Sprintf("plan_%s", hex.EncodeToString(b))
}
