package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ratherlabs/rathervault/internal/execution"
	"github.com/ratherlabs/rathervault/internal/model"
)

func (v *Vault) newPlan(operation string) execution.Plan {
	return execution.NewPlan(operation, v.cfg.ChainID, v.cfg.RPCURL)
}

func makeStep(typ execution.StepType, role execution.StepSigner, target common.Address, data []byte, value *big.Int, desc string) execution.Step {
	step := execution.Step{
		Type:        typ,
		Status:      execution.StepStatusPending,
		Signer:      role,
		Description: desc,
		Target:      target.Hex(),
		Data:        "0x" + common.Bytes2Hex(data),
		Value:       "0",
	}
	if value != nil {
		step.Value = value.String()
	}
	return step
}

func appendStep(plan *execution.Plan, step execution.Step) {
	step.StepID = fmt.Sprintf("step-%02d", len(plan.Steps)+1)
	numberCompensation(&step)
	plan.Steps = append(plan.Steps, step)
}

func numberCompensation(step *execution.Step) {
	for i := range step.Compensation {
		if step.Compensation[i].StepID == "" {
			step.Compensation[i].StepID = fmt.Sprintf("%s-undo-%02d", step.StepID, i+1)
		}
	}
}

// needsRollback reports whether any confirmed step left compensation to run.
func needsRollback(plan *execution.Plan) bool {
	for i := range plan.Steps {
		if plan.Steps[i].Status == execution.StepStatusConfirmed && len(plan.Steps[i].Compensation) > 0 {
			return true
		}
	}
	return false
}

// ReportFromPlan flattens a plan for rendering.
func ReportFromPlan(plan execution.Plan) model.PlanReport {
	report := model.PlanReport{
		PlanID:    plan.PlanID,
		Operation: plan.Operation,
		Status:    string(plan.Status),
		CreatedAt: plan.CreatedAt,
		UpdatedAt: plan.UpdatedAt,
	}
	for _, step := range plan.Steps {
		report.Steps = append(report.Steps, model.StepReport{
			StepID:      step.StepID,
			Type:        string(step.Type),
			Status:      string(step.Status),
			Description: step.Description,
			TxHash:      step.TxHash,
			Error:       step.Error,
		})
	}
	return report
}
