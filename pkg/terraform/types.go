package terraform

import (
	"fmt"
	"time"
)

// Operation represents a Terraform subcommand executed by the runner.
type Operation string

const (
	// OperationInit downloads providers and configures the backend.
	OperationInit Operation = "init"

	// OperationPlan computes a change set and writes a plan artifact.
	OperationPlan Operation = "plan"

	// OperationApply applies a plan artifact or the current configuration.
	OperationApply Operation = "apply"

	// OperationDestroy tears down all managed infrastructure.
	OperationDestroy Operation = "destroy"

	// OperationValidate checks the configuration for internal consistency.
	OperationValidate Operation = "validate"

	// OperationOutput reads root module outputs as JSON.
	OperationOutput Operation = "output"
)

// Validate checks if the operation is one Terraform understands.
func (o Operation) Validate() error {
	switch o {
	case OperationInit, OperationPlan, OperationApply,
		OperationDestroy, OperationValidate, OperationOutput:
		return nil
	default:
		return fmt.Errorf("invalid terraform operation: %s", o)
	}
}

// Result captures the outcome of a single Terraform invocation.
//
// A failed Terraform command is not an error: it is reported through
// Success and Error so orchestration code can decide the next state
// deterministically. Only pre-flight problems (temp files, invalid
// requests) surface as Go errors.
type Result struct {
	// Operation is the subcommand that produced this result.
	Operation Operation `json:"operation"`

	// Success is true when the subprocess exited with code 0.
	Success bool `json:"success"`

	// Output is the captured stdout of the subprocess.
	Output string `json:"output"`

	// Error holds stderr (falling back to stdout) for failed commands.
	Error string `json:"error,omitempty"`

	// Duration is the wall-clock time of the invocation.
	Duration time.Duration `json:"duration"`

	// ExecutionID correlates this invocation with log lines, the
	// persisted record, and (for plan) the on-disk plan artifact.
	ExecutionID string `json:"execution_id"`

	// PlanID is set on successful plan results and equals ExecutionID.
	// A later apply can reference it to apply that exact artifact.
	PlanID string `json:"plan_id,omitempty"`

	// Outputs holds the decoded root module outputs. Set only for
	// the output operation (and applies that report outputs).
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	// HasChanges is set on successful plan results when the plan
	// reports pending changes. It drives the auto-apply decision.
	HasChanges bool `json:"has_changes,omitempty"`
}

// PlanFileName returns the on-disk name of the plan artifact for the
// given execution id, as written by plan and consumed by apply.
func PlanFileName(executionID string) string {
	return "tfplan_" + executionID
}

// StateFileName returns the per-environment state file name used by
// the local backend convention, keyed by environment id.
func StateFileName(environmentID string) string {
	return fmt.Sprintf("terraform.%s.tfstate", environmentID)
}
