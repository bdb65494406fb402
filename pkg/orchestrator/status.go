package orchestrator

import (
	"encoding/json"
	"fmt"
)

// Status represents the lifecycle state of an environment or resource.
type Status string

const (
	// StatusPending indicates the target is recorded but no workflow
	// has run yet.
	StatusPending Status = "pending"

	// StatusInitializing indicates terraform init is running.
	StatusInitializing Status = "initializing"

	// StatusPlanning indicates terraform plan is running.
	StatusPlanning Status = "planning"

	// StatusApplying indicates terraform apply is running.
	StatusApplying Status = "applying"

	// StatusProvisioned indicates the last provisioning workflow
	// completed successfully.
	StatusProvisioned Status = "provisioned"

	// StatusFailed indicates the last workflow failed. The error is
	// recorded alongside the status.
	StatusFailed Status = "failed"

	// StatusDestroying indicates terraform destroy is running.
	StatusDestroying Status = "destroying"

	// StatusDestroyed indicates the infrastructure was torn down.
	StatusDestroyed Status = "destroyed"
)

// IsInFlight returns true while a workflow is actively mutating the
// target.
func (s Status) IsInFlight() bool {
	return s == StatusInitializing || s == StatusPlanning ||
		s == StatusApplying || s == StatusDestroying
}

// IsTerminal returns true if the status represents a settled state.
func (s Status) IsTerminal() bool {
	return s == StatusProvisioned || s == StatusFailed || s == StatusDestroyed
}

// CanStartWorkflow returns true if a new provisioning or destroy
// workflow may begin from this status.
func (s Status) CanStartWorkflow() bool {
	return !s.IsInFlight()
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusInitializing, StatusPlanning, StatusApplying,
		StatusProvisioned, StatusFailed, StatusDestroying, StatusDestroyed:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Status(str)
	return s.Validate()
}
