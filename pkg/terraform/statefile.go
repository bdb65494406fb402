package terraform

import (
	"encoding/json"
	"fmt"
	"os"
)

// StateFile is the subset of a Terraform state file the orchestrator
// inspects when reporting status without invoking Terraform.
type StateFile struct {
	Version          int                    `json:"version"`
	TerraformVersion string                 `json:"terraform_version"`
	Serial           int                    `json:"serial"`
	Lineage          string                 `json:"lineage"`
	Outputs          map[string]StateOutput `json:"outputs,omitempty"`
	Resources        []json.RawMessage      `json:"resources"`
}

// StateOutput is a single root module output as stored in state.
type StateOutput struct {
	Value     interface{} `json:"value"`
	Type      interface{} `json:"type"`
	Sensitive bool        `json:"sensitive,omitempty"`
}

// ResourceCount returns the number of resources tracked in state.
func (s *StateFile) ResourceCount() int {
	return len(s.Resources)
}

// OutputValues flattens the outputs to name -> value.
func (s *StateFile) OutputValues() map[string]interface{} {
	if len(s.Outputs) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(s.Outputs))
	for name, out := range s.Outputs {
		values[name] = out.Value
	}
	return values
}

// ReadStateFile parses the state file at path.
func ReadStateFile(path string) (*StateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseStateFile(data)
}

// ParseStateFile decodes raw state file contents.
func ParseStateFile(data []byte) (*StateFile, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty state file")
	}
	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}
	if state.Version == 0 {
		return nil, fmt.Errorf("invalid state file: missing version field")
	}
	return &state, nil
}
