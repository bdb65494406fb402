package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/unifyops/provisioner/pkg/stores"
	"github.com/unifyops/provisioner/pkg/telemetry"
	"github.com/unifyops/provisioner/pkg/terraform"
)

// TerraformRunner is the subset of the terraform client the
// orchestrator drives. *terraform.Client satisfies it; tests substitute
// a mock.
type TerraformRunner interface {
	Init(ctx context.Context, modulePath string, opts terraform.InitOptions) (*terraform.Result, error)
	Plan(ctx context.Context, modulePath string, variables map[string]interface{}, correlationID string) (*terraform.Result, error)
	Apply(ctx context.Context, modulePath string, opts terraform.ApplyOptions) (*terraform.Result, error)
	Destroy(ctx context.Context, modulePath string, opts terraform.DestroyOptions) (*terraform.Result, error)
	Output(ctx context.Context, modulePath, correlationID string) (map[string]interface{}, error)
	WorkingDir(modulePath string) string
}

// Environment is the orchestration view of a persisted environment.
type Environment struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	ModulePath  string                 `json:"module_path"`
	Status      Status                 `json:"status"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
	AutoApply   bool                   `json:"auto_apply"`

	CorrelationID string `json:"correlation_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`

	InitExecutionID  string `json:"init_execution_id,omitempty"`
	PlanExecutionID  string `json:"plan_execution_id,omitempty"`
	ApplyExecutionID string `json:"apply_execution_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resource is the orchestration view of a persisted resource.
type Resource struct {
	ID            string                 `json:"id"`
	EnvironmentID string                 `json:"environment_id"`
	Name          string                 `json:"name"`
	ResourceType  string                 `json:"resource_type,omitempty"`
	ModulePath    string                 `json:"module_path"`
	Status        Status                 `json:"status"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	AutoApply     bool                   `json:"auto_apply"`

	CorrelationID string `json:"correlation_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`

	InitExecutionID  string `json:"init_execution_id,omitempty"`
	PlanExecutionID  string `json:"plan_execution_id,omitempty"`
	ApplyExecutionID string `json:"apply_execution_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Orchestrator coordinates provisioning workflows: it owns the status
// state machine, drives the terraform client, and persists every
// transition so polling clients observe intermediate progress.
type Orchestrator struct {
	store    stores.Store
	tf       TerraformRunner
	registry *TaskRegistry
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	validate *validator.Validate
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches a workflow metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator on top of a store and a terraform runner.
func New(store stores.Store, tf TerraformRunner, logger *telemetry.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		tf:       tf,
		registry: NewTaskRegistry(),
		logger:   logger.NewComponentLogger("orchestrator"),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry exposes the single-flight registry for shutdown handling.
func (o *Orchestrator) Registry() *TaskRegistry {
	return o.registry
}

// encodeVariables serializes a variable map for storage. Nil maps
// become the empty object so the column stays valid JSON.
func encodeVariables(variables map[string]interface{}) (string, error) {
	if variables == nil {
		return "{}", nil
	}
	data, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("failed to encode variables: %w", err)
	}
	return string(data), nil
}

// decodeVariables parses a stored variable blob.
func decodeVariables(blob string) (map[string]interface{}, error) {
	if blob == "" {
		return nil, nil
	}
	var variables map[string]interface{}
	if err := json.Unmarshal([]byte(blob), &variables); err != nil {
		return nil, fmt.Errorf("failed to decode variables: %w", err)
	}
	if len(variables) == 0 {
		return nil, nil
	}
	return variables, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// environmentFromRecord converts a store record to the domain view.
func environmentFromRecord(rec *stores.Environment) (*Environment, error) {
	variables, err := decodeVariables(rec.Variables)
	if err != nil {
		return nil, err
	}
	return &Environment{
		ID:               rec.ID,
		Name:             rec.Name,
		Description:      deref(rec.Description),
		ModulePath:       rec.ModulePath,
		Status:           Status(rec.Status),
		Variables:        variables,
		AutoApply:        rec.AutoApply,
		CorrelationID:    deref(rec.CorrelationID),
		ErrorMessage:     deref(rec.ErrorMessage),
		InitExecutionID:  deref(rec.InitExecutionID),
		PlanExecutionID:  deref(rec.PlanExecutionID),
		ApplyExecutionID: deref(rec.ApplyExecutionID),
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}

// resourceFromRecord converts a store record to the domain view.
func resourceFromRecord(rec *stores.Resource) (*Resource, error) {
	variables, err := decodeVariables(rec.Variables)
	if err != nil {
		return nil, err
	}
	return &Resource{
		ID:               rec.ID,
		EnvironmentID:    rec.EnvironmentID,
		Name:             rec.Name,
		ResourceType:     rec.ResourceType,
		ModulePath:       rec.ModulePath,
		Status:           Status(rec.Status),
		Variables:        variables,
		AutoApply:        rec.AutoApply,
		CorrelationID:    deref(rec.CorrelationID),
		ErrorMessage:     deref(rec.ErrorMessage),
		InitExecutionID:  deref(rec.InitExecutionID),
		PlanExecutionID:  deref(rec.PlanExecutionID),
		ApplyExecutionID: deref(rec.ApplyExecutionID),
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}
