package stores

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors the orchestration layer maps to its own error kinds.
var (
	// ErrNotFound wraps lookups that matched no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict wraps writes rejected by a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Environment is a persisted provisioning environment. Status and
// Variables are stored as opaque strings; the orchestration layer owns
// their interpretation.
type Environment struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`

	// ModulePath is the Terraform module directory, relative to the
	// configured terraform root.
	ModulePath string `json:"module_path"`

	Status string `json:"status"`

	// Variables is a JSON object of environment-global variables.
	Variables string `json:"variables"`

	// AutoApply applies changes without a separate confirmation step.
	AutoApply bool `json:"auto_apply"`

	// CorrelationID is the request id of the workflow that last touched
	// this environment.
	CorrelationID *string `json:"correlation_id,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`

	// Execution ids of the most recent init, plan and apply runs.
	InitExecutionID  *string `json:"init_execution_id,omitempty"`
	PlanExecutionID  *string `json:"plan_execution_id,omitempty"`
	ApplyExecutionID *string `json:"apply_execution_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resource is a persisted resource belonging to an environment.
// Resource names are unique within their environment.
type Resource struct {
	ID            string  `json:"id"`
	EnvironmentID string  `json:"environment_id"`
	Name          string  `json:"name"`
	ResourceType  string  `json:"resource_type"`
	ModulePath    string  `json:"module_path"`
	Status        string  `json:"status"`
	Variables     string  `json:"variables"`
	AutoApply     bool    `json:"auto_apply"`
	CorrelationID *string `json:"correlation_id,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`

	InitExecutionID  *string `json:"init_execution_id,omitempty"`
	PlanExecutionID  *string `json:"plan_execution_id,omitempty"`
	ApplyExecutionID *string `json:"apply_execution_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResourceFilter narrows ListResources. Nil fields match everything.
type ResourceFilter struct {
	EnvironmentID *string
	Status        *string
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Environment operations
	CreateEnvironment(ctx context.Context, env *Environment) error
	GetEnvironment(ctx context.Context, id string) (*Environment, error)
	GetEnvironmentByName(ctx context.Context, name string) (*Environment, error)
	ListEnvironments(ctx context.Context, limit, offset int) ([]*Environment, error)
	UpdateEnvironmentStatus(ctx context.Context, id string, status string, errMsg *string) error
	UpdateEnvironmentExecutionID(ctx context.Context, id, operation, executionID string) error
	UpdateEnvironmentVariables(ctx context.Context, id, variables string) error
	DeleteEnvironment(ctx context.Context, id string) error

	// Resource operations
	CreateResource(ctx context.Context, res *Resource) error
	GetResource(ctx context.Context, id string) (*Resource, error)
	GetResourceByName(ctx context.Context, environmentID, name string) (*Resource, error)
	ListResources(ctx context.Context, filter ResourceFilter, limit, offset int) ([]*Resource, error)
	UpdateResourceStatus(ctx context.Context, id string, status string, errMsg *string) error
	UpdateResourceExecutionID(ctx context.Context, id, operation, executionID string) error
	DeleteResource(ctx context.Context, id string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
