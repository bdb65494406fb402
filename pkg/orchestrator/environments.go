package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/unifyops/provisioner/pkg/stores"
	"github.com/unifyops/provisioner/pkg/terraform"
)

// CreateEnvironmentParams are the caller-supplied fields for a new
// environment.
type CreateEnvironmentParams struct {
	Name          string                 `validate:"required,min=1,max=255"`
	Description   string                 `validate:"max=1024"`
	ModulePath    string                 `validate:"required"`
	Variables     map[string]interface{} `validate:"-"`
	AutoApply     bool
	CorrelationID string
}

// ProvisionOptions tune a provisioning workflow or a direct step.
type ProvisionOptions struct {
	// Overrides are merged last into the variable set, winning at the
	// top level.
	Overrides map[string]interface{}

	// ForceInit re-runs init even when an init execution is already
	// recorded, re-downloading modules.
	ForceInit bool

	// CorrelationID is the request tracing token, if any.
	CorrelationID string
}

// ApplyRunOptions configure a direct apply call.
type ApplyRunOptions struct {
	// PlanID selects a specific plan artifact. Empty falls back to the
	// recorded plan execution id, or a transparent fresh plan.
	PlanID string

	Overrides     map[string]interface{}
	CorrelationID string
}

// EnvironmentStatus is the polling view of an environment: the record
// plus what the on-disk state file reveals.
type EnvironmentStatus struct {
	Environment        *Environment           `json:"environment"`
	WorkflowRunning    bool                   `json:"workflow_running"`
	StateResourceCount int                    `json:"state_resource_count"`
	Outputs            map[string]interface{} `json:"outputs,omitempty"`
}

// CreateEnvironment validates and persists a new environment in
// StatusPending.
func (o *Orchestrator) CreateEnvironment(ctx context.Context, params CreateEnvironmentParams) (*Environment, error) {
	if err := o.validate.Struct(params); err != nil {
		return nil, NewBadRequestError("invalid environment parameters", err)
	}

	variables, err := encodeVariables(params.Variables)
	if err != nil {
		return nil, NewBadRequestError("invalid environment variables", err)
	}

	now := time.Now().UTC()
	rec := &stores.Environment{
		ID:            uuid.New().String(),
		Name:          params.Name,
		Description:   strPtr(params.Description),
		ModulePath:    params.ModulePath,
		Status:        string(StatusPending),
		Variables:     variables,
		AutoApply:     params.AutoApply,
		CorrelationID: strPtr(params.CorrelationID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := o.store.CreateEnvironment(ctx, rec); err != nil {
		if errors.Is(err, stores.ErrConflict) {
			return nil, NewConflictError(fmt.Sprintf("environment name %q already exists", params.Name), err)
		}
		return nil, err
	}

	o.logger.
		WithEnvironmentID(rec.ID).
		WithCorrelationID(params.CorrelationID).
		Infof("created environment %q", params.Name)

	return environmentFromRecord(rec)
}

// GetEnvironment returns the environment by id.
func (o *Orchestrator) GetEnvironment(ctx context.Context, id string) (*Environment, error) {
	rec, err := o.loadEnvironment(ctx, id)
	if err != nil {
		return nil, err
	}
	return environmentFromRecord(rec)
}

// ListEnvironments returns environments with pagination.
func (o *Orchestrator) ListEnvironments(ctx context.Context, limit, offset int) ([]*Environment, error) {
	if limit <= 0 {
		limit = 50
	}
	recs, err := o.store.ListEnvironments(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	envs := make([]*Environment, 0, len(recs))
	for _, rec := range recs {
		env, err := environmentFromRecord(rec)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// StartProvisioning launches the full init/plan/apply workflow for an
// environment in a background goroutine. It returns once the workflow
// is accepted; progress is observable via GetStatus. A second start
// while a workflow is in flight is rejected.
func (o *Orchestrator) StartProvisioning(ctx context.Context, environmentID string, opts ProvisionOptions) error {
	rec, err := o.loadEnvironment(ctx, environmentID)
	if err != nil {
		return err
	}

	status := Status(rec.Status)
	if !status.CanStartWorkflow() {
		return NewConflictError(
			fmt.Sprintf("environment is %s; wait for the current workflow to finish", status),
			nil,
		).WithTarget(environmentID).WithOperation("provision")
	}

	// The workflow outlives the request: it runs on its own
	// cancellable context, reachable through the registry.
	workCtx, cancel := context.WithCancel(context.Background())
	if !o.registry.TryAcquire(environmentID, "provision", cancel) {
		cancel()
		return NewConflictError("a workflow is already running for this environment", nil).
			WithTarget(environmentID).WithOperation("provision")
	}

	if o.metrics != nil {
		o.metrics.RecordWorkflowStarted("environment", "provision")
	}

	env, err := environmentFromRecord(rec)
	if err != nil {
		o.registry.Release(environmentID)
		cancel()
		return err
	}

	log := o.logger.
		WithEnvironmentID(environmentID).
		WithCorrelationID(opts.CorrelationID)
	log.Info("starting provisioning workflow")

	go func() {
		start := time.Now()
		defer cancel()
		defer o.registry.Release(environmentID)

		// Failures are persisted onto the record inside the steps;
		// nobody is awaiting this goroutine.
		err := o.provisionEnvironment(workCtx, env, opts)

		if o.metrics != nil {
			outcome := "succeeded"
			if err != nil {
				outcome = "failed"
			}
			o.metrics.RecordWorkflowCompleted("environment", "provision", outcome, time.Since(start))
		}
		if err != nil {
			log.WithError(err).Error("provisioning workflow failed")
			return
		}
		log.Info("provisioning workflow finished")
	}()

	return nil
}

// provisionEnvironment runs init, plan and (conditionally) apply, each
// step short-circuiting the chain on failure.
func (o *Orchestrator) provisionEnvironment(ctx context.Context, env *Environment, opts ProvisionOptions) error {
	if env.InitExecutionID == "" || opts.ForceInit {
		if _, err := o.initEnvironment(ctx, env, opts.ForceInit, opts.CorrelationID); err != nil {
			return err
		}
	}

	planResult, err := o.planEnvironment(ctx, env, opts.Overrides, opts.CorrelationID)
	if err != nil {
		return err
	}

	if !env.AutoApply {
		// Settled at "planned, not applied"; a later direct apply can
		// pick up the recorded plan id.
		return nil
	}
	if !planResult.HasChanges {
		o.logger.WithEnvironmentID(env.ID).Info("plan reports no changes; skipping apply")
		return nil
	}

	_, err = o.applyEnvironment(ctx, env, planResult.PlanID, opts.CorrelationID)
	return err
}

// RunInit initializes an environment's module and is awaited by the
// caller. When an init execution is already recorded and force is
// false, no subprocess runs.
func (o *Orchestrator) RunInit(ctx context.Context, environmentID string, force bool, correlationID string) (*terraform.Result, error) {
	env, release, err := o.claimEnvironment(ctx, environmentID, "init")
	if err != nil {
		return nil, err
	}
	defer release()

	if env.InitExecutionID != "" && !force {
		return &terraform.Result{
			Operation:   terraform.OperationInit,
			Success:     true,
			Output:      "initialization already completed",
			ExecutionID: env.InitExecutionID,
		}, nil
	}

	return o.initEnvironment(ctx, env, force, correlationID)
}

// RunPlan plans an environment and is awaited by the caller. Init runs
// transparently first when the environment was never initialized.
func (o *Orchestrator) RunPlan(ctx context.Context, environmentID string, opts ProvisionOptions) (*terraform.Result, error) {
	env, release, err := o.claimEnvironment(ctx, environmentID, "plan")
	if err != nil {
		return nil, err
	}
	defer release()

	if env.InitExecutionID == "" || opts.ForceInit {
		if _, err := o.initEnvironment(ctx, env, opts.ForceInit, opts.CorrelationID); err != nil {
			return nil, err
		}
	}

	return o.planEnvironment(ctx, env, opts.Overrides, opts.CorrelationID)
}

// RunApply applies an environment's plan and is awaited by the caller.
// Without a plan id (given or recorded), a fresh plan runs first.
func (o *Orchestrator) RunApply(ctx context.Context, environmentID string, opts ApplyRunOptions) (*terraform.Result, error) {
	env, release, err := o.claimEnvironment(ctx, environmentID, "apply")
	if err != nil {
		return nil, err
	}
	defer release()

	planID := opts.PlanID
	if planID == "" {
		planID = env.PlanExecutionID
	}
	if planID == "" {
		if env.InitExecutionID == "" {
			if _, err := o.initEnvironment(ctx, env, false, opts.CorrelationID); err != nil {
				return nil, err
			}
		}
		planResult, err := o.planEnvironment(ctx, env, opts.Overrides, opts.CorrelationID)
		if err != nil {
			return nil, err
		}
		planID = planResult.PlanID
	}

	return o.applyEnvironment(ctx, env, planID, opts.CorrelationID)
}

// GetStatus reports the persisted record enriched with what the state
// file on disk reveals: resource count and outputs. For a provisioned
// environment whose state file yields no outputs, terraform output is
// consulted as a fallback; a failing fallback is surfaced as an
// execution failure.
func (o *Orchestrator) GetStatus(ctx context.Context, environmentID string) (*EnvironmentStatus, error) {
	rec, err := o.loadEnvironment(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	env, err := environmentFromRecord(rec)
	if err != nil {
		return nil, err
	}

	status := &EnvironmentStatus{
		Environment:     env,
		WorkflowRunning: o.registry.IsRunning(environmentID),
	}

	statePath := filepath.Join(o.tf.WorkingDir(env.ModulePath), terraform.StateFileName(env.ID))
	if state, err := terraform.ReadStateFile(statePath); err == nil {
		status.StateResourceCount = state.ResourceCount()
		status.Outputs = state.OutputValues()
	} else if !os.IsNotExist(err) {
		o.logger.WithEnvironmentID(environmentID).WithError(err).Warn("failed to read state file")
	}

	if env.Status == StatusProvisioned && len(status.Outputs) == 0 && !status.WorkflowRunning {
		outputs, err := o.tf.Output(ctx, env.ModulePath, env.CorrelationID)
		if err != nil {
			return nil, NewExecutionError("failed to read outputs", err).
				WithTarget(environmentID).
				WithOperation("output")
		}
		status.Outputs = outputs
	}

	return status, nil
}

// DeleteEnvironment destroys the environment's infrastructure and, on
// success, removes the record (cascading to its resources). On destroy
// failure the record is kept in StatusFailed with the error text.
func (o *Orchestrator) DeleteEnvironment(ctx context.Context, environmentID string, correlationID string) error {
	rec, err := o.loadEnvironment(ctx, environmentID)
	if err != nil {
		return err
	}

	status := Status(rec.Status)
	if !status.CanStartWorkflow() {
		return NewConflictError(
			fmt.Sprintf("environment is %s; wait for the current workflow to finish", status),
			nil,
		).WithTarget(environmentID).WithOperation("destroy")
	}

	if !o.registry.TryAcquire(environmentID, "destroy", nil) {
		return NewConflictError("a workflow is already running for this environment", nil).
			WithTarget(environmentID).WithOperation("destroy")
	}
	defer o.registry.Release(environmentID)

	env, err := environmentFromRecord(rec)
	if err != nil {
		return err
	}

	log := o.logger.
		WithEnvironmentID(environmentID).
		WithCorrelationID(correlationID)
	log.Info("destroying environment")

	if o.metrics != nil {
		o.metrics.RecordWorkflowStarted("environment", "destroy")
	}
	start := time.Now()
	destroyErr := o.destroyEnvironment(ctx, env, correlationID)
	if o.metrics != nil {
		outcome := "succeeded"
		if destroyErr != nil {
			outcome = "failed"
		}
		o.metrics.RecordWorkflowCompleted("environment", "destroy", outcome, time.Since(start))
	}
	if destroyErr != nil {
		return destroyErr
	}

	if err := o.store.DeleteEnvironment(ctx, environmentID); err != nil {
		return err
	}
	log.Info("environment destroyed and removed")
	return nil
}

// destroyEnvironment re-initializes for backend reachability, resolves
// variables and runs destroy.
func (o *Orchestrator) destroyEnvironment(ctx context.Context, env *Environment, correlationID string) error {
	o.setEnvironmentStatus(ctx, env.ID, StatusDestroying, nil)

	initResult, err := o.tf.Init(ctx, env.ModulePath, terraform.InitOptions{
		BackendConfig: o.backendConfig(env.ID),
		CorrelationID: correlationID,
	})
	if err != nil {
		o.failEnvironment(ctx, env.ID, err.Error())
		return NewConfigurationError("failed to initialize before destroy", err).
			WithTarget(env.ID).WithOperation("destroy")
	}
	if !initResult.Success {
		o.failEnvironment(ctx, env.ID, initResult.Error)
		return NewExecutionError(initResult.Error, nil).
			WithTarget(env.ID).WithOperation("destroy")
	}

	variables, err := o.resolveEnvironmentVariables(ctx, env, nil)
	if err != nil {
		o.failEnvironment(ctx, env.ID, err.Error())
		return err
	}

	result, err := o.tf.Destroy(ctx, env.ModulePath, terraform.DestroyOptions{
		Variables:     variables,
		AutoApprove:   true,
		CorrelationID: correlationID,
	})
	if err != nil {
		o.failEnvironment(ctx, env.ID, err.Error())
		return NewConfigurationError("failed to run destroy", err).
			WithTarget(env.ID).WithOperation("destroy")
	}
	if !result.Success {
		o.failEnvironment(ctx, env.ID, result.Error)
		return NewExecutionError(result.Error, nil).
			WithTarget(env.ID).WithOperation("destroy")
	}

	return nil
}

// initEnvironment runs the init step and persists the transition.
func (o *Orchestrator) initEnvironment(ctx context.Context, env *Environment, force bool, correlationID string) (*terraform.Result, error) {
	o.setEnvironmentStatus(ctx, env.ID, StatusInitializing, nil)

	result, err := o.tf.Init(ctx, env.ModulePath, terraform.InitOptions{
		BackendConfig:       o.backendConfig(env.ID),
		ForceModuleDownload: force,
		CorrelationID:       correlationID,
	})
	if err != nil {
		o.failEnvironment(ctx, env.ID, err.Error())
		return nil, NewConfigurationError("failed to run init", err).
			WithTarget(env.ID).WithOperation("init")
	}
	if !result.Success {
		o.failEnvironment(ctx, env.ID, result.Error)
		return result, NewExecutionError(result.Error, nil).
			WithTarget(env.ID).WithOperation("init")
	}

	if err := o.store.UpdateEnvironmentExecutionID(ctx, env.ID, "init", result.ExecutionID); err != nil {
		o.logger.WithEnvironmentID(env.ID).WithError(err).Error("failed to record init execution id")
	}
	env.InitExecutionID = result.ExecutionID
	o.setEnvironmentStatus(ctx, env.ID, StatusPending, nil)

	return result, nil
}

// planEnvironment runs the plan step and persists the transition. The
// plan execution id is recorded only on success.
func (o *Orchestrator) planEnvironment(ctx context.Context, env *Environment, overrides map[string]interface{}, correlationID string) (*terraform.Result, error) {
	variables, err := o.resolveEnvironmentVariables(ctx, env, overrides)
	if err != nil {
		o.failEnvironment(ctx, env.ID, err.Error())
		return nil, err
	}

	o.setEnvironmentStatus(ctx, env.ID, StatusPlanning, nil)

	result, err := o.tf.Plan(ctx, env.ModulePath, variables, correlationID)
	if err != nil {
		o.failEnvironment(ctx, env.ID, err.Error())
		return nil, NewConfigurationError("failed to run plan", err).
			WithTarget(env.ID).WithOperation("plan")
	}
	if !result.Success {
		o.failEnvironment(ctx, env.ID, result.Error)
		return result, NewExecutionError(result.Error, nil).
			WithTarget(env.ID).WithOperation("plan")
	}

	if err := o.store.UpdateEnvironmentExecutionID(ctx, env.ID, "plan", result.ExecutionID); err != nil {
		o.logger.WithEnvironmentID(env.ID).WithError(err).Error("failed to record plan execution id")
	}
	env.PlanExecutionID = result.ExecutionID
	o.setEnvironmentStatus(ctx, env.ID, StatusPending, nil)

	return result, nil
}

// applyEnvironment runs the apply step against a plan artifact and
// persists the transition.
func (o *Orchestrator) applyEnvironment(ctx context.Context, env *Environment, planID, correlationID string) (*terraform.Result, error) {
	o.setEnvironmentStatus(ctx, env.ID, StatusApplying, nil)

	result, err := o.tf.Apply(ctx, env.ModulePath, terraform.ApplyOptions{
		PlanID:        planID,
		AutoApprove:   true,
		CorrelationID: correlationID,
	})
	if err != nil {
		o.failEnvironment(ctx, env.ID, err.Error())
		return nil, NewConfigurationError("failed to run apply", err).
			WithTarget(env.ID).WithOperation("apply")
	}
	if !result.Success {
		o.failEnvironment(ctx, env.ID, result.Error)
		return result, NewExecutionError(result.Error, nil).
			WithTarget(env.ID).WithOperation("apply")
	}

	if err := o.store.UpdateEnvironmentExecutionID(ctx, env.ID, "apply", result.ExecutionID); err != nil {
		o.logger.WithEnvironmentID(env.ID).WithError(err).Error("failed to record apply execution id")
	}
	env.ApplyExecutionID = result.ExecutionID
	o.setEnvironmentStatus(ctx, env.ID, StatusProvisioned, nil)

	return result, nil
}

// resolveEnvironmentVariables builds the full variable set: globals,
// nested resource definitions, and per-call overrides last.
func (o *Orchestrator) resolveEnvironmentVariables(ctx context.Context, env *Environment, overrides map[string]interface{}) (map[string]interface{}, error) {
	recs, err := o.store.ListResources(ctx, stores.ResourceFilter{EnvironmentID: &env.ID}, 1000, 0)
	if err != nil {
		return nil, err
	}

	resourceVars := make(map[string]map[string]interface{}, len(recs))
	for _, rec := range recs {
		variables, err := decodeVariables(rec.Variables)
		if err != nil {
			return nil, NewBadRequestError(
				fmt.Sprintf("resource %q has invalid stored variables", rec.Name), err)
		}
		resourceVars[rec.Name] = variables
	}

	return terraform.MergeVariables(env.Variables, resourceVars, overrides), nil
}

// backendConfig keys the environment's state file by its id.
func (o *Orchestrator) backendConfig(environmentID string) map[string]string {
	return map[string]string{
		"path": terraform.StateFileName(environmentID),
	}
}

// claimEnvironment loads the environment and takes the single-flight
// claim for a direct, awaited operation.
func (o *Orchestrator) claimEnvironment(ctx context.Context, environmentID, operation string) (*Environment, func(), error) {
	rec, err := o.loadEnvironment(ctx, environmentID)
	if err != nil {
		return nil, nil, err
	}

	if !o.registry.TryAcquire(environmentID, operation, nil) {
		return nil, nil, NewConflictError("a workflow is already running for this environment", nil).
			WithTarget(environmentID).WithOperation(operation)
	}

	env, err := environmentFromRecord(rec)
	if err != nil {
		o.registry.Release(environmentID)
		return nil, nil, err
	}

	return env, func() { o.registry.Release(environmentID) }, nil
}

// loadEnvironment fetches the record, mapping missing rows to the
// domain error.
func (o *Orchestrator) loadEnvironment(ctx context.Context, id string) (*stores.Environment, error) {
	rec, err := o.store.GetEnvironment(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("environment %s does not exist", id), err).
				WithTarget(id)
		}
		return nil, err
	}
	return rec, nil
}

// setEnvironmentStatus persists a status transition. Failures are
// logged, not returned: the workflow must carry on to its own
// terminal write.
func (o *Orchestrator) setEnvironmentStatus(ctx context.Context, id string, status Status, errMsg *string) {
	if err := o.store.UpdateEnvironmentStatus(ctx, id, string(status), errMsg); err != nil {
		o.logger.WithEnvironmentID(id).WithError(err).Errorf("failed to persist status %s", status)
	}
}

// failEnvironment forces the failed status with the error text, using
// a detached context so cancellation cannot lose the terminal write.
func (o *Orchestrator) failEnvironment(ctx context.Context, id, message string) {
	o.setEnvironmentStatus(context.WithoutCancel(ctx), id, StatusFailed, &message)
}
