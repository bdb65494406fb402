package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unifyops/provisioner/pkg/stores"
	"github.com/unifyops/provisioner/pkg/terraform"
)

// CreateResourceParams are the caller-supplied fields for a new
// resource. Resources are named variable bundles contributed to their
// environment's single apply; they never get their own backend.
type CreateResourceParams struct {
	EnvironmentID string                 `validate:"required"`
	Name          string                 `validate:"required,min=1,max=255"`
	ResourceType  string                 `validate:"max=255"`
	Variables     map[string]interface{} `validate:"-"`
	AutoApply     bool
	CorrelationID string
}

// ResourceListFilter narrows ListResources.
type ResourceListFilter struct {
	EnvironmentID string
	Status        Status
}

// CreateResource validates and persists a new resource. The owning
// environment must exist, and the name must be unique within it.
func (o *Orchestrator) CreateResource(ctx context.Context, params CreateResourceParams) (*Resource, error) {
	if err := o.validate.Struct(params); err != nil {
		return nil, NewBadRequestError("invalid resource parameters", err)
	}

	env, err := o.loadEnvironment(ctx, params.EnvironmentID)
	if err != nil {
		return nil, err
	}

	variables, err := encodeVariables(params.Variables)
	if err != nil {
		return nil, NewBadRequestError("invalid resource variables", err)
	}

	now := time.Now().UTC()
	rec := &stores.Resource{
		ID:            uuid.New().String(),
		EnvironmentID: env.ID,
		Name:          params.Name,
		ResourceType:  params.ResourceType,
		ModulePath:    env.ModulePath,
		Status:        string(StatusPending),
		Variables:     variables,
		AutoApply:     params.AutoApply,
		CorrelationID: strPtr(params.CorrelationID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := o.store.CreateResource(ctx, rec); err != nil {
		if errors.Is(err, stores.ErrConflict) {
			return nil, NewConflictError(
				fmt.Sprintf("resource name %q already exists in this environment", params.Name), err)
		}
		return nil, err
	}

	o.logger.
		WithEnvironmentID(env.ID).
		WithResourceID(rec.ID).
		WithCorrelationID(params.CorrelationID).
		Infof("created resource %q", params.Name)

	return resourceFromRecord(rec)
}

// GetResource returns the resource by id.
func (o *Orchestrator) GetResource(ctx context.Context, id string) (*Resource, error) {
	rec, err := o.loadResource(ctx, id)
	if err != nil {
		return nil, err
	}
	return resourceFromRecord(rec)
}

// ListResources returns resources matching the filter with pagination.
func (o *Orchestrator) ListResources(ctx context.Context, filter ResourceListFilter, limit, offset int) ([]*Resource, error) {
	if limit <= 0 {
		limit = 50
	}

	storeFilter := stores.ResourceFilter{}
	if filter.EnvironmentID != "" {
		storeFilter.EnvironmentID = &filter.EnvironmentID
	}
	if filter.Status != "" {
		status := string(filter.Status)
		storeFilter.Status = &status
	}

	recs, err := o.store.ListResources(ctx, storeFilter, limit, offset)
	if err != nil {
		return nil, err
	}
	resources := make([]*Resource, 0, len(recs))
	for _, rec := range recs {
		res, err := resourceFromRecord(rec)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, nil
}

// StartResourceProvisioning launches a provisioning workflow for a
// resource in a background goroutine. The workflow operates on the
// owning environment's working directory and backend, so the
// single-flight claim is taken on the environment: a resource workflow
// excludes any other workflow touching the same state.
func (o *Orchestrator) StartResourceProvisioning(ctx context.Context, resourceID string, opts ProvisionOptions) error {
	rec, err := o.loadResource(ctx, resourceID)
	if err != nil {
		return err
	}

	status := Status(rec.Status)
	if !status.CanStartWorkflow() {
		return NewConflictError(
			fmt.Sprintf("resource is %s; wait for the current workflow to finish", status),
			nil,
		).WithTarget(resourceID).WithOperation("provision")
	}

	envRec, err := o.loadEnvironment(ctx, rec.EnvironmentID)
	if err != nil {
		return err
	}

	workCtx, cancel := context.WithCancel(context.Background())
	if !o.registry.TryAcquire(envRec.ID, "resource-provision", cancel) {
		cancel()
		return NewConflictError("a workflow is already running against this environment's state", nil).
			WithTarget(resourceID).WithOperation("provision")
	}

	if o.metrics != nil {
		o.metrics.RecordWorkflowStarted("resource", "provision")
	}

	env, err := environmentFromRecord(envRec)
	if err != nil {
		o.registry.Release(envRec.ID)
		cancel()
		return err
	}
	res, err := resourceFromRecord(rec)
	if err != nil {
		o.registry.Release(envRec.ID)
		cancel()
		return err
	}

	log := o.logger.
		WithEnvironmentID(env.ID).
		WithResourceID(resourceID).
		WithCorrelationID(opts.CorrelationID)
	log.Info("starting resource provisioning workflow")

	go func() {
		start := time.Now()
		defer cancel()
		defer o.registry.Release(env.ID)

		err := o.provisionResource(workCtx, env, res, opts)

		if o.metrics != nil {
			outcome := "succeeded"
			if err != nil {
				outcome = "failed"
			}
			o.metrics.RecordWorkflowCompleted("resource", "provision", outcome, time.Since(start))
		}
		if err != nil {
			log.WithError(err).Error("resource provisioning workflow failed")
			return
		}
		log.Info("resource provisioning workflow finished")
	}()

	return nil
}

// provisionResource runs init, plan and (conditionally) apply against
// the environment's working directory, tracking progress on the
// resource row. The environment's init is reused when already
// recorded.
func (o *Orchestrator) provisionResource(ctx context.Context, env *Environment, res *Resource, opts ProvisionOptions) error {
	if env.InitExecutionID == "" || opts.ForceInit {
		o.setResourceStatus(ctx, res.ID, StatusInitializing, nil)

		result, err := o.tf.Init(ctx, env.ModulePath, terraform.InitOptions{
			BackendConfig:       o.backendConfig(env.ID),
			ForceModuleDownload: opts.ForceInit,
			CorrelationID:       opts.CorrelationID,
		})
		if err != nil {
			o.failResource(ctx, res.ID, err.Error())
			return NewConfigurationError("failed to run init", err).
				WithTarget(res.ID).WithOperation("init")
		}
		if !result.Success {
			o.failResource(ctx, res.ID, result.Error)
			return NewExecutionError(result.Error, nil).
				WithTarget(res.ID).WithOperation("init")
		}

		// The init belongs to the environment; record it on both rows.
		if err := o.store.UpdateEnvironmentExecutionID(ctx, env.ID, "init", result.ExecutionID); err != nil {
			o.logger.WithEnvironmentID(env.ID).WithError(err).Error("failed to record init execution id")
		}
		if err := o.store.UpdateResourceExecutionID(ctx, res.ID, "init", result.ExecutionID); err != nil {
			o.logger.WithResourceID(res.ID).WithError(err).Error("failed to record init execution id")
		}
		env.InitExecutionID = result.ExecutionID
		o.setResourceStatus(ctx, res.ID, StatusPending, nil)
	}

	variables, err := o.resolveEnvironmentVariables(ctx, env, opts.Overrides)
	if err != nil {
		o.failResource(ctx, res.ID, err.Error())
		return err
	}

	o.setResourceStatus(ctx, res.ID, StatusPlanning, nil)

	planResult, err := o.tf.Plan(ctx, env.ModulePath, variables, opts.CorrelationID)
	if err != nil {
		o.failResource(ctx, res.ID, err.Error())
		return NewConfigurationError("failed to run plan", err).
			WithTarget(res.ID).WithOperation("plan")
	}
	if !planResult.Success {
		o.failResource(ctx, res.ID, planResult.Error)
		return NewExecutionError(planResult.Error, nil).
			WithTarget(res.ID).WithOperation("plan")
	}

	if err := o.store.UpdateResourceExecutionID(ctx, res.ID, "plan", planResult.ExecutionID); err != nil {
		o.logger.WithResourceID(res.ID).WithError(err).Error("failed to record plan execution id")
	}
	o.setResourceStatus(ctx, res.ID, StatusPending, nil)

	if !res.AutoApply {
		return nil
	}
	if !planResult.HasChanges {
		o.logger.WithResourceID(res.ID).Info("plan reports no changes; skipping apply")
		return nil
	}

	o.setResourceStatus(ctx, res.ID, StatusApplying, nil)

	applyResult, err := o.tf.Apply(ctx, env.ModulePath, terraform.ApplyOptions{
		PlanID:        planResult.PlanID,
		AutoApprove:   true,
		CorrelationID: opts.CorrelationID,
	})
	if err != nil {
		o.failResource(ctx, res.ID, err.Error())
		return NewConfigurationError("failed to run apply", err).
			WithTarget(res.ID).WithOperation("apply")
	}
	if !applyResult.Success {
		o.failResource(ctx, res.ID, applyResult.Error)
		return NewExecutionError(applyResult.Error, nil).
			WithTarget(res.ID).WithOperation("apply")
	}

	if err := o.store.UpdateResourceExecutionID(ctx, res.ID, "apply", applyResult.ExecutionID); err != nil {
		o.logger.WithResourceID(res.ID).WithError(err).Error("failed to record apply execution id")
	}
	o.setResourceStatus(ctx, res.ID, StatusProvisioned, nil)

	return nil
}

// DeleteResource removes the resource record. The underlying
// infrastructure change takes effect on the environment's next plan
// and apply, since resources are variable bundles rather than
// independently provisioned units. Deletion is rejected while a
// workflow holds the environment's state.
func (o *Orchestrator) DeleteResource(ctx context.Context, resourceID string, correlationID string) error {
	rec, err := o.loadResource(ctx, resourceID)
	if err != nil {
		return err
	}

	if Status(rec.Status).IsInFlight() || o.registry.IsRunning(rec.EnvironmentID) {
		return NewConflictError("a workflow is running against this environment's state", nil).
			WithTarget(resourceID).WithOperation("delete")
	}

	if err := o.store.DeleteResource(ctx, resourceID); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return NewNotFoundError(fmt.Sprintf("resource %s does not exist", resourceID), err).
				WithTarget(resourceID)
		}
		return err
	}

	o.logger.
		WithEnvironmentID(rec.EnvironmentID).
		WithResourceID(resourceID).
		WithCorrelationID(correlationID).
		Infof("deleted resource %q", rec.Name)

	return nil
}

// loadResource fetches the record, mapping missing rows to the domain
// error.
func (o *Orchestrator) loadResource(ctx context.Context, id string) (*stores.Resource, error) {
	rec, err := o.store.GetResource(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("resource %s does not exist", id), err).
				WithTarget(id)
		}
		return nil, err
	}
	return rec, nil
}

// setResourceStatus persists a status transition, logging failures.
func (o *Orchestrator) setResourceStatus(ctx context.Context, id string, status Status, errMsg *string) {
	if err := o.store.UpdateResourceStatus(ctx, id, string(status), errMsg); err != nil {
		o.logger.WithResourceID(id).WithError(err).Errorf("failed to persist status %s", status)
	}
}

// failResource forces the failed status with the error text on a
// detached context.
func (o *Orchestrator) failResource(ctx context.Context, id, message string) {
	o.setResourceStatus(context.WithoutCancel(ctx), id, StatusFailed, &message)
}
