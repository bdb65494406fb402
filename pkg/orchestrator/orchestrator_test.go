package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unifyops/provisioner/pkg/stores"
	"github.com/unifyops/provisioner/pkg/telemetry"
	"github.com/unifyops/provisioner/pkg/terraform"
)

// mockRunner is a scriptable TerraformRunner that records calls.
type mockRunner struct {
	mu    sync.Mutex
	calls []string

	initResult    *terraform.Result
	initErr       error
	planResult    *terraform.Result
	planErr       error
	applyResult   *terraform.Result
	applyErr      error
	destroyResult *terraform.Result
	destroyErr    error
	outputs       map[string]interface{}
	outputErr     error

	lastPlanVariables map[string]interface{}
	lastApplyPlanID   string

	rootDir string
}

func (m *mockRunner) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockRunner) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockRunner) countCalls(name string) int {
	count := 0
	for _, c := range m.callList() {
		if c == name {
			count++
		}
	}
	return count
}

func (m *mockRunner) Init(ctx context.Context, modulePath string, opts terraform.InitOptions) (*terraform.Result, error) {
	m.record("init")
	return m.initResult, m.initErr
}

func (m *mockRunner) Plan(ctx context.Context, modulePath string, variables map[string]interface{}, correlationID string) (*terraform.Result, error) {
	m.record("plan")
	m.mu.Lock()
	m.lastPlanVariables = variables
	m.mu.Unlock()
	return m.planResult, m.planErr
}

func (m *mockRunner) Apply(ctx context.Context, modulePath string, opts terraform.ApplyOptions) (*terraform.Result, error) {
	m.record("apply")
	m.mu.Lock()
	m.lastApplyPlanID = opts.PlanID
	m.mu.Unlock()
	return m.applyResult, m.applyErr
}

func (m *mockRunner) Destroy(ctx context.Context, modulePath string, opts terraform.DestroyOptions) (*terraform.Result, error) {
	m.record("destroy")
	return m.destroyResult, m.destroyErr
}

func (m *mockRunner) Output(ctx context.Context, modulePath, correlationID string) (map[string]interface{}, error) {
	m.record("output")
	return m.outputs, m.outputErr
}

func (m *mockRunner) WorkingDir(modulePath string) string {
	return filepath.Join(m.rootDir, modulePath)
}

func successResult(op terraform.Operation, executionID string) *terraform.Result {
	result := &terraform.Result{
		Operation:   op,
		Success:     true,
		ExecutionID: executionID,
	}
	if op == terraform.OperationPlan {
		result.PlanID = executionID
		result.HasChanges = true
	}
	return result
}

func failedResult(op terraform.Operation, executionID, errText string) *terraform.Result {
	return &terraform.Result{
		Operation:   op,
		Success:     false,
		Error:       errText,
		ExecutionID: executionID,
	}
}

// happyRunner scripts init, plan (with changes), apply and destroy to
// succeed.
func happyRunner(t *testing.T) *mockRunner {
	t.Helper()
	return &mockRunner{
		initResult:    successResult(terraform.OperationInit, "exec-init"),
		planResult:    successResult(terraform.OperationPlan, "exec-plan"),
		applyResult:   successResult(terraform.OperationApply, "exec-apply"),
		destroyResult: successResult(terraform.OperationDestroy, "exec-destroy"),
		rootDir:       t.TempDir(),
	}
}

func setupOrchestrator(t *testing.T, runner *mockRunner) (*Orchestrator, *stores.SQLiteStore) {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "fatal", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	return New(store, runner, logger), store
}

func createTestEnvironment(t *testing.T, o *Orchestrator, autoApply bool) *Environment {
	t.Helper()

	env, err := o.CreateEnvironment(context.Background(), CreateEnvironmentParams{
		Name:       "test-" + t.Name(),
		ModulePath: "aws/vpc",
		Variables:  map[string]interface{}{"region": "eu-west-1"},
		AutoApply:  autoApply,
	})
	if err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}
	return env
}

// writeTestStateFile materializes a state file where GetStatus expects
// to find it.
func writeTestStateFile(t *testing.T, workingDir, environmentID, contents string) {
	t.Helper()

	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		t.Fatalf("failed to create working dir: %v", err)
	}
	path := filepath.Join(workingDir, terraform.StateFileName(environmentID))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write state file: %v", err)
	}
}

// waitForWorkflow blocks until the target's workflow finishes.
func waitForWorkflow(t *testing.T, o *Orchestrator, targetID string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Registry().Wait(ctx, targetID); err != nil {
		t.Fatalf("workflow did not finish: %v", err)
	}
}

func TestProvisionAutoApply(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	if err := o.StartProvisioning(ctx, env.ID, ProvisionOptions{}); err != nil {
		t.Fatalf("failed to start provisioning: %v", err)
	}
	waitForWorkflow(t, o, env.ID)

	final, err := o.GetEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to get environment: %v", err)
	}
	if final.Status != StatusProvisioned {
		t.Errorf("expected status %s, got %s", StatusProvisioned, final.Status)
	}
	if final.InitExecutionID != "exec-init" {
		t.Errorf("expected init execution id exec-init, got %q", final.InitExecutionID)
	}
	if final.PlanExecutionID != "exec-plan" {
		t.Errorf("expected plan execution id exec-plan, got %q", final.PlanExecutionID)
	}
	if final.ApplyExecutionID != "exec-apply" {
		t.Errorf("expected apply execution id exec-apply, got %q", final.ApplyExecutionID)
	}

	calls := runner.callList()
	want := []string{"init", "plan", "apply"}
	if len(calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, calls)
	}
	for i, call := range want {
		if calls[i] != call {
			t.Errorf("expected call %d to be %s, got %s", i, call, calls[i])
		}
	}
	if runner.lastApplyPlanID != "exec-plan" {
		t.Errorf("expected apply to reference plan exec-plan, got %q", runner.lastApplyPlanID)
	}
}

func TestProvisionWithoutAutoApply(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, false)

	ctx := context.Background()
	if err := o.StartProvisioning(ctx, env.ID, ProvisionOptions{}); err != nil {
		t.Fatalf("failed to start provisioning: %v", err)
	}
	waitForWorkflow(t, o, env.ID)

	final, err := o.GetEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to get environment: %v", err)
	}
	if final.Status != StatusPending {
		t.Errorf("expected status %s after plan without auto-apply, got %s", StatusPending, final.Status)
	}
	if final.ApplyExecutionID != "" {
		t.Errorf("expected no apply execution id, got %q", final.ApplyExecutionID)
	}
	if runner.countCalls("apply") != 0 {
		t.Errorf("expected no apply call, got %d", runner.countCalls("apply"))
	}
}

func TestProvisionNoChangesSkipsApply(t *testing.T) {
	runner := happyRunner(t)
	runner.planResult.HasChanges = false
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	if err := o.StartProvisioning(ctx, env.ID, ProvisionOptions{}); err != nil {
		t.Fatalf("failed to start provisioning: %v", err)
	}
	waitForWorkflow(t, o, env.ID)

	if runner.countCalls("apply") != 0 {
		t.Errorf("expected apply to be skipped without changes, got %d calls", runner.countCalls("apply"))
	}
}

func TestProvisionPlanFailure(t *testing.T) {
	runner := happyRunner(t)
	runner.planResult = failedResult(terraform.OperationPlan, "exec-plan", "no configuration files")
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	if err := o.StartProvisioning(ctx, env.ID, ProvisionOptions{}); err != nil {
		t.Fatalf("failed to start provisioning: %v", err)
	}
	waitForWorkflow(t, o, env.ID)

	final, err := o.GetEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to get environment: %v", err)
	}
	if final.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, final.Status)
	}
	if !strings.Contains(final.ErrorMessage, "no configuration files") {
		t.Errorf("expected error message to contain plan error, got %q", final.ErrorMessage)
	}
	if final.PlanExecutionID != "" {
		t.Errorf("expected no plan execution id after failure, got %q", final.PlanExecutionID)
	}
	if runner.countCalls("apply") != 0 {
		t.Errorf("expected no apply call after plan failure")
	}
}

func TestDeleteEnvironmentDestroyFailure(t *testing.T) {
	runner := happyRunner(t)
	runner.destroyResult = failedResult(terraform.OperationDestroy, "exec-destroy", "resource still in use")
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	err := o.DeleteEnvironment(ctx, env.ID, "")
	if !IsExecutionFailure(err) {
		t.Fatalf("expected execution failure, got %v", err)
	}

	// The record survives a failed destroy.
	final, err := o.GetEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("expected environment to still exist: %v", err)
	}
	if final.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, final.Status)
	}
	if !strings.Contains(final.ErrorMessage, "resource still in use") {
		t.Errorf("expected destroy error to be recorded, got %q", final.ErrorMessage)
	}
}

func TestDeleteEnvironmentCascades(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	res, err := o.CreateResource(ctx, CreateResourceParams{
		EnvironmentID: env.ID,
		Name:          "bucket",
		Variables:     map[string]interface{}{"acl": "private"},
	})
	if err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}

	if err := o.DeleteEnvironment(ctx, env.ID, ""); err != nil {
		t.Fatalf("failed to delete environment: %v", err)
	}

	if _, err := o.GetEnvironment(ctx, env.ID); !IsNotFound(err) {
		t.Errorf("expected environment to be gone, got %v", err)
	}
	if _, err := o.GetResource(ctx, res.ID); !IsNotFound(err) {
		t.Errorf("expected resource to be cascade-deleted, got %v", err)
	}
	if runner.countCalls("destroy") != 1 {
		t.Errorf("expected exactly one destroy call, got %d", runner.countCalls("destroy"))
	}
}

func TestRunInitIdempotent(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	first, err := o.RunInit(ctx, env.ID, false, "")
	if err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if !first.Success {
		t.Fatal("expected first init to succeed")
	}

	second, err := o.RunInit(ctx, env.ID, false, "")
	if err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if !second.Success {
		t.Fatal("expected second init to report success")
	}
	if second.ExecutionID != "exec-init" {
		t.Errorf("expected recorded execution id, got %q", second.ExecutionID)
	}

	if got := runner.countCalls("init"); got != 1 {
		t.Errorf("expected exactly one init subprocess call, got %d", got)
	}

	// Force re-runs the subprocess.
	if _, err := o.RunInit(ctx, env.ID, true, ""); err != nil {
		t.Fatalf("forced init failed: %v", err)
	}
	if got := runner.countCalls("init"); got != 2 {
		t.Errorf("expected forced init to run the subprocess, got %d calls", got)
	}
}

func TestRunApplyPlansFirst(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	result, err := o.RunApply(ctx, env.ID, ApplyRunOptions{})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !result.Success {
		t.Fatal("expected apply to succeed")
	}

	calls := runner.callList()
	planIdx, applyIdx := -1, -1
	for i, call := range calls {
		switch call {
		case "plan":
			planIdx = i
		case "apply":
			applyIdx = i
		}
	}
	if planIdx == -1 || applyIdx == -1 || planIdx > applyIdx {
		t.Errorf("expected transparent plan before apply, got calls %v", calls)
	}
	if runner.lastApplyPlanID != "exec-plan" {
		t.Errorf("expected apply to use the fresh plan id, got %q", runner.lastApplyPlanID)
	}

	final, err := o.GetEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to get environment: %v", err)
	}
	if final.Status != StatusProvisioned {
		t.Errorf("expected status %s, got %s", StatusProvisioned, final.Status)
	}
}

func TestRunApplyUsesRecordedPlan(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, false)

	ctx := context.Background()
	if _, err := o.RunPlan(ctx, env.ID, ProvisionOptions{}); err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	planCalls := runner.countCalls("plan")

	if _, err := o.RunApply(ctx, env.ID, ApplyRunOptions{}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if runner.countCalls("plan") != planCalls {
		t.Errorf("expected apply to reuse the recorded plan, but plan ran again")
	}
	if runner.lastApplyPlanID != "exec-plan" {
		t.Errorf("expected apply to reference recorded plan id, got %q", runner.lastApplyPlanID)
	}
}

func TestStartProvisioningSingleFlight(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	// Simulate an in-flight workflow holding the claim.
	if !o.Registry().TryAcquire(env.ID, "provision", nil) {
		t.Fatal("failed to acquire registry claim")
	}
	defer o.Registry().Release(env.ID)

	err := o.StartProvisioning(context.Background(), env.ID, ProvisionOptions{})
	if !IsConflict(err) {
		t.Errorf("expected conflict for concurrent start, got %v", err)
	}
	if runner.countCalls("init") != 0 {
		t.Errorf("expected no subprocess while claim is held")
	}
}

func TestStartProvisioningStatusGate(t *testing.T) {
	runner := happyRunner(t)
	o, store := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	if err := store.UpdateEnvironmentStatus(ctx, env.ID, string(StatusApplying), nil); err != nil {
		t.Fatalf("failed to force status: %v", err)
	}

	err := o.StartProvisioning(ctx, env.ID, ProvisionOptions{})
	if !IsConflict(err) {
		t.Errorf("expected conflict for in-flight status, got %v", err)
	}
}

func TestStartProvisioningNotFound(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)

	err := o.StartProvisioning(context.Background(), "missing", ProvisionOptions{})
	if !IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestCreateEnvironmentValidation(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)

	_, err := o.CreateEnvironment(context.Background(), CreateEnvironmentParams{
		Name: "missing-module-path",
	})
	if !IsBadRequest(err) {
		t.Errorf("expected bad request for missing module path, got %v", err)
	}
}

func TestCreateResourceRequiresEnvironment(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)

	_, err := o.CreateResource(context.Background(), CreateResourceParams{
		EnvironmentID: "missing",
		Name:          "bucket",
	})
	if !IsNotFound(err) {
		t.Errorf("expected not-found for missing environment, got %v", err)
	}
}

func TestCreateResourceDuplicateName(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	if _, err := o.CreateResource(ctx, CreateResourceParams{
		EnvironmentID: env.ID,
		Name:          "bucket",
	}); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}

	_, err := o.CreateResource(ctx, CreateResourceParams{
		EnvironmentID: env.ID,
		Name:          "bucket",
	})
	if !IsConflict(err) {
		t.Errorf("expected conflict for duplicate name, got %v", err)
	}
}

func TestResourceProvisioningReusesEnvironmentInit(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	if _, err := o.RunInit(ctx, env.ID, false, ""); err != nil {
		t.Fatalf("environment init failed: %v", err)
	}
	initCalls := runner.countCalls("init")

	res, err := o.CreateResource(ctx, CreateResourceParams{
		EnvironmentID: env.ID,
		Name:          "bucket",
		Variables:     map[string]interface{}{"acl": "private"},
		AutoApply:     true,
	})
	if err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}

	if err := o.StartResourceProvisioning(ctx, res.ID, ProvisionOptions{}); err != nil {
		t.Fatalf("failed to start resource provisioning: %v", err)
	}
	waitForWorkflow(t, o, env.ID)

	if runner.countCalls("init") != initCalls {
		t.Errorf("expected resource workflow to reuse environment init")
	}

	final, err := o.GetResource(ctx, res.ID)
	if err != nil {
		t.Fatalf("failed to get resource: %v", err)
	}
	if final.Status != StatusProvisioned {
		t.Errorf("expected status %s, got %s", StatusProvisioned, final.Status)
	}
	if final.PlanExecutionID != "exec-plan" {
		t.Errorf("expected plan execution id on resource, got %q", final.PlanExecutionID)
	}
	if final.ApplyExecutionID != "exec-apply" {
		t.Errorf("expected apply execution id on resource, got %q", final.ApplyExecutionID)
	}
}

func TestPlanVariableMerging(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, false)

	ctx := context.Background()
	if _, err := o.CreateResource(ctx, CreateResourceParams{
		EnvironmentID: env.ID,
		Name:          "bucket",
		Variables:     map[string]interface{}{"acl": "private"},
	}); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}

	if _, err := o.RunPlan(ctx, env.ID, ProvisionOptions{
		Overrides: map[string]interface{}{"region": "us-east-1"},
	}); err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	vars := runner.lastPlanVariables
	if vars["region"] != "us-east-1" {
		t.Errorf("expected override to win, got %v", vars["region"])
	}

	defs, ok := vars[terraform.ResourceDefinitionsKey].(map[string]interface{})
	if !ok {
		t.Fatalf("expected resource_definitions map, got %T", vars[terraform.ResourceDefinitionsKey])
	}
	bucket, ok := defs["bucket"].(map[string]interface{})
	if !ok || bucket["acl"] != "private" {
		t.Errorf("expected bucket variables nested under resource_definitions, got %v", defs)
	}
}

func TestDeleteResourceBlockedWhileRunning(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	res, err := o.CreateResource(ctx, CreateResourceParams{
		EnvironmentID: env.ID,
		Name:          "bucket",
	})
	if err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}

	if !o.Registry().TryAcquire(env.ID, "provision", nil) {
		t.Fatal("failed to acquire registry claim")
	}
	defer o.Registry().Release(env.ID)

	if err := o.DeleteResource(ctx, res.ID, ""); !IsConflict(err) {
		t.Errorf("expected conflict while workflow holds the state, got %v", err)
	}
}

func TestGetStatusReadsStateFile(t *testing.T) {
	runner := happyRunner(t)
	o, _ := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	workingDir := runner.WorkingDir(env.ModulePath)
	writeTestStateFile(t, workingDir, env.ID, `{
		"version": 4,
		"terraform_version": "1.5.0",
		"serial": 3,
		"lineage": "abc",
		"outputs": {"vpc_id": {"value": "vpc-123", "type": "string"}},
		"resources": [{}, {}]
	}`)

	status, err := o.GetStatus(context.Background(), env.ID)
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if status.StateResourceCount != 2 {
		t.Errorf("expected 2 state resources, got %d", status.StateResourceCount)
	}
	if status.Outputs["vpc_id"] != "vpc-123" {
		t.Errorf("expected vpc_id output, got %v", status.Outputs)
	}
	if status.WorkflowRunning {
		t.Error("expected no running workflow")
	}
}

func TestGetStatusOutputFallback(t *testing.T) {
	runner := happyRunner(t)
	runner.outputs = map[string]interface{}{"vpc_id": "vpc-456"}
	o, store := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	if err := store.UpdateEnvironmentStatus(ctx, env.ID, string(StatusProvisioned), nil); err != nil {
		t.Fatalf("failed to force status: %v", err)
	}

	status, err := o.GetStatus(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if status.Outputs["vpc_id"] != "vpc-456" {
		t.Errorf("expected output fallback value, got %v", status.Outputs)
	}
	if runner.countCalls("output") != 1 {
		t.Errorf("expected one output call, got %d", runner.countCalls("output"))
	}
}

func TestGetStatusOutputFallbackFailure(t *testing.T) {
	runner := happyRunner(t)
	runner.outputErr = errors.New("failed to get outputs: state lock held")
	o, store := setupOrchestrator(t, runner)
	env := createTestEnvironment(t, o, true)

	ctx := context.Background()
	if err := store.UpdateEnvironmentStatus(ctx, env.ID, string(StatusProvisioned), nil); err != nil {
		t.Fatalf("failed to force status: %v", err)
	}

	_, err := o.GetStatus(ctx, env.ID)
	if err == nil {
		t.Fatal("expected a failing output fallback to surface an error")
	}
	if !IsExecutionFailure(err) {
		t.Errorf("expected an execution failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "state lock held") {
		t.Errorf("expected the underlying output error in the chain, got %v", err)
	}
}
