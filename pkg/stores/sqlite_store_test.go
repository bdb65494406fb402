package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
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

	return store
}

func testEnvironment(id, name string) *Environment {
	now := time.Now()
	return &Environment{
		ID:         id,
		Name:       name,
		ModulePath: "environments/aws-dev",
		Status:     "pending",
		Variables:  `{"region":"eu-west-1"}`,
		AutoApply:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func testResource(id, envID, name string) *Resource {
	now := time.Now()
	return &Resource{
		ID:            id,
		EnvironmentID: envID,
		Name:          name,
		ResourceType:  "s3_bucket",
		ModulePath:    "resources/aws/s3",
		Status:        "pending",
		Variables:     `{"bucket_name":"artifacts"}`,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tables := []string{"environments", "resources"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestEnvironmentCRUD tests environment CRUD operations
func TestEnvironmentCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	env := testEnvironment("env-001", "aws-dev")
	if err := store.CreateEnvironment(ctx, env); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}

	retrieved, err := store.GetEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to get environment: %v", err)
	}
	if retrieved.Name != env.Name {
		t.Errorf("expected Name %s, got %s", env.Name, retrieved.Name)
	}
	if retrieved.ModulePath != env.ModulePath {
		t.Errorf("expected ModulePath %s, got %s", env.ModulePath, retrieved.ModulePath)
	}
	if !retrieved.AutoApply {
		t.Error("expected AutoApply to be true")
	}

	byName, err := store.GetEnvironmentByName(ctx, env.Name)
	if err != nil {
		t.Fatalf("failed to get environment by name: %v", err)
	}
	if byName.ID != env.ID {
		t.Errorf("expected ID %s, got %s", env.ID, byName.ID)
	}

	errMsg := "terraform apply failed"
	if err := store.UpdateEnvironmentStatus(ctx, env.ID, "failed", &errMsg); err != nil {
		t.Fatalf("failed to update environment status: %v", err)
	}

	updated, err := store.GetEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to get updated environment: %v", err)
	}
	if updated.Status != "failed" {
		t.Errorf("expected Status failed, got %s", updated.Status)
	}
	if updated.ErrorMessage == nil || *updated.ErrorMessage != errMsg {
		t.Errorf("expected ErrorMessage %q, got %v", errMsg, updated.ErrorMessage)
	}

	envs, err := store.ListEnvironments(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list environments: %v", err)
	}
	if len(envs) != 1 {
		t.Errorf("expected 1 environment, got %d", len(envs))
	}

	if err := store.DeleteEnvironment(ctx, env.ID); err != nil {
		t.Fatalf("failed to delete environment: %v", err)
	}

	if _, err := store.GetEnvironment(ctx, env.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// TestEnvironmentNameConflict tests the unique name constraint
func TestEnvironmentNameConflict(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.CreateEnvironment(ctx, testEnvironment("env-001", "aws-dev")); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}

	err := store.CreateEnvironment(ctx, testEnvironment("env-002", "aws-dev"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate name, got %v", err)
	}
}

// TestEnvironmentExecutionIDs tests execution id tracking
func TestEnvironmentExecutionIDs(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	env := testEnvironment("env-001", "aws-dev")
	if err := store.CreateEnvironment(ctx, env); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}

	for _, op := range []string{"init", "plan", "apply"} {
		if err := store.UpdateEnvironmentExecutionID(ctx, env.ID, op, "exec-"+op); err != nil {
			t.Fatalf("failed to update %s execution id: %v", op, err)
		}
	}

	updated, err := store.GetEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to get environment: %v", err)
	}
	if updated.InitExecutionID == nil || *updated.InitExecutionID != "exec-init" {
		t.Errorf("expected init execution id exec-init, got %v", updated.InitExecutionID)
	}
	if updated.PlanExecutionID == nil || *updated.PlanExecutionID != "exec-plan" {
		t.Errorf("expected plan execution id exec-plan, got %v", updated.PlanExecutionID)
	}
	if updated.ApplyExecutionID == nil || *updated.ApplyExecutionID != "exec-apply" {
		t.Errorf("expected apply execution id exec-apply, got %v", updated.ApplyExecutionID)
	}

	if err := store.UpdateEnvironmentExecutionID(ctx, env.ID, "bogus", "x"); err == nil {
		t.Error("expected error for unknown operation")
	}
}

// TestResourceCRUD tests resource CRUD operations
func TestResourceCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	env := testEnvironment("env-001", "aws-dev")
	if err := store.CreateEnvironment(ctx, env); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}

	res := testResource("res-001", env.ID, "artifact-bucket")
	if err := store.CreateResource(ctx, res); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}

	retrieved, err := store.GetResource(ctx, res.ID)
	if err != nil {
		t.Fatalf("failed to get resource: %v", err)
	}
	if retrieved.EnvironmentID != env.ID {
		t.Errorf("expected EnvironmentID %s, got %s", env.ID, retrieved.EnvironmentID)
	}
	if retrieved.ResourceType != "s3_bucket" {
		t.Errorf("expected ResourceType s3_bucket, got %s", retrieved.ResourceType)
	}

	byName, err := store.GetResourceByName(ctx, env.ID, res.Name)
	if err != nil {
		t.Fatalf("failed to get resource by name: %v", err)
	}
	if byName.ID != res.ID {
		t.Errorf("expected ID %s, got %s", res.ID, byName.ID)
	}

	if err := store.UpdateResourceStatus(ctx, res.ID, "provisioned", nil); err != nil {
		t.Fatalf("failed to update resource status: %v", err)
	}
	if err := store.UpdateResourceExecutionID(ctx, res.ID, "apply", "exec-123"); err != nil {
		t.Fatalf("failed to update resource execution id: %v", err)
	}

	updated, err := store.GetResource(ctx, res.ID)
	if err != nil {
		t.Fatalf("failed to get updated resource: %v", err)
	}
	if updated.Status != "provisioned" {
		t.Errorf("expected Status provisioned, got %s", updated.Status)
	}
	if updated.ApplyExecutionID == nil || *updated.ApplyExecutionID != "exec-123" {
		t.Errorf("expected apply execution id exec-123, got %v", updated.ApplyExecutionID)
	}

	if err := store.DeleteResource(ctx, res.ID); err != nil {
		t.Fatalf("failed to delete resource: %v", err)
	}
	if _, err := store.GetResource(ctx, res.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// TestResourceNameConflict tests per-environment name uniqueness
func TestResourceNameConflict(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	env1 := testEnvironment("env-001", "aws-dev")
	env2 := testEnvironment("env-002", "aws-prod")
	if err := store.CreateEnvironment(ctx, env1); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}
	if err := store.CreateEnvironment(ctx, env2); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}

	if err := store.CreateResource(ctx, testResource("res-001", env1.ID, "bucket")); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}

	// Same name in the same environment is rejected.
	err := store.CreateResource(ctx, testResource("res-002", env1.ID, "bucket"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate name, got %v", err)
	}

	// Same name in another environment is fine.
	if err := store.CreateResource(ctx, testResource("res-003", env2.ID, "bucket")); err != nil {
		t.Errorf("expected same name in other environment to succeed, got %v", err)
	}
}

// TestResourceCascadeDelete tests that deleting an environment removes
// its resources
func TestResourceCascadeDelete(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	env := testEnvironment("env-001", "aws-dev")
	if err := store.CreateEnvironment(ctx, env); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}
	if err := store.CreateResource(ctx, testResource("res-001", env.ID, "bucket")); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}

	if err := store.DeleteEnvironment(ctx, env.ID); err != nil {
		t.Fatalf("failed to delete environment: %v", err)
	}

	if _, err := store.GetResource(ctx, "res-001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected resource to be cascade-deleted, got %v", err)
	}
}

// TestListResourcesFilter tests resource list filters
func TestListResourcesFilter(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	env1 := testEnvironment("env-001", "aws-dev")
	env2 := testEnvironment("env-002", "aws-prod")
	if err := store.CreateEnvironment(ctx, env1); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}
	if err := store.CreateEnvironment(ctx, env2); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}

	res1 := testResource("res-001", env1.ID, "bucket")
	res2 := testResource("res-002", env1.ID, "queue")
	res2.Status = "provisioned"
	res3 := testResource("res-003", env2.ID, "bucket")
	for _, res := range []*Resource{res1, res2, res3} {
		if err := store.CreateResource(ctx, res); err != nil {
			t.Fatalf("failed to create resource %s: %v", res.ID, err)
		}
	}

	all, err := store.ListResources(ctx, ResourceFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 resources, got %d", len(all))
	}

	byEnv, err := store.ListResources(ctx, ResourceFilter{EnvironmentID: &env1.ID}, 10, 0)
	if err != nil {
		t.Fatalf("failed to list resources by environment: %v", err)
	}
	if len(byEnv) != 2 {
		t.Errorf("expected 2 resources in env-001, got %d", len(byEnv))
	}

	status := "provisioned"
	byStatus, err := store.ListResources(ctx, ResourceFilter{EnvironmentID: &env1.ID, Status: &status}, 10, 0)
	if err != nil {
		t.Fatalf("failed to list resources by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "res-002" {
		t.Errorf("expected only res-002, got %d resources", len(byStatus))
	}
}

// TestNotFoundUpdates tests that updates on missing rows fail
func TestNotFoundUpdates(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.UpdateEnvironmentStatus(ctx, "missing", "failed", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteEnvironment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateResourceStatus(ctx, "missing", "failed", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
