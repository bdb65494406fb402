package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateEnvironment creates a new environment record
func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *Environment) error {
	query := `
		INSERT INTO environments (
			id, name, description, module_path, status, variables, auto_apply,
			correlation_id, error_message, init_execution_id, plan_execution_id,
			apply_execution_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		env.ID,
		env.Name,
		env.Description,
		env.ModulePath,
		env.Status,
		env.Variables,
		env.AutoApply,
		env.CorrelationID,
		env.ErrorMessage,
		env.InitExecutionID,
		env.PlanExecutionID,
		env.ApplyExecutionID,
		env.CreatedAt,
		env.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("environment name %q already exists: %w", env.Name, ErrConflict)
		}
		return fmt.Errorf("failed to create environment: %w", err)
	}

	return nil
}

const environmentColumns = `id, name, description, module_path, status, variables, auto_apply,
		correlation_id, error_message, init_execution_id, plan_execution_id,
		apply_execution_id, created_at, updated_at`

func scanEnvironment(row interface{ Scan(...interface{}) error }) (*Environment, error) {
	env := &Environment{}
	err := row.Scan(
		&env.ID,
		&env.Name,
		&env.Description,
		&env.ModulePath,
		&env.Status,
		&env.Variables,
		&env.AutoApply,
		&env.CorrelationID,
		&env.ErrorMessage,
		&env.InitExecutionID,
		&env.PlanExecutionID,
		&env.ApplyExecutionID,
		&env.CreatedAt,
		&env.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// GetEnvironment retrieves an environment by ID
func (s *SQLiteStore) GetEnvironment(ctx context.Context, id string) (*Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE id = ?`

	env, err := scanEnvironment(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}

	return env, nil
}

// GetEnvironmentByName retrieves an environment by its unique name
func (s *SQLiteStore) GetEnvironmentByName(ctx context.Context, name string) (*Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE name = ?`

	env, err := scanEnvironment(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("environment %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment by name: %w", err)
	}

	return env, nil
}

// ListEnvironments lists environments with pagination
func (s *SQLiteStore) ListEnvironments(ctx context.Context, limit, offset int) ([]*Environment, error) {
	query := `
		SELECT ` + environmentColumns + `
		FROM environments
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	envs := []*Environment{}
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating environments: %w", err)
	}

	return envs, nil
}

// UpdateEnvironmentStatus updates the status of an environment
func (s *SQLiteStore) UpdateEnvironmentStatus(ctx context.Context, id string, status string, errMsg *string) error {
	query := `
		UPDATE environments
		SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update environment status: %w", err)
	}

	return requireRow(result, "environment", id)
}

// UpdateEnvironmentExecutionID records the execution id of the latest
// init, plan or apply run.
func (s *SQLiteStore) UpdateEnvironmentExecutionID(ctx context.Context, id, operation, executionID string) error {
	column, err := executionColumn(operation)
	if err != nil {
		return err
	}

	query := `UPDATE environments SET ` + column + ` = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, executionID, id)
	if err != nil {
		return fmt.Errorf("failed to update environment execution id: %w", err)
	}

	return requireRow(result, "environment", id)
}

// UpdateEnvironmentVariables replaces the stored variable blob.
func (s *SQLiteStore) UpdateEnvironmentVariables(ctx context.Context, id, variables string) error {
	query := `UPDATE environments SET variables = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, variables, id)
	if err != nil {
		return fmt.Errorf("failed to update environment variables: %w", err)
	}

	return requireRow(result, "environment", id)
}

// DeleteEnvironment deletes an environment by ID. Resources belonging
// to the environment are removed by the cascade.
func (s *SQLiteStore) DeleteEnvironment(ctx context.Context, id string) error {
	query := `DELETE FROM environments WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}

	return requireRow(result, "environment", id)
}

// CreateResource creates a new resource record
func (s *SQLiteStore) CreateResource(ctx context.Context, res *Resource) error {
	query := `
		INSERT INTO resources (
			id, environment_id, name, resource_type, module_path, status,
			variables, auto_apply, correlation_id, error_message,
			init_execution_id, plan_execution_id, apply_execution_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		res.ID,
		res.EnvironmentID,
		res.Name,
		res.ResourceType,
		res.ModulePath,
		res.Status,
		res.Variables,
		res.AutoApply,
		res.CorrelationID,
		res.ErrorMessage,
		res.InitExecutionID,
		res.PlanExecutionID,
		res.ApplyExecutionID,
		res.CreatedAt,
		res.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("resource name %q already exists in environment %s: %w",
				res.Name, res.EnvironmentID, ErrConflict)
		}
		return fmt.Errorf("failed to create resource: %w", err)
	}

	return nil
}

const resourceColumns = `id, environment_id, name, resource_type, module_path, status,
		variables, auto_apply, correlation_id, error_message,
		init_execution_id, plan_execution_id, apply_execution_id,
		created_at, updated_at`

func scanResource(row interface{ Scan(...interface{}) error }) (*Resource, error) {
	res := &Resource{}
	err := row.Scan(
		&res.ID,
		&res.EnvironmentID,
		&res.Name,
		&res.ResourceType,
		&res.ModulePath,
		&res.Status,
		&res.Variables,
		&res.AutoApply,
		&res.CorrelationID,
		&res.ErrorMessage,
		&res.InitExecutionID,
		&res.PlanExecutionID,
		&res.ApplyExecutionID,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetResource retrieves a resource by ID
func (s *SQLiteStore) GetResource(ctx context.Context, id string) (*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = ?`

	res, err := scanResource(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	return res, nil
}

// GetResourceByName retrieves a resource by environment and name
func (s *SQLiteStore) GetResourceByName(ctx context.Context, environmentID, name string) (*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE environment_id = ? AND name = ?`

	res, err := scanResource(s.db.QueryRowContext(ctx, query, environmentID, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource %q in environment %s: %w", name, environmentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource by name: %w", err)
	}

	return res, nil
}

// ListResources lists resources matching the filter with pagination
func (s *SQLiteStore) ListResources(ctx context.Context, filter ResourceFilter, limit, offset int) ([]*Resource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE (? IS NULL OR environment_id = ?)
		  AND (? IS NULL OR status = ?)
		ORDER BY created_at ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.EnvironmentID, filter.EnvironmentID,
		filter.Status, filter.Status,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []*Resource{}
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

// UpdateResourceStatus updates the status of a resource
func (s *SQLiteStore) UpdateResourceStatus(ctx context.Context, id string, status string, errMsg *string) error {
	query := `
		UPDATE resources
		SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update resource status: %w", err)
	}

	return requireRow(result, "resource", id)
}

// UpdateResourceExecutionID records the execution id of the latest
// init, plan or apply run.
func (s *SQLiteStore) UpdateResourceExecutionID(ctx context.Context, id, operation, executionID string) error {
	column, err := executionColumn(operation)
	if err != nil {
		return err
	}

	query := `UPDATE resources SET ` + column + ` = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, executionID, id)
	if err != nil {
		return fmt.Errorf("failed to update resource execution id: %w", err)
	}

	return requireRow(result, "resource", id)
}

// DeleteResource deletes a resource by ID
func (s *SQLiteStore) DeleteResource(ctx context.Context, id string) error {
	query := `DELETE FROM resources WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}

	return requireRow(result, "resource", id)
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// executionColumn maps an operation name to its execution id column.
// The whitelist keeps the column interpolation safe.
func executionColumn(operation string) (string, error) {
	switch operation {
	case "init":
		return "init_execution_id", nil
	case "plan":
		return "plan_execution_id", nil
	case "apply":
		return "apply_execution_id", nil
	default:
		return "", fmt.Errorf("unknown execution operation: %s", operation)
	}
}

// requireRow converts a zero-row update or delete into ErrNotFound.
func requireRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
