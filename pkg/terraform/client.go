package terraform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/unifyops/provisioner/pkg/telemetry"
)

// Client exposes operation-level Terraform calls on top of the
// Executor. Each module path maps 1:1 to a working directory under the
// configured root. The client performs no caching of plan files beyond
// what Terraform itself leaves on disk.
type Client struct {
	rootDir  string
	executor *Executor
	logger   *telemetry.Logger
	timeout  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-operation timeout handed to the executor.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a Terraform client rooted at rootDir.
func NewClient(rootDir string, executor *Executor, logger *telemetry.Logger, opts ...ClientOption) *Client {
	c := &Client{
		rootDir:  rootDir,
		executor: executor,
		logger:   logger.NewComponentLogger("terraform.client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RootDir returns the directory all module paths are resolved against.
func (c *Client) RootDir() string {
	return c.rootDir
}

// WorkingDir resolves a module path to its working directory.
func (c *Client) WorkingDir(modulePath string) string {
	return filepath.Join(c.rootDir, modulePath)
}

// InitOptions configures an init call.
type InitOptions struct {
	// BackendConfig is materialized as a temporary key = "value" file
	// passed via -backend-config and removed after the call.
	BackendConfig map[string]string

	// ForceModuleDownload removes the module's .terraform cache
	// directory first so providers and modules are re-fetched.
	ForceModuleDownload bool

	// CorrelationID is the request tracing token, if any.
	CorrelationID string
}

// Init initializes a Terraform module.
func (c *Client) Init(ctx context.Context, modulePath string, opts InitOptions) (*Result, error) {
	workingDir := c.WorkingDir(modulePath)
	log := c.logger.WithCorrelationID(opts.CorrelationID).WithField("module_path", modulePath)

	var varFiles []string
	if len(opts.BackendConfig) > 0 {
		backendFile, err := writeBackendFile(opts.BackendConfig)
		if err != nil {
			log.WithError(err).Error("failed to create backend config file")
			return nil, fmt.Errorf("failed to create backend config file: %w", err)
		}
		defer func() {
			if rmErr := os.Remove(backendFile); rmErr != nil && !os.IsNotExist(rmErr) {
				log.WithError(rmErr).Warnf("failed to remove temporary backend file: %s", backendFile)
			}
		}()
		varFiles = append(varFiles, backendFile)
	}

	if opts.ForceModuleDownload {
		cacheDir := filepath.Join(workingDir, ".terraform")
		if _, err := os.Stat(cacheDir); err == nil {
			log.Info("forcing module download: removing .terraform directory")
			if err := os.RemoveAll(cacheDir); err != nil {
				log.WithError(err).Warnf("failed to remove .terraform directory: %s", cacheDir)
			}
		}
	}

	return c.executor.Run(ctx, RunRequest{
		Operation:     OperationInit,
		WorkingDir:    workingDir,
		VarFiles:      varFiles,
		Timeout:       c.timeout,
		CorrelationID: opts.CorrelationID,
	})
}

// Plan creates a Terraform plan. The returned PlanID equals the
// execution id, so a later Apply can reference the exact artifact.
func (c *Client) Plan(ctx context.Context, modulePath string, variables map[string]interface{}, correlationID string) (*Result, error) {
	return c.executor.Run(ctx, RunRequest{
		Operation:     OperationPlan,
		WorkingDir:    c.WorkingDir(modulePath),
		Variables:     variables,
		Timeout:       c.timeout,
		CorrelationID: correlationID,
	})
}

// ApplyOptions configures an apply call.
type ApplyOptions struct {
	// Variables are injected via a temporary var file. Ignored when
	// PlanID is set: the plan artifact already encodes them.
	Variables map[string]interface{}

	// AutoApprove adds -auto-approve.
	AutoApprove bool

	// PlanID, when set, applies the literal plan file tfplan_<PlanID>.
	PlanID string

	// CorrelationID is the request tracing token, if any.
	CorrelationID string
}

// Apply applies Terraform changes, either from a named plan artifact or
// variable-driven against current state.
func (c *Client) Apply(ctx context.Context, modulePath string, opts ApplyOptions) (*Result, error) {
	req := RunRequest{
		Operation:     OperationApply,
		WorkingDir:    c.WorkingDir(modulePath),
		AutoApprove:   opts.AutoApprove,
		Timeout:       c.timeout,
		CorrelationID: opts.CorrelationID,
	}
	if opts.PlanID != "" {
		req.PlanFile = PlanFileName(opts.PlanID)
	} else {
		req.Variables = opts.Variables
	}

	result, err := c.executor.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if opts.PlanID != "" {
		result.PlanID = opts.PlanID
	}
	return result, nil
}

// DestroyOptions configures a destroy call.
type DestroyOptions struct {
	Variables     map[string]interface{}
	AutoApprove   bool
	CorrelationID string
}

// Destroy tears down the infrastructure managed by a module.
func (c *Client) Destroy(ctx context.Context, modulePath string, opts DestroyOptions) (*Result, error) {
	return c.executor.Run(ctx, RunRequest{
		Operation:     OperationDestroy,
		WorkingDir:    c.WorkingDir(modulePath),
		Variables:     opts.Variables,
		AutoApprove:   opts.AutoApprove,
		Timeout:       c.timeout,
		CorrelationID: opts.CorrelationID,
	})
}

// Output reads the module's root outputs.
//
// Unlike the other methods this surfaces a hard failure when the
// underlying command fails: outputs are meaningless without success.
func (c *Client) Output(ctx context.Context, modulePath, correlationID string) (map[string]interface{}, error) {
	result, err := c.executor.Run(ctx, RunRequest{
		Operation:     OperationOutput,
		WorkingDir:    c.WorkingDir(modulePath),
		Timeout:       c.timeout,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("failed to get outputs: %s", result.Error)
	}
	return result.Outputs, nil
}

// writeBackendFile materializes backend settings as a temporary file of
// key = "value" lines. The caller owns removal.
func writeBackendFile(backendConfig map[string]string) (string, error) {
	f, err := os.CreateTemp("", "*.tfbackend")
	if err != nil {
		return "", err
	}

	// Deterministic order keeps the file diffable in debug logs.
	keys := make([]string, 0, len(backendConfig))
	for k := range backendConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(f, "%s = %q\n", k, backendConfig[k]); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return "", err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
