package terraform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unifyops/provisioner/pkg/telemetry"
)

// DefaultTimeout is the hard per-invocation timeout applied when a
// RunRequest does not specify one.
const DefaultTimeout = 600 * time.Second

// noChangesMarker is printed by terraform plan when the configuration
// already matches real infrastructure.
const noChangesMarker = "No changes."

// RunRequest describes a single Terraform invocation.
type RunRequest struct {
	// Operation is the Terraform subcommand to run.
	Operation Operation

	// WorkingDir is the module directory the subprocess runs in.
	WorkingDir string

	// Variables, when non-nil, is serialized to a temporary
	// tfvars.json file and passed via -var-file. The file is removed
	// on every exit path.
	Variables map[string]interface{}

	// VarFiles are additional -var-file arguments (backend config
	// files for init, pre-materialized tfvars, ...).
	VarFiles []string

	// AutoApprove adds -auto-approve to apply and destroy.
	AutoApprove bool

	// PlanFile, when set on apply, is passed as the positional plan
	// artifact. Variables are not injected in that case: the plan
	// already encodes them.
	PlanFile string

	// Timeout bounds the subprocess. Zero means DefaultTimeout.
	Timeout time.Duration

	// ExecutionID correlates the invocation across logs, results and
	// plan artifacts. Generated when empty.
	ExecutionID string

	// CorrelationID is the request tracing token, if any.
	CorrelationID string
}

// Executor runs Terraform subprocesses with timeouts, temp-file
// lifecycle management and structured result capture.
type Executor struct {
	binary  string
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBinary overrides the terraform binary path (default "terraform",
// resolved via PATH).
func WithBinary(path string) ExecutorOption {
	return func(e *Executor) { e.binary = path }
}

// WithMetrics attaches an operation metrics collector.
func WithMetrics(m *telemetry.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer attaches a tracer; each Run becomes one span.
func WithTracer(t *telemetry.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor creates a subprocess executor.
func NewExecutor(logger *telemetry.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		binary: "terraform",
		logger: logger.NewComponentLogger("terraform.executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one terraform subcommand and returns its result.
//
// Command failure (non-zero exit, timeout) is reported through the
// Result, never as an error. The returned error is reserved for
// pre-flight configuration failures such as an unserializable variable
// map or an unwritable temp file.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if err := req.Operation.Validate(); err != nil {
		return nil, err
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	log := e.logger.
		WithExecutionID(executionID).
		WithCorrelationID(req.CorrelationID).
		WithField("operation", string(req.Operation))

	args := e.buildArgs(req, executionID)

	// Materialize the variable map as a temporary var file. The file
	// must be removed on every exit path: repeated runs may not leak
	// temp files.
	if req.Variables != nil && req.PlanFile == "" {
		varFile, err := writeVarFile(req.Variables)
		if err != nil {
			log.WithError(err).Error("failed to create variable file")
			return nil, fmt.Errorf("failed to create variable file: %w", err)
		}
		defer func() {
			if rmErr := os.Remove(varFile); rmErr != nil && !os.IsNotExist(rmErr) {
				log.WithError(rmErr).Warnf("failed to remove temporary var file: %s", varFile)
			}
		}()
		args = append(args, "-var-file="+varFile)
	}

	log.Infof("starting terraform %s", req.Operation)
	log.Debugf("executing: %s %s", e.binary, strings.Join(args, " "))

	var span *telemetry.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartSpan(ctx, "terraform."+string(req.Operation),
			telemetry.SpanAttribute{Key: "execution_id", Value: executionID},
			telemetry.SpanAttribute{Key: "working_dir", Value: req.WorkingDir},
		)
		defer span.End()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, e.binary, args...)
	cmd.Dir = req.WorkingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Operation:   req.Operation,
		Output:      stdout.String(),
		Duration:    duration,
		ExecutionID: executionID,
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		// CommandContext has already killed the process.
		result.Error = fmt.Sprintf("operation timed out after %s", timeout)
		result.Output = ""
		log.Errorf("terraform %s timed out after %s", req.Operation, timeout)

	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.Error = stderr.String()
			if result.Error == "" {
				result.Error = stdout.String()
			}
			log.WithField("exit_code", exitErr.ExitCode()).
				Errorf("terraform %s failed: %s", req.Operation, result.Error)
		} else {
			// The binary could not be started at all.
			result.Error = runErr.Error()
			result.Output = ""
			log.WithError(runErr).Errorf("error executing terraform %s", req.Operation)
		}

	default:
		result.Success = true
		if req.Operation == OperationPlan {
			result.PlanID = executionID
			result.HasChanges = !strings.Contains(result.Output, noChangesMarker)
		}
		if req.Operation == OperationOutput {
			var outputs map[string]interface{}
			if err := json.Unmarshal(stdout.Bytes(), &outputs); err != nil {
				log.WithError(err).Warn("failed to parse terraform outputs as JSON")
			} else {
				result.Outputs = outputs
			}
		}
		log.WithField("duration_ms", duration.Milliseconds()).
			Infof("terraform %s completed successfully", req.Operation)
	}

	if e.metrics != nil {
		e.metrics.RecordOperation(string(req.Operation), result.Success, duration)
	}
	if span != nil {
		span.SetSuccess(result.Success, result.Error)
	}

	return result, nil
}

// buildArgs assembles the non-interactive command line for the request.
func (e *Executor) buildArgs(req RunRequest, executionID string) []string {
	args := []string{string(req.Operation)}

	switch req.Operation {
	case OperationInit:
		args = append(args, "-input=false", "-no-color", "-get=true")
	case OperationPlan:
		args = append(args, "-input=false", "-no-color", "-out="+PlanFileName(executionID))
	case OperationApply, OperationDestroy:
		if req.AutoApprove {
			args = append(args, "-auto-approve")
		}
		args = append(args, "-input=false", "-no-color")
	case OperationOutput:
		args = append(args, "-json")
	case OperationValidate:
		args = append(args, "-no-color")
	}

	for _, vf := range req.VarFiles {
		switch req.Operation {
		case OperationInit:
			args = append(args, "-backend-config="+vf)
		default:
			args = append(args, "-var-file="+vf)
		}
	}

	if req.Operation == OperationApply && req.PlanFile != "" {
		args = append(args, req.PlanFile)
	}

	return args
}

// writeVarFile serializes variables to a temporary tfvars.json file and
// returns its path. The caller owns removal.
func writeVarFile(variables map[string]interface{}) (string, error) {
	f, err := os.CreateTemp("", "*.tfvars.json")
	if err != nil {
		return "", err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(variables); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
