// Package terraform shells out to the terraform binary and exposes
// operation-level calls (init, plan, apply, destroy, output) with
// timeouts, temporary variable/backend file lifecycle management, and
// structured result capture.
//
// The package follows a failure-as-data policy: a Terraform command
// that exits non-zero or times out produces a Result with Success set
// to false and the error text captured, never a Go error. Go errors are
// reserved for pre-flight configuration failures (temp file creation,
// invalid operations) where no subprocess ever ran, plus the single
// exception of Client.Output, which has no useful value to return when
// the underlying command failed.
//
// Plan artifacts are written as tfplan_<executionID> into the module's
// working directory and can be applied later by referencing the same
// execution id as a plan id.
package terraform
