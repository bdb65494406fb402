// Package orchestrator coordinates Terraform provisioning workflows
// for environments and their resources.
//
// An environment owns exactly one Terraform backend, keyed by its id;
// resources are named variable bundles contributed to the
// environment's single apply. Workflows move a target through the
// status state machine (pending, initializing, planning, applying,
// provisioned, failed, destroying, destroyed), persisting every
// transition so polling clients observe intermediate progress.
//
// The TaskRegistry enforces single-flight execution per target:
// acquisition is an atomic insert-if-absent, so two concurrent starts
// against the same backend can never both proceed. Registered
// workflows carry a cancel function, allowing operator-initiated
// cancellation to reach an in-flight subprocess.
//
// Terraform command failure is data, not an exception: a failed step
// records the failed status and the error text on the target, then
// surfaces an execution-failure DomainError to awaited callers only.
// Background workflows log and stop after persisting.
package orchestrator
