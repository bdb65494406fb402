// Package config loads and validates the service configuration from
// YAML: terraform root directory and binary, database path, default
// operation timeout, and the telemetry section (logging, metrics,
// tracing). Values are layered over built-in defaults, so a partial
// file is enough.
package config
