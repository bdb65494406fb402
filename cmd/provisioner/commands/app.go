package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/unifyops/provisioner/pkg/config"
	"github.com/unifyops/provisioner/pkg/modules"
	"github.com/unifyops/provisioner/pkg/orchestrator"
	"github.com/unifyops/provisioner/pkg/stores"
	"github.com/unifyops/provisioner/pkg/telemetry"
	"github.com/unifyops/provisioner/pkg/terraform"
)

// app bundles the wired service components for one command invocation.
type app struct {
	cfg          *config.Config
	telemetry    *telemetry.Telemetry
	store        *stores.SQLiteStore
	client       *terraform.Client
	orchestrator *orchestrator.Orchestrator
	catalog      *modules.Catalog
}

// newApp loads configuration and wires the full stack. Pending schema
// migrations are applied before use.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.New(&cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.DatabasePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	executor := terraform.NewExecutor(tel.Logger,
		terraform.WithBinary(cfg.TerraformBinary),
		terraform.WithMetrics(tel.Metrics),
		terraform.WithTracer(tel.Tracer),
	)
	client := terraform.NewClient(cfg.TerraformDir, executor, tel.Logger,
		terraform.WithTimeout(cfg.DefaultTimeout))

	orch := orchestrator.New(store, client, tel.Logger,
		orchestrator.WithMetrics(tel.Metrics))

	catalog := modules.NewCatalog(cfg.TerraformDir, tel.Logger)
	if cfg.WatchModules {
		if err := catalog.Watch(ctx); err != nil {
			tel.Logger.WithError(err).Warn("module watching disabled")
		}
	}

	return &app{
		cfg:          cfg,
		telemetry:    tel,
		store:        store,
		client:       client,
		orchestrator: orch,
		catalog:      catalog,
	}, nil
}

// close drains in-flight workflows and releases resources.
func (a *app) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.orchestrator.Registry().Shutdown(shutdownCtx); err != nil {
		a.telemetry.Logger.WithError(err).Warn("workflows did not drain before shutdown")
	}
	_ = a.catalog.Close()
	_ = a.store.Close()
	_ = a.telemetry.Shutdown(shutdownCtx)
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseVariables merges repeated key=value flags with an optional JSON
// variables file; flags win.
func parseVariables(vars []string, varsFile string) (map[string]interface{}, error) {
	merged := make(map[string]interface{})

	if varsFile != "" {
		data, err := os.ReadFile(varsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read variables file: %w", err)
		}
		if err := json.Unmarshal(data, &merged); err != nil {
			return nil, fmt.Errorf("failed to parse variables file: %w", err)
		}
	}

	for _, v := range vars {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", v)
		}
		merged[key] = value
	}

	if len(merged) == 0 {
		return nil, nil
	}
	return merged, nil
}
