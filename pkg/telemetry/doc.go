// Package telemetry provides observability instrumentation for the
// provisioner: structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "provisioner"
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Component loggers carry structured identity fields through every
// workflow:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithEnvironmentID(envID).WithCorrelationID(corrID)
//	logger.Info("starting provisioning workflow")
//
// Metrics track terraform operation outcomes and workflow lifecycle:
//
//	tel.Metrics.RecordOperation("apply", true, duration)
//	tel.Metrics.RecordWorkflowStarted("environment", "provision")
//	tel.Metrics.RecordWorkflowCompleted("environment", "provision", "provisioned", duration)
//
// Tracing wraps each terraform invocation and each workflow in a span:
//
//	ctx, span := tel.Tracer.StartSpan(ctx, "terraform.plan",
//	    telemetry.SpanAttribute{Key: "execution_id", Value: id})
//	defer span.End()
//	span.SetSuccess(result.Success, result.Error)
//
// Supported trace exporters: "otlp" (production), "stdout"
// (development), "none" (testing).
package telemetry
