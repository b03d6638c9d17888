// Package logging provides structured, context-aware logging for stagehand.
//
// The Logger wraps Zap with methods that extract correlation fields (task,
// run, stage, lens, trace ids) from the context, so every log line emitted
// during a stage carries enough identity to reconstruct a run without
// grepping.
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithStageID(ctx, "codex_implement")
//	logger.Info(ctx, "stage started", zap.String("tool", "codex"))
//
// # Outputs
//
// Stdout is the default output. When an OpenTelemetry log provider is
// passed to NewLogger, entries are mirrored to it through the otelzap
// bridge.
//
// # Redaction
//
// The stdout encoder redacts configured field names and value patterns
// before bytes leave the process. Captured tool output goes through the
// secrets scrubber separately; this layer only guards log fields.
package logging
