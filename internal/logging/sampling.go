package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore caps log volume while a run is chatty. Entries at
// ErrorLevel and above always pass; everything from TraceLevel through
// WarnLevel flows through one sampler at the configured info rate. The
// zap sampler counts Debug and above, so trace output rides the sampled
// core uncounted.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	rate := cfg.Levels[zapcore.InfoLevel]
	sampled := zapcore.NewSamplerWithOptions(
		&bandCore{Core: core, from: TraceLevel, to: zapcore.WarnLevel},
		cfg.Tick.Duration(),
		rate.Initial,
		rate.Thereafter,
	)
	unsampled := &bandCore{Core: core, from: zapcore.ErrorLevel, to: zapcore.FatalLevel}
	return zapcore.NewTee(unsampled, sampled)
}

// bandCore passes entries whose level falls inside [from, to]. Bounds
// are inclusive so TraceLevel (-2) sits inside the sampled band.
type bandCore struct {
	zapcore.Core
	from, to zapcore.Level
}

func (c *bandCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.from && lvl <= c.to && c.Core.Enabled(lvl)
}

func (c *bandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *bandCore) With(fields []zapcore.Field) zapcore.Core {
	return &bandCore{Core: c.Core.With(fields), from: c.from, to: c.to}
}
