package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples entries below Error. Errors always pass so a flood
// of per-row debug output can never hide a failed insert.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	errors := &levelGate{Core: core, allow: func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel }}
	rest := &levelGate{Core: core, allow: func(l zapcore.Level) bool { return l < zapcore.ErrorLevel }}

	sampled := zapcore.NewSamplerWithOptions(rest, cfg.Tick.Duration(), cfg.Initial, cfg.Thereafter)
	return zapcore.NewTee(errors, sampled)
}

// levelGate passes only the levels accepted by allow.
type levelGate struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (g *levelGate) Enabled(lvl zapcore.Level) bool {
	return g.allow(lvl) && g.Core.Enabled(lvl)
}

func (g *levelGate) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !g.allow(e.Level) {
		return ce
	}
	return g.Core.Check(e, ce)
}

func (g *levelGate) With(fields []zapcore.Field) zapcore.Core {
	return &levelGate{Core: g.Core.With(fields), allow: g.allow}
}
