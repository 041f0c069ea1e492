package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/micrologger/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// prefixLen is how much of a shortened value survives, enough to correlate
// the lines of one session without making the cookie replayable.
const prefixLen = 8

// Secret logs a config.Secret as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString creates a field with the value replaced by its length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder and rewrites sensitive values
// before they are encoded. Keys are matched case-insensitively.
type RedactingEncoder struct {
	zapcore.Encoder
	hidden   map[string]bool
	prefixed map[string]bool
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base with the rules in cfg. A disabled config
// yields a pass-through encoder.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	enc := &RedactingEncoder{Encoder: base}
	if !cfg.Enabled {
		return enc, nil
	}

	enc.hidden = keySet(cfg.Fields)
	enc.prefixed = keySet(cfg.Prefixed)
	for _, p := range cfg.Patterns {
		if len(p) > 200 {
			return nil, fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		enc.patterns = append(enc.patterns, re)
	}
	return enc, nil
}

func keySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = true
	}
	return set
}

// mask returns the value to encode for key and whether it differs from val.
func (e *RedactingEncoder) mask(key, val string) (string, bool) {
	k := strings.ToLower(key)
	if e.hidden[k] {
		return "[REDACTED]", true
	}
	if e.prefixed[k] {
		if len(val) <= prefixLen {
			return val, false
		}
		return val[:prefixLen] + "...", true
	}
	for _, re := range e.patterns {
		if re.MatchString(val) {
			return "[REDACTED:pattern]", true
		}
	}
	return val, false
}

func (e *RedactingEncoder) AddString(key, val string) {
	out, _ := e.mask(key, val)
	e.Encoder.AddString(key, out)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if out, changed := e.mask(key, string(val)); changed {
		e.Encoder.AddString(key, out)
		return
	}
	e.Encoder.AddByteString(key, val)
}

// AddReflected and AddObject can only be hidden by key; their contents are
// not inspected.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.hidden[strings.ToLower(key)] {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.hidden[strings.ToLower(key)] {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		hidden:   e.hidden,
		prefixed: e.prefixed,
		patterns: e.patterns,
	}
}

// EncodeEntry feeds the call-site fields through the masking Add* methods;
// the embedded encoder would otherwise add them directly.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	clone := e.Clone().(*RedactingEncoder)
	for _, f := range fields {
		f.AddTo(clone)
	}
	return clone.Encoder.EncodeEntry(ent, nil)
}
