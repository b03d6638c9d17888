package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RedactedString creates a Zap field with redacted value and length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder to redact sensitive fields.
type RedactingEncoder struct {
	zapcore.Encoder
	redactFields map[string]bool
	redactRegex  []*regexp.Regexp
}

// NewRedactingEncoder wraps an encoder with redaction rules.
// Returns error if any redaction pattern fails to compile.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	fields := make(map[string]bool)
	for _, f := range cfg.Fields {
		fields[strings.ToLower(f)] = true
	}

	var patterns []*regexp.Regexp
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		if len(p) > 200 {
			return nil, fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
		}
		patterns = append(patterns, re)
	}

	return &RedactingEncoder{
		Encoder:      base,
		redactFields: fields,
		redactRegex:  patterns,
	}, nil
}

func (e *RedactingEncoder) shouldRedactKey(key string) bool {
	return e.redactFields[strings.ToLower(key)]
}

// AddString redacts sensitive field names and value patterns.
func (e *RedactingEncoder) AddString(key, val string) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	for _, re := range e.redactRegex {
		if re.MatchString(val) {
			e.Encoder.AddString(key, "[REDACTED:pattern]")
			return
		}
	}
	e.Encoder.AddString(key, val)
}

// AddByteString redacts sensitive field names.
func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddByteString(key, []byte("[REDACTED]"))
		return
	}
	e.Encoder.AddByteString(key, val)
}

// AddBinary redacts sensitive field names.
func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddBinary(key, []byte("[REDACTED]"))
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected redacts the entire value when the key is sensitive.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// AddArray redacts sensitive field names.
func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

// AddObject redacts sensitive field names.
func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone creates a copy of the encoder.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:      e.Encoder.Clone(),
		redactFields: e.redactFields,
		redactRegex:  e.redactRegex,
	}
}
