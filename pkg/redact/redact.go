// Package redact scrubs credential-shaped strings out of envelope payloads
// before they reach a log line or a quarantined_messages row, generalizing
// the teacher's pkg/masking (compiled-regex sweep over MCP tool results) to
// sweep over arbitrary JSON payload trees instead of tool-result strings.
package redact

import (
	"encoding/json"
	"regexp"

	"go.uber.org/zap"
)

// compiledPattern is a pre-compiled regex and its replacement text.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Redactor holds the compiled pattern set. Built once at startup and safe
// for concurrent use by any number of dispatch handlers and log sinks.
type Redactor struct {
	patterns []compiledPattern
}

// NewRedactor compiles the built-in pattern set. An invalid pattern is
// logged and skipped rather than failing startup — the teacher's
// compileBuiltinPatterns does the same, on the grounds that one bad regex
// should degrade coverage, not take down the process.
func NewRedactor(logger *zap.Logger) *Redactor {
	r := &Redactor{}
	for _, p := range builtinPatterns {
		re, err := regexp.Compile(p.pattern)
		if err != nil {
			logger.Error("redact: failed to compile built-in pattern, skipping",
				zap.String("pattern", p.name), zap.Error(err))
			continue
		}
		r.patterns = append(r.patterns, compiledPattern{name: p.name, regex: re, replacement: p.replacement})
	}
	return r
}

// String applies every compiled pattern to s in order and returns the
// result.
func (r *Redactor) String(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// redactedPayloadPlaceholder is what Payload becomes when it cannot be
// parsed as JSON. Fail-closed: an unparseable payload is never passed
// through unredacted, since it might itself be what it looks like it is.
const redactedPayloadPlaceholder = `"[REDACTED: payload could not be safely scrubbed]"`

// Payload walks a JSON payload tree and applies String to every leaf
// string value, preserving structure. Map keys are never redacted. On
// parse failure the whole payload is replaced with a fixed placeholder
// (fail-closed), matching the teacher's MaskToolResult discipline for
// server-scoped masking as opposed to its fail-open alert path.
func (r *Redactor) Payload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return json.RawMessage(redactedPayloadPlaceholder)
	}

	scrubbed := r.walk(v)
	out, err := json.Marshal(scrubbed)
	if err != nil {
		return json.RawMessage(redactedPayloadPlaceholder)
	}
	return out
}

func (r *Redactor) walk(v any) any {
	switch t := v.(type) {
	case string:
		return r.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = r.walk(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.walk(val)
		}
		return out
	default:
		return v
	}
}
