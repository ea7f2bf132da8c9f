package compose

import (
	"fmt"
	"strings"
)

// ValidationError reports a missing or unusable input group. No render is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Reason)
}

func validationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ProbeError reports that a duration could not be read from a file.
// The composer recovers from it with a fallback duration.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// SettingsParseError reports a malformed settings payload. Defaults are used instead.
type SettingsParseError struct {
	Err error
}

func (e *SettingsParseError) Error() string {
	return fmt.Sprintf("parse settings: %v", e.Err)
}

func (e *SettingsParseError) Unwrap() error { return e.Err }

// GraphAssemblyError is an internal invariant violation while building a filter graph.
type GraphAssemblyError struct {
	Reason string
}

func (e *GraphAssemblyError) Error() string {
	return "graph assembly: " + e.Reason
}

func assemblyErrorf(format string, args ...interface{}) error {
	return &GraphAssemblyError{Reason: fmt.Sprintf(format, args...)}
}

// RenderError reports a render backend failure. No partial output accompanies it.
type RenderError struct {
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *RenderError) Error() string {
	msg := fmt.Sprintf("render failed (exit %d): %v", e.ExitCode, e.Err)
	if len(e.Stderr) > 0 {
		msg += ": " + strings.Join(e.Stderr, " | ")
	}
	return msg
}

func (e *RenderError) Unwrap() error { return e.Err }
