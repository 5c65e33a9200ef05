package model

import (
	"fmt"
	"strings"
)

// ConfigError is bad input. Nothing has been mutated when it is returned.
type ConfigError struct {
	Source string
	Field  string
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config error")
	if e.Source != "" {
		fmt.Fprintf(&b, " in [%s]", e.Source)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " at '%s'", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

func NewConfigError(source, field string, format string, args ...any) *ConfigError {
	return &ConfigError{Source: source, Field: field, Err: fmt.Errorf(format, args...)}
}

type InspectionError struct {
	Ref Ref
	Err error
}

func (e *InspectionError) Error() string {
	return fmt.Sprintf("unable to inspect [%s]: %v", e.Ref, e.Err)
}

func (e *InspectionError) Unwrap() error { return e.Err }

type CyclicDependencyError struct {
	Cycle []Ref
}

func (e *CyclicDependencyError) Error() string {
	parts := make([]string, 0, len(e.Cycle))
	for _, r := range e.Cycle {
		parts = append(parts, string(r))
	}
	return "cyclic dependency: " + strings.Join(parts, " -> ")
}

type ActionError struct {
	Op  string
	Ref Ref
	Err error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s [%s] failed: %v", e.Op, e.Ref, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

type IntegrityError struct {
	Identity string
	Expected string
	Actual   string
	Reason   string
}

func (e *IntegrityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("integrity check failed for [%s]: %s", e.Identity, e.Reason)
	}
	return fmt.Sprintf("integrity check failed for [%s]: expected sha256 %s, got %s", e.Identity, e.Expected, e.Actual)
}

type RunInProgressError struct {
	ModelId string
	Holder  string
}

func (e *RunInProgressError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("a run for model [%s] is already in progress (%s)", e.ModelId, e.Holder)
	}
	return fmt.Sprintf("a run for model [%s] is already in progress", e.ModelId)
}
