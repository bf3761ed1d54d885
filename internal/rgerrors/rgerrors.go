// Package rgerrors defines the distinct, user-visible error kinds ruxgo
// raises. Every kind wraps an underlying cause with golang.org/x/xerrors,
// matching the pervasive "xerrors.Errorf(...): %w" wrapping idiom this
// codebase uses throughout.
package rgerrors

import (
	"fmt"

	"golang.org/x/xerrors"
)

// ConfigError reports a schema violation, an unknown enum value, a
// duplicate target name, a dependency cycle, or a missing required field.
// Fatal before any work starts.
type ConfigError struct {
	Location string // e.g. a target name, or "deps cycle: a -> b -> a"
	Cause    error
}

func (e *ConfigError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("config error at %s", e.Location)
	}
	return fmt.Sprintf("config error at %s: %v", e.Location, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NewConfigError builds a ConfigError, wrapping cause with xerrors so
// callers retain a stack-aware chain.
func NewConfigError(location string, cause error) *ConfigError {
	if cause != nil {
		cause = xerrors.Errorf("%s: %w", location, cause)
	}
	return &ConfigError{Location: location, Cause: cause}
}

// ScanError reports that header-dependency extraction failed for a
// translation unit. Non-fatal: the planner downgrades it to "unit is
// dirty" rather than aborting the build.
type ScanError struct {
	Source string
	Cause  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan error for %s: %v", e.Source, e.Cause)
}

func (e *ScanError) Unwrap() error { return e.Cause }

// ToolError is the shared shape of CompileError/ArchiveError/LinkError: an
// underlying tool exited non-zero or could not be launched at all.
type ToolError struct {
	Kind    string // "compile" | "archive" | "link"
	Program string
	Argv    []string
	Stderr  string
	Cause   error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s error: %s %v: %v\n--- stderr ---\n%s",
		e.Kind, e.Program, e.Argv, e.Cause, e.Stderr)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// CompileError builds a ToolError for a failed compile job.
func CompileError(program string, argv []string, stderr string, cause error) *ToolError {
	return &ToolError{Kind: "compile", Program: program, Argv: argv, Stderr: stderr, Cause: cause}
}

// ArchiveError builds a ToolError for a failed archive job.
func ArchiveError(program string, argv []string, stderr string, cause error) *ToolError {
	return &ToolError{Kind: "archive", Program: program, Argv: argv, Stderr: stderr, Cause: cause}
}

// LinkError builds a ToolError for a failed link job.
func LinkError(program string, argv []string, stderr string, cause error) *ToolError {
	return &ToolError{Kind: "link", Program: program, Argv: argv, Stderr: stderr, Cause: cause}
}

// IoError reports a filesystem read/write or subprocess-launch failure.
// Fatal, unless Degraded is set (Hash Store read failures degrade to a
// full rebuild rather than aborting).
type IoError struct {
	Op       string
	Cause    error
	Degraded bool
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error during %s: %v", e.Op, e.Cause)
}

func (e *IoError) Unwrap() error { return e.Cause }

// RunError reports that -r was invoked without a built exe artifact, that
// the emulator binary is not on PATH, or that the launched program exited
// with an error (Cause then wraps its *exec.ExitError).
type RunError struct {
	Reason string
	Cause  error
}

func (e *RunError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("run error: %s", e.Reason)
	}
	return fmt.Sprintf("run error: %s: %v", e.Reason, e.Cause)
}

func (e *RunError) Unwrap() error { return e.Cause }

// PackageError reports that the external package fetcher failed; the
// cause is surfaced verbatim.
type PackageError struct {
	Repo  string
	Ref   string
	Cause error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("package error fetching %s@%s: %v", e.Repo, e.Ref, e.Cause)
}

func (e *PackageError) Unwrap() error { return e.Cause }
