package convert

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for conversion and registry operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrConfig indicates the job description is missing a required field
	// or references an unknown entity. Returned before any task runs.
	ErrConfig = errors.New("convert: invalid job configuration")

	// ErrUnsupportedFramework indicates a target framework with no converter.
	// Kept distinct from ErrConfig so callers can report the offending
	// framework precisely.
	ErrUnsupportedFramework = errors.New("convert: unsupported framework")

	// ErrExternalTool indicates a conversion subprocess or download failed.
	// Fatal to the current run at the point of failure; completed tasks
	// remain recorded.
	ErrExternalTool = errors.New("convert: external tool failed")

	// ErrStore indicates an object store transfer failed.
	ErrStore = errors.New("convert: object store error")

	// ErrNotFound indicates a local directory or remote object is absent.
	ErrNotFound = errors.New("convert: not found")

	// ErrInvalidLocation indicates a remote location string could not be
	// decomposed into a bucket and key prefix.
	ErrInvalidLocation = errors.New("convert: invalid remote location")

	// ErrPersistence indicates the artifact registry could not be read or
	// written. Always fatal: proceeding with an un-persisted registry
	// mutation would break restart resumption.
	ErrPersistence = errors.New("convert: registry persistence error")

	// ErrLocked indicates another process holds the run lock for the
	// registry location.
	ErrLocked = errors.New("convert: registry is locked by another process")
)

// ToolError reports a failed external tool invocation, carrying the tool's
// combined stdout/stderr so callers can surface diagnostics.
// errors.Is(err, ErrExternalTool) matches a ToolError.
type ToolError struct {
	// Tool is the executable name, e.g. "optimum-cli".
	Tool string

	// Args are the arguments the tool was invoked with.
	Args []string

	// Output is the tool's captured combined output, possibly truncated.
	Output string

	// Err is the underlying execution error.
	Err error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("convert: %s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Is reports whether target is ErrExternalTool, so wrapped ToolErrors
// participate in errors.Is chains alongside the sentinels.
func (e *ToolError) Is(target error) bool { return target == ErrExternalTool }
