// Command nlp-infer-bench converts ML models between inference runtimes,
// publishes the artifacts to an object store, and tracks completed
// conversions in a registry.
//
// The job description is read from a YAML file (--config, default
// job.yaml). Object store credentials come from the ambient AWS
// configuration; --profile selects a shared-config profile.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	convert "github.com/tony92151/nlp-infer-bench"
)

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitConfigError indicates the job description is invalid.
	ExitConfigError = 2

	// ExitToolError indicates an external conversion tool failed or is
	// missing.
	ExitToolError = 3

	// ExitStoreError indicates an object store operation failed.
	ExitStoreError = 4

	// ExitNotFound indicates the requested artifact does not exist.
	ExitNotFound = 5

	// ExitPersistenceError indicates the registry could not be read or
	// written.
	ExitPersistenceError = 6

	// ExitLocked indicates another process holds the run lock.
	ExitLocked = 7
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := convert.NewCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitCodeFromError(err))
	}
}

// exitCodeFromError maps error types to exit codes.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, convert.ErrConfig):
		return ExitConfigError
	case errors.Is(err, convert.ErrUnsupportedFramework):
		return ExitConfigError
	case errors.Is(err, convert.ErrExternalTool):
		return ExitToolError
	case errors.Is(err, convert.ErrStore):
		return ExitStoreError
	case errors.Is(err, convert.ErrInvalidLocation):
		return ExitStoreError
	case errors.Is(err, convert.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, convert.ErrPersistence):
		return ExitPersistenceError
	case errors.Is(err, convert.ErrLocked):
		return ExitLocked
	default:
		return ExitGeneralError
	}
}
