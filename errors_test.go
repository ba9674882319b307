package convert

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "ErrConfig",
			err:     ErrConfig,
			wantMsg: "convert: invalid job configuration",
		},
		{
			name:    "ErrUnsupportedFramework",
			err:     ErrUnsupportedFramework,
			wantMsg: "convert: unsupported framework",
		},
		{
			name:    "ErrExternalTool",
			err:     ErrExternalTool,
			wantMsg: "convert: external tool failed",
		},
		{
			name:    "ErrStore",
			err:     ErrStore,
			wantMsg: "convert: object store error",
		},
		{
			name:    "ErrNotFound",
			err:     ErrNotFound,
			wantMsg: "convert: not found",
		},
		{
			name:    "ErrInvalidLocation",
			err:     ErrInvalidLocation,
			wantMsg: "convert: invalid remote location",
		},
		{
			name:    "ErrPersistence",
			err:     ErrPersistence,
			wantMsg: "convert: registry persistence error",
		},
		{
			name:    "ErrLocked",
			err:     ErrLocked,
			wantMsg: "convert: registry is locked by another process",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()

			// Verify message starts with "convert: " prefix
			if !strings.HasPrefix(got, "convert: ") {
				t.Errorf("%s: message %q does not have 'convert: ' prefix", tt.name, got)
			}

			// Verify exact message content
			if got != tt.wantMsg {
				t.Errorf("%s: got %q, want %q", tt.name, got, tt.wantMsg)
			}
		})
	}
}

func TestErrorsIs(t *testing.T) {
	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrConfig", ErrConfig},
		{"ErrUnsupportedFramework", ErrUnsupportedFramework},
		{"ErrExternalTool", ErrExternalTool},
		{"ErrStore", ErrStore},
		{"ErrNotFound", ErrNotFound},
		{"ErrInvalidLocation", ErrInvalidLocation},
		{"ErrPersistence", ErrPersistence},
		{"ErrLocked", ErrLocked},
	}

	for _, tt := range sentinels {
		t.Run(tt.name, func(t *testing.T) {
			// Wrap the error with additional context
			wrapped := fmt.Errorf("operation failed: %w", tt.err)

			// Verify errors.Is() still matches the sentinel
			if !errors.Is(wrapped, tt.err) {
				t.Errorf("errors.Is(wrapped, %s) = false, want true", tt.name)
			}

			// Double-wrap to ensure chain works
			doubleWrapped := fmt.Errorf("outer context: %w", wrapped)
			if !errors.Is(doubleWrapped, tt.err) {
				t.Errorf("errors.Is(doubleWrapped, %s) = false, want true", tt.name)
			}
		})
	}
}

func TestToolError(t *testing.T) {
	t.Run("matches ErrExternalTool", func(t *testing.T) {
		err := &ToolError{
			Tool: "optimum-cli",
			Args: []string{"export", "onnx"},
			Err:  errors.New("exit status 1"),
		}

		if !errors.Is(err, ErrExternalTool) {
			t.Error("errors.Is(ToolError, ErrExternalTool) = false, want true")
		}

		wrapped := fmt.Errorf("converting model: %w", err)
		if !errors.Is(wrapped, ErrExternalTool) {
			t.Error("errors.Is(wrapped ToolError, ErrExternalTool) = false, want true")
		}

		var toolErr *ToolError
		if !errors.As(wrapped, &toolErr) {
			t.Fatal("errors.As(wrapped, *ToolError) = false, want true")
		}
		if toolErr.Tool != "optimum-cli" {
			t.Errorf("Tool = %q, want %q", toolErr.Tool, "optimum-cli")
		}
	})

	t.Run("message includes command and output", func(t *testing.T) {
		err := &ToolError{
			Tool:   "hf",
			Args:   []string{"download", "bert-base"},
			Output: "  repo not found\n",
			Err:    errors.New("exit status 1"),
		}

		got := err.Error()
		if !strings.Contains(got, "hf download bert-base") {
			t.Errorf("message %q missing command line", got)
		}
		if !strings.Contains(got, "repo not found") {
			t.Errorf("message %q missing tool output", got)
		}
	})

	t.Run("message without output has no trailing newline", func(t *testing.T) {
		err := &ToolError{
			Tool: "hf",
			Args: []string{"env"},
			Err:  errors.New("executable file not found"),
		}

		got := err.Error()
		if strings.Contains(got, "\n") {
			t.Errorf("message %q should be a single line when output is empty", got)
		}
	})

	t.Run("unwraps to underlying error", func(t *testing.T) {
		underlying := errors.New("exit status 2")
		err := &ToolError{Tool: "optimum-cli", Err: underlying}

		if !errors.Is(err, underlying) {
			t.Error("errors.Is(ToolError, underlying) = false, want true")
		}
	})
}
