package convert

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// fakeRunner records tool invocations and returns scripted results.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	// handle decides the result of an invocation. Nil means every
	// invocation succeeds with empty output.
	handle func(name string, args []string) ([]byte, error)
}

var _ CommandRunner = (*fakeRunner)(nil)

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.handle != nil {
		return f.handle(name, args)
	}
	return nil, nil
}

// convertCalls returns the recorded invocations that perform work, skipping
// preflight probes.
func (f *fakeRunner) convertCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out [][]string
	for _, call := range f.calls {
		if len(call) < 2 {
			continue
		}
		switch {
		case call[1] == "download":
			out = append(out, call)
		case call[0] == optimumBinary && call[1] == "export":
			out = append(out, call)
		}
	}
	return out
}

func TestSnapshotConverterCommand(t *testing.T) {
	converters := newConverters(&fakeRunner{}, nopLogger{})
	conv := converters[FrameworkTransformers]

	task := ConversionTask{
		Model: ModelSpec{
			Name:     "bert-internal",
			Source:   "org/bert-base",
			Task:     "fill-mask",
			Revision: "v1.2",
		},
		Framework: FrameworkTransformers,
		Precision: "fp32",
		OutputDir: "cache/bert-internal/transformers/fp32",
	}

	want := []string{
		"hf", "download", "org/bert-base",
		"--revision", "v1.2",
		"--local-dir", "cache/bert-internal/transformers/fp32",
	}
	if got := conv.Command(task); !reflect.DeepEqual(got, want) {
		t.Errorf("Command() = %v, want %v", got, want)
	}
}

func TestExportConverterCommand(t *testing.T) {
	tests := []struct {
		name      string
		framework string
		task      ConversionTask
		want      []string
	}{
		{
			name:      "onnx basic",
			framework: FrameworkONNXRuntime,
			task: ConversionTask{
				Model:     ModelSpec{Name: "bert-base", Task: "fill-mask", Revision: "main"},
				Precision: "fp32",
				OutputDir: "out/onnx",
			},
			want: []string{
				"optimum-cli", "export", "onnx",
				"--model", "bert-base", "out/onnx",
				"--task", "fill-mask",
				"--revision", "main",
			},
		},
		{
			name:      "extra options in key order",
			framework: FrameworkONNXRuntime,
			task: ConversionTask{
				Model: ModelSpec{
					Name: "bert-base", Task: "fill-mask", Revision: "main",
					ExtraOptions: map[string]string{"opset": "14", "atol": "1e-4"},
				},
				Precision: "fp32",
				OutputDir: "out/onnx",
			},
			want: []string{
				"optimum-cli", "export", "onnx",
				"--model", "bert-base", "out/onnx",
				"--task", "fill-mask",
				"--revision", "main",
				"--atol", "1e-4",
				"--opset", "14",
			},
		},
		{
			name:      "valueless extra option becomes bare flag",
			framework: FrameworkONNXRuntime,
			task: ConversionTask{
				Model: ModelSpec{
					Name: "bert-base", Task: "fill-mask", Revision: "main",
					ExtraOptions: map[string]string{"trust-remote-code": ""},
				},
				Precision: "fp32",
				OutputDir: "out/onnx",
			},
			want: []string{
				"optimum-cli", "export", "onnx",
				"--model", "bert-base", "out/onnx",
				"--task", "fill-mask",
				"--revision", "main",
				"--trust-remote-code",
			},
		},
		{
			name:      "openvino fp16 appends flag",
			framework: FrameworkOpenVINO,
			task: ConversionTask{
				Model:     ModelSpec{Name: "bert-base", Task: "fill-mask", Revision: "main"},
				Precision: "fp16",
				OutputDir: "out/ov",
			},
			want: []string{
				"optimum-cli", "export", "openvino",
				"--model", "bert-base", "out/ov",
				"--task", "fill-mask",
				"--revision", "main",
				"--fp16",
			},
		},
		{
			name:      "openvino precision is case-insensitive",
			framework: FrameworkOpenVINO,
			task: ConversionTask{
				Model:     ModelSpec{Name: "bert-base", Task: "fill-mask", Revision: "main"},
				Precision: "FP16",
				OutputDir: "out/ov",
			},
			want: []string{
				"optimum-cli", "export", "openvino",
				"--model", "bert-base", "out/ov",
				"--task", "fill-mask",
				"--revision", "main",
				"--fp16",
			},
		},
		{
			name:      "openvino fp32 has no precision flag",
			framework: FrameworkOpenVINO,
			task: ConversionTask{
				Model:     ModelSpec{Name: "bert-base", Task: "fill-mask", Revision: "main"},
				Precision: "fp32",
				OutputDir: "out/ov",
			},
			want: []string{
				"optimum-cli", "export", "openvino",
				"--model", "bert-base", "out/ov",
				"--task", "fill-mask",
				"--revision", "main",
			},
		},
		{
			name:      "onnx fp16 has no precision flag",
			framework: FrameworkONNXRuntime,
			task: ConversionTask{
				Model:     ModelSpec{Name: "bert-base", Task: "fill-mask", Revision: "main"},
				Precision: "fp16",
				OutputDir: "out/onnx",
			},
			want: []string{
				"optimum-cli", "export", "onnx",
				"--model", "bert-base", "out/onnx",
				"--task", "fill-mask",
				"--revision", "main",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			converters := newConverters(&fakeRunner{}, nopLogger{})
			tt.task.Framework = tt.framework

			if got := converters[tt.framework].Command(tt.task); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Command() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvertRunsCommand(t *testing.T) {
	runner := &fakeRunner{}
	converters := newConverters(runner, nopLogger{})

	task := ConversionTask{
		Model:     ModelSpec{Name: "bert-base", Task: "fill-mask", Revision: "main"},
		Framework: FrameworkONNXRuntime,
		Precision: "fp32",
		OutputDir: "out",
	}
	if err := converters[FrameworkONNXRuntime].Convert(context.Background(), task); err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	calls := runner.convertCalls()
	if len(calls) != 1 {
		t.Fatalf("convert calls = %d, want 1", len(calls))
	}
	if calls[0][0] != optimumBinary {
		t.Errorf("invoked %q, want %q", calls[0][0], optimumBinary)
	}
}

func TestConvertWrapsToolError(t *testing.T) {
	runner := &fakeRunner{
		handle: func(name string, args []string) ([]byte, error) {
			return []byte("Traceback: unsupported task"), errors.New("exit status 1")
		},
	}
	converters := newConverters(runner, nopLogger{})

	task := ConversionTask{
		Model:     ModelSpec{Name: "bert-base", Task: "bogus", Revision: "main"},
		Framework: FrameworkONNXRuntime,
		Precision: "fp32",
		OutputDir: "out",
	}
	err := converters[FrameworkONNXRuntime].Convert(context.Background(), task)
	if err == nil {
		t.Fatal("Convert() error = nil, want error")
	}
	if !errors.Is(err, ErrExternalTool) {
		t.Errorf("error = %v, want errors.Is ErrExternalTool", err)
	}

	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatal("errors.As(*ToolError) = false")
	}
	if toolErr.Tool != optimumBinary {
		t.Errorf("Tool = %q, want %q", toolErr.Tool, optimumBinary)
	}
	if !strings.Contains(toolErr.Output, "unsupported task") {
		t.Errorf("Output = %q, missing tool diagnostics", toolErr.Output)
	}
}

func TestSnapshotPreflight(t *testing.T) {
	t.Run("hf available", func(t *testing.T) {
		runner := &fakeRunner{}
		converters := newConverters(runner, nopLogger{})
		conv := converters[FrameworkTransformers]

		detail, err := conv.Preflight(context.Background())
		if err != nil {
			t.Fatalf("Preflight() error = %v", err)
		}
		if !strings.Contains(detail, hfBinary) {
			t.Errorf("detail = %q, want mention of %q", detail, hfBinary)
		}

		cmd := conv.Command(ConversionTask{Model: ModelSpec{Name: "m", Revision: "main"}})
		if cmd[0] != hfBinary {
			t.Errorf("Command uses %q, want %q", cmd[0], hfBinary)
		}
	})

	t.Run("falls back to legacy CLI", func(t *testing.T) {
		runner := &fakeRunner{
			handle: func(name string, args []string) ([]byte, error) {
				if name == hfBinary {
					return nil, errors.New("executable file not found")
				}
				return nil, nil
			},
		}
		converters := newConverters(runner, nopLogger{})
		conv := converters[FrameworkTransformers]

		detail, err := conv.Preflight(context.Background())
		if err != nil {
			t.Fatalf("Preflight() error = %v", err)
		}
		if !strings.Contains(detail, hfLegacyBinary) {
			t.Errorf("detail = %q, want mention of %q", detail, hfLegacyBinary)
		}

		// Subsequent invocations must use the CLI that responded.
		cmd := conv.Command(ConversionTask{Model: ModelSpec{Name: "m", Revision: "main"}})
		if cmd[0] != hfLegacyBinary {
			t.Errorf("Command uses %q, want %q", cmd[0], hfLegacyBinary)
		}
	})

	t.Run("both missing", func(t *testing.T) {
		runner := &fakeRunner{
			handle: func(name string, args []string) ([]byte, error) {
				return nil, errors.New("executable file not found")
			},
		}
		converters := newConverters(runner, nopLogger{})

		_, err := converters[FrameworkTransformers].Preflight(context.Background())
		if !errors.Is(err, ErrExternalTool) {
			t.Errorf("error = %v, want errors.Is ErrExternalTool", err)
		}
	})
}

func TestExportPreflight(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		converters := newConverters(&fakeRunner{}, nopLogger{})

		detail, err := converters[FrameworkONNXRuntime].Preflight(context.Background())
		if err != nil {
			t.Fatalf("Preflight() error = %v", err)
		}
		if !strings.Contains(detail, optimumBinary) {
			t.Errorf("detail = %q", detail)
		}
	})

	t.Run("missing", func(t *testing.T) {
		runner := &fakeRunner{
			handle: func(name string, args []string) ([]byte, error) {
				return nil, errors.New("executable file not found")
			},
		}
		converters := newConverters(runner, nopLogger{})

		_, err := converters[FrameworkOpenVINO].Preflight(context.Background())
		if !errors.Is(err, ErrExternalTool) {
			t.Errorf("error = %v, want errors.Is ErrExternalTool", err)
		}
	})
}

func TestNewConvertersCoversKnownFrameworks(t *testing.T) {
	converters := newConverters(&fakeRunner{}, nopLogger{})

	for _, framework := range KnownFrameworks() {
		conv, ok := converters[framework]
		if !ok {
			t.Errorf("no converter for %q", framework)
			continue
		}
		if conv.Framework() != framework {
			t.Errorf("Framework() = %q, want %q", conv.Framework(), framework)
		}
	}
}

func TestTruncateOutput(t *testing.T) {
	t.Run("short output unchanged", func(t *testing.T) {
		if got := truncateOutput([]byte("hello")); got != "hello" {
			t.Errorf("truncateOutput() = %q", got)
		}
	})

	t.Run("long output keeps tail", func(t *testing.T) {
		long := strings.Repeat("a", maxToolOutput) + "TAIL"
		got := truncateOutput([]byte(long))

		if !strings.HasPrefix(got, "... ") {
			t.Errorf("truncated output missing marker prefix: %q", got[:8])
		}
		if !strings.HasSuffix(got, "TAIL") {
			t.Error("truncated output lost the tail")
		}
		if len(got) != maxToolOutput+len("... ") {
			t.Errorf("len = %d, want %d", len(got), maxToolOutput+len("... "))
		}
	})
}
