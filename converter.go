package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// External tool binaries driven by the converters.
const (
	// hfBinary is the Hugging Face CLI used for snapshot downloads.
	hfBinary = "hf"

	// hfLegacyBinary is the pre-rename Hugging Face CLI, used as a
	// fallback when hfBinary is not installed.
	hfLegacyBinary = "huggingface-cli"

	// optimumBinary performs ONNX and OpenVINO exports.
	optimumBinary = "optimum-cli"
)

// Exporter backends understood by optimumBinary.
const (
	exporterONNX     = "onnx"
	exporterOpenVINO = "openvino"
)

// maxToolOutput bounds the diagnostic output captured into a ToolError.
const maxToolOutput = 16 * 1024

// CommandRunner executes external tools and returns their combined
// stdout/stderr. The default implementation shells out via os/exec; tests
// inject fakes so no real tools run.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner is the default CommandRunner.
type execRunner struct{}

var _ CommandRunner = execRunner{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	return cmd.CombinedOutput()
}

// Converter materializes a model in one target framework. Each variant
// either populates the task's output directory and returns normally, or
// fails with a *ToolError carrying the tool's diagnostic output. Cleanup
// of prior output is the orchestrator's responsibility, not the
// converter's.
type Converter interface {
	// Framework returns the framework identifier this converter serves.
	Framework() string

	// Command returns the full tool invocation (argv) for the task.
	Command(task ConversionTask) []string

	// Convert runs the conversion for the task.
	Convert(ctx context.Context, task ConversionTask) error

	// Preflight verifies the external tool is available, returning a short
	// detail line on success.
	Preflight(ctx context.Context) (string, error)
}

// newConverters builds one Converter per known framework.
func newConverters(runner CommandRunner, logger Logger) map[string]Converter {
	return map[string]Converter{
		FrameworkTransformers: &snapshotConverter{runner: runner, logger: logger, binary: hfBinary},
		FrameworkONNXRuntime:  &exportConverter{framework: FrameworkONNXRuntime, exporter: exporterONNX, runner: runner, logger: logger},
		FrameworkOpenVINO:     &exportConverter{framework: FrameworkOpenVINO, exporter: exporterOpenVINO, runner: runner, logger: logger},
	}
}

// snapshotConverter materializes the upstream snapshot as-is by driving
// the Hugging Face CLI.
type snapshotConverter struct {
	runner CommandRunner
	logger Logger

	// binary is the CLI in use; Preflight may switch it to hfLegacyBinary.
	binary string
}

var _ Converter = (*snapshotConverter)(nil)

func (c *snapshotConverter) Framework() string { return FrameworkTransformers }

func (c *snapshotConverter) Command(task ConversionTask) []string {
	return []string{
		c.binary, "download", task.Model.RepoID(),
		"--revision", task.Model.Revision,
		"--local-dir", task.OutputDir,
	}
}

func (c *snapshotConverter) Convert(ctx context.Context, task ConversionTask) error {
	return runTool(ctx, c.runner, c.logger, c.Command(task))
}

// Preflight checks for the hf CLI and falls back to the legacy
// huggingface-cli when the modern one is missing.
func (c *snapshotConverter) Preflight(ctx context.Context) (string, error) {
	if _, err := c.runner.Run(ctx, hfBinary, "env"); err == nil {
		c.binary = hfBinary
		return hfBinary + " available", nil
	}
	if _, err := c.runner.Run(ctx, hfLegacyBinary, "--help"); err == nil {
		c.binary = hfLegacyBinary
		return hfLegacyBinary + " available (legacy CLI)", nil
	}
	return "", &ToolError{
		Tool: hfBinary,
		Args: []string{"env"},
		Err:  fmt.Errorf("neither %s nor %s is installed", hfBinary, hfLegacyBinary),
	}
}

// exportConverter drives one optimum-cli export backend.
type exportConverter struct {
	framework string
	exporter  string
	runner    CommandRunner
	logger    Logger
}

var _ Converter = (*exportConverter)(nil)

func (c *exportConverter) Framework() string { return c.framework }

func (c *exportConverter) Command(task ConversionTask) []string {
	args := []string{
		optimumBinary, "export", c.exporter,
		"--model", task.Model.RepoID(),
		task.OutputDir,
		"--task", task.Model.Task,
		"--revision", task.Model.Revision,
	}
	for _, key := range task.Model.sortedExtraOptions() {
		value := task.Model.ExtraOptions[key]
		if value == "" {
			args = append(args, "--"+key)
			continue
		}
		args = append(args, "--"+key, value)
	}
	if c.exporter == exporterOpenVINO && strings.EqualFold(task.Precision, "fp16") {
		args = append(args, "--fp16")
	}
	return args
}

func (c *exportConverter) Convert(ctx context.Context, task ConversionTask) error {
	return runTool(ctx, c.runner, c.logger, c.Command(task))
}

func (c *exportConverter) Preflight(ctx context.Context) (string, error) {
	if _, err := c.runner.Run(ctx, optimumBinary, "--help"); err != nil {
		return "", &ToolError{
			Tool: optimumBinary,
			Args: []string{"--help"},
			Err:  fmt.Errorf("%s is not installed: %v", optimumBinary, err),
		}
	}
	return optimumBinary + " available", nil
}

// runTool executes one tool invocation, wrapping failures with the
// captured output.
func runTool(ctx context.Context, runner CommandRunner, logger Logger, argv []string) error {
	logger.Info("running command", "command", strings.Join(argv, " "))
	output, err := runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return &ToolError{
			Tool:   argv[0],
			Args:   argv[1:],
			Output: truncateOutput(output),
			Err:    err,
		}
	}
	return nil
}

// truncateOutput keeps the tail of tool output, where diagnostics usually
// end up, bounded by maxToolOutput.
func truncateOutput(output []byte) string {
	if len(output) <= maxToolOutput {
		return string(output)
	}
	return "... " + string(output[len(output)-maxToolOutput:])
}

// ToolCheck reports the availability of one converter's external tool.
type ToolCheck struct {
	// Framework is the framework whose tool was checked.
	Framework string `json:"framework"`

	// OK reports whether the tool responded.
	OK bool `json:"ok"`

	// Detail names the probed binary and its status.
	Detail string `json:"detail"`
}
