package convert

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// TaskStatus classifies one task's outcome in a run report.
type TaskStatus string

const (
	// TaskConverted means a full conversion ran for the task.
	TaskConverted TaskStatus = "converted"

	// TaskRepublished means a prior local-only conversion was uploaded
	// without re-converting.
	TaskRepublished TaskStatus = "republished"

	// TaskSkipped means the registry already covered the task.
	TaskSkipped TaskStatus = "skipped"

	// TaskFailed means the task did not complete.
	TaskFailed TaskStatus = "failed"
)

// TaskResult records one task's outcome for reporting.
type TaskResult struct {
	// Model is the source model identity.
	Model string `yaml:"model"`

	// Framework is the target framework.
	Framework string `yaml:"framework"`

	// Precision is the target precision label.
	Precision string `yaml:"precision"`

	// Status is the task outcome.
	Status TaskStatus `yaml:"status"`

	// OutputDir is the local artifact directory, when one was produced.
	OutputDir string `yaml:"output_dir,omitempty"`

	// RemoteLocation is the published location, when publishing succeeded.
	RemoteLocation string `yaml:"remote_location,omitempty"`

	// Error holds the failure message for failed tasks.
	Error string `yaml:"error,omitempty"`

	// DurationSeconds measures the task wall time.
	DurationSeconds float64 `yaml:"duration_seconds"`
}

// RunReport summarizes one orchestrator run.
type RunReport struct {
	// RunID uniquely identifies the run.
	RunID string `yaml:"run_id"`

	// Experiment is the job's experiment name.
	Experiment string `yaml:"experiment"`

	// StartedAt and FinishedAt bound the run wall time.
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`

	// Tasks lists per-task outcomes in execution order.
	Tasks []TaskResult `yaml:"tasks"`
}

// newRunReport starts a report for one run.
func newRunReport(experiment string) *RunReport {
	return &RunReport{
		RunID:      uuid.NewString(),
		Experiment: experiment,
		StartedAt:  time.Now().UTC(),
	}
}

// record appends one task outcome.
func (r *RunReport) record(result TaskResult) {
	r.Tasks = append(r.Tasks, result)
}

// counts tallies task outcomes by status.
func (r *RunReport) counts() map[TaskStatus]int {
	out := make(map[TaskStatus]int, 4)
	for _, t := range r.Tasks {
		out[t.Status]++
	}
	return out
}

// Summary renders a one-line outcome tally.
func (r *RunReport) Summary() string {
	c := r.counts()
	return fmt.Sprintf("%d converted, %d republished, %d skipped, %d failed",
		c[TaskConverted], c[TaskRepublished], c[TaskSkipped], c[TaskFailed])
}

// save writes the report as YAML under <cacheRoot>/reports/<run-id>.yaml
// and returns the path.
func (r *RunReport) save(cacheRoot string) (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding run report: %w", err)
	}
	path := filepath.Join(cacheRoot, "reports", r.RunID+".yaml")
	if err := atomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing run report: %w", err)
	}
	return path, nil
}
