package convert

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const testJobYAML = `experiment_name: infer-bench-q3
remote_bucket_location: s3://ml-artifacts/models
registry_location: state/registry.yaml
conversion:
  frameworks:
    - transformers
    - onnx-runtime
  precision: fp16
  overwrite: true
  local_cache: cache/models
models:
  - name: bert-base-uncased
    task: fill-mask
  - name: google/electra-small-discriminator
    task: classification
    revision: v2.0
    extra_options:
      opset: "14"
`

func TestParseExperimentConfig(t *testing.T) {
	cfg, err := ParseExperimentConfig([]byte(testJobYAML))
	if err != nil {
		t.Fatalf("ParseExperimentConfig() error = %v", err)
	}

	if cfg.ExperimentName != "infer-bench-q3" {
		t.Errorf("ExperimentName = %q, want %q", cfg.ExperimentName, "infer-bench-q3")
	}
	if cfg.RemoteBucketLocation != "s3://ml-artifacts/models" {
		t.Errorf("RemoteBucketLocation = %q", cfg.RemoteBucketLocation)
	}
	if cfg.RegistryLocation != "state/registry.yaml" {
		t.Errorf("RegistryLocation = %q", cfg.RegistryLocation)
	}

	wantFrameworks := []string{FrameworkTransformers, FrameworkONNXRuntime}
	if !reflect.DeepEqual(cfg.Conversion.Frameworks, wantFrameworks) {
		t.Errorf("Frameworks = %v, want %v", cfg.Conversion.Frameworks, wantFrameworks)
	}
	if cfg.Conversion.Precision != "fp16" {
		t.Errorf("Precision = %q, want fp16", cfg.Conversion.Precision)
	}
	if !cfg.Conversion.Overwrite {
		t.Error("Overwrite = false, want true")
	}
	if cfg.Conversion.LocalCache != "cache/models" {
		t.Errorf("LocalCache = %q, want cache/models", cfg.Conversion.LocalCache)
	}

	if len(cfg.Models) != 2 {
		t.Fatalf("len(Models) = %d, want 2", len(cfg.Models))
	}
	if cfg.Models[0].Revision != DefaultRevision {
		t.Errorf("Models[0].Revision = %q, want default %q", cfg.Models[0].Revision, DefaultRevision)
	}
	if cfg.Models[1].Revision != "v2.0" {
		t.Errorf("Models[1].Revision = %q, want v2.0", cfg.Models[1].Revision)
	}
	if got := cfg.Models[1].ExtraOptions["opset"]; got != "14" {
		t.Errorf("ExtraOptions[opset] = %q, want 14", got)
	}
}

func TestParseExperimentConfigDefaults(t *testing.T) {
	minimal := `experiment_name: demo
remote_bucket_location: s3://bucket
registry_location: registry.yaml
conversion:
  frameworks: [transformers]
models:
  - name: bert-base
    task: fill-mask
`
	cfg, err := ParseExperimentConfig([]byte(minimal))
	if err != nil {
		t.Fatalf("ParseExperimentConfig() error = %v", err)
	}

	if cfg.Conversion.Precision != DefaultPrecision {
		t.Errorf("Precision = %q, want default %q", cfg.Conversion.Precision, DefaultPrecision)
	}
	if cfg.Conversion.Overwrite {
		t.Error("Overwrite = true, want default false")
	}
	if cfg.Conversion.LocalCache != DefaultLocalCache {
		t.Errorf("LocalCache = %q, want default %q", cfg.Conversion.LocalCache, DefaultLocalCache)
	}
	if cfg.Models[0].Revision != DefaultRevision {
		t.Errorf("Revision = %q, want default %q", cfg.Models[0].Revision, DefaultRevision)
	}
}

func TestParseExperimentConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "not yaml",
			yaml:    "{{nope",
			wantErr: ErrConfig,
		},
		{
			name: "missing experiment name",
			yaml: `remote_bucket_location: s3://bucket
registry_location: r.yaml
conversion: {frameworks: [transformers]}
models: [{name: m, task: t}]
`,
			wantErr: ErrConfig,
		},
		{
			name: "missing registry location",
			yaml: `experiment_name: e
remote_bucket_location: s3://bucket
conversion: {frameworks: [transformers]}
models: [{name: m, task: t}]
`,
			wantErr: ErrConfig,
		},
		{
			name: "missing bucket location",
			yaml: `experiment_name: e
registry_location: r.yaml
conversion: {frameworks: [transformers]}
models: [{name: m, task: t}]
`,
			wantErr: ErrConfig,
		},
		{
			name: "bucket location without bucket",
			yaml: `experiment_name: e
remote_bucket_location: "s3://"
registry_location: r.yaml
conversion: {frameworks: [transformers]}
models: [{name: m, task: t}]
`,
			wantErr: ErrConfig,
		},
		{
			name: "no frameworks",
			yaml: `experiment_name: e
remote_bucket_location: s3://bucket
registry_location: r.yaml
conversion: {frameworks: []}
models: [{name: m, task: t}]
`,
			wantErr: ErrConfig,
		},
		{
			name: "unknown framework",
			yaml: `experiment_name: e
remote_bucket_location: s3://bucket
registry_location: r.yaml
conversion: {frameworks: [tensorrt]}
models: [{name: m, task: t}]
`,
			wantErr: ErrUnsupportedFramework,
		},
		{
			name: "duplicate framework",
			yaml: `experiment_name: e
remote_bucket_location: s3://bucket
registry_location: r.yaml
conversion: {frameworks: [transformers, transformers]}
models: [{name: m, task: t}]
`,
			wantErr: ErrConfig,
		},
		{
			name: "no models",
			yaml: `experiment_name: e
remote_bucket_location: s3://bucket
registry_location: r.yaml
conversion: {frameworks: [transformers]}
models: []
`,
			wantErr: ErrConfig,
		},
		{
			name: "model without name",
			yaml: `experiment_name: e
remote_bucket_location: s3://bucket
registry_location: r.yaml
conversion: {frameworks: [transformers]}
models: [{task: t}]
`,
			wantErr: ErrConfig,
		},
		{
			name: "model without task",
			yaml: `experiment_name: e
remote_bucket_location: s3://bucket
registry_location: r.yaml
conversion: {frameworks: [transformers]}
models: [{name: m}]
`,
			wantErr: ErrConfig,
		},
		{
			name: "duplicate model",
			yaml: `experiment_name: e
remote_bucket_location: s3://bucket
registry_location: r.yaml
conversion: {frameworks: [transformers]}
models: [{name: m, task: t}, {name: m, task: t}]
`,
			wantErr: ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExperimentConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParseExperimentConfig() error = nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want errors.Is %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadExperimentConfig(t *testing.T) {
	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "job.yaml")
		if err := os.WriteFile(path, []byte(testJobYAML), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadExperimentConfig(path)
		if err != nil {
			t.Fatalf("LoadExperimentConfig() error = %v", err)
		}
		if cfg.ExperimentName != "infer-bench-q3" {
			t.Errorf("ExperimentName = %q", cfg.ExperimentName)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadExperimentConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		if !errors.Is(err, ErrConfig) {
			t.Errorf("error = %v, want errors.Is ErrConfig", err)
		}
	})
}

func TestModelSpecRepoID(t *testing.T) {
	tests := []struct {
		name  string
		model ModelSpec
		want  string
	}{
		{
			name:  "name only",
			model: ModelSpec{Name: "bert-base-uncased"},
			want:  "bert-base-uncased",
		},
		{
			name:  "source overrides name",
			model: ModelSpec{Name: "bert-internal", Source: "org/bert-base"},
			want:  "org/bert-base",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.model.RepoID(); got != tt.want {
				t.Errorf("RepoID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSortedExtraOptions(t *testing.T) {
	model := ModelSpec{ExtraOptions: map[string]string{
		"opset":    "14",
		"batch":    "1",
		"sequence": "128",
	}}

	want := []string{"batch", "opset", "sequence"}
	if got := model.sortedExtraOptions(); !reflect.DeepEqual(got, want) {
		t.Errorf("sortedExtraOptions() = %v, want %v", got, want)
	}

	if got := (ModelSpec{}).sortedExtraOptions(); got != nil {
		t.Errorf("sortedExtraOptions() on empty = %v, want nil", got)
	}
}
