package convert

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Target framework identifiers accepted in a job description.
const (
	// FrameworkTransformers materializes the upstream snapshot as-is.
	FrameworkTransformers = "transformers"

	// FrameworkONNXRuntime exports the model to ONNX.
	FrameworkONNXRuntime = "onnx-runtime"

	// FrameworkOpenVINO exports the model to OpenVINO IR.
	FrameworkOpenVINO = "openvino"
)

// Defaults applied to a job description after decoding.
const (
	// DefaultPrecision is used when conversion.precision is omitted.
	DefaultPrecision = "fp32"

	// DefaultRevision is used when a model omits its revision tag.
	DefaultRevision = "main"

	// DefaultLocalCache is the cache root used when conversion.local_cache
	// is omitted. Relative paths resolve against the working directory.
	DefaultLocalCache = "artifacts/converted_models"
)

// KnownFrameworks returns the framework identifiers this package can
// convert to, in a stable order.
func KnownFrameworks() []string {
	return []string{FrameworkTransformers, FrameworkONNXRuntime, FrameworkOpenVINO}
}

// ModelSpec identifies one source model in a job description.
type ModelSpec struct {
	// Name is the model identity used for registry keys, cache layout and
	// remote prefixes. Required.
	Name string `yaml:"name"`

	// Task is the model task type, e.g. "classification". Required; passed
	// to export tools.
	Task string `yaml:"task"`

	// Source optionally names the upstream repository to download or export
	// from when it differs from Name.
	Source string `yaml:"source,omitempty"`

	// Revision is the upstream revision tag. Defaults to "main".
	Revision string `yaml:"revision,omitempty"`

	// ExtraOptions are free-form tool options appended to export invocations
	// as "--key value" pairs, in key order.
	ExtraOptions map[string]string `yaml:"extra_options,omitempty"`
}

// RepoID returns the upstream repository identifier for this model:
// Source when set, otherwise Name.
func (m ModelSpec) RepoID() string {
	if m.Source != "" {
		return m.Source
	}
	return m.Name
}

// sortedExtraOptions returns ExtraOptions keys in lexical order so derived
// tool invocations are deterministic.
func (m ModelSpec) sortedExtraOptions() []string {
	if len(m.ExtraOptions) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.ExtraOptions))
	for k := range m.ExtraOptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConversionSettings controls how models are converted.
type ConversionSettings struct {
	// Frameworks lists the target frameworks, in execution order. Required.
	Frameworks []string `yaml:"frameworks"`

	// Precision is the target precision label, e.g. "fp32" or "fp16".
	Precision string `yaml:"precision,omitempty"`

	// Overwrite forces re-conversion and replacement of prior output even
	// when a registry entry exists.
	Overwrite bool `yaml:"overwrite,omitempty"`

	// LocalCache is the root directory for converted artifacts.
	LocalCache string `yaml:"local_cache,omitempty"`
}

// ExperimentConfig is the declarative job description driving a run.
// Immutable once loaded.
type ExperimentConfig struct {
	// ExperimentName labels the run in reports and remote experiment paths.
	ExperimentName string `yaml:"experiment_name"`

	// RemoteBucketLocation is the object store base location converted
	// artifacts are published under, e.g. "s3://bucket/models".
	RemoteBucketLocation string `yaml:"remote_bucket_location"`

	// RegistryLocation is the path of the persisted artifact registry.
	RegistryLocation string `yaml:"registry_location"`

	// Conversion holds the conversion settings shared by all models.
	Conversion ConversionSettings `yaml:"conversion"`

	// Models lists the source models to convert, in execution order.
	Models []ModelSpec `yaml:"models"`
}

// LoadExperimentConfig reads and validates a YAML job description.
func LoadExperimentConfig(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading job description %s: %v", ErrConfig, path, err)
	}
	return ParseExperimentConfig(data)
}

// ParseExperimentConfig decodes a YAML job description, applies defaults
// and validates it.
func ParseExperimentConfig(data []byte) (*ExperimentConfig, error) {
	var cfg ExperimentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing job description: %v", ErrConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ExperimentConfig) applyDefaults() {
	if c.Conversion.Precision == "" {
		c.Conversion.Precision = DefaultPrecision
	}
	if c.Conversion.LocalCache == "" {
		c.Conversion.LocalCache = DefaultLocalCache
	}
	for i := range c.Models {
		if c.Models[i].Revision == "" {
			c.Models[i].Revision = DefaultRevision
		}
	}
}

// Validate checks the job description and fails fast with ErrConfig (or
// ErrUnsupportedFramework) rather than surfacing missing fields at use time.
func (c *ExperimentConfig) Validate() error {
	if c.ExperimentName == "" {
		return fmt.Errorf("%w: experiment_name is required", ErrConfig)
	}
	if c.RegistryLocation == "" {
		return fmt.Errorf("%w: registry_location is required", ErrConfig)
	}
	if c.RemoteBucketLocation == "" {
		return fmt.Errorf("%w: remote_bucket_location is required", ErrConfig)
	}
	if _, _, err := ParseLocation(c.RemoteBucketLocation); err != nil {
		return fmt.Errorf("%w: remote_bucket_location: %v", ErrConfig, err)
	}
	if len(c.Conversion.Frameworks) == 0 {
		return fmt.Errorf("%w: conversion.frameworks must list at least one framework", ErrConfig)
	}
	known := make(map[string]bool, len(KnownFrameworks()))
	for _, fw := range KnownFrameworks() {
		known[fw] = true
	}
	seenFrameworks := make(map[string]bool, len(c.Conversion.Frameworks))
	for _, fw := range c.Conversion.Frameworks {
		if !known[fw] {
			return fmt.Errorf("%w: %q (known: %v)", ErrUnsupportedFramework, fw, KnownFrameworks())
		}
		if seenFrameworks[fw] {
			return fmt.Errorf("%w: framework %q listed twice", ErrConfig, fw)
		}
		seenFrameworks[fw] = true
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("%w: models must list at least one model", ErrConfig)
	}
	seenModels := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("%w: models[%d].name is required", ErrConfig, i)
		}
		if m.Task == "" {
			return fmt.Errorf("%w: models[%d].task is required (model %q)", ErrConfig, i, m.Name)
		}
		if seenModels[m.Name] {
			return fmt.Errorf("%w: model %q listed twice", ErrConfig, m.Name)
		}
		seenModels[m.Name] = true
	}
	return nil
}
