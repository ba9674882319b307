// Package convert orchestrates ML model conversion jobs: it exports
// models into inference runtime formats with external tools, publishes
// the resulting artifacts to an S3-compatible object store, and records
// every completed conversion in a durable YAML registry so repeated runs
// skip finished work.
//
// The package serves two primary use cases:
//
//  1. Programmatic API via the Orchestrator - Applications create an
//     Orchestrator with New from a validated job description and call
//     Plan, Run, Fetch, ListRemote, or Doctor.
//
//  2. Standalone or embeddable CLI via NewCommand - the returned Cobra
//     command tree provides "run", "plan", "registry list", "remote
//     list", "remote info", "fetch", and "doctor".
//
// # Job Descriptions
//
// A job is declared in YAML: an experiment name, a bucket location, a
// registry path, conversion settings (target frameworks, precision,
// overwrite, local cache directory), and the list of models. Load one
// with LoadExperimentConfig.
//
// # Registry and Idempotence
//
// Completed conversions are keyed by (model, framework, precision). A
// run consults the registry before each task and skips work that is
// already published, re-publishes artifacts that only exist locally, and
// saves the registry after every completed task so an interrupted run
// resumes where it stopped. Setting overwrite forces tasks to run again.
//
// # External Tools
//
// Conversions shell out to the Hugging Face CLI (hf, with fallback to
// the legacy huggingface-cli) for plain snapshots and to optimum-cli for
// onnx-runtime and openvino exports. The tools must be installed and on
// PATH; "doctor" and the pre-run checks report their availability.
//
// # Object Store
//
// Artifacts are uploaded to s3://bucket/prefix locations using the
// ambient AWS configuration (environment, shared config files, instance
// metadata). Runs with WithSkipPublish never touch the store.
package convert
