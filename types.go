package convert

import "fmt"

// ConversionTask is one derived unit of work: one model converted to one
// framework at the job's precision. Tasks are ephemeral; they are produced
// by Plan and never persisted.
type ConversionTask struct {
	// Model is the source model being converted.
	Model ModelSpec

	// Framework is the target framework identifier.
	Framework string

	// Precision is the target precision label.
	Precision string

	// OutputDir is the deterministic local output directory, derived from
	// the cache root, the sanitized model name, the framework and the
	// precision.
	OutputDir string
}

// String renders the task identity for logs and reports.
func (t ConversionTask) String() string {
	return fmt.Sprintf("%s [%s/%s]", t.Model.Name, t.Framework, t.Precision)
}

// ArtifactStatus classifies what the registry knows about a task's triple
// key. The distinction between StatusLocalOnly and StatusPublished is what
// lets a later run re-attempt publishing without re-converting.
type ArtifactStatus int

const (
	// StatusAbsent means no registry entry exists for the triple.
	StatusAbsent ArtifactStatus = iota

	// StatusLocalOnly means the conversion completed locally but was never
	// published to the remote store.
	StatusLocalOnly

	// StatusPublished means the conversion completed and its remote
	// location is recorded.
	StatusPublished
)

// String returns the status label used in logs and tables.
func (s ArtifactStatus) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusLocalOnly:
		return "local-only"
	case StatusPublished:
		return "published"
	default:
		return fmt.Sprintf("ArtifactStatus(%d)", int(s))
	}
}

// RemoteArtifact summarizes one published model/framework pair discovered
// by listing the remote bucket.
type RemoteArtifact struct {
	// Model is the sanitized model identifier segment of the remote prefix.
	Model string `json:"model"`

	// Framework is the framework segment of the remote prefix.
	Framework string `json:"framework"`

	// Precisions lists the precision segments seen for this pair, sorted.
	Precisions []string `json:"precisions"`

	// Objects is the number of objects stored under the pair's prefixes.
	Objects int `json:"objects"`

	// TotalSize is the combined object size in bytes.
	TotalSize int64 `json:"total_size"`
}
