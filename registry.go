package convert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegistryEntry is the durable record of one completed conversion.
// Uniquely identified by the (ModelName, Framework, Precision) triple.
type RegistryEntry struct {
	// ModelName is the source model identity as configured, unsanitized.
	ModelName string `yaml:"model_name"`

	// Framework is the target framework the artifact was converted to.
	Framework string `yaml:"framework"`

	// Precision is the target precision label.
	Precision string `yaml:"precision"`

	// Task is the model task type the conversion targeted.
	Task string `yaml:"task"`

	// Revision is the upstream revision that was converted.
	Revision string `yaml:"revision"`

	// LocalPath is the local directory holding the converted artifact.
	LocalPath string `yaml:"local_path"`

	// RemoteLocation is the canonical object store location the artifact
	// was published to. Empty when the artifact exists only locally.
	RemoteLocation string `yaml:"remote_location,omitempty"`

	// ConversionCommand records the tool invocation that produced the
	// artifact, when one was run.
	ConversionCommand string `yaml:"conversion_command,omitempty"`

	// Metrics holds measurements captured during conversion, e.g.
	// conversion_seconds or artifact_size_bytes.
	Metrics map[string]float64 `yaml:"metrics,omitempty"`
}

// Status classifies the entry: StatusPublished when a remote location is
// recorded, StatusLocalOnly otherwise.
func (e RegistryEntry) Status() ArtifactStatus {
	if e.RemoteLocation != "" {
		return StatusPublished
	}
	return StatusLocalOnly
}

// matches reports whether the entry carries the given triple key.
func (e RegistryEntry) matches(model, framework, precision string) bool {
	return e.ModelName == model && e.Framework == framework && e.Precision == precision
}

// registryDocument is the persisted registry form.
type registryDocument struct {
	Artifacts []RegistryEntry `yaml:"artifacts"`
}

// Registry is an ordered collection of conversion records with uniqueness
// enforced on the (model, framework, precision) triple. Not safe for
// concurrent mutation; runs are single-threaded and the run lock keeps
// processes from sharing one persisted registry.
type Registry struct {
	entries []RegistryEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// LoadRegistry reads a persisted registry. A missing file is the normal
// initial state and yields an empty registry, not an error. Unreadable or
// unparseable files fail with ErrPersistence.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrPersistence, path, err)
	}

	var doc registryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrPersistence, path, err)
	}
	return &Registry{entries: doc.Artifacts}, nil
}

// Find returns the entry for the triple key, if present. Pure lookup.
func (r *Registry) Find(model, framework, precision string) (RegistryEntry, bool) {
	for _, e := range r.entries {
		if e.matches(model, framework, precision) {
			return e, true
		}
	}
	return RegistryEntry{}, false
}

// Upsert replaces any entry with the same triple key, else appends.
// A replaced entry moves to the end of the collection.
func (r *Registry) Upsert(entry RegistryEntry) {
	kept := r.entries[:0]
	for _, e := range r.entries {
		if !e.matches(entry.ModelName, entry.Framework, entry.Precision) {
			kept = append(kept, e)
		}
	}
	r.entries = append(kept, entry)
}

// Save serializes the registry to path, creating parent directories as
// needed. The write is atomic: a concurrent reader sees either the old or
// the new document, never a partial one.
func (r *Registry) Save(path string) error {
	doc := registryDocument{Artifacts: r.entries}
	if doc.Artifacts == nil {
		doc.Artifacts = []RegistryEntry{}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encoding registry: %v", ErrPersistence, err)
	}
	if err := atomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrPersistence, path, err)
	}
	return nil
}

// Filter returns the entries matching any of the given frameworks, or all
// entries when no frameworks are given. Read-only projection in registry
// order.
func (r *Registry) Filter(frameworks ...string) []RegistryEntry {
	if len(frameworks) == 0 {
		return r.Entries()
	}
	wanted := make(map[string]bool, len(frameworks))
	for _, fw := range frameworks {
		wanted[fw] = true
	}
	var out []RegistryEntry
	for _, e := range r.entries {
		if wanted[e.Framework] {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Entries returns a copy of all entries in registry order.
func (r *Registry) Entries() []RegistryEntry {
	out := make([]RegistryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
