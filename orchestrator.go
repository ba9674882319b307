package convert

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Object names for best-effort remote documents.
const (
	// metadataObjectName is the sidecar uploaded beside each published
	// artifact.
	metadataObjectName = "metadata.yaml"

	// remoteIndexObjectName is the catalog document kept at the bucket
	// base location.
	remoteIndexObjectName = "registry.yaml"
)

// Orchestrator drives conversion jobs: it expands the job description into
// tasks, consults the artifact registry to skip completed work, invokes
// the external converters and the object store, and persists the registry
// after every task so progress survives a crash mid-run.
//
// Construction validates the job description; Run executes it. Execution
// is strictly sequential in plan order.
type Orchestrator struct {
	// cfg is the validated job description.
	cfg *ExperimentConfig

	// cacheRoot is the resolved local cache root.
	cacheRoot string

	// registry is the in-memory artifact registry. Run reloads it under
	// the run lock so a fresh process always sees persisted state.
	registry *Registry

	// converters maps framework identifiers to their converter.
	converters map[string]Converter

	// logger receives diagnostic messages.
	logger Logger

	// runner executes external tools.
	runner CommandRunner

	// lockTimeout bounds run lock acquisition.
	lockTimeout time.Duration

	// storeMu guards lazy store construction.
	storeMu     sync.Mutex
	store       *ObjectStore
	storeClient StoreClient
	awsProfile  string
	concurrency int

	// lastReport is the report of the most recent Run.
	lastReport *RunReport
}

// New creates an Orchestrator for the given job description. The
// description is validated (ErrConfig / ErrUnsupportedFramework) and the
// persisted registry is loaded; a missing registry file is the normal
// initial state.
func New(cfg *ExperimentConfig, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil job description", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	oc := newOrchestratorConfig()
	for _, opt := range opts {
		opt(oc)
	}

	logger := oc.logger
	if logger == nil {
		logger = nopLogger{}
	}

	registry, err := LoadRegistry(cfg.RegistryLocation)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:         cfg,
		cacheRoot:   resolveCacheRoot(cfg.Conversion.LocalCache),
		registry:    registry,
		converters:  newConverters(oc.runner, logger),
		logger:      logger,
		runner:      oc.runner,
		lockTimeout: oc.lockTimeout,
		storeClient: oc.storeClient,
		awsProfile:  oc.awsProfile,
		concurrency: oc.concurrency,
	}, nil
}

// Registry returns the orchestrator's current registry view.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// CacheRoot returns the resolved local cache root.
func (o *Orchestrator) CacheRoot() string {
	return o.cacheRoot
}

// LastReport returns the report of the most recent Run, or nil before the
// first run.
func (o *Orchestrator) LastReport() *RunReport {
	return o.lastReport
}

// Plan expands the job description into its ordered task sequence: models
// in job order, frameworks in job order, one task per pair. Deterministic
// and side-effect free; filtering against the registry happens at
// execution time so the plan is inspectable independent of registry state.
func (o *Orchestrator) Plan() []ConversionTask {
	tasks := make([]ConversionTask, 0, len(o.cfg.Models)*len(o.cfg.Conversion.Frameworks))
	for _, model := range o.cfg.Models {
		for _, framework := range o.cfg.Conversion.Frameworks {
			tasks = append(tasks, ConversionTask{
				Model:     model,
				Framework: framework,
				Precision: o.cfg.Conversion.Precision,
				OutputDir: taskOutputDir(o.cacheRoot, model, framework, o.cfg.Conversion.Precision),
			})
		}
	}
	return tasks
}

// Run executes the job sequentially in plan order. Converter and
// persistence failures abort the run at the point of failure; publish
// failures are logged, leave the local conversion recorded, and are
// aggregated into the returned error so they are never silent. A requested
// cancellation takes effect between tasks only.
func (o *Orchestrator) Run(ctx context.Context, opts ...RunOption) error {
	rc := newRunConfig()
	for _, opt := range opts {
		opt(rc)
	}

	if err := ensureDir(filepath.Dir(o.cfg.RegistryLocation)); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	lock, err := newRunLock(o.cfg.RegistryLocation+".lock", o.lockTimeout)
	if err != nil {
		return fmt.Errorf("%w: creating run lock: %v", ErrPersistence, err)
	}
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	// Fresh registry view now that the lock is held.
	registry, err := LoadRegistry(o.cfg.RegistryLocation)
	if err != nil {
		return err
	}
	o.registry = registry

	if rc.preflight {
		if err := o.preflight(ctx); err != nil {
			return err
		}
	}
	if rc.publish {
		if _, err := o.ensureStore(ctx); err != nil {
			return err
		}
	}
	if err := ensureDir(o.cacheRoot); err != nil {
		return err
	}

	report := newRunReport(o.cfg.ExperimentName)
	o.lastReport = report
	tasks := o.Plan()
	o.logger.Info("starting run",
		"run_id", report.RunID,
		"experiment", o.cfg.ExperimentName,
		"tasks", len(tasks),
		"publish", rc.publish,
		"overwrite", o.cfg.Conversion.Overwrite)

	var runErr error
	var publishErrs []error
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run interrupted: %w", err)
			break
		}

		outcome := o.runTask(ctx, task, rc, report.RunID)
		report.record(outcome.TaskResult)
		if outcome.fatal != nil {
			runErr = outcome.fatal
			break
		}
		if outcome.publishErr != nil {
			publishErrs = append(publishErrs, outcome.publishErr)
		}
	}

	o.finishReport(ctx, report, rc.publish)

	if runErr != nil {
		return runErr
	}
	if len(publishErrs) > 0 {
		return fmt.Errorf("%w: %d task(s) failed to publish: %v",
			ErrStore, len(publishErrs), errors.Join(publishErrs...))
	}
	return nil
}

// taskOutcome carries one task's report row plus its error disposition:
// fatal errors abort the run, publish errors are aggregated and the run
// continues.
type taskOutcome struct {
	TaskResult
	fatal      error
	publishErr error
}

// runTask executes one task through the skip/purge/convert/publish/record
// sequence.
func (o *Orchestrator) runTask(ctx context.Context, task ConversionTask, rc *runConfig, runID string) (out taskOutcome) {
	started := time.Now()
	out.TaskResult = TaskResult{
		Model:     task.Model.Name,
		Framework: task.Framework,
		Precision: task.Precision,
	}
	defer func() {
		out.DurationSeconds = time.Since(started).Seconds()
	}()

	entry, found := o.registry.Find(task.Model.Name, task.Framework, task.Precision)

	needsConvert := true
	republish := false
	if found && !o.cfg.Conversion.Overwrite {
		switch entry.Status() {
		case StatusPublished:
			o.logger.Info("skipping task, already published",
				"task", task.String(), "location", entry.RemoteLocation)
			out.Status = TaskSkipped
			out.OutputDir = entry.LocalPath
			out.RemoteLocation = entry.RemoteLocation
			return out
		case StatusLocalOnly:
			if !rc.publish {
				o.logger.Info("skipping task, already converted", "task", task.String())
				out.Status = TaskSkipped
				out.OutputDir = entry.LocalPath
				return out
			}
			if dirExists(entry.LocalPath) {
				// Converted in an earlier run but never published;
				// upload the existing artifact without re-converting.
				needsConvert = false
				republish = true
			} else {
				o.logger.Warn("recorded artifact missing locally, re-converting",
					"task", task.String(), "local_path", entry.LocalPath)
			}
		}
	}
	if found && o.cfg.Conversion.Overwrite && dirExists(task.OutputDir) {
		o.logger.Info("removing previous conversion", "dir", task.OutputDir)
		if err := purgeDir(task.OutputDir); err != nil {
			out.Status = TaskFailed
			out.Error = err.Error()
			out.fatal = err
			return out
		}
	}

	newEntry := RegistryEntry{
		ModelName: task.Model.Name,
		Framework: task.Framework,
		Precision: task.Precision,
		Task:      task.Model.Task,
		Revision:  task.Model.Revision,
		LocalPath: task.OutputDir,
		Metrics:   map[string]float64{},
	}
	if republish {
		newEntry = entry
		if newEntry.Metrics == nil {
			newEntry.Metrics = map[string]float64{}
		}
	}

	if needsConvert {
		converter, ok := o.converters[task.Framework]
		if !ok {
			out.Status = TaskFailed
			out.fatal = fmt.Errorf("%w: %q", ErrUnsupportedFramework, task.Framework)
			out.Error = out.fatal.Error()
			return out
		}
		if err := ensureDir(task.OutputDir); err != nil {
			out.Status = TaskFailed
			out.Error = err.Error()
			out.fatal = err
			return out
		}

		o.logger.Info("converting model",
			"task", task.String(), "output_dir", task.OutputDir)
		convertStart := time.Now()
		if err := converter.Convert(ctx, task); err != nil {
			out.Status = TaskFailed
			out.Error = err.Error()
			out.fatal = err
			return out
		}
		newEntry.ConversionCommand = strings.Join(converter.Command(task), " ")
		newEntry.Metrics["conversion_seconds"] = time.Since(convertStart).Seconds()
		if size, err := dirSize(task.OutputDir); err == nil {
			newEntry.Metrics["artifact_size_bytes"] = float64(size)
		} else {
			o.logger.Warn("failed to size artifact", "dir", task.OutputDir, "error", err)
		}
	}

	published := false
	if rc.publish {
		location, err := o.remoteLocation(task)
		if err != nil {
			out.Status = TaskFailed
			out.Error = err.Error()
			out.fatal = err
			return out
		}

		o.logger.Info("publishing artifact", "task", task.String(), "location", location)
		uploadStart := time.Now()
		uploaded, err := o.store.UploadDirectory(ctx, newEntry.LocalPath, location)
		if err != nil {
			// The local conversion is kept and recorded; a later run can
			// re-attempt the upload without re-converting.
			o.logger.Error("publish failed, keeping local conversion",
				"task", task.String(), "error", err)
			out.publishErr = fmt.Errorf("%s: %w", task.String(), err)
			out.Error = err.Error()
		} else {
			newEntry.RemoteLocation = uploaded
			newEntry.Metrics["upload_seconds"] = time.Since(uploadStart).Seconds()
			published = true
			o.publishSidecars(ctx, task, uploaded, runID)
		}
	}

	if needsConvert || published {
		o.registry.Upsert(newEntry)
		if err := o.registry.Save(o.cfg.RegistryLocation); err != nil {
			out.Status = TaskFailed
			out.Error = err.Error()
			out.fatal = err
			return out
		}
	}

	out.OutputDir = newEntry.LocalPath
	out.RemoteLocation = newEntry.RemoteLocation
	switch {
	case needsConvert:
		out.Status = TaskConverted
	case published:
		out.Status = TaskRepublished
	default:
		out.Status = TaskFailed
	}
	return out
}

// remoteLocation derives the task's remote prefix:
// base/sanitized-model/framework/precision.
func (o *Orchestrator) remoteLocation(task ConversionTask) (string, error) {
	return childLocation(o.cfg.RemoteBucketLocation,
		Sanitize(task.Model.Name), task.Framework, task.Precision)
}

// ensureStore builds the object store on first use.
func (o *Orchestrator) ensureStore(ctx context.Context) (*ObjectStore, error) {
	o.storeMu.Lock()
	defer o.storeMu.Unlock()

	if o.store != nil {
		return o.store, nil
	}
	client := o.storeClient
	if client == nil {
		c, err := NewDefaultClient(ctx, o.awsProfile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
		client = c
	}
	o.store = NewObjectStore(client,
		WithStoreConcurrency(o.concurrency),
		WithStoreLogger(o.logger))
	return o.store, nil
}

// preflight verifies the external tools required by the job's frameworks.
func (o *Orchestrator) preflight(ctx context.Context) error {
	for _, framework := range o.cfg.Conversion.Frameworks {
		detail, err := o.converters[framework].Preflight(ctx)
		if err != nil {
			return err
		}
		o.logger.Debug("preflight ok", "framework", framework, "detail", detail)
	}
	return nil
}

// Doctor runs the preflight checks and reports per-framework tool status
// without failing.
func (o *Orchestrator) Doctor(ctx context.Context) []ToolCheck {
	checks := make([]ToolCheck, 0, len(o.cfg.Conversion.Frameworks))
	for _, framework := range o.cfg.Conversion.Frameworks {
		detail, err := o.converters[framework].Preflight(ctx)
		check := ToolCheck{Framework: framework, OK: err == nil, Detail: detail}
		if err != nil {
			check.Detail = err.Error()
		}
		checks = append(checks, check)
	}
	return checks
}

// Fetch downloads a published artifact for the triple into destDir. An
// empty precision falls back to the job's configured precision; an empty
// destDir falls back to a platform default under the application data
// directory. Returns false with a nil error when nothing is published for
// the triple; transfer failures return the error.
func (o *Orchestrator) Fetch(ctx context.Context, modelName, framework, precision, destDir string) (bool, error) {
	if precision == "" {
		precision = o.cfg.Conversion.Precision
	}

	store, err := o.ensureStore(ctx)
	if err != nil {
		return false, err
	}

	location, err := childLocation(o.cfg.RemoteBucketLocation,
		Sanitize(modelName), framework, precision)
	if err != nil {
		return false, err
	}

	objects, err := store.ListPrefix(ctx, location)
	if err != nil {
		return false, err
	}
	if len(objects) == 0 {
		o.logger.Info("no published artifact",
			"model", modelName, "framework", framework, "precision", precision)
		return false, nil
	}

	if destDir == "" {
		root, err := defaultFetchRoot()
		if err != nil {
			return false, err
		}
		destDir = filepath.Join(root, Sanitize(modelName), framework, precision)
	}

	if _, err := store.DownloadPrefix(ctx, location, destDir); err != nil {
		return false, err
	}
	o.logger.Info("fetched artifact", "location", location, "dest", destDir)
	return true, nil
}

// ListRemote folds the bucket listing into one row per published
// model/framework pair, sorted by model then framework.
func (o *Orchestrator) ListRemote(ctx context.Context) ([]RemoteArtifact, error) {
	store, err := o.ensureStore(ctx)
	if err != nil {
		return nil, err
	}

	objects, err := store.ListPrefix(ctx, o.cfg.RemoteBucketLocation)
	if err != nil {
		return nil, err
	}
	_, prefix, err := ParseLocation(o.cfg.RemoteBucketLocation)
	if err != nil {
		return nil, err
	}

	type pairKey struct{ model, framework string }
	pairs := make(map[pairKey]*RemoteArtifact)
	precisions := make(map[pairKey]map[string]bool)
	for _, obj := range objects {
		parts := strings.Split(relativeKey(obj.Key, prefix), "/")
		if len(parts) < 3 {
			continue
		}
		k := pairKey{model: parts[0], framework: parts[1]}
		art, ok := pairs[k]
		if !ok {
			art = &RemoteArtifact{Model: k.model, Framework: k.framework}
			pairs[k] = art
			precisions[k] = make(map[string]bool)
		}
		art.Objects++
		art.TotalSize += obj.Size
		precisions[k][parts[2]] = true
	}

	out := make([]RemoteArtifact, 0, len(pairs))
	for k, art := range pairs {
		for precision := range precisions[k] {
			art.Precisions = append(art.Precisions, precision)
		}
		sort.Strings(art.Precisions)
		out = append(out, *art)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Framework < out[j].Framework
	})
	return out, nil
}

// RemoteIndexEntry describes one published artifact in the remote index
// document.
type RemoteIndexEntry struct {
	// Location is the canonical remote location of the artifact prefix.
	Location string `yaml:"location" json:"location"`

	// Task and Revision echo the job description at publish time.
	Task     string `yaml:"task" json:"task"`
	Revision string `yaml:"revision" json:"revision"`

	// PublishedAt is the upload timestamp.
	PublishedAt time.Time `yaml:"published_at" json:"published_at"`
}

// remoteIndex maps sanitized model → framework → precision → entry.
type remoteIndex map[string]map[string]map[string]RemoteIndexEntry

// RemoteInfo returns the remote index entries for one model, keyed by
// framework then precision. Fails with ErrNotFound when the index or the
// model is absent.
func (o *Orchestrator) RemoteInfo(ctx context.Context, modelName string) (map[string]map[string]RemoteIndexEntry, error) {
	store, err := o.ensureStore(ctx)
	if err != nil {
		return nil, err
	}
	indexLocation, err := childLocation(o.cfg.RemoteBucketLocation, remoteIndexObjectName)
	if err != nil {
		return nil, err
	}

	data, err := store.GetObject(ctx, indexLocation)
	if err != nil {
		return nil, err
	}
	var index remoteIndex
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("%w: parsing remote index: %v", ErrStore, err)
	}

	entries, ok := index[Sanitize(modelName)]
	if !ok {
		return nil, fmt.Errorf("%w: model %q not in remote index", ErrNotFound, modelName)
	}
	return entries, nil
}

// artifactMetadata is the sidecar document uploaded beside each published
// artifact.
type artifactMetadata struct {
	ModelName   string    `yaml:"model_name"`
	Framework   string    `yaml:"framework"`
	Precision   string    `yaml:"precision"`
	Task        string    `yaml:"task"`
	Revision    string    `yaml:"revision"`
	PublishedAt time.Time `yaml:"published_at"`
	RunID       string    `yaml:"run_id"`
}

// publishSidecars uploads the metadata sidecar and refreshes the remote
// index after a successful publish. Both are best-effort: failures warn
// and never fail the task.
func (o *Orchestrator) publishSidecars(ctx context.Context, task ConversionTask, location, runID string) {
	meta := artifactMetadata{
		ModelName:   task.Model.Name,
		Framework:   task.Framework,
		Precision:   task.Precision,
		Task:        task.Model.Task,
		Revision:    task.Model.Revision,
		PublishedAt: time.Now().UTC(),
		RunID:       runID,
	}
	if data, err := yaml.Marshal(meta); err == nil {
		metaLocation, lerr := childLocation(location, metadataObjectName)
		if lerr == nil {
			if err := o.store.PutObject(ctx, metaLocation, data); err != nil {
				o.logger.Warn("failed to upload artifact metadata",
					"task", task.String(), "error", err)
			}
		}
	}

	if err := o.updateRemoteIndex(ctx, task, location); err != nil {
		o.logger.Warn("failed to update remote index",
			"task", task.String(), "error", err)
	}
}

// updateRemoteIndex read-modify-writes the catalog document at the bucket
// base location.
func (o *Orchestrator) updateRemoteIndex(ctx context.Context, task ConversionTask, location string) error {
	indexLocation, err := childLocation(o.cfg.RemoteBucketLocation, remoteIndexObjectName)
	if err != nil {
		return err
	}

	index := remoteIndex{}
	data, err := o.store.GetObject(ctx, indexLocation)
	if err == nil {
		if uerr := yaml.Unmarshal(data, &index); uerr != nil {
			o.logger.Warn("remote index unreadable, rebuilding", "error", uerr)
			index = remoteIndex{}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	model := Sanitize(task.Model.Name)
	if index[model] == nil {
		index[model] = make(map[string]map[string]RemoteIndexEntry)
	}
	if index[model][task.Framework] == nil {
		index[model][task.Framework] = make(map[string]RemoteIndexEntry)
	}
	index[model][task.Framework][task.Precision] = RemoteIndexEntry{
		Location:    location,
		Task:        task.Model.Task,
		Revision:    task.Model.Revision,
		PublishedAt: time.Now().UTC(),
	}

	out, err := yaml.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding remote index: %w", err)
	}
	return o.store.PutObject(ctx, indexLocation, out)
}

// finishReport saves the run report locally and, when publishing, uploads
// it under the experiments prefix at the container root. Best-effort; the
// run's outcome never depends on it.
func (o *Orchestrator) finishReport(ctx context.Context, report *RunReport, publish bool) {
	report.FinishedAt = time.Now().UTC()

	reportPath, err := report.save(o.cacheRoot)
	if err != nil {
		o.logger.Warn("failed to save run report", "run_id", report.RunID, "error", err)
	} else {
		o.logger.Info("run report saved",
			"run_id", report.RunID, "path", reportPath, "summary", report.Summary())
	}

	if !publish {
		return
	}

	// Report upload still makes sense after an interrupted run.
	ctx = context.WithoutCancel(ctx)
	store, err := o.ensureStore(ctx)
	if err != nil {
		o.logger.Warn("failed to upload run report", "run_id", report.RunID, "error", err)
		return
	}
	bucket, _, err := ParseLocation(o.cfg.RemoteBucketLocation)
	if err != nil {
		return
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		o.logger.Warn("failed to encode run report", "run_id", report.RunID, "error", err)
		return
	}
	location := CanonicalLocation(bucket,
		path.Join("experiments", o.cfg.ExperimentName, report.RunID, "report.yaml"))
	if err := store.PutObject(ctx, location, data); err != nil {
		o.logger.Warn("failed to upload run report",
			"run_id", report.RunID, "location", location, "error", err)
		return
	}
	o.logger.Info("run report uploaded", "run_id", report.RunID, "location", location)
}
