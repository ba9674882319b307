package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// locationScheme is the scheme marker accepted on remote location strings.
const locationScheme = "s3://"

// ParseLocation decomposes a remote location into a bucket and a key
// prefix. The scheme marker is optional and stripped; the prefix is
// normalized with no surrounding separators. A location without a bucket
// fails with ErrInvalidLocation.
func ParseLocation(location string) (bucket, prefix string, err error) {
	raw := strings.TrimPrefix(location, locationScheme)
	raw = strings.Trim(raw, "/")
	bucket, prefix, _ = strings.Cut(raw, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// CanonicalLocation renders a bucket and prefix as the canonical location
// string: scheme included, no trailing separator.
func CanonicalLocation(bucket, prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return locationScheme + bucket
	}
	return locationScheme + bucket + "/" + prefix
}

// childLocation appends key segments to a base location, returning the
// canonical form.
func childLocation(base string, segments ...string) (string, error) {
	bucket, prefix, err := ParseLocation(base)
	if err != nil {
		return "", err
	}
	return CanonicalLocation(bucket, path.Join(append([]string{prefix}, segments...)...)), nil
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	// Key is the full object key within its bucket.
	Key string

	// Size is the object size in bytes.
	Size int64
}

// StoreClient is the object store surface this package consumes.
// *s3.Client satisfies this interface; tests use an in-memory fake.
type StoreClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ StoreClient = (*s3.Client)(nil)

// NewDefaultClient builds an S3 client from the ambient AWS configuration
// (environment, shared config files, instance metadata), optionally
// selecting a named shared-config profile.
func NewDefaultClient(ctx context.Context, profile string) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// ObjectStore mirrors local directory trees to remote prefixes in a
// path-preserving manner. All methods are safe for concurrent use.
type ObjectStore struct {
	// client performs the raw object operations.
	client StoreClient

	// concurrency bounds the transfer worker pool.
	concurrency int

	// logger receives diagnostic messages.
	logger Logger
}

// StoreOption configures an ObjectStore.
type StoreOption func(*ObjectStore)

// WithStoreConcurrency sets the number of concurrent object transfers.
// Values are clamped to the range [1, MaxTransferConcurrency].
// Default is DefaultTransferConcurrency (4).
func WithStoreConcurrency(n int) StoreOption {
	return func(s *ObjectStore) {
		if n < 1 {
			n = 1
		}
		if n > MaxTransferConcurrency {
			n = MaxTransferConcurrency
		}
		s.concurrency = n
	}
}

// WithStoreLogger sets a logger for transfer diagnostics.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *ObjectStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewObjectStore creates an ObjectStore backed by the given client.
func NewObjectStore(client StoreClient, opts ...StoreOption) *ObjectStore {
	s := &ObjectStore{
		client:      client,
		concurrency: DefaultTransferConcurrency,
		logger:      nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadDirectory uploads every regular file under localDir to the remote
// location, preserving relative paths with platform separators normalized
// to "/". Fails with ErrNotFound when localDir does not exist. Returns the
// canonical location string for the uploaded prefix.
func (s *ObjectStore) UploadDirectory(ctx context.Context, localDir, location string) (string, error) {
	info, err := os.Stat(localDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: local directory %s", ErrNotFound, localDir)
	}

	bucket, prefix, err := ParseLocation(location)
	if err != nil {
		return "", err
	}

	var jobs []transferJob
	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		jobs = append(jobs, transferJob{
			localPath: p,
			key:       path.Join(prefix, filepath.ToSlash(rel)),
			size:      fi.Size(),
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: walking %s: %v", ErrStore, localDir, err)
	}

	upload := func(ctx context.Context, job transferJob) error {
		return s.uploadFile(ctx, bucket, job)
	}
	if err := s.runTransfers(ctx, jobs, upload); err != nil {
		return "", fmt.Errorf("%w: uploading %s to %s: %v", ErrStore, localDir, CanonicalLocation(bucket, prefix), err)
	}

	s.logger.Info("uploaded directory",
		"local_dir", localDir,
		"location", CanonicalLocation(bucket, prefix),
		"objects", len(jobs))
	return CanonicalLocation(bucket, prefix), nil
}

// DownloadPrefix downloads every object under the remote location into
// localDir, preserving relative key structure. When suffixes are given,
// only keys ending in one of them are downloaded. Objects land in a
// "<localDir>.partial" staging directory that is renamed into place only
// after every object arrived, so an interrupted download never leaves an
// unmarked half-populated directory. Returns localDir.
func (s *ObjectStore) DownloadPrefix(ctx context.Context, location, localDir string, suffixes ...string) (string, error) {
	bucket, prefix, err := ParseLocation(location)
	if err != nil {
		return "", err
	}

	objects, err := s.listObjects(ctx, bucket, prefix)
	if err != nil {
		return "", err
	}

	var jobs []transferJob
	for _, obj := range objects {
		if !matchesSuffix(obj.Key, suffixes) {
			continue
		}
		rel := relativeKey(obj.Key, prefix)
		if rel == "" {
			continue
		}
		native := filepath.FromSlash(rel)
		if !filepath.IsLocal(native) {
			return "", fmt.Errorf("%w: object key %q escapes destination", ErrStore, obj.Key)
		}
		jobs = append(jobs, transferJob{
			localPath: native,
			key:       obj.Key,
			size:      obj.Size,
		})
	}

	if len(jobs) == 0 {
		if err := ensureDir(localDir); err != nil {
			return "", err
		}
		return localDir, nil
	}

	staging := localDir + ".partial"
	if err := purgeDir(staging); err != nil {
		return "", err
	}
	if err := ensureDir(staging); err != nil {
		return "", err
	}

	download := func(ctx context.Context, job transferJob) error {
		job.localPath = filepath.Join(staging, job.localPath)
		return s.downloadFile(ctx, bucket, job)
	}
	if err := s.runTransfers(ctx, jobs, download); err != nil {
		purgeDir(staging)
		return "", fmt.Errorf("%w: downloading %s to %s: %v", ErrStore, CanonicalLocation(bucket, prefix), localDir, err)
	}

	if err := purgeDir(localDir); err != nil {
		return "", err
	}
	if err := ensureDir(filepath.Dir(localDir)); err != nil {
		return "", err
	}
	if err := os.Rename(staging, localDir); err != nil {
		return "", fmt.Errorf("%w: moving %s into place: %v", ErrStore, staging, err)
	}

	s.logger.Info("downloaded prefix",
		"location", CanonicalLocation(bucket, prefix),
		"local_dir", localDir,
		"objects", len(jobs))
	return localDir, nil
}

// ListPrefix returns descriptors for every object under the remote
// location. Pagination is handled internally; callers never observe page
// boundaries.
func (s *ObjectStore) ListPrefix(ctx context.Context, location string) ([]ObjectInfo, error) {
	bucket, prefix, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return s.listObjects(ctx, bucket, prefix)
}

// GetObject fetches one object by its full location. Missing objects fail
// with ErrNotFound.
func (s *ObjectStore) GetObject(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("%w: %q has no object key", ErrInvalidLocation, location)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: object %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("%w: getting %s: %v", ErrStore, location, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStore, location, err)
	}
	return data, nil
}

// PutObject stores data at the full location.
func (s *ObjectStore) PutObject(ctx context.Context, location string, data []byte) error {
	bucket, key, err := ParseLocation(location)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: %q has no object key", ErrInvalidLocation, location)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: putting %s: %v", ErrStore, location, err)
	}
	return nil
}

// listObjects walks the paginated listing for a prefix. A non-empty prefix
// is listed with a trailing separator so sibling prefixes sharing the same
// leading characters never bleed into the result.
func (s *ObjectStore) listObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix + "/")
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: listing %s: %v", ErrStore, CanonicalLocation(bucket, prefix), err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

// relativeKey strips the listing prefix from an object key.
func relativeKey(key, prefix string) string {
	if prefix == "" {
		return strings.TrimPrefix(key, "/")
	}
	rel := strings.TrimPrefix(key, prefix)
	return strings.TrimPrefix(rel, "/")
}

// matchesSuffix reports whether key ends in one of the suffixes. An empty
// filter matches everything.
func matchesSuffix(key string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	for _, suffix := range suffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// transferJob is one unit of work for the transfer worker pool.
type transferJob struct {
	// localPath is the local file involved in the transfer.
	localPath string

	// key is the object key involved in the transfer.
	key string

	// size is the expected object size in bytes, when known.
	size int64
}

// runTransfers executes jobs with a bounded worker pool. The first error
// cancels the remaining transfers and is returned.
func (s *ObjectStore) runTransfers(ctx context.Context, jobs []transferJob, transfer func(context.Context, transferJob) error) error {
	if len(jobs) == 0 {
		return nil
	}

	concurrency := s.concurrency
	if concurrency > len(jobs) {
		concurrency = len(jobs)
	}

	jobCh := make(chan transferJob, len(jobs))
	results := make(chan error, len(jobs))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job, ok := <-jobCh:
					if !ok {
						return
					}
					select {
					case results <- transfer(ctx, job):
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	var firstErr error
	completed := 0
collectLoop:
	for completed < len(jobs) {
		select {
		case err := <-results:
			completed++
			if err != nil && firstErr == nil {
				firstErr = err
				cancel()
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break collectLoop
		}
	}

	wg.Wait()
	return firstErr
}

// uploadFile puts one local file under its key.
func (s *ObjectStore) uploadFile(ctx context.Context, bucket string, job transferJob) error {
	f, err := os.Open(job.localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", job.localPath, err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(job.key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", job.key, err)
	}

	s.logger.Debug("uploaded object", "key", job.key, "bytes", job.size)
	return nil
}

// downloadFile fetches one object into a local file, verifying the byte
// count against the listed size.
func (s *ObjectStore) downloadFile(ctx context.Context, bucket string, job transferJob) error {
	if err := ensureDir(filepath.Dir(job.localPath)); err != nil {
		return err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(job.key),
	})
	if err != nil {
		return fmt.Errorf("getting %s: %w", job.key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(job.localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", job.localPath, err)
	}
	written, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", job.localPath, err)
	}
	if job.size >= 0 && written != job.size {
		return fmt.Errorf("object %s: wrote %d bytes, expected %d", job.key, written, job.size)
	}

	s.logger.Debug("downloaded object", "key", job.key, "bytes", written)
	return nil
}
