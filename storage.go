package convert

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// appName determines platform default directories and environment variable
// names for this module.
const appName = "nlp-infer-bench"

// envCacheVar overrides the configured cache root when set.
const envCacheVar = "NLP_INFER_BENCH_CACHE_DIR"

// Sanitize transforms a model identifier into a segment safe for local
// paths and object store keys by replacing path separators with "-".
// Deterministic and pure. Distinct identifiers can collide after
// sanitization ("a/b" and "a-b"); callers accept that limitation.
func Sanitize(name string) string {
	return strings.NewReplacer("/", "-", "\\", "-").Replace(name)
}

// taskOutputDir derives the local output directory for one task:
// <cacheRoot>/<sanitized model name>/<framework>/<precision>.
func taskOutputDir(cacheRoot string, model ModelSpec, framework, precision string) string {
	return filepath.Join(cacheRoot, Sanitize(model.Name), framework, precision)
}

// resolveCacheRoot applies the environment override to the configured
// cache root.
func resolveCacheRoot(configured string) string {
	if env := os.Getenv(envCacheVar); env != "" {
		return env
	}
	return configured
}

// ensureDir creates a directory and any missing parents.
func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

// dirExists reports whether path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// purgeDir removes a directory tree entirely. Removing a missing path is
// not an error.
func purgeDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing directory %s: %w", path, err)
	}
	return nil
}

// dirSize returns the combined size in bytes of the regular files under
// path.
func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sizing directory %s: %w", path, err)
	}
	return total, nil
}

// atomicWriteFile writes data to path atomically: the bytes land in a
// temporary sibling first and are renamed into place, so a concurrent
// reader never observes a partial file. Parent directories are created
// as needed.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// defaultFetchRoot returns the platform data directory fetched artifacts
// default to when no destination is given.
func defaultFetchRoot() (string, error) {
	dir, err := getDefaultDataDir(appName)
	if err != nil {
		return "", fmt.Errorf("resolving default data directory: %w", err)
	}
	return dir, nil
}
