package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/nemanja-m/cxehelper/internal/orchestrator/core"
	"github.com/nemanja-m/cxehelper/internal/timerange"
)

const (
	objectsDirName = "objects"
	bundlesDirName = "bundles"
)

// Layout is the output tree of a run:
//
//	<root>/objects/<kind>_objects-<start>-<end>/          scratch, one per job
//	<root>/bundles/<kind>/<calendar-dir>/<kind>-bundle-<start>-<end>.json
type Layout struct {
	Root string
}

func NewLayout(root string) (Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve output dir %s: %w", root, err)
	}
	return Layout{Root: abs}, nil
}

func (l Layout) ObjectsDir() string {
	return filepath.Join(l.Root, objectsDirName)
}

func (l Layout) BundlesDir() string {
	return filepath.Join(l.Root, bundlesDirName)
}

// WorkspacePath is the scratch directory of one (kind, window) job.
func (l Layout) WorkspacePath(kind core.JobKind, w timerange.Window) string {
	return filepath.Join(l.ObjectsDir(), fmt.Sprintf("%s_objects-%s", kind, w.Stamp()))
}

// BundleName is the bundle file of one (kind, window) job, relative to
// BundlesDir. It always uses forward slashes.
func (l Layout) BundleName(kind core.JobKind, w timerange.Window) string {
	return fmt.Sprintf("%s/%s/%s-bundle-%s.json", kind, w.CalendarDir(), kind, w.Stamp())
}

func (l Layout) BundlePath(kind core.JobKind, w timerange.Window) string {
	return filepath.Join(l.BundlesDir(), filepath.FromSlash(l.BundleName(kind, w)))
}

// CreateWorkspace creates the scratch directory of a job. An existing
// directory is reused.
func (l Layout) CreateWorkspace(kind core.JobKind, w timerange.Window) (string, error) {
	path := l.WorkspacePath(kind, w)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", path, err)
	}
	return path, nil
}

// RemoveWorkspace deletes a scratch directory. A missing directory is not an
// error, so it is safe to call more than once.
func RemoveWorkspace(path string) error {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove workspace %s: %w", path, err)
	}
	return nil
}

// PrepareBundle creates the parent directories of a job's bundle file.
func (l Layout) PrepareBundle(kind core.JobKind, w timerange.Window) (string, error) {
	path := l.BundlePath(kind, w)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create bundle dir for %s: %w", path, err)
	}
	return path, nil
}

// SweepStaleWorkspaces removes scratch directories left behind by a run that
// was killed before its cleanup ran. It returns the removed paths.
func (l Layout) SweepStaleWorkspaces() ([]string, error) {
	objectsDir := l.ObjectsDir()
	matches, err := doublestar.Glob(os.DirFS(objectsDir), "*_objects-*")
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, name := range matches {
		path := filepath.Join(objectsDir, filepath.FromSlash(name))
		info, err := os.Lstat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := RemoveWorkspace(path); err != nil {
			return removed, err
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// RemoveObjects deletes the whole objects tree.
func (l Layout) RemoveObjects() error {
	if err := os.RemoveAll(l.ObjectsDir()); err != nil {
		return fmt.Errorf("failed to remove objects dir: %w", err)
	}
	return nil
}

// Reset deletes the whole output tree, bundles included.
func (l Layout) Reset() error {
	if err := os.RemoveAll(l.Root); err != nil {
		return fmt.Errorf("failed to reset output dir %s: %w", l.Root, err)
	}
	return nil
}

// ListBundles returns every bundle file under BundlesDir, sorted.
func (l Layout) ListBundles() ([]string, error) {
	bundlesDir := l.BundlesDir()
	matches, err := doublestar.Glob(os.DirFS(bundlesDir), "**/*-bundle-*.json", doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(matches))
	for _, name := range matches {
		paths = append(paths, filepath.Join(bundlesDir, filepath.FromSlash(name)))
	}
	slices.Sort(paths)
	return paths, nil
}
