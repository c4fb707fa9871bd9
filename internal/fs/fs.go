package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sokinpui/udiff/internal/ui"
	"github.com/sokinpui/udiff/model"
)

// PathResolver finds absolute paths for files.
type PathResolver struct {
	lookupDirs []string
}

// NewPathResolver creates a new PathResolver. Without lookup dirs the
// current working directory is used.
func NewPathResolver(lookupDirs []string) (*PathResolver, error) {
	if len(lookupDirs) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not get current working directory: %w", err)
		}
		return &PathResolver{lookupDirs: []string{wd}}, nil
	}

	absDirs := make([]string, 0, len(lookupDirs))
	for _, dir := range lookupDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			ui.Warning("Invalid lookup directory '%s', ignoring: %v", dir, err)
			continue
		}
		absDirs = append(absDirs, abs)
	}
	if len(absDirs) == 0 {
		return nil, errors.New("no usable lookup directory")
	}
	return &PathResolver{lookupDirs: absDirs}, nil
}

// Resolve finds an absolute path, assuming a new file in the first lookup
// directory if it doesn't exist.
func (r *PathResolver) Resolve(relativePath string) string {
	if filepath.IsAbs(relativePath) {
		return relativePath
	}
	if existing := r.ResolveExisting(relativePath); existing != "" {
		return existing
	}
	return filepath.Join(r.lookupDirs[0], relativePath)
}

// ResolveExisting finds an absolute path only if the file exists.
func (r *PathResolver) ResolveExisting(relativePath string) string {
	if filepath.IsAbs(relativePath) {
		if _, err := os.Stat(relativePath); err == nil {
			return relativePath
		}
		return ""
	}
	for _, dir := range r.lookupDirs {
		absPath := filepath.Join(dir, relativePath)
		if _, err := os.Stat(absPath); err == nil {
			return absPath
		}
	}
	return ""
}

// GetFileActionsAndDirs determines which files are new vs. modified and
// which directories need to be created. Paths in deletes are marked for
// deletion when they exist.
func GetFileActionsAndDirs(targetPaths []string, deletes map[string]bool) (map[string]string, map[string]struct{}) {
	fileActions := make(map[string]string)
	dirsToCreate := make(map[string]struct{})

	for _, path := range targetPaths {
		_, err := os.Stat(path)
		exists := err == nil
		switch {
		case deletes[path]:
			if exists {
				fileActions[path] = model.ActionDelete
			}
		case !exists:
			fileActions[path] = model.ActionCreate
			dir := filepath.Dir(path)
			if dir != "." && dir != "/" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					dirsToCreate[dir] = struct{}{}
				}
			}
		default:
			fileActions[path] = model.ActionModify
		}
	}
	return fileActions, dirsToCreate
}

// CreateDirs creates the given directories in sorted order.
func CreateDirs(dirs map[string]struct{}) error {
	sortedDirs := make([]string, 0, len(dirs))
	for dir := range dirs {
		sortedDirs = append(sortedDirs, dir)
	}
	sort.Strings(sortedDirs)

	for _, dir := range sortedDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory '%s': %w", dir, err)
		}
	}
	return nil
}

// ReadText returns the file content and whether the file exists.
func ReadText(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), true, nil
}

// HashContent returns the hex SHA-256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// DiskWriter applies file changes directly on disk.
type DiskWriter struct{}

// ApplyChanges writes, creates or removes each file. It returns the
// paths that were written successfully and those that failed.
func (DiskWriter) ApplyChanges(changes []model.FileChange, progressCb func(int)) (succeeded, failed []string) {
	for i, change := range changes {
		if err := WriteChange(change); err != nil {
			ui.Error("  -> %v", err)
			failed = append(failed, change.Path)
		} else {
			succeeded = append(succeeded, change.Path)
		}
		if progressCb != nil {
			progressCb(i + 1)
		}
	}
	return succeeded, failed
}

// WriteChange performs a single change on disk.
func WriteChange(change model.FileChange) error {
	if change.Action == model.ActionDelete {
		if err := os.Remove(change.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", change.Path, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(change.Path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", change.Path, err)
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(change.Path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(change.Path, []byte(change.Content), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", change.Path, err)
	}
	return nil
}
