// Package examples lists SOFA scene files and opens them in the simulator.
package examples

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound reports a missing example file, examples directory or simulator executable.
var ErrNotFound = errors.New("examples: not found")

var sceneExtensions = map[string]struct{}{
	".scn": {},
	".py":  {},
	".xml": {},
}

// Catalog enumerates scene files below an examples directory.
type Catalog struct {
	dir string
}

// NewCatalog constructs a Catalog rooted at dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: filepath.Clean(dir)}
}

// Dir returns the examples directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// List returns every .scn, .py and .xml file below the examples directory as a sorted,
// slash-separated relative path. The relative path is the resource identity comments attach to.
func (c *Catalog) List() ([]string, error) {
	info, err := os.Stat(c.dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: examples directory %s", ErrNotFound, c.dir)
	}

	var names []string
	err = filepath.WalkDir(c.dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !IsScene(path) {
			return nil
		}
		relative, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(relative))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Resolve maps a catalog name to a file on disk: first relative to the examples directory,
// then as a path in its own right.
func (c *Catalog) Resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty example name", ErrNotFound)
	}
	candidate := filepath.Join(c.dir, filepath.FromSlash(name))
	if fileExists(candidate) {
		return candidate, nil
	}
	if fileExists(name) {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Name returns the catalog name for path: its slash-separated path relative to the examples
// directory when it lies inside it, otherwise path unchanged.
func (c *Catalog) Name(path string) string {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	root, err := filepath.Abs(c.dir)
	if err != nil {
		return path
	}
	relative, err := filepath.Rel(root, absolute)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(relative)
}

// IsScene reports whether path has a scene file extension.
func IsScene(path string) bool {
	_, ok := sceneExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
