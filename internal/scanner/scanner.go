// Package scanner enumerates image files under the configured scan roots
// and guards access to paths outside them.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true,
	".tiff": true, ".tif": true, ".heic": true, ".heif": true, ".webp": true,
	".cr2": true, ".cr3": true, ".nef": true, ".arw": true, ".dng": true,
	".orf": true, ".rw2": true, ".pef": true,
}

// IsImageFile reports whether path has a recognized image extension.
func IsImageFile(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Result is the outcome of one enumeration.
type Result struct {
	// Files are absolute candidate paths, sorted and unique.
	Files []string

	// Incomplete lists roots and directories that could not be read.
	// Catalog entries beneath them must not be pruned.
	Incomplete []string
}

// Covers reports whether path lies beneath an unreadable location.
func (r *Result) Covers(path string) bool {
	for _, dir := range r.Incomplete {
		if Within(path, dir) {
			return true
		}
	}
	return false
}

// Collect walks every root. Missing roots are logged and recorded as
// incomplete; the walk itself only fails on context cancellation.
func Collect(ctx context.Context, roots []string) (*Result, error) {
	res := &Result{}
	seen := make(map[string]bool)

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			logrus.Warnf("Path does not exist, skipping: %s", root)
			res.Incomplete = append(res.Incomplete, root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				logrus.WithField("path", path).Warnf("cannot read: %v", err)
				res.Incomplete = append(res.Incomplete, path)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !IsImageFile(path) {
				return nil
			}
			if !d.Type().IsRegular() {
				// follow symlinks to files, skip everything else
				fi, err := os.Stat(path)
				if err != nil || !fi.Mode().IsRegular() {
					return nil
				}
			}
			if !seen[path] {
				seen[path] = true
				res.Files = append(res.Files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(res.Files)
	return res, nil
}

// ErrOutsideRoots is returned for paths that escape every scan root.
var ErrOutsideRoots = errors.New("scanner: path outside scan roots")

// Roots is the set of directories files may be served from.
type Roots []string

// Resolve cleans path, resolves symlinks and checks containment. A path
// that does not exist but would lie inside a root is returned together
// with the stat error.
func (r Roots) Resolve(path string) (string, error) {
	if path == "" || strings.ContainsRune(path, 0) || !filepath.IsAbs(path) {
		return "", ErrOutsideRoots
	}
	clean := filepath.Clean(path)
	if !r.Contains(clean) {
		return "", ErrOutsideRoots
	}

	real, err := filepath.EvalSymlinks(clean)
	if err != nil {
		return clean, err
	}
	if !r.Contains(real) {
		return "", ErrOutsideRoots
	}
	return real, nil
}

// Contains reports whether the clean absolute path is inside a root.
func (r Roots) Contains(path string) bool {
	for _, root := range r {
		if Within(path, root) {
			return true
		}
	}
	return false
}

// Within reports whether path equals dir or lies beneath it, comparing
// whole path components.
func Within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel))
}
