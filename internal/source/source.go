// Package source abstracts the document source. The daemon only ever
// reads from it; source files are never modified, moved, or deleted.
package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo describes one candidate file under a root.
type FileInfo struct {
	// Path is the absolute file path.
	Path    string
	Size    int64
	ModTime time.Time
}

// Source lists and opens documents.
type Source interface {
	// List walks root and returns regular files, skipping well-known
	// junk directories. Paths are absolute.
	List(ctx context.Context, root string) ([]FileInfo, error)
	// Open returns a reader for path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// defaultSkipDirs are directories that should always be skipped during
// indexing. These typically contain generated code, dependencies, or
// version control data.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

// OS reads documents from the local filesystem.
type OS struct {
	// MaxFileSize drops larger files from listings. 0 means no limit.
	MaxFileSize int64
}

// NewOS builds a filesystem source.
func NewOS(maxFileSize int64) *OS {
	return &OS{MaxFileSize: maxFileSize}
}

// List walks root, skipping hidden and generated directories and files
// over the size limit.
func (s *OS) List(ctx context.Context, root string) ([]FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}

	var files []FileInfo
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal: one bad
			// directory must not abort the whole pass.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		name := d.Name()
		if d.IsDir() {
			if path != absRoot && (defaultSkipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if s.MaxFileSize > 0 && info.Size() > s.MaxFileSize {
			return nil
		}

		files = append(files, FileInfo{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, err)
	}
	return files, nil
}

// Open opens path read-only.
func (s *OS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}
