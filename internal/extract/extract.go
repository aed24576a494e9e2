// Package extract turns source documents into plain-text segments ready
// for chunking. One extractor per file format, dispatched by extension.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrUnsupportedFormat indicates no extractor is registered for the
	// file's extension. Permanent until the registry changes.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrCorruptInput indicates the file could not be parsed at all or
	// contained no extractable text. Permanent for this file content.
	ErrCorruptInput = errors.New("corrupt or empty input")
)

// Segment is one extracted unit of text with provenance metadata,
// e.g. the PDF page or CSV row range it came from.
type Segment struct {
	Text     string
	Metadata map[string]string
}

// Result holds the segments extracted from a single document.
type Result struct {
	Segments []Segment
}

// Text concatenates all segments with blank-line separators.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Extractor extracts text from one document format.
type Extractor interface {
	// Extensions returns the lowercase extensions this extractor handles,
	// including the leading dot.
	Extensions() []string

	// Extract reads the document and returns its text segments.
	// Returns ErrCorruptInput (possibly wrapped) when nothing usable
	// can be extracted. Partial success is success: unreadable parts
	// are dropped, readable segments are returned.
	Extract(ctx context.Context, path string, r io.Reader) (Result, error)
}

// Registry dispatches extraction by file extension.
type Registry struct {
	byExt  map[string]Extractor
	logger *zap.Logger
}

// NewRegistry builds a registry with all built-in extractors registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		byExt:  make(map[string]Extractor),
		logger: logger.Named("extract"),
	}
	r.Register(NewText())
	r.Register(NewCSV())
	r.Register(NewHTML())
	r.Register(NewPDF())
	return r
}

// Register adds an extractor, replacing any previous registration for
// its extensions.
func (r *Registry) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		r.byExt[strings.ToLower(ext)] = e
	}
}

// Supported reports whether an extractor exists for the path's extension.
func (r *Registry) Supported(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// Extract dispatches to the extractor registered for the path's extension.
func (r *Registry) Extract(ctx context.Context, path string, reader io.Reader) (Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	res, err := e.Extract(ctx, path, reader)
	if err != nil {
		return Result{}, err
	}
	r.logger.Debug("extracted document",
		zap.String("path", path),
		zap.Int("segments", len(res.Segments)))
	return res, nil
}
