package extract

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Text handles plain text and markdown files. Markdown is indexed as-is;
// its formatting marks survive chunking and rarely hurt retrieval.
type Text struct{}

// NewText returns the plain-text extractor.
func NewText() *Text { return &Text{} }

func (t *Text) Extensions() []string {
	return []string{".txt", ".text", ".md", ".markdown", ".rst", ".log"}
}

func (t *Text) Extract(ctx context.Context, path string, r io.Reader) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", path, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty file", ErrCorruptInput)
	}

	return Result{Segments: []Segment{{Text: text}}}, nil
}
