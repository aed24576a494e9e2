package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDF extracts text page by page via pdfcpu. pdfcpu works on files, so
// the stream is spooled to a temp file first. Unreadable pages are
// dropped; a document where every page fails is corrupt input.
type PDF struct {
	conf *model.Configuration
}

// NewPDF returns the PDF extractor.
func NewPDF() *PDF {
	return &PDF{conf: model.NewDefaultConfiguration()}
}

func (p *PDF) Extensions() []string {
	return []string{".pdf"}
}

func (p *PDF) Extract(ctx context.Context, path string, r io.Reader) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	tmpDir, err := os.MkdirTemp("", "corpusd-pdf-*")
	if err != nil {
		return Result{}, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpFile := filepath.Join(tmpDir, "doc.pdf")
	if err := spool(tmpFile, r); err != nil {
		return Result{}, err
	}

	pdfCtx, err := api.ReadContextFile(tmpFile)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	pageCount := pdfCtx.PageCount
	if pageCount == 0 {
		return Result{}, fmt.Errorf("%w: no pages", ErrCorruptInput)
	}

	outDir := filepath.Join(tmpDir, "pages")
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return Result{}, fmt.Errorf("creating page dir: %w", err)
	}
	if err := api.ExtractContentFile(tmpFile, outDir, nil, p.conf); err != nil {
		return Result{}, fmt.Errorf("%w: content extraction failed: %v", ErrCorruptInput, err)
	}

	pageTexts := readPageFiles(outDir)

	segments := make([]Segment, 0, pageCount)
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		text := strings.TrimSpace(pageTexts[pageNum])
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Text:     text,
			Metadata: map[string]string{"page": strconv.Itoa(pageNum)},
		})
	}

	if len(segments) == 0 {
		return Result{}, fmt.Errorf("%w: no readable pages", ErrCorruptInput)
	}
	return Result{Segments: segments}, nil
}

// readPageFiles maps page numbers to extracted content. pdfcpu writes
// one "Content_page_N" file per page.
func readPageFiles(dir string) map[int]string {
	pageTexts := make(map[int]string)
	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(entry.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = string(content)
	}
	return pageTexts
}

func spool(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("spooling pdf: %w", err)
	}
	return f.Close()
}
