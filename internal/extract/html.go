package extract

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// HTML converts markup to markdown so headings and lists keep their
// structure through chunking. Falls back to stripped text when the
// markdown conversion fails.
type HTML struct {
	converter *md.Converter
}

// NewHTML returns the HTML extractor.
func NewHTML() *HTML {
	return &HTML{converter: md.NewConverter("", true, nil)}
}

func (h *HTML) Extensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

func (h *HTML) Extract(ctx context.Context, path string, r io.Reader) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}

	doc.Find("script, style, noscript, iframe").Remove()

	meta := map[string]string{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}

	html, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(html) == "" {
		html, _ = doc.Html()
	}

	text := ""
	if markdown, err := h.converter.ConvertString(html); err == nil {
		text = markdown
	} else {
		text = doc.Text()
	}

	text = strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n"))
	if text == "" {
		return Result{}, fmt.Errorf("%w: no text content", ErrCorruptInput)
	}

	return Result{Segments: []Segment{{Text: text, Metadata: meta}}}, nil
}
