package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// csvSegmentRows bounds how many data rows go into one segment so a
// large spreadsheet does not collapse into a single giant chunk input.
const csvSegmentRows = 100

// CSV renders comma-separated files as "header: value" lines, one block
// per row, so column names stay attached to their values in the index.
type CSV struct{}

// NewCSV returns the CSV extractor.
func NewCSV() *CSV { return &CSV{} }

func (c *CSV) Extensions() []string {
	return []string{".csv", ".tsv"}
}

func (c *CSV) Extract(ctx context.Context, path string, r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		reader.Comma = '\t'
	}

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, fmt.Errorf("%w: empty file", ErrCorruptInput)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}

	var (
		segments []Segment
		buf      strings.Builder
		rowStart = 1
		rows     = 0
		total    = 0
	)

	flush := func() {
		if rows == 0 {
			return
		}
		segments = append(segments, Segment{
			Text: strings.TrimSpace(buf.String()),
			Metadata: map[string]string{
				"row_start": strconv.Itoa(rowStart),
				"row_end":   strconv.Itoa(rowStart + rows - 1),
			},
		})
		buf.Reset()
		rowStart += rows
		rows = 0
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Malformed row in an otherwise readable file: drop the
			// row, keep going.
			continue
		}

		if rows > 0 {
			buf.WriteString("\n\n")
		}
		for i, field := range record {
			if i > 0 {
				buf.WriteString("\n")
			}
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			buf.WriteString(name)
			buf.WriteString(": ")
			buf.WriteString(strings.TrimSpace(field))
		}
		rows++
		total++

		if rows >= csvSegmentRows {
			flush()
		}
	}
	flush()

	if total == 0 {
		return Result{}, fmt.Errorf("%w: header only, no data rows", ErrCorruptInput)
	}
	return Result{Segments: segments}, nil
}
