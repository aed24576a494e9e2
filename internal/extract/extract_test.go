package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(zap.NewNop())
}

func TestRegistry_Supported(t *testing.T) {
	r := newTestRegistry(t)

	assert.True(t, r.Supported("notes.txt"))
	assert.True(t, r.Supported("report.PDF"))
	assert.True(t, r.Supported("data.csv"))
	assert.True(t, r.Supported("page.html"))
	assert.True(t, r.Supported("readme.md"))
	assert.False(t, r.Supported("archive.zip"))
	assert.False(t, r.Supported("binary"))
}

func TestRegistry_UnsupportedFormat(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Extract(context.Background(), "img.png", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestText_Extract(t *testing.T) {
	e := NewText()

	res, err := e.Extract(context.Background(), "a.txt", strings.NewReader("  hello\nworld  "))
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "hello\nworld", res.Segments[0].Text)
}

func TestText_EmptyIsCorrupt(t *testing.T) {
	e := NewText()

	for _, input := range []string{"", "   \n\t  "} {
		_, err := e.Extract(context.Background(), "a.txt", strings.NewReader(input))
		require.ErrorIs(t, err, ErrCorruptInput)
	}
}

func TestCSV_Extract(t *testing.T) {
	e := NewCSV()
	input := "city,population\nBerlin,3700000\nParis,2100000\n"

	res, err := e.Extract(context.Background(), "cities.csv", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)

	text := res.Segments[0].Text
	assert.Contains(t, text, "city: Berlin")
	assert.Contains(t, text, "population: 3700000")
	assert.Contains(t, text, "city: Paris")
	assert.Equal(t, "1", res.Segments[0].Metadata["row_start"])
	assert.Equal(t, "2", res.Segments[0].Metadata["row_end"])
}

func TestCSV_SegmentsLargeFiles(t *testing.T) {
	e := NewCSV()
	var b strings.Builder
	b.WriteString("id,value\n")
	for i := 0; i < 250; i++ {
		b.WriteString("1,x\n")
	}

	res, err := e.Extract(context.Background(), "big.csv", strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Len(t, res.Segments, 3) // 100 + 100 + 50
	assert.Equal(t, "201", res.Segments[2].Metadata["row_start"])
	assert.Equal(t, "250", res.Segments[2].Metadata["row_end"])
}

func TestCSV_HeaderOnlyIsCorrupt(t *testing.T) {
	e := NewCSV()

	_, err := e.Extract(context.Background(), "empty.csv", strings.NewReader("a,b,c\n"))
	require.ErrorIs(t, err, ErrCorruptInput)

	_, err = e.Extract(context.Background(), "empty.csv", strings.NewReader(""))
	require.ErrorIs(t, err, ErrCorruptInput)
}

func TestHTML_Extract(t *testing.T) {
	e := NewHTML()
	input := `<html><head><title>Energy Report</title>
<script>alert("skip me")</script></head>
<body><h1>Solar</h1><p>Panel output grew.</p></body></html>`

	res, err := e.Extract(context.Background(), "report.html", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)

	seg := res.Segments[0]
	assert.Equal(t, "Energy Report", seg.Metadata["title"])
	assert.Contains(t, seg.Text, "Solar")
	assert.Contains(t, seg.Text, "Panel output grew.")
	assert.NotContains(t, seg.Text, "alert")
}

func TestHTML_EmptyBodyIsCorrupt(t *testing.T) {
	e := NewHTML()

	_, err := e.Extract(context.Background(), "blank.html", strings.NewReader("<html><body></body></html>"))
	require.ErrorIs(t, err, ErrCorruptInput)
}

func TestPDF_GarbageIsCorrupt(t *testing.T) {
	e := NewPDF()

	_, err := e.Extract(context.Background(), "fake.pdf", strings.NewReader("this is not a pdf"))
	require.ErrorIs(t, err, ErrCorruptInput)
}

func TestResult_Text(t *testing.T) {
	res := Result{Segments: []Segment{{Text: "one"}, {Text: "two"}}}
	assert.Equal(t, "one\n\ntwo", res.Text())
}
