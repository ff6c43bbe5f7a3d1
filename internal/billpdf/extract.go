package billpdf

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a document has no extractable text on its first page
var ErrNoText = errors.New("no text content extracted from PDF")

// ExtractText returns the first page of a bill as text, one visual line per
// output line. Everything the parser needs is on the first page.
func ExtractText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}
	if reader.NumPage() < 1 {
		return "", ErrNoText
	}

	page := reader.Page(1)
	if page.V.IsNull() {
		return "", ErrNoText
	}

	texts, err := pageTexts(page)
	if err != nil {
		return "", err
	}

	result := strings.TrimSpace(layoutLines(texts))
	if result == "" {
		return "", ErrNoText
	}
	return result, nil
}

// pageTexts guards against the reader's panics on malformed content streams
func pageTexts(page pdf.Page) (texts []pdf.Text, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading page content: %v", r)
		}
	}()
	return page.Content().Text, nil
}

// layoutLines groups glyph runs into lines by baseline and inserts a space
// wherever the horizontal gap is wider than a fraction of the font size.
func layoutLines(texts []pdf.Text) string {
	if len(texts) == 0 {
		return ""
	}

	sorted := make([]pdf.Text, len(texts))
	copy(sorted, texts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var (
		out   strings.Builder
		line  []pdf.Text
		lineY = sorted[0].Y
	)
	flush := func() {
		out.WriteString(joinLine(line))
		out.WriteByte('\n')
		line = line[:0]
	}

	for _, t := range sorted {
		if len(line) > 0 && math.Abs(t.Y-lineY) > lineTolerance(t, line[0]) {
			flush()
		}
		if len(line) == 0 {
			lineY = t.Y
		}
		line = append(line, t)
	}
	if len(line) > 0 {
		flush()
	}
	return out.String()
}

func lineTolerance(a, b pdf.Text) float64 {
	size := math.Max(a.FontSize, b.FontSize)
	if size <= 0 {
		size = 10
	}
	return size * 0.4
}

func joinLine(line []pdf.Text) string {
	sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })

	var b strings.Builder
	for i, t := range line {
		if i > 0 {
			prev := line[i-1]
			size := math.Max(t.FontSize, 1)
			if t.X-(prev.X+prev.W) > size*0.2 && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(t.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
	}
	return strings.TrimRight(b.String(), " ")
}
