package analysis

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	// EnginePDF marks results produced from a PDF text layer.
	EnginePDF = "pdf-text"
	// EngineText marks results produced from a plain text document.
	EngineText = "plain-text"
)

var pdfMagic = []byte("%PDF-")

// Config bounds the local analyzer.
type Config struct {
	// MaxBytes rejects larger documents with ErrTooLarge.
	MaxBytes int64
	// MaxPages rejects documents with more pages with ErrTooLarge.
	MaxPages int
	// MaxConcurrent bounds simultaneous analyses; waiting callers whose
	// context ends first get ErrThrottled.
	MaxConcurrent int64
	// CellGap is the horizontal gap, in multiples of the font size, that
	// separates two table cells on one row.
	CellGap float64
}

// DefaultConfig returns limits suitable for bank statements.
func DefaultConfig() Config {
	return Config{
		MaxBytes:      20 << 20,
		MaxPages:      200,
		MaxConcurrent: 4,
		CellGap:       1.5,
	}
}

// LocalAnalyzer analyzes PDFs with a text layer and plain text files in
// process. Scanned PDFs without a text layer yield no blocks and a warning.
type LocalAnalyzer struct {
	cfg Config
	sem *semaphore.Weighted
	log zerolog.Logger
}

// NewLocalAnalyzer creates a LocalAnalyzer. Zero fields in cfg take defaults.
func NewLocalAnalyzer(cfg Config, log zerolog.Logger) *LocalAnalyzer {
	def := DefaultConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.CellGap <= 0 {
		cfg.CellGap = def.CellGap
	}
	return &LocalAnalyzer{cfg: cfg, sem: semaphore.NewWeighted(cfg.MaxConcurrent), log: log}
}

// Analyze implements Analyzer.
func (a *LocalAnalyzer) Analyze(ctx context.Context, doc Document) (*Result, error) {
	if int64(len(doc.Data)) > a.cfg.MaxBytes {
		return nil, fmt.Errorf("%d bytes exceeds limit of %d: %w", len(doc.Data), a.cfg.MaxBytes, ErrTooLarge)
	}
	if len(doc.Data) == 0 {
		return nil, fmt.Errorf("document %q is empty: %w", doc.FileName, ErrUnsupportedFormat)
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for analysis slot: %v: %w", err, ErrThrottled)
	}
	defer a.sem.Release(1)

	switch {
	case bytes.HasPrefix(doc.Data, pdfMagic):
		return a.analyzePDF(ctx, doc)
	case isText(doc):
		return analyzeText(doc), nil
	default:
		return nil, fmt.Errorf("document %q (%s): %w", doc.FileName, doc.ContentType, ErrUnsupportedFormat)
	}
}

func (a *LocalAnalyzer) analyzePDF(ctx context.Context, doc Document) (res *Result, err error) {
	// Both PDF libraries can panic on malformed input.
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("pdf parser panic: %v: %w", r, ErrUnsupportedFormat)
		}
	}()

	res = &Result{Engine: EnginePDF}

	// pdfcpu preflight: structural problems are reported, not fatal, since
	// bank-generated PDFs are often slightly malformed but still readable.
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if verr := api.Validate(bytes.NewReader(doc.Data), conf); verr != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("pdf validation: %v", verr))
	}
	pageCount, perr := api.PageCount(bytes.NewReader(doc.Data), conf)
	if perr != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("pdf page count: %v", perr))
	}
	if pageCount > a.cfg.MaxPages {
		return nil, fmt.Errorf("%d pages exceeds limit of %d: %w", pageCount, a.cfg.MaxPages, ErrTooLarge)
	}

	reader, err := pdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %v: %w", err, ErrUnsupportedFormat)
	}
	total := reader.NumPage()
	if pageCount == 0 {
		pageCount = total
	}
	if total > a.cfg.MaxPages {
		return nil, fmt.Errorf("%d pages exceeds limit of %d: %w", total, a.cfg.MaxPages, ErrTooLarge)
	}
	res.PageCount = pageCount

	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("analysis interrupted on page %d: %v: %w", n, err, ErrTransient)
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d is empty", n))
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", n, err))
			continue
		}

		meta := PageMetadata{Number: n}
		if box := page.V.Key("MediaBox"); box.Len() == 4 {
			meta.Width = box.Index(2).Float64() - box.Index(0).Float64()
			meta.Height = box.Index(3).Float64() - box.Index(1).Float64()
		}
		for _, row := range rows {
			cells := SplitCells(row.Content, a.cfg.CellGap)
			if len(cells) == 0 {
				continue
			}
			meta.Lines++
			res.Blocks = append(res.Blocks, Block{
				Page:  n,
				Line:  meta.Lines,
				Text:  strings.Join(cells, " "),
				Cells: cells,
			})
		}
		res.Pages = append(res.Pages, meta)
	}

	if len(res.Blocks) == 0 {
		res.Warnings = append(res.Warnings, "no text layer found; the document may be a scan")
	}
	a.log.Debug().
		Str("file_name", doc.FileName).
		Int("pages", res.PageCount).
		Int("blocks", len(res.Blocks)).
		Int("warnings", len(res.Warnings)).
		Msg("PDF analyzed")
	return res, nil
}

// SplitCells joins the glyph runs of one row into cells. Runs closer than a
// fraction of the font size are the same word; a gap wider than cellGap font
// sizes starts a new cell.
func SplitCells(texts []pdf.Text, cellGap float64) []string {
	if len(texts) == 0 {
		return nil
	}
	sorted := make([]pdf.Text, len(texts))
	copy(sorted, texts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var (
		cells   []string
		current strings.Builder
		lastEnd = math.Inf(-1)
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			cells = append(cells, s)
		}
		current.Reset()
	}

	for _, t := range sorted {
		if t.S == "" {
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		gap := t.X - lastEnd
		switch {
		case current.Len() == 0:
		case gap > cellGap*size:
			flush()
		case gap > 0.2*size && !strings.HasSuffix(current.String(), " "):
			current.WriteByte(' ')
		}
		current.WriteString(t.S)
		end := t.X + t.W
		if t.W <= 0 {
			end = t.X + 0.5*size*float64(utf8.RuneCountInString(t.S))
		}
		lastEnd = end
	}
	flush()
	return cells
}

func isText(doc Document) bool {
	if strings.HasPrefix(doc.ContentType, "text/") {
		return utf8.Valid(doc.Data)
	}
	lower := strings.ToLower(doc.FileName)
	if strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".csv") {
		return utf8.Valid(doc.Data)
	}
	return false
}

// analyzeText turns each non-empty line into a block. Tabs, semicolons and
// commas in CSV files separate cells.
func analyzeText(doc Document) *Result {
	res := &Result{Engine: EngineText, PageCount: 1}
	csv := strings.HasSuffix(strings.ToLower(doc.FileName), ".csv") || doc.ContentType == "text/csv"

	meta := PageMetadata{Number: 1}
	for _, raw := range strings.Split(strings.ReplaceAll(string(doc.Data), "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		var cells []string
		switch {
		case strings.Contains(line, "\t"):
			cells = splitTrim(line, "\t")
		case csv && strings.Contains(line, ";"):
			cells = splitTrim(line, ";")
		case csv:
			cells = splitTrim(line, ",")
		}
		meta.Lines++
		res.Blocks = append(res.Blocks, Block{Page: 1, Line: meta.Lines, Text: line, Cells: cells})
	}
	res.Pages = []PageMetadata{meta}
	return res
}

func splitTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

var _ Analyzer = (*LocalAnalyzer)(nil)
