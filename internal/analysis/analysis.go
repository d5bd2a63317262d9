// Package analysis turns a stored document into positioned text blocks that the
// normalization step can read. Rows keep their table cells so column structure
// survives into the prompt.
package analysis

import (
	"context"
	"errors"
)

// Failure sentinels. Analyzer errors wrap exactly one of them.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrTooLarge          = errors.New("document too large")
	ErrThrottled         = errors.New("analysis throttled")
	ErrTransient         = errors.New("transient analysis failure")
)

// Document references a stored document. Data holds the bytes fetched by the
// retrieval step.
type Document struct {
	Key         string
	FileName    string
	ContentType string
	Data        []byte
}

// Block is one visual row of text.
type Block struct {
	Page  int      `json:"page"`
	Line  int      `json:"line"`
	Text  string   `json:"text"`
	Cells []string `json:"cells,omitempty"`
}

// PageMetadata describes one page of the analyzed document.
type PageMetadata struct {
	Number int     `json:"number"`
	Lines  int     `json:"lines"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Result is the raw analysis output.
type Result struct {
	Blocks    []Block        `json:"blocks"`
	Pages     []PageMetadata `json:"pages"`
	PageCount int            `json:"pageCount"`
	Engine    string         `json:"engine"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// Analyzer extracts text blocks from a document.
type Analyzer interface {
	Analyze(ctx context.Context, doc Document) (*Result, error)
}
