// Package extract turns document files into text for entity discovery. Text is kept in
// sections (pages, slides, sheets, headed parts) so downstream chunking can follow them.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultMaxBytes = 64 << 20

// ErrTooLarge is returned for files over the extractor's size limit.
var ErrTooLarge = errors.New("document exceeds size limit")

// Section is one page, slide, sheet, or headed part of a document.
type Section struct {
	Heading string `json:"heading,omitempty"`
	Text    string `json:"text"`
}

// Document is extracted text plus what could be learned about its structure.
type Document struct {
	Title    string    `json:"title,omitempty"`
	Format   string    `json:"format"`
	Sections []Section `json:"sections"`
}

// Text joins the sections, each heading on its own line, with a blank line between sections.
func (d Document) Text() string {
	var b strings.Builder
	for _, s := range d.Sections {
		text := strings.TrimSpace(s.Text)
		if text == "" && s.Heading == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if s.Heading != "" {
			b.WriteString(s.Heading)
			if text != "" {
				b.WriteByte('\n')
			}
		}
		b.WriteString(text)
	}
	return b.String()
}

type extractFunc func(content []byte) (Document, error)

var formats = map[string]extractFunc{
	".pdf":      extractPDF,
	".docx":     extractDOCX,
	".odt":      extractODT,
	".rtf":      extractRTF,
	".xlsx":     extractExcel,
	".pptx":     extractPPTX,
	".odp":      extractODP,
	".ods":      extractODS,
	".md":       extractMarkdown,
	".markdown": extractMarkdown,
	".txt":      extractPlain,
	".rst":      extractPlain,
}

// Supported reports whether ext has a dedicated extractor. Anything else is read as plain text.
func Supported(ext string) bool {
	_, ok := formats[strings.ToLower(ext)]
	return ok
}

// Extractor extracts text from document files.
type Extractor struct {
	maxBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes sets the largest input accepted. Zero or less disables the limit.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// NewExtractor returns an Extractor with a 64 MiB input limit unless overridden.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxBytes: defaultMaxBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the file at path and extracts it according to its extension.
func (e *Extractor) Extract(path string) (Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, fmt.Errorf("stat file: %w", err)
	}
	if e.maxBytes > 0 && info.Size() > e.maxBytes {
		return Document{}, fmt.Errorf("%s is %d bytes: %w", path, info.Size(), ErrTooLarge)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts content according to ext, which includes the leading dot (".pdf").
// Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (Document, error) {
	if e.maxBytes > 0 && int64(len(content)) > e.maxBytes {
		return Document{}, ErrTooLarge
	}
	ext = strings.ToLower(ext)
	fn, ok := formats[ext]
	format := strings.TrimPrefix(ext, ".")
	if !ok {
		fn, format = extractPlain, "text"
	}
	doc, err := fn(content)
	if err != nil {
		return Document{}, err
	}
	doc.Format = format
	return doc, nil
}
