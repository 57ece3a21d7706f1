// Package extract turns binary and office documents into text sections that the indexer stores
// as units.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Section is one addressable part of a document: a PDF page, a spreadsheet sheet, or a whole
// word-processing document.
type Section struct {
	Kind  string
	Name  string
	Index int
	Text  string
}

// Extractor extracts text sections from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

var documentExts = map[string]bool{
	".pdf":  true,
	".xlsx": true,
	".docx": true,
	".odt":  true,
	".rtf":  true,
}

// Supported reports whether ext (with leading dot) is a document format handled here.
func Supported(ext string) bool {
	return documentExts[strings.ToLower(ext)]
}

// Extract reads the file at path and returns its sections.
func (e *Extractor) Extract(path string) ([]Section, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts sections from content based on ext, which includes the leading dot.
// Empty sections are dropped.
func (e *Extractor) ExtractBytes(content []byte, ext string) ([]Section, error) {
	var sections []Section
	var err error
	switch ext {
	case ".pdf":
		sections, err = extractPDF(content)
	case ".xlsx":
		sections, err = extractExcel(content)
	case ".docx":
		sections, err = extractDOCX(content)
	case ".odt", ".rtf":
		sections, err = extractWithCat(content)
	default:
		sections = []Section{{Kind: "document", Name: "text", Index: 1, Text: plainText(content)}}
	}
	if err != nil {
		return nil, err
	}
	out := sections[:0]
	for _, s := range sections {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
