// Package parser turns repository files into extracted units: tree-sitter for source code,
// the document extractors for office files, and a single module unit for everything else.
package parser

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hyperjump/shiori/internal/contenthash"
	"github.com/hyperjump/shiori/internal/extract"
	"github.com/hyperjump/shiori/internal/models"
	"go.uber.org/zap"
)

// Parser is the structural parser consumed by the indexer.
type Parser interface {
	// ExtractUnits reads root/relPath and returns its units. relPath uses forward slashes.
	ExtractUnits(ctx context.Context, root, relPath string) ([]models.ExtractedUnit, error)
	// DetectLanguage returns the language of relPath, or "" when it is not indexable.
	DetectLanguage(relPath string) string
}

// LanguageDocument is reported for files handled by the document extractors.
const LanguageDocument = "document"

var extLanguages = map[string]string{
	".go":       "go",
	".py":       "python",
	".js":       "javascript",
	".jsx":      "javascript",
	".mjs":      "javascript",
	".cjs":      "javascript",
	".ts":       "typescript",
	".tsx":      "tsx",
	".java":     "java",
	".rs":       "rust",
	".c":        "c",
	".h":        "c",
	".cc":       "cpp",
	".cpp":      "cpp",
	".hpp":      "cpp",
	".cs":       "csharp",
	".rb":       "ruby",
	".php":      "php",
	".kt":       "kotlin",
	".swift":    "swift",
	".sh":       "shell",
	".sql":      "sql",
	".md":       "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",
	".yaml":     "yaml",
	".yml":      "yaml",
	".json":     "json",
	".toml":     "toml",
	".proto":    "protobuf",
	".html":     "html",
	".css":      "css",
}

var baseLanguages = map[string]string{
	"Makefile":   "make",
	"Dockerfile": "dockerfile",
}

// DetectLanguage maps a path to a language by extension.
func DetectLanguage(relPath string) string {
	base := path.Base(relPath)
	if lang, ok := baseLanguages[base]; ok {
		return lang
	}
	ext := strings.ToLower(path.Ext(base))
	if extract.Supported(ext) {
		return LanguageDocument
	}
	return extLanguages[ext]
}

// TreeSitterParser implements Parser.
type TreeSitterParser struct {
	extractor *extract.Extractor
	noise     map[string]NoiseFilter
	logger    *zap.Logger
}

// Option configures a TreeSitterParser.
type Option func(*TreeSitterParser)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *TreeSitterParser) {
		p.logger = logger
	}
}

// WithNoiseFilter replaces the call-name filter for lang. A nil filter keeps every call name.
func WithNoiseFilter(lang string, f NoiseFilter) Option {
	return func(p *TreeSitterParser) {
		p.noise[lang] = f
	}
}

// NewTreeSitterParser returns a parser with the default noise filters.
func NewTreeSitterParser(opts ...Option) *TreeSitterParser {
	p := &TreeSitterParser{
		extractor: extract.NewExtractor(),
		noise:     DefaultNoiseFilters(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// DetectLanguage implements Parser.
func (p *TreeSitterParser) DetectLanguage(relPath string) string {
	return DetectLanguage(relPath)
}

// ExtractUnits implements Parser.
func (p *TreeSitterParser) ExtractUnits(ctx context.Context, root, relPath string) ([]models.ExtractedUnit, error) {
	lang := DetectLanguage(relPath)
	full := filepath.Join(root, filepath.FromSlash(relPath))

	if lang == LanguageDocument {
		return p.extractDocument(full, relPath)
	}

	src, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}
	if g, ok := grammars[lang]; ok {
		units, err := p.parseSource(ctx, g, lang, relPath, src)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", relPath, err)
		}
		if len(units) > 0 {
			return units, nil
		}
		p.logger.Debug("No structural units, indexing as module", zap.String("path", relPath))
	}
	return []models.ExtractedUnit{moduleUnit(relPath, lang, src)}, nil
}

func (p *TreeSitterParser) extractDocument(full, relPath string) ([]models.ExtractedUnit, error) {
	sections, err := p.extractor.Extract(full)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", relPath, err)
	}
	units := make([]models.ExtractedUnit, 0, len(sections))
	for _, s := range sections {
		units = append(units, models.ExtractedUnit{
			ID:       contenthash.UnitID(relPath, s.Kind, s.Name, s.Index),
			FilePath: relPath,
			Kind:     s.Kind,
			Name:     s.Name,
			Language: LanguageDocument,
			Content:  s.Text,
			Metadata: map[string]string{"section": fmt.Sprint(s.Index)},
		})
	}
	return units, nil
}

func moduleUnit(relPath, lang string, src []byte) models.ExtractedUnit {
	text := string(src)
	return models.ExtractedUnit{
		ID:        contenthash.UnitID(relPath, models.UnitModule, path.Base(relPath), 1),
		FilePath:  relPath,
		Kind:      models.UnitModule,
		Name:      path.Base(relPath),
		Language:  lang,
		StartLine: 1,
		EndLine:   strings.Count(text, "\n") + 1,
		Content:   strings.ToValidUTF8(text, "�"),
	}
}
