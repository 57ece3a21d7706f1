package indexer

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// candidate is a file that passed enumeration filters.
type candidate struct {
	rel      string
	full     string
	language string
}

// enumerate walks root in lexical order and returns indexable files.
func (idx *Indexer) enumerate(root string) ([]candidate, error) {
	var out []candidate
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			idx.logger.Warn("Skipping unreadable path", zap.String("path", p), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if Excluded(rel, idx.cfg.Exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		lang := idx.parser.DetectLanguage(rel)
		if lang == "" || !idx.languageAllowed(lang) {
			return nil
		}
		if idx.cfg.MaxFileBytes > 0 {
			info, err := d.Info()
			if err != nil {
				idx.logger.Warn("Skipping file", zap.String("path", rel), zap.String("reason", "error"), zap.Error(err))
				return nil
			}
			if info.Size() > idx.cfg.MaxFileBytes {
				idx.logger.Debug("Skipping file", zap.String("path", rel), zap.String("reason", "too_large"), zap.Int64("size", info.Size()))
				return nil
			}
		}
		out = append(out, candidate{rel: rel, full: p, language: lang})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}

func (idx *Indexer) languageAllowed(lang string) bool {
	if len(idx.cfg.Languages) == 0 {
		return true
	}
	for _, l := range idx.cfg.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// Excluded reports whether any pattern matches the slash-separated rel or one of its segments.
func Excluded(rel string, patterns []string) bool {
	segments := strings.Split(rel, "/")
	for _, p := range patterns {
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		for _, s := range segments {
			if ok, _ := path.Match(p, s); ok {
				return true
			}
		}
	}
	return false
}
