// Package models defines the persisted records shared by the indexer, tracker, and cache.
package models

import (
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/shiori/internal/contenthash"
)

// IndexSchemaVersion is the current layout of the persisted IndexSnapshot.
const IndexSchemaVersion = 2

// Unit kinds produced by the structural parser and the document extractors.
const (
	UnitFunction = "function"
	UnitMethod   = "method"
	UnitClass    = "class"
	UnitType     = "type"
	UnitImport   = "import"
	UnitModule   = "module"
	UnitPage     = "page"
	UnitSheet    = "sheet"
	UnitDocument = "document"
)

// FileRecord describes one indexed source file.
type FileRecord struct {
	Path         string    `json:"path"`
	ContentHash  string    `json:"contentHash"`
	SizeBytes    int64     `json:"sizeBytes"`
	LastModified time.Time `json:"lastModified"`
	Language     string    `json:"language,omitempty"`
	UnitCount    int       `json:"unitCount"`
}

// IndexSnapshot is the full indexed state of a repository as of one run.
type IndexSnapshot struct {
	SchemaVersion  int            `json:"schemaVersion"`
	RepoPath       string         `json:"repoPath"`
	IndexedAt      time.Time      `json:"indexedAt"`
	TotalFiles     int            `json:"totalFiles"`
	TotalUnits     int            `json:"totalUnits"`
	LanguageCounts map[string]int `json:"languageCounts"`
	Files          []FileRecord   `json:"files"`
}

// RecomputeTotals derives TotalFiles, TotalUnits and LanguageCounts from Files.
func (s *IndexSnapshot) RecomputeTotals() {
	s.TotalFiles = len(s.Files)
	s.TotalUnits = 0
	s.LanguageCounts = make(map[string]int)
	for _, f := range s.Files {
		s.TotalUnits += f.UnitCount
		if f.Language != "" {
			s.LanguageCounts[f.Language]++
		}
	}
}

// Records returns the file records keyed by path.
func (s *IndexSnapshot) Records() map[string]FileRecord {
	if s == nil {
		return map[string]FileRecord{}
	}
	out := make(map[string]FileRecord, len(s.Files))
	for _, f := range s.Files {
		out[f.Path] = f
	}
	return out
}

// Lookup returns the record for path.
func (s *IndexSnapshot) Lookup(path string) (FileRecord, bool) {
	if s == nil {
		return FileRecord{}, false
	}
	for _, f := range s.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileRecord{}, false
}

// Hashes returns path -> content hash for every file in the snapshot.
func (s *IndexSnapshot) Hashes() map[string]string {
	out := make(map[string]string, len(s.Files))
	for _, f := range s.Files {
		out[f.Path] = f.ContentHash
	}
	return out
}

// Fingerprint hashes the (path, contentHash) pairs of the snapshot. Two snapshots of an unchanged
// repository share a fingerprint even though IndexedAt differs.
func (s *IndexSnapshot) Fingerprint() string {
	lines := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		lines = append(lines, f.Path+contenthash.Separator+f.ContentHash)
	}
	sort.Strings(lines)
	return contenthash.String(strings.Join(lines, "\n"))
}

// ExtractedUnit is a named, typed slice of a file.
type ExtractedUnit struct {
	ID        string            `json:"id"`
	FilePath  string            `json:"filePath"`
	Kind      string            `json:"kind"`
	Name      string            `json:"name"`
	Language  string            `json:"language,omitempty"`
	StartLine int               `json:"startLine"`
	EndLine   int               `json:"endLine"`
	Docstring string            `json:"docstring,omitempty"`
	Content   string            `json:"content,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UnitFilter selects stored units. Zero fields are ignored.
type UnitFilter struct {
	FilePath string
	// PathPrefix matches units whose file path starts with the prefix.
	PathPrefix string
	Kind       string
	// Text runs a full-text query when a keyword index is attached to the store.
	Text  string
	Limit int
}
