package models

import "time"

// GenerationSchemaVersion is the current layout of the persisted GenerationRunSnapshot.
const GenerationSchemaVersion = 2

// PageSnapshot records what a generated artifact was built from.
type PageSnapshot struct {
	ArtifactPath string            `json:"artifactPath"`
	SourceIDs    []string          `json:"sourceIds"`
	SourceHashes map[string]string `json:"sourceHashes"`
	ContentHash  string            `json:"contentHash"`
	GeneratedAt  time.Time         `json:"generatedAt"`
}

// GenerationRunSnapshot is the set of page snapshots produced by one pipeline run.
type GenerationRunSnapshot struct {
	SchemaVersion int            `json:"schemaVersion"`
	RepoPath      string         `json:"repoPath"`
	GeneratedAt   time.Time      `json:"generatedAt"`
	TotalPages    int            `json:"totalPages"`
	IndexHash     string         `json:"indexHash,omitempty"`
	Pages         []PageSnapshot `json:"pages"`
}

// PageMap returns the pages keyed by artifact path.
func (s *GenerationRunSnapshot) PageMap() map[string]PageSnapshot {
	out := make(map[string]PageSnapshot, len(s.Pages))
	for _, p := range s.Pages {
		out[p.ArtifactPath] = p
	}
	return out
}
