package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/models"
)

// GenerationStore reads and writes wiki-status files under a state directory.
type GenerationStore struct {
	dir    string
	logger *zap.Logger
}

// NewGenerationStore returns a store rooted at dir.
func NewGenerationStore(dir string, opts ...Option) *GenerationStore {
	o := applyOptions(opts)
	return &GenerationStore{dir: dir, logger: o.logger}
}

// Path returns the wiki-status file path for repoPath.
func (s *GenerationStore) Path(repoPath string) string {
	return filepath.Join(s.dir, "wiki-status-"+RepoKey(repoPath)+".json")
}

// Load returns the previous generation run for repoPath, or nil when none exists or the file is
// corrupt. Older schema versions are migrated and immediately re-saved.
func (s *GenerationStore) Load(repoPath string) (*models.GenerationRunSnapshot, error) {
	path := s.Path(repoPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read wiki status: %w", err)
	}
	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		s.warn("wiki status corrupt, treating as absent", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	var snap *models.GenerationRunSnapshot
	migrated := false
	if probe.SchemaVersion < models.GenerationSchemaVersion {
		snap, err = migrateGenerationV1(data)
		migrated = true
	} else {
		snap = &models.GenerationRunSnapshot{}
		err = json.Unmarshal(data, snap)
	}
	if err != nil {
		s.warn("wiki status corrupt, treating as absent", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	if migrated {
		if s.logger != nil {
			s.logger.Info("migrated wiki status", zap.String("path", path), zap.Int("from", probe.SchemaVersion))
		}
		if err := s.Save(snap); err != nil {
			return nil, fmt.Errorf("re-save migrated wiki status: %w", err)
		}
	}
	return snap, nil
}

// Save atomically replaces the wiki-status file for snap.RepoPath.
func (s *GenerationStore) Save(snap *models.GenerationRunSnapshot) error {
	if snap.SchemaVersion == 0 {
		snap.SchemaVersion = models.GenerationSchemaVersion
	}
	return writeJSON(s.Path(snap.RepoPath), snap)
}

func (s *GenerationStore) warn(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Warn(msg, fields...)
	}
}

// generationV1 is the first wiki-status layout: pages keyed by artifact path and no content
// hash or index hash.
type generationV1 struct {
	RepoPath    string    `json:"repoPath"`
	GeneratedAt time.Time `json:"generatedAt"`
	Pages       map[string]struct {
		SourceFiles  []string          `json:"sourceFiles"`
		SourceHashes map[string]string `json:"sourceHashes"`
		GeneratedAt  time.Time         `json:"generatedAt"`
	} `json:"pages"`
}

func migrateGenerationV1(data []byte) (*models.GenerationRunSnapshot, error) {
	var old generationV1
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, err
	}
	snap := &models.GenerationRunSnapshot{
		SchemaVersion: models.GenerationSchemaVersion,
		RepoPath:      old.RepoPath,
		GeneratedAt:   old.GeneratedAt,
	}
	for path, p := range old.Pages {
		hashes := make(map[string]string, len(p.SourceFiles))
		for _, id := range p.SourceFiles {
			hashes[id] = p.SourceHashes[id]
		}
		snap.Pages = append(snap.Pages, models.PageSnapshot{
			ArtifactPath: path,
			SourceIDs:    append([]string(nil), p.SourceFiles...),
			SourceHashes: hashes,
			GeneratedAt:  p.GeneratedAt,
		})
	}
	sort.Slice(snap.Pages, func(i, j int) bool { return snap.Pages[i].ArtifactPath < snap.Pages[j].ArtifactPath })
	snap.TotalPages = len(snap.Pages)
	return snap, nil
}
