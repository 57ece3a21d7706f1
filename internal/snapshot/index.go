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

// IndexStore reads and writes index-status files under a state directory.
type IndexStore struct {
	dir    string
	logger *zap.Logger
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets a logger for migration and corruption events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewIndexStore returns a store rooted at dir.
func NewIndexStore(dir string, opts ...Option) *IndexStore {
	o := applyOptions(opts)
	return &IndexStore{dir: dir, logger: o.logger}
}

// Path returns the index-status file path for repoPath.
func (s *IndexStore) Path(repoPath string) string {
	return filepath.Join(s.dir, "index-status-"+RepoKey(repoPath)+".json")
}

// Load returns the previous snapshot for repoPath, or nil when none exists or the file is corrupt.
// Older schema versions are migrated and immediately re-saved.
func (s *IndexStore) Load(repoPath string) (*models.IndexSnapshot, error) {
	path := s.Path(repoPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index status: %w", err)
	}
	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		s.warn("index status corrupt, treating as absent", zap.String("path", path), zap.Error(err))
		return nil, nil
	}

	var snap *models.IndexSnapshot
	migrated := false
	if probe.SchemaVersion < models.IndexSchemaVersion {
		snap, err = migrateIndexV1(data)
		migrated = true
	} else {
		snap = &models.IndexSnapshot{}
		err = json.Unmarshal(data, snap)
	}
	if err != nil {
		s.warn("index status corrupt, treating as absent", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	if migrated {
		if s.logger != nil {
			s.logger.Info("migrated index status",
				zap.String("path", path),
				zap.Int("from", probe.SchemaVersion),
				zap.Int("to", models.IndexSchemaVersion))
		}
		if err := s.Save(snap); err != nil {
			return nil, fmt.Errorf("re-save migrated index status: %w", err)
		}
	}
	return snap, nil
}

// Save atomically replaces the index-status file for snap.RepoPath.
func (s *IndexStore) Save(snap *models.IndexSnapshot) error {
	if snap.SchemaVersion == 0 {
		snap.SchemaVersion = models.IndexSchemaVersion
	}
	return writeJSON(s.Path(snap.RepoPath), snap)
}

// Remove deletes the index-status file for repoPath. A missing file is not an error.
func (s *IndexStore) Remove(repoPath string) error {
	if err := os.Remove(s.Path(repoPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove index status: %w", err)
	}
	return nil
}

func (s *IndexStore) warn(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Warn(msg, fields...)
	}
}

// indexV1 is the first index-status layout: files keyed by path, "chunkCount" instead of
// "unitCount", and no language counts.
type indexV1 struct {
	RepoPath   string    `json:"repoPath"`
	IndexedAt  time.Time `json:"indexedAt"`
	TotalFiles int       `json:"totalFiles"`
	TotalUnits int       `json:"totalChunks"`
	Files      map[string]struct {
		ContentHash  string    `json:"contentHash"`
		SizeBytes    int64     `json:"sizeBytes"`
		LastModified time.Time `json:"lastModified"`
		Language     string    `json:"language"`
		ChunkCount   int       `json:"chunkCount"`
	} `json:"files"`
}

func migrateIndexV1(data []byte) (*models.IndexSnapshot, error) {
	var old indexV1
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, err
	}
	snap := &models.IndexSnapshot{
		SchemaVersion: models.IndexSchemaVersion,
		RepoPath:      old.RepoPath,
		IndexedAt:     old.IndexedAt,
	}
	for path, f := range old.Files {
		snap.Files = append(snap.Files, models.FileRecord{
			Path:         path,
			ContentHash:  f.ContentHash,
			SizeBytes:    f.SizeBytes,
			LastModified: f.LastModified,
			Language:     f.Language,
			UnitCount:    f.ChunkCount,
		})
	}
	sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].Path < snap.Files[j].Path })
	snap.RecomputeTotals()
	return snap, nil
}
