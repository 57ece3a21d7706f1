// Package indexer maintains the unit store incrementally: unchanged files are carried forward by
// content hash, changed files are re-extracted and their units replaced as a set.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/contenthash"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/parser"
	"github.com/hyperjump/shiori/internal/snapshot"
	"github.com/hyperjump/shiori/internal/storage"
	"go.uber.org/zap"
)

// Options controls a single indexing run.
type Options struct {
	// Force ignores the previous snapshot and rebuilds the store.
	Force bool
}

// FileError records a file that could not be processed in this run.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result summarizes one indexing run.
type Result struct {
	Snapshot     *models.IndexSnapshot `json:"snapshot"`
	Full         bool                  `json:"full"`
	Processed    []string              `json:"processed"`
	Unchanged    int                   `json:"unchanged"`
	Removed      []string              `json:"removed"`
	Failed       []FileError           `json:"failed"`
	UnitsWritten int                   `json:"unitsWritten"`
	Batches      int                   `json:"batches"`
	BatchErrors  int                   `json:"batchErrors"`
}

// Indexer implements the change-aware indexing run.
type Indexer struct {
	store     storage.Store
	parser    parser.Parser
	cfg       *config.IndexConfig
	snapshots *snapshot.IndexStore
	now       func() time.Time
	hashFile  func(path string) (contenthash.FileStat, error)
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithSnapshots persists and loads index snapshots through s. Without it Run does not persist.
func WithSnapshots(s *snapshot.IndexStore) IndexerOption {
	return func(idx *Indexer) { idx.snapshots = s }
}

// WithClock overrides time.Now for IndexedAt.
func WithClock(now func() time.Time) IndexerOption {
	return func(idx *Indexer) { idx.now = now }
}

// NewIndexer creates an indexer writing to store.
func NewIndexer(store storage.Store, p parser.Parser, cfg *config.IndexConfig, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:    store,
		parser:   p,
		cfg:      cfg,
		now:      time.Now,
		hashFile: contenthash.File,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	return idx
}

// Run loads the previous snapshot (unless opts.Force), indexes root and persists the new
// snapshot. The snapshot is not persisted when a batch failed to commit, so the next run
// reconciles against the older state.
func (idx *Indexer) Run(ctx context.Context, root string, opts Options) (*Result, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	var previous *models.IndexSnapshot
	if idx.snapshots != nil && !opts.Force {
		previous, err = idx.snapshots.Load(root)
		if err != nil {
			return nil, err
		}
	}
	res, err := idx.Index(ctx, root, previous, opts)
	if err != nil {
		return nil, err
	}
	if idx.snapshots != nil && res.BatchErrors == 0 {
		if err := idx.snapshots.Save(res.Snapshot); err != nil {
			return res, fmt.Errorf("save index status: %w", err)
		}
	}
	return res, nil
}

// Index computes the new snapshot for root against previous and applies the store mutations
// needed to reach it. A nil previous or opts.Force makes this a full rebuild.
func (idx *Indexer) Index(ctx context.Context, root string, previous *models.IndexSnapshot, opts Options) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("repository root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %s: not a directory", root)
	}

	full := opts.Force || previous == nil
	prev := map[string]models.FileRecord{}
	if !full {
		prev = previous.Records()
	}

	candidates, err := idx.enumerate(root)
	if err != nil {
		return nil, err
	}

	res := &Result{Full: full}
	c := newCommitter(idx, root, full, res)
	seen := make(map[string]bool, len(candidates))
	var records []models.FileRecord

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[cand.rel] = true

		stat, err := idx.hashFile(cand.full)
		if err != nil {
			idx.fail(res, cand.rel, err)
			if _, existed := prev[cand.rel]; existed {
				idx.deleteFile(ctx, cand.rel)
			}
			continue
		}
		if old, ok := prev[cand.rel]; ok && old.ContentHash == stat.Hash {
			records = append(records, old)
			res.Unchanged++
			idx.logger.Debug("Skipping file", zap.String("path", cand.rel), zap.String("reason", "unchanged"))
			continue
		}

		units, err := idx.parser.ExtractUnits(ctx, root, cand.rel)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			idx.fail(res, cand.rel, err)
			if _, existed := prev[cand.rel]; existed {
				idx.deleteFile(ctx, cand.rel)
			}
			continue
		}
		uniqueUnitIDs(units)
		if !full {
			if _, err := idx.store.DeleteByFile(ctx, cand.rel); err != nil {
				idx.fail(res, cand.rel, fmt.Errorf("delete previous units: %w", err))
				continue
			}
		}

		records = append(records, models.FileRecord{
			Path:         cand.rel,
			ContentHash:  stat.Hash,
			SizeBytes:    stat.SizeBytes,
			LastModified: stat.LastModified,
			Language:     cand.language,
			UnitCount:    len(units),
		})
		res.Processed = append(res.Processed, cand.rel)
		idx.logger.Debug("Extracted file", zap.String("path", cand.rel), zap.Int("units", len(units)))
		if err := c.add(ctx, cand.rel, units); err != nil {
			return nil, err
		}
	}
	if err := c.finish(ctx); err != nil {
		return nil, err
	}

	if !full {
		for _, old := range previous.Files {
			if seen[old.Path] {
				continue
			}
			idx.deleteFile(ctx, old.Path)
			res.Removed = append(res.Removed, old.Path)
		}
	}

	snap := &models.IndexSnapshot{
		SchemaVersion: models.IndexSchemaVersion,
		RepoPath:      root,
		IndexedAt:     idx.now().UTC(),
	}
	for _, r := range records {
		if !c.failedFiles[r.Path] {
			snap.Files = append(snap.Files, r)
		}
	}
	snap.RecomputeTotals()
	res.Snapshot = snap

	idx.logger.Info("Indexed repository",
		zap.String("root", root),
		zap.Bool("full", full),
		zap.Int("processed", len(res.Processed)),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("removed", len(res.Removed)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("batches", res.Batches),
		zap.Int("batch_errors", res.BatchErrors))
	return res, nil
}

// uniqueUnitIDs suffixes repeated IDs within one file, e.g. two anonymous functions that start
// on the same line, so every extracted unit is stored.
func uniqueUnitIDs(units []models.ExtractedUnit) {
	seen := make(map[string]int, len(units))
	for i := range units {
		id := units[i].ID
		seen[id]++
		if n := seen[id]; n > 1 {
			units[i].ID = fmt.Sprintf("%s#%d", id, n)
		}
	}
}

func (idx *Indexer) fail(res *Result, rel string, err error) {
	idx.logger.Warn("Skipping file", zap.String("path", rel), zap.String("reason", "error"), zap.Error(err))
	res.Failed = append(res.Failed, FileError{Path: rel, Error: err.Error()})
}

func (idx *Indexer) deleteFile(ctx context.Context, rel string) {
	n, err := idx.store.DeleteByFile(ctx, rel)
	if err != nil {
		idx.logger.Warn("Failed to delete units", zap.String("path", rel), zap.Error(err))
		return
	}
	idx.logger.Debug("Deleted units", zap.String("path", rel), zap.Int("count", n))
}
