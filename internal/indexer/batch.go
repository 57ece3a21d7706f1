package indexer

import (
	"context"

	"github.com/hyperjump/shiori/internal/models"
	"go.uber.org/zap"
)

// committer buffers units and writes them in bounded batches, in discovery order.
type committer struct {
	idx      *Indexer
	root     string
	full     bool
	replaced bool
	res      *Result

	pending []models.ExtractedUnit
	owners  []string

	// failedFiles holds files with at least one unit in a batch that failed to commit.
	failedFiles map[string]bool
}

func newCommitter(idx *Indexer, root string, full bool, res *Result) *committer {
	return &committer{idx: idx, root: root, full: full, res: res, failedFiles: map[string]bool{}}
}

func (c *committer) batchSize() int {
	if c.idx.cfg.BatchSize <= 0 {
		return 500
	}
	return c.idx.cfg.BatchSize
}

func (c *committer) add(ctx context.Context, file string, units []models.ExtractedUnit) error {
	for _, u := range units {
		c.pending = append(c.pending, u)
		c.owners = append(c.owners, file)
		if len(c.pending) >= c.batchSize() {
			if err := c.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *committer) finish(ctx context.Context) error {
	if len(c.pending) > 0 {
		return c.flush(ctx)
	}
	if c.full && !c.replaced {
		// A full rebuild with nothing to write still clears the store.
		return c.commit(ctx, nil, nil)
	}
	return nil
}

func (c *committer) flush(ctx context.Context) error {
	units, owners := c.pending, c.owners
	c.pending, c.owners = nil, nil
	return c.commit(ctx, units, owners)
}

// commit writes one batch. Only context cancellation is returned; store failures mark the
// batch's files as failed and the run continues.
func (c *committer) commit(ctx context.Context, units []models.ExtractedUnit, owners []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if c.full && !c.replaced {
		if c.idx.snapshots != nil {
			if rmErr := c.idx.snapshots.Remove(c.root); rmErr != nil {
				c.idx.logger.Warn("Failed to remove index status before rebuild", zap.Error(rmErr))
			}
		}
		err = c.idx.store.ReplaceAll(ctx, units)
		if err == nil {
			c.replaced = true
		}
	} else {
		err = c.idx.store.Append(ctx, units)
	}
	c.res.Batches++
	if err != nil {
		c.res.BatchErrors++
		files := map[string]bool{}
		for _, o := range owners {
			if !c.failedFiles[o] {
				files[o] = true
				c.failedFiles[o] = true
				c.res.Failed = append(c.res.Failed, FileError{Path: o, Error: "commit batch: " + err.Error()})
			}
		}
		c.idx.logger.Warn("Batch commit failed",
			zap.Int("batch", c.res.Batches),
			zap.Int("units", len(units)),
			zap.Int("files", len(files)),
			zap.Error(err))
		return nil
	}
	c.res.UnitsWritten += len(units)
	c.idx.logger.Debug("Committed batch", zap.Int("batch", c.res.Batches), zap.Int("units", len(units)))
	return nil
}
