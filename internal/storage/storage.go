// Package storage persists extracted units, keyed by file path.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/shiori/internal/models"
)

// ErrNotFound is returned when a requested unit does not exist.
var ErrNotFound = errors.New("not found")

// Store is the indexing store adapter. A file's units are always replaced as a set.
type Store interface {
	// ReplaceAll drops every stored unit and inserts units.
	ReplaceAll(ctx context.Context, units []models.ExtractedUnit) error
	// Append inserts units, replacing any with the same ID.
	Append(ctx context.Context, units []models.ExtractedUnit) error
	// DeleteByFile removes all units of a file and returns how many were removed.
	DeleteByFile(ctx context.Context, path string) (int, error)
	Query(ctx context.Context, filter models.UnitFilter) ([]models.ExtractedUnit, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}
