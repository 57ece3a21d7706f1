// Package keyword provides full-text search over extracted units using Bleve.
package keyword

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/hyperjump/shiori/internal/models"
)

// unitDoc is the indexed form of a unit.
type unitDoc struct {
	FilePath  string `json:"file_path"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Docstring string `json:"docstring"`
	Content   string `json:"content"`
}

// UnitIndex is a Bleve index keyed by unit ID.
type UnitIndex struct {
	path  string
	mu    sync.RWMutex
	index bleve.Index
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer lowercases and tokenizes without stemming so identifiers match verbatim.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", text)
	docMapping.AddFieldMappingsAt("docstring", text)
	docMapping.AddFieldMappingsAt("content", text)

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keywordanalyzer.Name
	docMapping.AddFieldMappingsAt("file_path", exact)
	docMapping.AddFieldMappingsAt("kind", exact)

	im.DefaultMapping = docMapping
	return im
}

// NewUnitIndex creates or opens a Bleve index at path. An empty path creates an in-memory index.
func NewUnitIndex(path string) (*UnitIndex, error) {
	idx, err := openIndex(path)
	if err != nil {
		return nil, err
	}
	return &UnitIndex{path: path, index: idx}, nil
}

func openIndex(path string) (bleve.Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return idx, nil
	}
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return idx, nil
	}
	idx, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return idx, nil
}

// Index adds or replaces units in one Bleve batch.
func (u *UnitIndex) Index(ctx context.Context, units []models.ExtractedUnit) error {
	if len(units) == 0 {
		return nil
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	batch := u.index.NewBatch()
	for _, unit := range units {
		doc := unitDoc{
			FilePath:  unit.FilePath,
			Kind:      unit.Kind,
			Name:      unit.Name,
			Docstring: unit.Docstring,
			Content:   unit.Content,
		}
		if err := batch.Index(unit.ID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", unit.ID, err)
		}
	}
	if err := u.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Delete removes units by ID.
func (u *UnitIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	batch := u.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return u.index.Batch(batch)
}

// Reset drops every document by recreating the index.
func (u *UnitIndex) Reset(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.index.Close(); err != nil {
		return fmt.Errorf("close Bleve index: %w", err)
	}
	if u.path != "" {
		if err := os.RemoveAll(u.path); err != nil {
			return fmt.Errorf("remove Bleve index: %w", err)
		}
	}
	idx, err := openIndex(u.path)
	if err != nil {
		return err
	}
	u.index = idx
	return nil
}

// Search runs a match query over name, docstring and content and returns matching unit IDs,
// best first.
func (u *UnitIndex) Search(ctx context.Context, text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(text))
	req.Size = limit
	res, err := u.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// DocCount returns the number of indexed units.
func (u *UnitIndex) DocCount() (uint64, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.index.DocCount()
}

// Close closes the Bleve index.
func (u *UnitIndex) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.index.Close()
}
