// Package staleness decides whether a generated artifact must be rebuilt, by comparing the
// content hashes of its sources with those recorded when it was last generated.
package staleness

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/shiori/internal/contenthash"
	"github.com/hyperjump/shiori/internal/models"
	"go.uber.org/zap"
)

// HashLookup returns the current content hash of a source identifier.
type HashLookup func(sourceID string) (string, bool)

// IndexHashes returns a HashLookup over the file records of snap.
func IndexHashes(snap *models.IndexSnapshot) HashLookup {
	hashes := map[string]string{}
	if snap != nil {
		hashes = snap.Hashes()
	}
	return func(id string) (string, bool) {
		h, ok := hashes[id]
		return h, ok
	}
}

// Reason explains a staleness decision.
type Reason string

const (
	ReasonUpToDate       Reason = "up_to_date"
	ReasonNoPreviousRun  Reason = "no_previous_run"
	ReasonNewArtifact    Reason = "new_artifact"
	ReasonSourcesChanged Reason = "sources_changed"
	ReasonHashUnknown    Reason = "hash_unknown"
	ReasonHashChanged    Reason = "hash_changed"
)

// Decision is the outcome of Decide. SourceID names the source that triggered a hash-based
// decision.
type Decision struct {
	Regenerate bool   `json:"regenerate"`
	Reason     Reason `json:"reason"`
	SourceID   string `json:"sourceId,omitempty"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	previous  map[string]models.PageSnapshot
	current   map[string]models.PageSnapshot
	hashes    HashLookup
	outputDir string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides time.Now for GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker builds a tracker over the previous run (nil when there is none). Generated
// artifacts live under outputDir.
func NewTracker(previous *models.GenerationRunSnapshot, hashes HashLookup, outputDir string, opts ...Option) *Tracker {
	t := &Tracker{
		current:   map[string]models.PageSnapshot{},
		hashes:    hashes,
		outputDir: outputDir,
		now:       time.Now,
	}
	if previous != nil {
		t.previous = previous.PageMap()
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// NeedsRegeneration reports whether artifactPath must be rebuilt from sourceIDs.
func (t *Tracker) NeedsRegeneration(artifactPath string, sourceIDs []string) bool {
	return t.Decide(artifactPath, sourceIDs).Regenerate
}

// Decide is NeedsRegeneration with the reason attached.
func (t *Tracker) Decide(artifactPath string, sourceIDs []string) Decision {
	if t.previous == nil {
		return Decision{Regenerate: true, Reason: ReasonNoPreviousRun}
	}
	prev, ok := t.previous[artifactPath]
	if !ok {
		return Decision{Regenerate: true, Reason: ReasonNewArtifact}
	}
	return t.compare(prev, uniqueSorted(sourceIDs))
}

func (t *Tracker) compare(prev models.PageSnapshot, ids []string) Decision {
	if !sameSet(ids, uniqueSorted(prev.SourceIDs)) {
		return Decision{Regenerate: true, Reason: ReasonSourcesChanged}
	}
	for _, id := range ids {
		cur, ok := t.hashes(id)
		if !ok || cur == "" {
			return Decision{Regenerate: true, Reason: ReasonHashUnknown, SourceID: id}
		}
		old := prev.SourceHashes[id]
		if old == "" {
			return Decision{Regenerate: true, Reason: ReasonHashUnknown, SourceID: id}
		}
		if old != cur {
			return Decision{Regenerate: true, Reason: ReasonHashChanged, SourceID: id}
		}
	}
	return Decision{Reason: ReasonUpToDate}
}

// RecordSnapshot registers a freshly generated artifact with the current hashes of its sources.
// Sources without a known hash are stored with an empty hash, which forces regeneration next run.
func (t *Tracker) RecordSnapshot(artifactPath string, sourceIDs []string, generatedText string) models.PageSnapshot {
	ids := uniqueSorted(sourceIDs)
	hashes := make(map[string]string, len(ids))
	for _, id := range ids {
		h, _ := t.hashes(id)
		hashes[id] = h
	}
	ps := models.PageSnapshot{
		ArtifactPath: artifactPath,
		SourceIDs:    ids,
		SourceHashes: hashes,
		ContentHash:  contenthash.String(generatedText),
		GeneratedAt:  t.now().UTC(),
	}
	t.mu.Lock()
	t.current[artifactPath] = ps
	t.mu.Unlock()
	return ps
}

// Reuse carries the previous snapshot of artifactPath into the current run unchanged.
func (t *Tracker) Reuse(artifactPath string) (models.PageSnapshot, bool) {
	prev, ok := t.previous[artifactPath]
	if !ok {
		return models.PageSnapshot{}, false
	}
	t.mu.Lock()
	t.current[artifactPath] = prev
	t.mu.Unlock()
	return prev, true
}

// LoadPrevious returns the existing text of artifactPath. A missing or unreadable artifact
// reports false.
func (t *Tracker) LoadPrevious(artifactPath string) (string, bool) {
	full, ok := t.Resolve(artifactPath)
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("Previous artifact unreadable", zap.String("artifact", artifactPath), zap.Error(err))
		}
		return "", false
	}
	return string(data), true
}

// Resolve maps artifactPath under the output directory, rejecting paths that escape it.
func (t *Tracker) Resolve(artifactPath string) (string, bool) {
	full := filepath.Join(t.outputDir, filepath.FromSlash(artifactPath))
	rel, err := filepath.Rel(t.outputDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// Recorded returns the artifact paths registered in the current run.
func (t *Tracker) Recorded() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.current))
	for p := range t.current {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the current run's pages as a GenerationRunSnapshot.
func (t *Tracker) Snapshot(repoPath, indexHash string) *models.GenerationRunSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := &models.GenerationRunSnapshot{
		SchemaVersion: models.GenerationSchemaVersion,
		RepoPath:      repoPath,
		GeneratedAt:   t.now().UTC(),
		IndexHash:     indexHash,
		Pages:         make([]models.PageSnapshot, 0, len(t.current)),
	}
	for _, ps := range t.current {
		snap.Pages = append(snap.Pages, ps)
	}
	sort.Slice(snap.Pages, func(i, j int) bool { return snap.Pages[i].ArtifactPath < snap.Pages[j].ArtifactPath })
	snap.TotalPages = len(snap.Pages)
	return snap
}

// StaleArtifact is one entry of StaleReport.
type StaleArtifact struct {
	ArtifactPath string `json:"artifactPath"`
	Decision
}

// StaleReport checks every previously generated artifact against its own recorded sources.
func (t *Tracker) StaleReport() []StaleArtifact {
	var out []StaleArtifact
	for path, prev := range t.previous {
		d := t.compare(prev, uniqueSorted(prev.SourceIDs))
		if d.Regenerate {
			out = append(out, StaleArtifact{ArtifactPath: path, Decision: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArtifactPath < out[j].ArtifactPath })
	return out
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
