package wiki

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/llm"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/snapshot"
	"github.com/hyperjump/shiori/internal/staleness"
	"github.com/hyperjump/shiori/internal/storage"
)

// Page outcomes.
const (
	OutcomeGenerated = "generated"
	OutcomeReused    = "reused"
	OutcomeFailed    = "failed"
)

// ReasonArtifactMissing marks an up-to-date page whose file could not be read back.
const ReasonArtifactMissing staleness.Reason = "artifact_missing"

// RunOptions controls one pipeline run.
type RunOptions struct {
	// ForceIndex rebuilds the unit store from scratch.
	ForceIndex bool
	// ForceGenerate ignores the previous generation run and regenerates every page.
	ForceGenerate bool
}

// PageResult is the outcome of one page.
type PageResult struct {
	Path    string           `json:"path"`
	Outcome string           `json:"outcome"`
	Reason  staleness.Reason `json:"reason"`
	Error   string           `json:"error,omitempty"`
	Took    time.Duration    `json:"took"`
}

// Report summarizes a pipeline run.
type Report struct {
	Repo      string          `json:"repo"`
	OutputDir string          `json:"outputDir"`
	Index     *indexer.Result `json:"index"`
	Pages     []PageResult    `json:"pages"`
	Generated int             `json:"generated"`
	Reused    int             `json:"reused"`
	Failed    int             `json:"failed"`
	Pruned    []string        `json:"pruned,omitempty"`
	Took      time.Duration   `json:"took"`
}

// Pipeline sequences indexing and per-page generation.
type Pipeline struct {
	indexer     *indexer.Indexer
	store       storage.Store
	generator   llm.Generator
	indexes     *snapshot.IndexStore
	generations *snapshot.GenerationStore
	cfg         *config.Config
	planner     Planner
	prompts     *PromptBuilder
	logger      *zap.Logger
	now         func() time.Time

	// runMu serializes runs of the same process.
	runMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithPlanner replaces the DirectoryPlanner.
func WithPlanner(pl Planner) Option {
	return func(p *Pipeline) { p.planner = pl }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires a pipeline. generator should already carry retry and caching middleware.
func NewPipeline(
	idx *indexer.Indexer,
	store storage.Store,
	generator llm.Generator,
	indexes *snapshot.IndexStore,
	generations *snapshot.GenerationStore,
	cfg *config.Config,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		indexer:     idx,
		store:       store,
		generator:   generator,
		indexes:     indexes,
		generations: generations,
		cfg:         cfg,
		planner:     DirectoryPlanner{Overview: cfg.Wiki.OverviewOrDefault(), MaxUnits: cfg.Wiki.MaxUnitsPerPage},
		prompts:     NewPromptBuilder(store, cfg.Wiki.MaxUnitsPerPage, cfg.Wiki.MaxUnitChars),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OutputDir returns the directory the pages of repo are written to.
func (p *Pipeline) OutputDir(repo string) string {
	return filepath.Join(p.cfg.Storage.OutputDir, snapshot.RepoKey(repo))
}

// Run indexes repo incrementally, then regenerates the pages whose sources changed. Page failures
// are reported, not returned. Errors are returned for an unusable repository, store or state
// directory, and for cancellation, in which case the report holds the pages completed so far.
func (p *Pipeline) Run(ctx context.Context, repo string, opts RunOptions) (*Report, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := p.now()
	repo, err := filepath.Abs(repo)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	report := &Report{Repo: repo, OutputDir: p.OutputDir(repo)}

	idxRes, err := p.indexer.Run(ctx, repo, indexer.Options{Force: opts.ForceIndex})
	if err != nil {
		return nil, err
	}
	report.Index = idxRes
	snap := idxRes.Snapshot

	var previous *models.GenerationRunSnapshot
	if !opts.ForceGenerate {
		if previous, err = p.generations.Load(repo); err != nil {
			return nil, err
		}
	}
	tracker := staleness.NewTracker(previous, staleness.IndexHashes(snap), report.OutputDir,
		staleness.WithLogger(p.logger), staleness.WithClock(p.now))
	plan := p.planner.Plan(snap)
	indexHash := snap.Fingerprint()

	var (
		mu      sync.Mutex
		results = make([]PageResult, 0, len(plan))
	)
	checkpoint := func() {
		if err := p.generations.Save(p.checkpoint(tracker, previous, repo, indexHash)); err != nil {
			p.logger.Warn("Failed to persist wiki status", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.Generation.MaxConcurrency))
	for _, page := range plan {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := p.page(gctx, tracker, page, snap, plan)
			mu.Lock()
			results = append(results, res)
			if res.Outcome != OutcomeFailed {
				checkpoint()
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	report.Pages = results
	for _, r := range results {
		switch r.Outcome {
		case OutcomeGenerated:
			report.Generated++
		case OutcomeReused:
			report.Reused++
		case OutcomeFailed:
			report.Failed++
		}
	}
	if err := ctx.Err(); err != nil {
		report.Took = p.now().Sub(start)
		return report, err
	}

	final := tracker.Snapshot(repo, indexHash)
	if err := p.generations.Save(final); err != nil {
		return report, fmt.Errorf("save wiki status: %w", err)
	}
	report.Pruned = p.prune(tracker, previous, plan)
	report.Took = p.now().Sub(start)
	p.logger.Info("Wiki run complete",
		zap.String("repo", repo),
		zap.Int("generated", report.Generated),
		zap.Int("reused", report.Reused),
		zap.Int("failed", report.Failed),
		zap.Duration("took", report.Took))
	return report, nil
}

// checkpoint merges the pages finished in this run over the previous run, so an interrupted run
// keeps the snapshots of pages it has not reached yet.
func (p *Pipeline) checkpoint(tracker *staleness.Tracker, previous *models.GenerationRunSnapshot, repo, indexHash string) *models.GenerationRunSnapshot {
	snap := tracker.Snapshot(repo, indexHash)
	if previous == nil {
		return snap
	}
	done := snap.PageMap()
	for _, ps := range previous.Pages {
		if _, ok := done[ps.ArtifactPath]; !ok {
			snap.Pages = append(snap.Pages, ps)
		}
	}
	sort.Slice(snap.Pages, func(i, j int) bool { return snap.Pages[i].ArtifactPath < snap.Pages[j].ArtifactPath })
	snap.TotalPages = len(snap.Pages)
	return snap
}

func (p *Pipeline) page(ctx context.Context, tracker *staleness.Tracker, page Page, snap *models.IndexSnapshot, plan []Page) PageResult {
	start := p.now()
	res := PageResult{Path: page.Path}
	fail := func(err error) PageResult {
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		res.Took = p.now().Sub(start)
		p.logger.Warn("Page generation failed", zap.String("page", page.Path), zap.String("reason", "error"), zap.Error(err))
		return res
	}

	d := tracker.Decide(page.Path, page.SourceIDs)
	res.Reason = d.Reason
	if !d.Regenerate {
		if _, ok := tracker.LoadPrevious(page.Path); ok {
			tracker.Reuse(page.Path)
			res.Outcome = OutcomeReused
			res.Took = p.now().Sub(start)
			p.logger.Debug("Page up to date", zap.String("page", page.Path), zap.String("reason", string(d.Reason)))
			return res
		}
		res.Reason = ReasonArtifactMissing
	}

	system, prompt, err := p.prompts.Build(ctx, page, snap, plan)
	if err != nil {
		return fail(err)
	}
	text, err := p.generator.Generate(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: system,
		MaxTokens:    p.cfg.Generation.MaxTokens,
		Temperature:  p.cfg.Generation.Temperature,
		ExactOnly:    sourcesChanged(res.Reason),
	})
	if err != nil {
		return fail(err)
	}
	full, ok := tracker.Resolve(page.Path)
	if !ok {
		return fail(fmt.Errorf("page path %q escapes the output directory", page.Path))
	}
	if err := snapshot.WriteFileAtomic(full, []byte(text)); err != nil {
		return fail(err)
	}
	tracker.RecordSnapshot(page.Path, page.SourceIDs, text)
	res.Outcome = OutcomeGenerated
	res.Took = p.now().Sub(start)
	p.logger.Debug("Page generated",
		zap.String("page", page.Path),
		zap.String("reason", string(res.Reason)),
		zap.Int("bytes", len(text)))
	return res
}

// sourcesChanged reports whether a page is regenerated because its inputs differ from the last
// run. A similar cached prompt would then describe the old sources.
func sourcesChanged(r staleness.Reason) bool {
	switch r {
	case staleness.ReasonHashChanged, staleness.ReasonSourcesChanged, staleness.ReasonHashUnknown:
		return true
	}
	return false
}

// prune removes page files from the previous run that are no longer planned.
func (p *Pipeline) prune(tracker *staleness.Tracker, previous *models.GenerationRunSnapshot, plan []Page) []string {
	if previous == nil {
		return nil
	}
	planned := make(map[string]bool, len(plan))
	for _, pg := range plan {
		planned[pg.Path] = true
	}
	var pruned []string
	for _, ps := range previous.Pages {
		if planned[ps.ArtifactPath] {
			continue
		}
		full, ok := tracker.Resolve(ps.ArtifactPath)
		if !ok {
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("Failed to remove stale page", zap.String("page", ps.ArtifactPath), zap.Error(err))
			continue
		}
		pruned = append(pruned, ps.ArtifactPath)
	}
	sort.Strings(pruned)
	return pruned
}
