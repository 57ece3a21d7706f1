// Package main is the shiori CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/gencache"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/llm"
	"github.com/hyperjump/shiori/internal/parser"
	"github.com/hyperjump/shiori/internal/server"
	"github.com/hyperjump/shiori/internal/snapshot"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/internal/watcher"
	"github.com/hyperjump/shiori/internal/wiki"
	"github.com/hyperjump/shiori/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shiori/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default config falls back to built-in defaults.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	args := os.Args[2:]
	var code int
	switch command := os.Args[1]; command {
	case "index":
		code = runIndex(args)
	case "generate":
		code = runGenerate(args)
	case "status":
		code = runStatus(args)
	case "cache":
		code = runCache(args)
	case "serve", "server":
		code = runServe(args)
	case "watch":
		code = runWatch(args)
	case "config":
		code = runConfig(args)
	case "version", "--version", "-v":
		fmt.Printf("shiori version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		code = 1
	}
	os.Exit(code)
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath *string
	debug      *bool
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs, commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

// argsReorder moves any flags (and their values) that appear after the positional arguments
// to the front so that flag.Parse sees them: "shiori generate ./repo --force" works the same
// as "shiori generate --force ./repo".
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// setup loads the config and builds the logger for a subcommand.
func setup(common commonFlags) (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(*common.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || *common.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if resolved == "" {
		resolved = "(defaults)"
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, nil
}

// repoArg resolves and checks the repository root positional argument.
func repoArg(fs *flag.FlagSet) (string, error) {
	if fs.NArg() < 1 {
		return "", errors.New("missing repository path")
	}
	repo, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return "", err
	}
	info, err := os.Stat(repo)
	if err != nil {
		return "", fmt.Errorf("unreadable repository root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("repository root %s is not a directory", repo)
	}
	return repo, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fail(format string, a ...interface{}) int {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	return 1
}

func runIndex(args []string) int {
	fs, common := newFlagSet("index")
	force := fs.Bool("force", false, "ignore the previous index snapshot and rebuild")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return fail("%v", err)
	}
	repo, err := repoArg(fs)
	if err != nil {
		return fail("Usage: shiori index [--force] <repo>: %v", err)
	}
	cfg, logger, err := setup(common)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	lock, err := snapshot.AcquireLock(cfg.Storage.StateDir, repo)
	if err != nil {
		return fail("%v", err)
	}
	defer lock.Release()

	ctx, stop := signalContext()
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		return fail("Failed to initialize: %v", err)
	}
	defer components.Close()

	res, err := components.Indexer.Run(ctx, repo, indexer.Options{Force: *force})
	if err != nil {
		return fail("Indexing failed: %v", err)
	}
	if err := cli.WriteReport(os.Stdout, &wiki.Report{Repo: repo, Index: res}, format); err != nil {
		return fail("Output failed: %v", err)
	}
	return 0
}

func runGenerate(args []string) int {
	fs, common := newFlagSet("generate")
	force := fs.Bool("force", false, "regenerate every page regardless of the previous run")
	forceIndex := fs.Bool("force-index", false, "rebuild the index from scratch first")
	model := fs.String("model", "", "override generation.model for this run")
	temperature := fs.Float64("temperature", -1, "override generation.temperature for this run")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return fail("%v", err)
	}
	repo, err := repoArg(fs)
	if err != nil {
		return fail("Usage: shiori generate [--force] [--force-index] <repo>: %v", err)
	}
	base, logger, err := setup(common)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	run, err := withOverrides(base, *model, *temperature)
	if err != nil {
		return fail("%v", err)
	}

	lock, err := snapshot.AcquireLock(base.Storage.StateDir, repo)
	if err != nil {
		return fail("%v", err)
	}
	defer lock.Release()

	ctx, stop := signalContext()
	defer stop()

	var report *wiki.Report
	err = config.NewHolder(base).With(run, func(cfg *config.Config) error {
		components, err := initializeComponents(ctx, cfg, logger, true)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer components.Close()
		report, err = components.Pipeline.Run(ctx, repo, wiki.RunOptions{ForceIndex: *forceIndex, ForceGenerate: *force})
		return err
	})
	if report != nil {
		if werr := cli.WriteReport(os.Stdout, report, format); werr != nil {
			return fail("Output failed: %v", werr)
		}
	}
	if err != nil {
		return fail("Generation failed: %v", err)
	}
	if report.Failed > 0 {
		logger.Warn("Some pages failed; they will be retried on the next run", zap.Int("failed", report.Failed))
	}
	return 0
}

// withOverrides returns base unchanged, or a validated copy with the per-run generation
// overrides applied. A negative temperature means no override.
func withOverrides(base *config.Config, model string, temperature float64) (*config.Config, error) {
	if model == "" && temperature < 0 {
		return base, nil
	}
	cfg := base.Clone()
	if model != "" {
		cfg.Generation.Model = model
	}
	if temperature >= 0 {
		cfg.Generation.Temperature = temperature
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStatus(args []string) int {
	fs, common := newFlagSet("status")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return fail("%v", err)
	}
	repo, err := repoArg(fs)
	if err != nil {
		return fail("Usage: shiori status [--output text|json] <repo>: %v", err)
	}
	cfg, logger, err := setup(common)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	components, err := initializeComponents(context.Background(), cfg, logger, false)
	if err != nil {
		return fail("Failed to initialize: %v", err)
	}
	defer components.Close()

	st, err := components.Pipeline.Status(repo)
	if err != nil {
		return fail("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		return fail("Output failed: %v", err)
	}
	return 0
}

func runCache(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: shiori cache <stats|clear|evict> [flags]")
		return 1
	}
	sub := args[0]
	fs, common := newFlagSet("cache " + sub)
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return fail("%v", err)
	}
	cfg, logger, err := setup(common)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	cache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return fail("Failed to open cache: %v", err)
	}
	defer cache.Close()

	switch sub {
	case "stats":
		if err := cli.WriteCacheStats(os.Stdout, cache.Stats(ctx), format); err != nil {
			return fail("Output failed: %v", err)
		}
	case "clear":
		if err := cache.Clear(ctx); err != nil {
			return fail("Clear failed: %v", err)
		}
		fmt.Println("Cache cleared")
	case "evict":
		n, err := cache.Evict(ctx)
		if err != nil {
			return fail("Evict failed: %v", err)
		}
		fmt.Printf("Evicted %d expired entr%s\n", n, plural(n, "y", "ies"))
	default:
		return fail("Unknown cache subcommand: %s", sub)
	}
	return 0
}

// runConfig handles "config init [path]", which writes the default configuration.
func runConfig(args []string) int {
	if len(args) < 1 || args[0] != "init" {
		fmt.Fprintln(os.Stderr, "Usage: shiori config init [path]")
		return 1
	}
	path := "config.yaml"
	if len(args) > 1 {
		path = args[1]
	}
	if _, err := os.Stat(path); err == nil {
		return fail("%s already exists", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return fail("%v", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return 0
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func runWatch(args []string) int {
	fs, common := newFlagSet("watch")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return 2
	}
	repo, err := repoArg(fs)
	if err != nil {
		return fail("Usage: shiori watch <repo>: %v", err)
	}
	cfg, logger, err := setup(common)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	lock, err := snapshot.AcquireLock(cfg.Storage.StateDir, repo)
	if err != nil {
		return fail("%v", err)
	}
	defer lock.Release()

	ctx, stop := signalContext()
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		return fail("Failed to initialize: %v", err)
	}
	defer components.Close()

	pipeline := components.Pipeline
	runOnce := func(ctx context.Context, changed []string) {
		report, err := pipeline.Run(ctx, repo, wiki.RunOptions{})
		if err != nil {
			logger.Error("Run failed", zap.Error(err))
			return
		}
		logger.Info("Run finished",
			zap.Int("changed", len(changed)),
			zap.Int("generated", report.Generated),
			zap.Int("reused", report.Reused),
			zap.Int("failed", report.Failed),
			zap.Duration("took", report.Took))
	}
	runOnce(ctx, nil)

	w := watcher.NewWatcher(repo, runOnce,
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithIgnore(ignoreFunc(repo, cfg, pipeline.OutputDir(repo))),
	)
	if err := w.Start(ctx); err != nil {
		return fail("Failed to start watcher: %v", err)
	}
	logger.Info("Watching for changes", zap.String("repo", repo))
	<-ctx.Done()
	logger.Info("Shutting down...")
	w.Stop()
	return 0
}

func runServe(args []string) int {
	fs, common := newFlagSet("serve")
	watch := fs.Bool("watch", false, "also run incremental generation when files change")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return 2
	}
	repo, err := repoArg(fs)
	if err != nil {
		return fail("Usage: shiori serve [--watch] <repo>: %v", err)
	}
	cfg, logger, err := setup(common)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	lock, err := snapshot.AcquireLock(cfg.Storage.StateDir, repo)
	if err != nil {
		return fail("%v", err)
	}
	defer lock.Release()

	ctx, stop := signalContext()
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		return fail("Failed to initialize: %v", err)
	}
	defer components.Close()

	srv := server.NewServer(
		components.Pipeline,
		components.Cache,
		repo,
		cfg,
		logger,
	)

	var w *watcher.Watcher
	if *watch {
		w = watcher.NewWatcher(repo,
			func(_ context.Context, changed []string) {
				if !srv.TriggerRun(wiki.RunOptions{}) {
					logger.Debug("Run already in progress; change picked up by the next run", zap.Int("changed", len(changed)))
				}
			},
			watcher.WithLogger(logger),
			watcher.WithDebounce(cfg.Watch.Debounce),
			watcher.WithIgnore(ignoreFunc(repo, cfg, components.Pipeline.OutputDir(repo))),
		)
		if err := w.Start(ctx); err != nil {
			return fail("Failed to start watcher: %v", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			return 1
		}
	}

	logger.Info("Shutting down...")
	if w != nil {
		w.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
	return 0
}

// ignoreFunc returns the watcher filter for repo: excluded patterns plus the state and output
// directories when they live inside the repository.
func ignoreFunc(repo string, cfg *config.Config, outputDir string) func(rel string) bool {
	var inside []string
	for _, dir := range []string{outputDir, cfg.Storage.StateDir} {
		if dir == "" {
			continue
		}
		rel, err := filepath.Rel(repo, dir)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		inside = append(inside, filepath.ToSlash(rel))
	}
	patterns := cfg.Index.Exclude
	return func(rel string) bool {
		for _, dir := range inside {
			if rel == dir || strings.HasPrefix(rel, dir+"/") {
				return true
			}
		}
		return indexer.Excluded(rel, patterns)
	}
}

// Components holds initialized services.
type Components struct {
	Keywords    *keyword.UnitIndex
	Store       *storage.SQLiteStore
	Cache       *gencache.Cache
	Generator   llm.Generator
	Indexer     *indexer.Indexer
	Indexes     *snapshot.IndexStore
	Generations *snapshot.GenerationStore
	Pipeline    *wiki.Pipeline
}

// Close releases every store that was opened.
func (c *Components) Close() {
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
}

// openCache opens the generation cache with the configured embedder. An embedder that cannot be
// created leaves the cache on its exact tier only.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gencache.Cache, error) {
	store, err := gencache.NewSQLiteStore(cfg.Storage.CacheDatabasePath, gencache.WithStoreLogger(logger))
	if err != nil {
		return nil, err
	}
	opts := []gencache.Option{gencache.WithLogger(logger)}
	embedder, err := embedding.New(ctx, &cfg.Embedding, logger)
	if err != nil {
		logger.Warn("embedding provider unavailable, similarity tier disabled",
			zap.String("provider", cfg.Embedding.Provider),
			zap.Error(err))
	} else {
		opts = append(opts, gencache.WithEmbedder(embedder))
	}
	cache, err := gencache.Open(ctx, store, cfg.Cache, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return cache, nil
}

// initializeComponents opens the stores and wires the pipeline. Without withGeneration no
// provider or cache is created; the pipeline can then report status but not generate.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withGeneration bool) (*Components, error) {
	c := &Components{}
	var err error
	c.Keywords, err = keyword.NewUnitIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Store, err = storage.NewSQLiteStore(
		cfg.Storage.DatabasePath,
		storage.WithKeywordIndex(c.Keywords),
		storage.WithLogger(logger),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	c.Indexes = snapshot.NewIndexStore(cfg.Storage.StateDir, snapshot.WithLogger(logger))
	c.Generations = snapshot.NewGenerationStore(cfg.Storage.StateDir, snapshot.WithLogger(logger))
	c.Indexer = indexer.NewIndexer(
		c.Store,
		parser.NewTreeSitterParser(parser.WithLogger(logger)),
		&cfg.Index,
		indexer.WithSnapshots(c.Indexes),
		indexer.WithLogger(logger),
	)

	if withGeneration {
		gen, err := llm.New(ctx, &cfg.Generation, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize generation provider: %w", err)
		}
		if cfg.Cache.EnabledOrDefault() {
			c.Cache, err = openCache(ctx, cfg, logger)
			if err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to initialize generation cache: %w", err)
			}
		}
		c.Generator = llm.Wrap(gen, gencache.Middleware(c.Cache))
	}

	c.Pipeline = wiki.NewPipeline(
		c.Indexer,
		c.Store,
		c.Generator,
		c.Indexes,
		c.Generations,
		cfg,
		wiki.WithLogger(logger),
	)
	return c, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `shiori - Incremental documentation generator

Usage:
  shiori index [flags] <repo>             Index a repository (incremental)
  shiori generate [flags] <repo>          Index, then regenerate stale pages
  shiori status [flags] <repo>            Show index and page staleness
  shiori cache <stats|clear|evict>        Inspect or maintain the generation cache
  shiori serve [flags] <repo>             Start the HTTP server
  shiori watch [flags] <repo>             Regenerate on file changes
  shiori config init [path]               Write the default config (default: ./config.yaml)
  shiori version                          Show version
  shiori help                             Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/shiori/config.yaml)
  --debug            Enable debug logging

Index Flags:
  --force            Ignore the previous snapshot and rebuild the index
  --output string    Output format: text or json (default: text)

Generate Flags:
  --force            Regenerate every page
  --force-index      Rebuild the index from scratch first
  --model string     Override generation.model for this run
  --temperature num  Override generation.temperature for this run
  --output string    Output format: text or json (default: text)

Status / Cache Flags:
  --output string    Output format: text or json (default: text)

Serve Flags:
  --watch            Also trigger incremental runs on file changes

Examples:
  shiori generate ./myrepo
  shiori generate --force ./myrepo
  shiori status --output json ./myrepo
  shiori cache stats
  shiori serve --watch ./myrepo`)
}
