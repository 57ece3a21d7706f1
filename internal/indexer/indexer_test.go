package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/contenthash"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/parser"
	"github.com/hyperjump/shiori/internal/snapshot"
	"github.com/hyperjump/shiori/internal/storage"
)

// memStore is an in-memory storage.Store that counts mutations.
type memStore struct {
	mu        sync.Mutex
	units     map[string]models.ExtractedUnit
	mutations int
	replaces  int
	appends   int
	deletes   int
	failNext  int // number of upcoming ReplaceAll/Append calls that fail
}

func newMemStore() *memStore {
	return &memStore{units: map[string]models.ExtractedUnit{}}
}

func (m *memStore) ReplaceAll(_ context.Context, units []models.ExtractedUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations++
	m.replaces++
	if m.failNext > 0 {
		m.failNext--
		return errors.New("store unavailable")
	}
	m.units = map[string]models.ExtractedUnit{}
	for _, u := range units {
		m.units[u.ID] = u
	}
	return nil
}

func (m *memStore) Append(_ context.Context, units []models.ExtractedUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations++
	m.appends++
	if m.failNext > 0 {
		m.failNext--
		return errors.New("store unavailable")
	}
	for _, u := range units {
		m.units[u.ID] = u
	}
	return nil
}

func (m *memStore) DeleteByFile(_ context.Context, path string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations++
	m.deletes++
	n := 0
	for id, u := range m.units {
		if u.FilePath == path {
			delete(m.units, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Query(_ context.Context, f models.UnitFilter) ([]models.ExtractedUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExtractedUnit
	for _, u := range m.units {
		if f.FilePath != "" && u.FilePath != f.FilePath {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.units)), nil
}

func (m *memStore) Close() error { return nil }

// countingParser records which files were handed to the structural parser.
type countingParser struct {
	parser.Parser
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newCountingParser() *countingParser {
	return &countingParser{Parser: parser.NewTreeSitterParser(), calls: map[string]int{}, fail: map[string]bool{}}
}

func (p *countingParser) ExtractUnits(ctx context.Context, root, rel string) ([]models.ExtractedUnit, error) {
	p.mu.Lock()
	p.calls[rel]++
	fail := p.fail[rel]
	p.mu.Unlock()
	if fail {
		return nil, errors.New("syntax error")
	}
	return p.Parser.ExtractUnits(ctx, root, rel)
}

func (p *countingParser) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = map[string]int{}
}

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func threeFileRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeRepoFile(t, root, "a.py", "def alpha():\n    return 1\n")
	writeRepoFile(t, root, "b.py", "def beta():\n    return 2\n\ndef beta_two():\n    return 3\n")
	writeRepoFile(t, root, "c.py", "class Gamma:\n    def run(self):\n        pass\n")
	return root
}

func testConfig() *config.IndexConfig {
	cfg := config.Default().Index
	return &cfg
}

func TestIndex_FullThenIdempotent(t *testing.T) {
	root := threeFileRepo(t)
	store := newMemStore()
	p := newCountingParser()
	idx := NewIndexer(store, p, testConfig())
	ctx := context.Background()

	first, err := idx.Index(ctx, root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Full || first.Snapshot.TotalFiles != 3 {
		t.Fatalf("first run = %+v", first)
	}
	if store.replaces != 1 {
		t.Errorf("full run replaces = %d, want 1", store.replaces)
	}
	wantUnits := 0
	for _, f := range first.Snapshot.Files {
		wantUnits += f.UnitCount
	}
	if first.Snapshot.TotalUnits != wantUnits || wantUnits == 0 {
		t.Errorf("TotalUnits = %d, sum = %d", first.Snapshot.TotalUnits, wantUnits)
	}

	before := store.mutations
	p.reset()
	second, err := idx.Index(ctx, root, first.Snapshot, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if store.mutations != before {
		t.Errorf("second run issued %d store mutations, want 0", store.mutations-before)
	}
	if len(p.calls) != 0 {
		t.Errorf("unchanged files re-parsed: %v", p.calls)
	}
	if second.Unchanged != 3 || len(second.Processed) != 0 {
		t.Errorf("second run = %+v", second)
	}
	if !reflect.DeepEqual(first.Snapshot.Files, second.Snapshot.Files) || first.Snapshot.TotalUnits != second.Snapshot.TotalUnits {
		t.Errorf("snapshots differ:\n%+v\n%+v", first.Snapshot, second.Snapshot)
	}
}

func TestIndex_ChangeDetection(t *testing.T) {
	root := threeFileRepo(t)
	dbDir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dbDir, "units.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	p := newCountingParser()
	idx := NewIndexer(store, p, testConfig())
	ctx := context.Background()

	first, err := idx.Index(ctx, root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	oldB, err := store.Query(ctx, models.UnitFilter{FilePath: "b.py"})
	if err != nil {
		t.Fatal(err)
	}
	if len(oldB) != 2 {
		t.Fatalf("b.py units = %d, want 2", len(oldB))
	}

	writeRepoFile(t, root, "b.py", "def delta():\n    return 4\n")
	p.reset()
	second, err := idx.Index(ctx, root, first.Snapshot, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(second.Processed, []string{"b.py"}) {
		t.Errorf("processed = %v, want [b.py]", second.Processed)
	}
	if !reflect.DeepEqual(p.calls, map[string]int{"b.py": 1}) {
		t.Errorf("parser calls = %v", p.calls)
	}
	prev := first.Snapshot.Records()
	next := second.Snapshot.Records()
	for _, path := range []string{"a.py", "c.py"} {
		if !reflect.DeepEqual(prev[path], next[path]) {
			t.Errorf("%s record changed: %+v -> %+v", path, prev[path], next[path])
		}
	}
	if next["b.py"].ContentHash == prev["b.py"].ContentHash || next["b.py"].UnitCount != 1 {
		t.Errorf("b.py record = %+v", next["b.py"])
	}

	newB, err := store.Query(ctx, models.UnitFilter{FilePath: "b.py"})
	if err != nil {
		t.Fatal(err)
	}
	if len(newB) != 1 || newB[0].Name != "delta" {
		t.Errorf("b.py units after change = %+v", newB)
	}
	for _, old := range oldB {
		for _, u := range newB {
			if u.ID == old.ID {
				t.Errorf("old unit %s still queryable", old.Name)
			}
		}
	}
	if second.Snapshot.TotalUnits != first.Snapshot.TotalUnits-1 {
		t.Errorf("TotalUnits = %d, want %d", second.Snapshot.TotalUnits, first.Snapshot.TotalUnits-1)
	}
}

func TestIndex_RemovedFile(t *testing.T) {
	root := threeFileRepo(t)
	store := newMemStore()
	idx := NewIndexer(store, newCountingParser(), testConfig())
	ctx := context.Background()

	first, err := idx.Index(ctx, root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "c.py")); err != nil {
		t.Fatal(err)
	}
	second, err := idx.Index(ctx, root, first.Snapshot, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(second.Removed, []string{"c.py"}) {
		t.Errorf("removed = %v", second.Removed)
	}
	if _, ok := second.Snapshot.Lookup("c.py"); ok {
		t.Error("c.py still in snapshot")
	}
	units, _ := store.Query(ctx, models.UnitFilter{FilePath: "c.py"})
	if len(units) != 0 {
		t.Errorf("c.py units remain: %+v", units)
	}
}

func TestIndex_ExtractionErrorSkipsFile(t *testing.T) {
	root := threeFileRepo(t)
	store := newMemStore()
	p := newCountingParser()
	p.fail["b.py"] = true
	idx := NewIndexer(store, p, testConfig())
	ctx := context.Background()

	res, err := idx.Index(ctx, root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || res.Failed[0].Path != "b.py" {
		t.Errorf("failed = %+v", res.Failed)
	}
	if res.Snapshot.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d, want 2", res.Snapshot.TotalFiles)
	}

	p.fail["b.py"] = false
	p.reset()
	again, err := idx.Index(ctx, root, res.Snapshot, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(again.Processed, []string{"b.py"}) {
		t.Errorf("retry processed = %v, want [b.py]", again.Processed)
	}
}

func TestIndex_Batching(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.py", "b.py", "c.py", "d.py"} {
		writeRepoFile(t, root, name, "def f():\n    pass\n\ndef g():\n    pass\n")
	}
	store := newMemStore()
	cfg := testConfig()
	cfg.BatchSize = 3
	idx := NewIndexer(store, newCountingParser(), cfg)

	res, err := idx.Index(context.Background(), root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	// 8 units in batches of 3: 3 + 3 + 2.
	if res.Batches != 3 || res.UnitsWritten != 8 {
		t.Errorf("batches = %d units = %d", res.Batches, res.UnitsWritten)
	}
	if store.replaces != 1 || store.appends != 2 {
		t.Errorf("replaces = %d appends = %d, want 1 and 2", store.replaces, store.appends)
	}
	if n, _ := store.Count(context.Background()); n != 8 {
		t.Errorf("stored = %d, want 8", n)
	}
}

func TestIndex_FailedBatchOmitsFiles(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "a.py", "def f():\n    pass\n")
	writeRepoFile(t, root, "b.py", "def g():\n    pass\n")
	store := newMemStore()
	store.failNext = 1
	cfg := testConfig()
	cfg.BatchSize = 1
	idx := NewIndexer(store, newCountingParser(), cfg)

	res, err := idx.Index(context.Background(), root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.BatchErrors != 1 {
		t.Errorf("BatchErrors = %d, want 1", res.BatchErrors)
	}
	// The first batch failed, so the second one performs the replace.
	if store.replaces != 2 || store.appends != 0 {
		t.Errorf("replaces = %d appends = %d", store.replaces, store.appends)
	}
	if _, ok := res.Snapshot.Lookup("a.py"); ok {
		t.Error("a.py should be omitted after its batch failed")
	}
	if _, ok := res.Snapshot.Lookup("b.py"); !ok {
		t.Error("b.py should be in the snapshot")
	}
}

func TestIndex_EmptyFullRunClearsStore(t *testing.T) {
	store := newMemStore()
	store.units["x"] = models.ExtractedUnit{ID: "x", FilePath: "gone.py"}
	idx := NewIndexer(store, newCountingParser(), testConfig())
	res, err := idx.Index(context.Background(), t.TempDir(), nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Snapshot.TotalFiles != 0 || store.replaces != 1 || len(store.units) != 0 {
		t.Errorf("res = %+v replaces = %d units = %d", res, store.replaces, len(store.units))
	}
}

func TestIndex_Filters(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeRepoFile(t, root, "node_modules/lib/index.js", "function x() {}\n")
	writeRepoFile(t, root, "gen/big.py", strings.Repeat("# pad\n", 100))
	writeRepoFile(t, root, "image.png", "\x89PNG")
	writeRepoFile(t, root, "notes.md", "# notes\n")
	cfg := testConfig()
	cfg.MaxFileBytes = 200
	cfg.Languages = []string{"go", "python", "javascript"}
	idx := NewIndexer(newMemStore(), newCountingParser(), cfg)

	res, err := idx.Index(context.Background(), root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, f := range res.Snapshot.Files {
		paths = append(paths, f.Path)
	}
	if !reflect.DeepEqual(paths, []string{"main.go"}) {
		t.Errorf("indexed = %v, want [main.go]", paths)
	}
	if res.Snapshot.LanguageCounts["go"] != 1 {
		t.Errorf("language counts = %v", res.Snapshot.LanguageCounts)
	}
}

func TestIndex_ForceReprocessesEverything(t *testing.T) {
	root := threeFileRepo(t)
	store := newMemStore()
	p := newCountingParser()
	idx := NewIndexer(store, p, testConfig())
	ctx := context.Background()
	first, err := idx.Index(ctx, root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	p.reset()
	res, err := idx.Index(ctx, root, first.Snapshot, Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Full || len(res.Processed) != 3 || len(p.calls) != 3 {
		t.Errorf("force run = %+v calls = %v", res, p.calls)
	}
}

func TestIndex_Cancelled(t *testing.T) {
	root := threeFileRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx := NewIndexer(newMemStore(), newCountingParser(), testConfig())
	if _, err := idx.Index(ctx, root, nil, Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestIndex_MissingRoot(t *testing.T) {
	idx := NewIndexer(newMemStore(), newCountingParser(), testConfig())
	if _, err := idx.Index(context.Background(), filepath.Join(t.TempDir(), "nope"), nil, Options{}); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestRun_PersistsSnapshot(t *testing.T) {
	root := threeFileRepo(t)
	snaps := snapshot.NewIndexStore(t.TempDir())
	store := newMemStore()
	p := newCountingParser()
	idx := NewIndexer(store, p, testConfig(), WithSnapshots(snaps))
	ctx := context.Background()

	if _, err := idx.Run(ctx, root, Options{}); err != nil {
		t.Fatal(err)
	}
	abs, _ := filepath.Abs(root)
	loaded, err := snaps.Load(abs)
	if err != nil || loaded == nil {
		t.Fatalf("Load = %v, %v", loaded, err)
	}
	if loaded.TotalFiles != 3 || loaded.SchemaVersion != models.IndexSchemaVersion {
		t.Errorf("loaded = %+v", loaded)
	}

	p.reset()
	before := store.mutations
	res, err := idx.Run(ctx, root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Full || res.Unchanged != 3 || store.mutations != before {
		t.Errorf("second Run = %+v mutations = %d", res, store.mutations-before)
	}
}

func TestExcluded(t *testing.T) {
	patterns := []string{".git", "node_modules", "*.min.js", "docs/generated"}
	tests := []struct {
		path string
		want bool
	}{
		{".git", true},
		{"web/node_modules/react/index.js", true},
		{"static/app.min.js", true},
		{"docs/generated", true},
		{"docs/guide.md", false},
		{"src/main.go", false},
	}
	for _, tt := range tests {
		if got := Excluded(tt.path, patterns); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestIndex_UnreadableFileDropsUnits(t *testing.T) {
	root := threeFileRepo(t)
	store := newMemStore()
	idx := NewIndexer(store, newCountingParser(), testConfig())
	ctx := context.Background()

	first, err := idx.Index(ctx, root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	writeRepoFile(t, root, "b.py", "def beta():\n    return 20\n")
	idx.hashFile = func(path string) (contenthash.FileStat, error) {
		if filepath.Base(path) == "b.py" {
			return contenthash.FileStat{}, errors.New("open file: permission denied")
		}
		return contenthash.File(path)
	}

	res, err := idx.Index(ctx, root, first.Snapshot, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || res.Failed[0].Path != "b.py" {
		t.Fatalf("failed = %+v", res.Failed)
	}
	if _, ok := res.Snapshot.Lookup("b.py"); ok {
		t.Error("b.py still in snapshot")
	}
	units, _ := store.Query(ctx, models.UnitFilter{FilePath: "b.py"})
	if len(units) != 0 {
		t.Errorf("b.py units remain: %d", len(units))
	}
	if n, _ := store.Count(ctx); n != int64(res.Snapshot.TotalUnits) {
		t.Errorf("store has %d units, snapshot says %d", n, res.Snapshot.TotalUnits)
	}
}

// dupParser returns two units that share an ID for every file.
type dupParser struct{ parser.Parser }

func (p dupParser) ExtractUnits(ctx context.Context, root, rel string) ([]models.ExtractedUnit, error) {
	u := models.ExtractedUnit{
		ID:        contenthash.UnitID(rel, models.UnitFunction, "<anonymous>", 1),
		FilePath:  rel,
		Kind:      models.UnitFunction,
		Name:      "<anonymous>",
		StartLine: 1,
		EndLine:   1,
	}
	return []models.ExtractedUnit{u, u, u}, nil
}

func TestIndex_DuplicateUnitIDsAreKept(t *testing.T) {
	root := threeFileRepo(t)
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "units.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	idx := NewIndexer(store, dupParser{parser.NewTreeSitterParser()}, testConfig())
	ctx := context.Background()

	res, err := idx.Index(ctx, root, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("failed = %+v", res.Failed)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 9 || res.Snapshot.TotalUnits != 9 || res.UnitsWritten != 9 {
		t.Errorf("store=%d snapshot=%d written=%d, want 9", n, res.Snapshot.TotalUnits, res.UnitsWritten)
	}
}

func TestUniqueUnitIDs(t *testing.T) {
	units := []models.ExtractedUnit{{ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: "a"}}
	uniqueUnitIDs(units)
	var got []string
	for _, u := range units {
		got = append(got, u.ID)
	}
	if want := []string{"a", "b", "a#2", "a#3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}
