package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/models"
)

func newTestStore(t *testing.T, withKeywords bool) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	var opts []Option
	if withKeywords {
		kw, err := keyword.NewUnitIndex(filepath.Join(dir, "bleve"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = kw.Close() })
		opts = append(opts, WithKeywordIndex(kw))
	}
	store, err := NewSQLiteStore(filepath.Join(dir, "units.db"), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func unit(id, path, name string, line int) models.ExtractedUnit {
	return models.ExtractedUnit{ID: id, FilePath: path, Kind: models.UnitFunction, Name: name, StartLine: line, EndLine: line + 2, Content: "def " + name + "(): pass"}
}

func TestSQLiteStore_ReplaceAppendDelete(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()

	if err := store.Append(ctx, []models.ExtractedUnit{unit("old", "gone.py", "old", 1)}); err != nil {
		t.Fatal(err)
	}
	if err := store.ReplaceAll(ctx, []models.ExtractedUnit{unit("a1", "a.py", "alpha", 1), unit("a2", "a.py", "beta", 5)}); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, []models.ExtractedUnit{unit("b1", "b.py", "gamma", 1)}); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.Count(ctx); n != 3 {
		t.Errorf("Count = %d, want 3 (ReplaceAll should drop old units)", n)
	}

	units, err := store.Query(ctx, models.UnitFilter{FilePath: "a.py"})
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 || units[0].Name != "alpha" || units[1].Name != "beta" {
		t.Errorf("Query(a.py) = %+v", units)
	}

	deleted, err := store.DeleteByFile(ctx, "a.py")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("DeleteByFile = %d, want 2", deleted)
	}
	units, _ = store.Query(ctx, models.UnitFilter{FilePath: "a.py"})
	if len(units) != 0 {
		t.Errorf("units remain after DeleteByFile: %+v", units)
	}
}

func TestSQLiteStore_duplicateIDIsRejected(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()

	if err := store.Append(ctx, []models.ExtractedUnit{unit("a1", "a.py", "alpha", 1)}); err != nil {
		t.Fatal(err)
	}
	err := store.Append(ctx, []models.ExtractedUnit{unit("b1", "b.py", "beta", 1), unit("a1", "a.py", "alpha", 1)})
	if err == nil || !strings.Contains(err.Error(), "a1") {
		t.Fatalf("err = %v, want duplicate id a1 reported", err)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1 (failed batch rolls back)", n)
	}
	if err := store.ReplaceAll(ctx, []models.ExtractedUnit{unit("x", "x.py", "x", 1), unit("x", "x.py", "x", 1)}); err == nil {
		t.Error("ReplaceAll with a repeated id should fail")
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want previous contents kept", n)
	}
}

func TestSQLiteStore_QueryFilters(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()
	units := []models.ExtractedUnit{
		unit("1", "pkg/a.go", "A", 1),
		unit("2", "pkg/sub/b.go", "B", 1),
		unit("3", "pkg_other/c.go", "C", 1),
	}
	units[1].Metadata = map[string]string{"calls": "A"}
	if err := store.Append(ctx, units); err != nil {
		t.Fatal(err)
	}
	got, err := store.Query(ctx, models.UnitFilter{PathPrefix: "pkg/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("PathPrefix pkg/ returned %d units, want 2", len(got))
	}
	if got[1].Metadata["calls"] != "A" {
		t.Errorf("metadata not round-tripped: %+v", got[1].Metadata)
	}
	got, _ = store.Query(ctx, models.UnitFilter{PathPrefix: "pkg_"})
	if len(got) != 1 {
		t.Errorf("underscore in prefix must be literal, got %d units", len(got))
	}
	got, _ = store.Query(ctx, models.UnitFilter{Limit: 1})
	if len(got) != 1 {
		t.Errorf("Limit 1 returned %d units", len(got))
	}
}

func TestSQLiteStore_TextQueryUsesKeywordIndex(t *testing.T) {
	store := newTestStore(t, true)
	ctx := context.Background()
	u := unit("x1", "auth.py", "login", 1)
	u.Docstring = "Validate the session token."
	if err := store.Append(ctx, []models.ExtractedUnit{u, unit("x2", "math.py", "add", 1)}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Query(ctx, models.UnitFilter{Text: "token"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "x1" {
		t.Errorf("text query = %+v, want x1", got)
	}
	if _, err := store.DeleteByFile(ctx, "auth.py"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Query(ctx, models.UnitFilter{Text: "token"})
	if len(got) != 0 {
		t.Errorf("deleted unit still searchable: %+v", got)
	}
}
