// Package wiki plans documentation pages from an index snapshot and generates the ones whose
// sources changed.
package wiki

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
)

// Page kinds.
const (
	KindModule   = "module"
	KindOverview = "overview"
)

// OverviewPath is the artifact path of the overview page.
const OverviewPath = "index.md"

// RootGroup names the page for files at the repository root.
const RootGroup = "root"

// Page is one artifact to generate. SourceIDs are repo-relative file paths.
type Page struct {
	Path      string   `json:"path"`
	Title     string   `json:"title"`
	Kind      string   `json:"kind"`
	Group     string   `json:"group"`
	SourceIDs []string `json:"sourceIds"`
}

// Planner maps an index snapshot to pages.
type Planner interface {
	Plan(snap *models.IndexSnapshot) []Page
}

// DirectoryPlanner makes one module page per top-level directory. A directory whose files hold
// more than MaxUnits units is split one level deeper. Files directly under it stay on its page.
type DirectoryPlanner struct {
	Overview bool
	MaxUnits int
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Plan returns the pages sorted by path, the overview page (if any) last.
func (p DirectoryPlanner) Plan(snap *models.IndexSnapshot) []Page {
	if snap == nil || len(snap.Files) == 0 {
		return nil
	}
	groups := map[string][]models.FileRecord{}
	for _, f := range snap.Files {
		top := topGroup(f.Path)
		groups[top] = append(groups[top], f)
	}

	var pages []Page
	for group, files := range groups {
		if p.MaxUnits > 0 && group != RootGroup && unitSum(files) > p.MaxUnits {
			pages = append(pages, splitGroup(group, files)...)
			continue
		}
		pages = append(pages, modulePage(group, files))
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })

	if p.Overview {
		all := make([]string, 0, len(snap.Files))
		for _, f := range snap.Files {
			all = append(all, f.Path)
		}
		sort.Strings(all)
		pages = append(pages, Page{Path: OverviewPath, Title: "Overview", Kind: KindOverview, SourceIDs: all})
	}
	return pages
}

func topGroup(rel string) string {
	if i := strings.IndexByte(rel, '/'); i > 0 {
		return rel[:i]
	}
	return RootGroup
}

func splitGroup(group string, files []models.FileRecord) []Page {
	sub := map[string][]models.FileRecord{}
	for _, f := range files {
		rest := strings.TrimPrefix(f.Path, group+"/")
		key := group
		if i := strings.IndexByte(rest, '/'); i > 0 {
			key = group + "/" + rest[:i]
		}
		sub[key] = append(sub[key], f)
	}
	if len(sub) == 1 {
		return []Page{modulePage(group, files)}
	}
	pages := make([]Page, 0, len(sub))
	for key, fs := range sub {
		pages = append(pages, modulePage(key, fs))
	}
	return pages
}

func modulePage(group string, files []models.FileRecord) Page {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.Path)
	}
	sort.Strings(ids)
	segments := strings.Split(group, "/")
	for i, s := range segments {
		segments[i] = safeSegment(s)
	}
	return Page{
		Path:      path.Join("modules", strings.Join(segments, "/")+".md"),
		Title:     group,
		Kind:      KindModule,
		Group:     group,
		SourceIDs: ids,
	}
}

func safeSegment(s string) string {
	s = unsafeSegment.ReplaceAllString(s, "_")
	s = strings.TrimLeft(s, ".")
	if s == "" {
		return "_"
	}
	return s
}

func unitSum(files []models.FileRecord) int {
	n := 0
	for _, f := range files {
		n += f.UnitCount
	}
	return n
}
