package wiki

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/staleness"
)

// Status is the persisted state of a repository, checked against its last index snapshot.
type Status struct {
	Repo       string                        `json:"repo"`
	OutputDir  string                        `json:"outputDir"`
	Index      *models.IndexSnapshot         `json:"index,omitempty"`
	Generation *models.GenerationRunSnapshot `json:"generation,omitempty"`
	Stale      []staleness.StaleArtifact     `json:"stale,omitempty"`
	Missing    []string                      `json:"missing,omitempty"`
}

// Status loads the index and generation snapshots of repo without running anything. Stale lists
// generated pages whose sources changed in the index since they were generated; Missing lists
// pages whose file is gone from the output directory.
func (p *Pipeline) Status(repo string) (*Status, error) {
	repo, err := filepath.Abs(repo)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	st := &Status{Repo: repo, OutputDir: p.OutputDir(repo)}
	if st.Index, err = p.indexes.Load(repo); err != nil {
		return nil, err
	}
	if st.Generation, err = p.generations.Load(repo); err != nil {
		return nil, err
	}
	if st.Generation == nil {
		return st, nil
	}
	tracker := staleness.NewTracker(st.Generation, staleness.IndexHashes(st.Index), st.OutputDir)
	st.Stale = tracker.StaleReport()
	for _, ps := range st.Generation.Pages {
		full, ok := tracker.Resolve(ps.ArtifactPath)
		if !ok {
			continue
		}
		if _, err := os.Stat(full); err != nil {
			st.Missing = append(st.Missing, ps.ArtifactPath)
		}
	}
	sort.Strings(st.Missing)
	return st, nil
}

// PagePaths lists the generated pages of repo from the last persisted run.
func (p *Pipeline) PagePaths(repo string) ([]string, error) {
	repo, err := filepath.Abs(repo)
	if err != nil {
		return nil, err
	}
	gen, err := p.generations.Load(repo)
	if err != nil || gen == nil {
		return nil, err
	}
	out := make([]string, 0, len(gen.Pages))
	for _, ps := range gen.Pages {
		out = append(out, ps.ArtifactPath)
	}
	sort.Strings(out)
	return out, nil
}

// ReadPage returns the text of a generated page of repo. Paths outside the output directory and
// pages not in the last run are reported as os.ErrNotExist.
func (p *Pipeline) ReadPage(repo, artifactPath string) (string, error) {
	paths, err := p.PagePaths(repo)
	if err != nil {
		return "", err
	}
	artifactPath = strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+artifactPath)), "/")
	i := sort.SearchStrings(paths, artifactPath)
	if i == len(paths) || paths[i] != artifactPath {
		return "", fmt.Errorf("page %s: %w", artifactPath, os.ErrNotExist)
	}
	data, err := os.ReadFile(filepath.Join(p.OutputDir(repo), filepath.FromSlash(artifactPath)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
