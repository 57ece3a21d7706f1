// Package cli renders run reports, repository status and cache stats for the shiori CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/shiori/internal/gencache"
	"github.com/hyperjump/shiori/internal/wiki"
	"github.com/hyperjump/shiori/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a --output flag value to a format.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteReport writes a pipeline run report to w in the given format.
func WriteReport(w io.Writer, report *wiki.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	if idx := report.Index; idx != nil {
		mode := "incremental"
		if idx.Full {
			mode = "full"
		}
		fmt.Fprintf(w, "index (%s): %d processed, %d unchanged, %d removed, %d failed, %d units written\n",
			mode, len(idx.Processed), idx.Unchanged, len(idx.Removed), len(idx.Failed), idx.UnitsWritten)
		for _, f := range idx.Failed {
			fmt.Fprintf(w, "  ! %s: %s\n", f.Path, utils.Truncate(f.Error, 160))
		}
	}
	if len(report.Pages) > 0 {
		fmt.Fprintf(w, "pages: %d generated, %d reused, %d failed\n", report.Generated, report.Reused, report.Failed)
		for _, p := range report.Pages {
			switch p.Outcome {
			case wiki.OutcomeFailed:
				fmt.Fprintf(w, "  ! %-40s %s: %s\n", p.Path, p.Reason, utils.Truncate(p.Error, 160))
			case wiki.OutcomeGenerated:
				fmt.Fprintf(w, "  + %-40s %s (%s)\n", p.Path, p.Reason, p.Took.Round(time.Millisecond))
			}
		}
	}
	for _, path := range report.Pruned {
		fmt.Fprintf(w, "  - %s\n", path)
	}
	if report.OutputDir != "" {
		fmt.Fprintf(w, "output: %s\n", report.OutputDir)
	}
	fmt.Fprintf(w, "took %s\n", report.Took.Round(time.Millisecond))
	return nil
}

// WriteStatus writes a repository status to w in the given format.
func WriteStatus(w io.Writer, st *wiki.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "repo:        %s\n", st.Repo)
	fmt.Fprintf(w, "output_dir:  %s\n", st.OutputDir)
	if st.Index == nil {
		fmt.Fprintln(w, "index:       never indexed")
	} else {
		fmt.Fprintf(w, "index:       %d files, %d units at %s\n",
			st.Index.TotalFiles, st.Index.TotalUnits, st.Index.IndexedAt.Format(time.RFC3339))
	}
	if st.Generation == nil {
		fmt.Fprintln(w, "generation:  never generated")
		return nil
	}
	fmt.Fprintf(w, "generation:  %d pages at %s\n",
		st.Generation.TotalPages, st.Generation.GeneratedAt.Format(time.RFC3339))
	if len(st.Stale) == 0 && len(st.Missing) == 0 {
		fmt.Fprintln(w, "all pages up to date")
		return nil
	}
	for _, s := range st.Stale {
		if s.SourceID != "" {
			fmt.Fprintf(w, "  stale    %-40s %s (%s)\n", s.ArtifactPath, s.Reason, s.SourceID)
		} else {
			fmt.Fprintf(w, "  stale    %-40s %s\n", s.ArtifactPath, s.Reason)
		}
	}
	for _, m := range st.Missing {
		fmt.Fprintf(w, "  missing  %s\n", m)
	}
	return nil
}

// WriteCacheStats writes generation cache counters to w in the given format.
func WriteCacheStats(w io.Writer, stats gencache.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "entries:          %d\n", stats.Entries)
	fmt.Fprintf(w, "indexed:          %d   # entries searchable by similarity\n", stats.Indexed)
	fmt.Fprintf(w, "hits:             %d (exact %d, similarity %d)\n", stats.Hits, stats.ExactHits, stats.SimilarityHits)
	fmt.Fprintf(w, "misses:           %d\n", stats.Misses)
	fmt.Fprintf(w, "skips:            %d   # temperature above the cacheable ceiling\n", stats.Skips)
	fmt.Fprintf(w, "evicted:          %d\n", stats.Evicted)
	return nil
}
