package wiki

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/pkg/utils"
)

const moduleSystemPrompt = `You are a senior engineer writing internal documentation for a code repository.
Write GitHub-flavored Markdown. Start with a level-one heading naming the module.
Explain what the module is for, its main types and functions, and how they fit together.
Only describe code that appears in the input. Do not invent APIs.`

const overviewSystemPrompt = `You are a senior engineer writing the landing page of an internal documentation wiki.
Write GitHub-flavored Markdown. Start with a level-one heading naming the repository.
Summarize the purpose of the repository and describe each module in a short paragraph with a
relative link to its page.`

// PromptBuilder renders the generation request for a page. Output is deterministic for a given
// store content so that unchanged inputs hit the exact tier of the generation cache.
type PromptBuilder struct {
	store        storage.Store
	maxUnits     int
	maxUnitChars int
}

// NewPromptBuilder returns a builder that includes at most maxUnits units per page, each cut to
// maxUnitChars characters.
func NewPromptBuilder(store storage.Store, maxUnits, maxUnitChars int) *PromptBuilder {
	return &PromptBuilder{store: store, maxUnits: maxUnits, maxUnitChars: maxUnitChars}
}

// Build returns the system prompt and prompt for page.
func (b *PromptBuilder) Build(ctx context.Context, page Page, snap *models.IndexSnapshot, plan []Page) (string, string, error) {
	if page.Kind == KindOverview {
		return overviewSystemPrompt, b.overview(snap, plan), nil
	}
	prompt, err := b.module(ctx, page, snap)
	if err != nil {
		return "", "", err
	}
	return moduleSystemPrompt, prompt, nil
}

func (b *PromptBuilder) module(ctx context.Context, page Page, snap *models.IndexSnapshot) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Module: %s\nFiles: %d\n\n", page.Title, len(page.SourceIDs))
	included, omitted := 0, 0
	for _, id := range page.SourceIDs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rec, _ := snap.Lookup(id)
		units, err := b.store.Query(ctx, models.UnitFilter{FilePath: id})
		if err != nil {
			return "", fmt.Errorf("query units for %s: %w", id, err)
		}
		fmt.Fprintf(&sb, "## %s", id)
		if rec.Language != "" {
			fmt.Fprintf(&sb, " (%s)", rec.Language)
		}
		sb.WriteString("\n\n")
		for _, u := range units {
			if b.maxUnits > 0 && included >= b.maxUnits {
				omitted++
				continue
			}
			included++
			writeUnit(&sb, u, b.maxUnitChars)
		}
	}
	if omitted > 0 {
		fmt.Fprintf(&sb, "(%d more units omitted)\n", omitted)
	}
	return sb.String(), nil
}

func writeUnit(sb *strings.Builder, u models.ExtractedUnit, maxChars int) {
	fmt.Fprintf(sb, "### %s %s (lines %d-%d)\n", u.Kind, u.Name, u.StartLine, u.EndLine)
	if u.Docstring != "" {
		sb.WriteString(utils.Truncate(u.Docstring, maxChars))
		sb.WriteString("\n")
	}
	if calls := u.Metadata["calls"]; calls != "" {
		fmt.Fprintf(sb, "Calls: %s\n", calls)
	}
	if u.Content != "" {
		sb.WriteString("```\n")
		sb.WriteString(utils.Truncate(u.Content, maxChars))
		sb.WriteString("\n```\n")
	}
	sb.WriteString("\n")
}

func (b *PromptBuilder) overview(snap *models.IndexSnapshot, plan []Page) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Files: %d\nUnits: %d\n", snap.TotalFiles, snap.TotalUnits)
	langs := make([]string, 0, len(snap.LanguageCounts))
	for l := range snap.LanguageCounts {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	for _, l := range langs {
		fmt.Fprintf(&sb, "- %s: %d files\n", l, snap.LanguageCounts[l])
	}
	sb.WriteString("\nModules:\n")
	records := snap.Records()
	for _, p := range plan {
		if p.Kind != KindModule {
			continue
		}
		units := 0
		for _, id := range p.SourceIDs {
			units += records[id].UnitCount
		}
		fmt.Fprintf(&sb, "- [%s](%s): %d files, %d units\n", p.Title, p.Path, len(p.SourceIDs), units)
		for _, id := range p.SourceIDs {
			fmt.Fprintf(&sb, "  - %s\n", id)
		}
	}
	return sb.String()
}
