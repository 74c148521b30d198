package desync

import (
	"fmt"
	"strings"
	"time"
)

// FormatReport renders a sweep as markdown.
func FormatReport(r *Report, generated time.Time) string {
	var b strings.Builder
	invalid := r.Invalid()

	b.WriteString("# Completion Sync Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", generated.UTC().Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Increments checked: %d\n", len(r.Results))
	fmt.Fprintf(&b, "- Valid: %d\n", len(r.Results)-len(invalid))
	fmt.Fprintf(&b, "- Invalid: %d\n", len(invalid))
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "- Failed: %d\n", len(r.Failures))
	}
	b.WriteString("\n")

	if len(invalid) == 0 && len(r.Failures) == 0 {
		b.WriteString("## All Counters In Sync\n\nNo desynchronization detected.\n")
		return b.String()
	}

	if len(invalid) > 0 {
		b.WriteString("## Issues Found\n\n")
		for _, res := range invalid {
			writeResult(&b, res)
		}
	}

	if len(r.Failures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "- %s: %s\n", f.IncrementID, f.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeResult(b *strings.Builder, res *Result) {
	fm, cacheCompleted, cacheTotal, cachePct := "-", "-", "-", "-"
	fmTotal := "-"
	if res.Frontmatter != nil {
		fm = fmt.Sprint(res.Frontmatter.Completed)
		fmTotal = fmt.Sprint(res.Frontmatter.Total)
	}
	if res.Cache != nil {
		cacheCompleted = fmt.Sprint(res.Cache.CompletedTasks)
		cacheTotal = fmt.Sprint(res.Cache.TotalTasks)
		cachePct = fmt.Sprintf("%d%%", res.Cache.Percentage)
	}

	fmt.Fprintf(b, "### %s\n\n", res.IncrementID)
	b.WriteString("| Metric | Actual | Frontmatter | Cache |\n")
	b.WriteString("|--------|--------|-------------|-------|\n")
	fmt.Fprintf(b, "| Completed | %d | %s | %s |\n", res.Actual.CompletedTasks, fm, cacheCompleted)
	fmt.Fprintf(b, "| Total | %d | %s | %s |\n", res.Actual.TotalTasks, fmTotal, cacheTotal)
	fmt.Fprintf(b, "| Percentage | %d%% | - | %s |\n\n", res.Actual.Percentage, cachePct)
	b.WriteString("**Issues:**\n")
	for _, is := range res.Issues {
		fmt.Fprintf(b, "- %s\n", is)
	}
	b.WriteString("\n")
}
