package duplicate

import (
	"fmt"
	"strings"
	"time"
)

// FormatResolution renders the Markdown report written into the winner.
func FormatResolution(d *Duplicate, res *Resolution, at time.Time) string {
	var b strings.Builder
	b.WriteString("# Duplicate Resolution Report\n\n")
	fmt.Fprintf(&b, "**Increment**: %s\n", d.Number)
	fmt.Fprintf(&b, "**Resolved**: %s\n", at.UTC().Format(time.RFC3339))
	if res.DryRun {
		b.WriteString("**Mode**: dry run\n")
	}

	b.WriteString("\n## Winner\n\n")
	writeCandidate(&b, d.Winner)
	fmt.Fprintf(&b, "\n**Reason**: %s\n", d.Reason)

	if len(d.Losers) > 0 {
		b.WriteString("\n## Losing Versions\n\n")
		for _, l := range d.Losers {
			writeCandidate(&b, l)
		}
	}

	if len(res.Merged) > 0 || len(res.LinksMerged) > 0 {
		b.WriteString("\n## Merged Content\n\n")
		for _, m := range res.Merged {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		for _, t := range res.LinksMerged {
			fmt.Fprintf(&b, "- %s link\n", t)
		}
	}

	if len(res.Deleted) > 0 {
		b.WriteString("\n## Deleted\n\n")
		for _, p := range res.Deleted {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(res.Kept) > 0 {
		b.WriteString("\n## Kept\n\nDeletion was declined; these copies remain on disk.\n\n")
		for _, p := range res.Kept {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}

func writeCandidate(b *strings.Builder, c *Candidate) {
	status := string(c.Status)
	if status == "" {
		status = "unknown"
	}
	fmt.Fprintf(b, "- **%s** (%s, %s): %d files, last activity %s\n",
		c.Name, c.Location, status, c.FileCount, c.LastActivity.Format("2006-01-02"))
	fmt.Fprintf(b, "  - path: %s\n", c.Path)
}
