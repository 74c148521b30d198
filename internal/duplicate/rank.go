package duplicate

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Comparator orders two copies. Compare returns a negative number when a
// should win over b, positive when b should, zero when it cannot tell.
type Comparator struct {
	Name    string
	Compare func(a, b *Candidate) int
	// Describe explains a win on this comparator.
	Describe func(winner *Candidate) string
}

func boolFirst(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	}
	return 1
}

var (
	ByExternalLink = Comparator{
		Name:     "external-link",
		Compare:  func(a, b *Candidate) int { return boolFirst(a.HasExternalLink(), b.HasExternalLink()) },
		Describe: func(*Candidate) string { return "linked to an external tracker issue" },
	}
	ByReports = Comparator{
		Name:     "reports",
		Compare:  func(a, b *Candidate) int { return boolFirst(a.HasReports, b.HasReports) },
		Describe: func(*Candidate) string { return "has recorded reports" },
	}
	ByActivity = Comparator{
		Name:    "activity",
		Compare: func(a, b *Candidate) int { return b.LastActivity.Compare(a.LastActivity) },
		Describe: func(w *Candidate) string {
			return fmt.Sprintf("most recent activity (%s)", w.LastActivity.Format("2006-01-02"))
		},
	}
	ByFileCount = Comparator{
		Name:     "files",
		Compare:  func(a, b *Candidate) int { return cmp.Compare(b.FileCount, a.FileCount) },
		Describe: func(w *Candidate) string { return fmt.Sprintf("most complete (%d files)", w.FileCount) },
	}
	ByLocation = Comparator{
		Name:     "location",
		Compare:  func(a, b *Candidate) int { return cmp.Compare(b.Location.rank(), a.Location.rank()) },
		Describe: func(w *Candidate) string { return fmt.Sprintf("in %s location", w.Location) },
	}
	// ByPath makes the order total.
	ByPath = Comparator{
		Name:     "path",
		Compare:  func(a, b *Candidate) int { return cmp.Compare(a.Path, b.Path) },
		Describe: func(*Candidate) string { return "" },
	}

	// DefaultComparators is the ranking applied by Detect.
	DefaultComparators = []Comparator{ByExternalLink, ByReports, ByActivity, ByFileCount, ByLocation, ByPath}
)

// Rank returns cands sorted best first, applying comparators
// lexicographically. cands is not modified.
func Rank(cands []*Candidate, comparators []Comparator) []*Candidate {
	ranked := slices.Clone(cands)
	slices.SortStableFunc(ranked, func(a, b *Candidate) int {
		for _, c := range comparators {
			if r := c.Compare(a, b); r != 0 {
				return r
			}
		}
		return 0
	})
	return ranked
}

// Explain names the comparators on which winner beats at least one other
// copy, in priority order.
func Explain(winner *Candidate, all []*Candidate, comparators []Comparator) string {
	var reasons []string
	for _, c := range comparators {
		for _, other := range all {
			if other == winner || c.Compare(winner, other) >= 0 {
				continue
			}
			if d := c.Describe(winner); d != "" {
				reasons = append(reasons, d)
			}
			break
		}
	}
	if len(reasons) == 0 {
		return "default selection"
	}
	return strings.Join(reasons, ", ")
}
