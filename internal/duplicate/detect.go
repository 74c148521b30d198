// Package duplicate finds increments that exist more than once under the
// same number and resolves them down to a single authoritative copy.
//
// Duplicates come from races between tools or from manual moves between the
// active, archive and abandoned areas.
package duplicate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randalmurphal/incsync/internal/increment"
)

// Location is the area of the increments directory a copy lives in.
type Location string

const (
	LocationActive    Location = "active"
	LocationArchive   Location = "archive"
	LocationAbandoned Location = "abandoned"
)

// rank orders locations, higher is preferred.
func (l Location) rank() int {
	switch l {
	case LocationActive:
		return 3
	case LocationArchive:
		return 2
	case LocationAbandoned:
		return 1
	}
	return 0
}

// Candidate is one copy of an increment.
type Candidate struct {
	Path     string   `json:"path"`
	Name     string   `json:"name"`
	Number   string   `json:"number"`
	Location Location `json:"location"`

	Status       increment.Status `json:"status,omitempty"`
	LastActivity time.Time        `json:"last_activity"`
	FileCount    int              `json:"file_count"`
	TotalSize    int64            `json:"total_size"`
	HasReports   bool             `json:"has_reports"`

	// Meta is nil when the copy has no readable metadata.yaml.
	Meta *increment.Metadata `json:"-"`
}

// HasExternalLink reports whether the copy is linked to a tracker issue.
func (c *Candidate) HasExternalLink() bool {
	return c.Meta != nil && c.Meta.HasExternalLink()
}

// Duplicate is a number held by more than one copy.
type Duplicate struct {
	Number     string       `json:"number"`
	Candidates []*Candidate `json:"candidates"`
	Winner     *Candidate   `json:"winner"`
	Losers     []*Candidate `json:"losers"`
	// Reason explains why Winner was chosen.
	Reason string `json:"reason"`
}

// Report is the outcome of a scan.
type Report struct {
	Duplicates   []*Duplicate `json:"duplicates"`
	TotalChecked int          `json:"total_checked"`
}

// areas lists the scanned directories relative to the increments directory.
var areas = []struct {
	dir string
	loc Location
}{
	{".", LocationActive},
	{increment.ArchiveDir, LocationArchive},
	{increment.AbandonedDir, LocationAbandoned},
}

// Detect scans the active, archive and abandoned areas under root and
// groups copies by their four-digit number.
func Detect(root string) (*Report, error) {
	all, err := scanAll(root)
	if err != nil {
		return nil, err
	}

	byNumber := make(map[string][]*Candidate)
	for _, c := range all {
		byNumber[c.Number] = append(byNumber[c.Number], c)
	}

	report := &Report{TotalChecked: len(all)}
	for number, cands := range byNumber {
		if len(cands) < 2 {
			continue
		}
		report.Duplicates = append(report.Duplicates, NewDuplicate(number, cands))
	}
	sort.Slice(report.Duplicates, func(i, j int) bool {
		return report.Duplicates[i].Number < report.Duplicates[j].Number
	})
	return report, nil
}

// DetectNumber returns every copy of the given number, even when there is
// only one. number may be unpadded ("7").
func DetectNumber(root, number string) ([]*Candidate, error) {
	if n, err := strconv.Atoi(number); err == nil {
		number = fmt.Sprintf("%04d", n)
	}
	all, err := scanAll(root)
	if err != nil {
		return nil, err
	}
	var out []*Candidate
	for _, c := range all {
		if c.Number == number {
			out = append(out, c)
		}
	}
	return out, nil
}

// NewDuplicate ranks cands and picks the winner.
func NewDuplicate(number string, cands []*Candidate) *Duplicate {
	ranked := Rank(cands, DefaultComparators)
	return &Duplicate{
		Number:     number,
		Candidates: cands,
		Winner:     ranked[0],
		Losers:     ranked[1:],
		Reason:     Explain(ranked[0], cands, DefaultComparators),
	}
}

func scanAll(root string) ([]*Candidate, error) {
	base := filepath.Join(root, increment.StateDir, increment.IncrementsDir)
	var all []*Candidate
	for _, a := range areas {
		cands, err := Scan(filepath.Join(base, a.dir), a.loc)
		if err != nil {
			return nil, err
		}
		all = append(all, cands...)
	}
	return all, nil
}

// Scan reads every NNNN-* directory in dir. A missing dir yields nothing.
func Scan(dir string, loc Location) ([]*Candidate, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	names, err := doublestar.Glob(os.DirFS(dir), "[0-9][0-9][0-9][0-9]-*")
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(names)

	var out []*Candidate
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		c, err := load(path, loc, info)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func load(path string, loc Location, info fs.FileInfo) (*Candidate, error) {
	name := filepath.Base(path)
	number, _ := increment.Number(name)
	c := &Candidate{
		Path:         path,
		Name:         name,
		Number:       number,
		Location:     loc,
		LastActivity: info.ModTime().UTC(),
	}

	// Unreadable metadata is left for validation to report; the copy still
	// takes part in ranking on its files alone.
	if meta, found, err := increment.LoadMetadata(path); err == nil && found {
		c.Meta = meta
		c.Status = meta.Status
		switch {
		case meta.LastActivity != nil:
			c.LastActivity = meta.LastActivity.UTC()
		case meta.StatusChangedAt != nil:
			c.LastActivity = meta.StatusChangedAt.UTC()
		}
	}

	if st, err := os.Stat(filepath.Join(path, increment.ReportsDir)); err == nil && st.IsDir() {
		c.HasReports = true
	}

	err := doublestar.GlobWalk(os.DirFS(path), "**", func(_ string, d fs.DirEntry) error {
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		c.FileCount++
		c.TotalSize += fi.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count files in %s: %w", path, err)
	}
	return c, nil
}
