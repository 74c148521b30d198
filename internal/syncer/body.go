package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/randalmurphal/incsync/internal/document"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/tracker"
)

// BuildRequest renders the issue that mirrors inc. Missing documents are
// tolerated: an increment without tasks.md syncs as 0/0.
func BuildRequest(inc *increment.Increment, tr tracker.Type, labels []string) (tracker.IssueRequest, error) {
	spec, err := readOptional(inc.SpecPath())
	if err != nil {
		return tracker.IssueRequest{}, err
	}
	tasks, err := readOptional(inc.TasksPath())
	if err != nil {
		return tracker.IssueRequest{}, err
	}

	acs, _ := document.ParseACs(spec)
	counts := document.ParseTasksDocument(tasks).Counts()

	var b strings.Builder
	b.WriteString("## Progress\n\n")
	fmt.Fprintf(&b, "- **Status**: %s\n", inc.Meta.Status)
	fmt.Fprintf(&b, "- **Type**: %s\n", inc.Meta.Type)
	fmt.Fprintf(&b, "- **Tasks**: %d/%d (%d%%)\n", counts.Completed, counts.Total, counts.Percentage())
	if len(acs) > 0 {
		checked := 0
		for _, ac := range acs {
			if ac.Completed {
				checked++
			}
		}
		fmt.Fprintf(&b, "- **Acceptance criteria**: %d/%d\n", checked, len(acs))
		b.WriteString("\n### Acceptance Criteria\n\n")
		for _, ac := range acs {
			box := " "
			if ac.Completed {
				box = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s: %s\n", box, ac.ID, ac.Description)
		}
	}
	fmt.Fprintf(&b, "\n_Mirrored from increment %s._\n", inc.ID)

	all := append(slices.Clone(labels), string(inc.Meta.Type))
	slices.Sort(all)
	all = slices.Compact(all)

	req := tracker.IssueRequest{
		IncrementID: inc.ID,
		Title:       Title(inc.ID, spec),
		Body:        b.String(),
		Labels:      all,
	}
	if link, ok := inc.Meta.External[string(tr)]; ok {
		req.ExistingID = link.ID
	}
	return req, nil
}

// Title is "<id>: <first level-1 heading of spec.md>", or the id alone.
func Title(id, spec string) string {
	for _, tok := range document.Lex(spec) {
		if tok.Kind == document.TokenHeading && tok.Level == 1 && tok.Text != "" {
			if strings.HasPrefix(tok.Text, id) {
				return tok.Text
			}
			return id + ": " + tok.Text
		}
	}
	return id
}

// Fingerprint identifies the rendered content of req, ignoring ExistingID.
func Fingerprint(req tracker.IssueRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Title))
	h.Write([]byte{0})
	h.Write([]byte(req.Body))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(req.Labels, ",")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
