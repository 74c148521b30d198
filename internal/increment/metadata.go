package increment

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/incsync/internal/document"
	"github.com/randalmurphal/incsync/internal/util"
)

// MetadataFile is the per-increment metadata document.
const MetadataFile = "metadata.yaml"

// IssueLink records the tracker issue an increment is synced to.
type IssueLink struct {
	ID       string     `yaml:"id" json:"id"`
	URL      string     `yaml:"url,omitempty" json:"url,omitempty"`
	SyncedAt *time.Time `yaml:"synced_at,omitempty" json:"synced_at,omitempty"`
}

// Metadata is the persisted state of an increment.
type Metadata struct {
	// ID is the directory name, e.g. 0001-user-auth
	ID string `yaml:"id" json:"id"`

	Type   Type   `yaml:"type" json:"type"`
	Status Status `yaml:"status" json:"status"`

	// StatusReason explains the last pause or abandonment
	StatusReason string `yaml:"status_reason,omitempty" json:"status_reason,omitempty"`

	CreatedAt       time.Time  `yaml:"created_at" json:"created_at"`
	LastActivity    *time.Time `yaml:"last_activity,omitempty" json:"last_activity,omitempty"`
	StatusChangedAt *time.Time `yaml:"status_changed_at,omitempty" json:"status_changed_at,omitempty"`

	// External maps tracker name (github, gitlab, jira) to the linked issue
	External map[string]IssueLink `yaml:"external,omitempty" json:"external,omitempty"`
}

// HasExternalLink returns true if any tracker issue is linked.
func (m *Metadata) HasExternalLink() bool {
	return len(m.External) > 0
}

// Link records an issue link for tracker.
func (m *Metadata) Link(tracker string, link IssueLink) {
	if m.External == nil {
		m.External = make(map[string]IssueLink)
	}
	m.External[tracker] = link
}

// MergeExternal copies links from other that m does not already have.
// It returns the trackers that were added.
func (m *Metadata) MergeExternal(other map[string]IssueLink) []string {
	var added []string
	for tracker, link := range other {
		if _, ok := m.External[tracker]; ok {
			continue
		}
		m.Link(tracker, link)
		added = append(added, tracker)
	}
	return added
}

// Clone returns a deep copy of m.
func (m *Metadata) Clone() *Metadata {
	cp := *m
	cp.External = maps.Clone(m.External)
	return &cp
}

// specHeader is the fallback source when metadata.yaml is missing.
type specHeader struct {
	Status  Status    `yaml:"status"`
	Type    Type      `yaml:"type"`
	Created time.Time `yaml:"created"`
}

// LoadMetadata reads metadata.yaml from dir. The boolean is false when the
// file does not exist.
func LoadMetadata(dir string) (*Metadata, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read metadata: %w", err)
	}

	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, true, fmt.Errorf("parse metadata %s: %w", filepath.Base(dir), err)
	}
	return &m, true, nil
}

// SaveMetadata writes m to dir/metadata.yaml atomically.
func SaveMetadata(dir string, m *Metadata) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := util.AtomicWriteFile(filepath.Join(dir, MetadataFile), data, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// SyncSpecStatus rewrites the status key of the spec.md header at path to
// status. Only an existing, different status key is touched; a missing file
// or a header without status is left alone. It reports whether it wrote.
func SyncSpecStatus(path string, status Status) (bool, error) {
	written, err := util.EditFile(path, func(current []byte) ([]byte, error) {
		var h specHeader
		ok, err := document.DecodeHeader(string(current), &h)
		if err != nil {
			return nil, err
		}
		if !ok || h.Status == "" || h.Status == status {
			return nil, util.ErrNoChange
		}
		out, err := document.WriteFields(string(current), document.Field{Key: "status", Value: string(status)})
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return written, err
}
