package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randalmurphal/incsync/internal/util"
)

// FileBackend stores one JSON document per key in a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a backend rooted at dir. The directory is created
// on first write.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// Dir returns the cache directory.
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

// Read implements Backend.
func (b *FileBackend) Read(_ context.Context, key string) (*Record, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", ErrCorrupt)
	}
	return &rec, nil
}

// Write implements Backend.
func (b *FileBackend) Write(_ context.Context, key string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(b.path(key), data, 0644)
}

// Delete implements Backend.
func (b *FileBackend) Delete(_ context.Context, key string) error {
	if err := os.Remove(b.path(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// List implements Backend. Unreadable records are listed with their file
// modification time so Clear and Stats still see them.
func (b *FileBackend) List(_ context.Context) ([]RecordInfo, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(b.dir, "*.json"))
	if err != nil {
		return nil, err
	}

	infos := make([]RecordInfo, 0, len(matches))
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		info := RecordInfo{
			Key:       strings.TrimSuffix(filepath.Base(path), ".json"),
			Size:      st.Size(),
			Timestamp: st.ModTime(),
		}
		if data, err := os.ReadFile(path); err == nil {
			var rec Record
			if json.Unmarshal(data, &rec) == nil && !rec.Timestamp.IsZero() {
				info.Timestamp = rec.Timestamp
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }
