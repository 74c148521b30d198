package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.md")
	content := []byte("---\ntotal_tasks: 1\n---\n")

	if err := AtomicWriteFile(path, content, 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", data, content)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("permissions mismatch: got %o, want %o", info.Mode().Perm(), 0644)
	}
}

func TestAtomicWriteFile_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "nested", "entry.json")

	if err := AtomicWriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

func TestAtomicWriteFile_NoTempFileLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.md")

	for _, body := range []string{"first", "second"} {
		if err := AtomicWriteFile(path, []byte(body), 0644); err != nil {
			t.Fatalf("AtomicWriteFile failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "spec.md" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}
}

func TestEditFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.md")
	if err := os.WriteFile(path, []byte("- [ ] AC-US1-01: one\n"), 0600); err != nil {
		t.Fatal(err)
	}

	written, err := EditFile(path, func(cur []byte) ([]byte, error) {
		return []byte(ReplaceLine(string(cur), 0, "- [x] AC-US1-01: one")), nil
	})
	if err != nil {
		t.Fatalf("EditFile failed: %v", err)
	}
	if !written {
		t.Error("expected a write")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "- [x] AC-US1-01: one\n" {
		t.Errorf("content = %q", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode not preserved: %o", info.Mode().Perm())
	}
}

func TestEditFile_NoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.md")
	if err := os.WriteFile(path, []byte("same"), 0644); err != nil {
		t.Fatal(err)
	}

	written, err := EditFile(path, func(cur []byte) ([]byte, error) { return cur, nil })
	if err != nil || written {
		t.Errorf("identical edit: written=%v err=%v", written, err)
	}

	written, err = EditFile(path, func([]byte) ([]byte, error) { return nil, ErrNoChange })
	if err != nil || written {
		t.Errorf("ErrNoChange edit: written=%v err=%v", written, err)
	}
}

func TestEditFile_ErrorLeavesFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.md")
	if err := os.WriteFile(path, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err := EditFile(path, func([]byte) ([]byte, error) { return []byte("partial"), boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Errorf("content = %q, want original", data)
	}
}

func TestReplaceLine(t *testing.T) {
	tests := []struct {
		name string
		text string
		idx  int
		body string
		want string
	}{
		{"middle lf", "a\nb\nc\n", 1, "B", "a\nB\nc\n"},
		{"crlf kept", "a\r\nb\r\n", 0, "A", "A\r\nb\r\n"},
		{"last without newline", "a\nb", 1, "B", "a\nB"},
		{"out of range", "a\n", 5, "x", "a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReplaceLine(tt.text, tt.idx, tt.body); got != tt.want {
				t.Errorf("ReplaceLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
