package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateFolder(t *testing.T) {
	root := filepath.Join(t.TempDir(), "CodingPal", "tasks")
	w := New(root)

	path, err := w.CreateFolder("refactor-auth")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if path != filepath.Join(root, "refactor-auth") {
		t.Fatalf("path = %q", path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("folder not created: %v", err)
	}

	// second call is idempotent
	if _, err := w.CreateFolder("refactor-auth"); err != nil {
		t.Fatalf("CreateFolder again: %v", err)
	}
}

func TestCreateFolderRejectsBadNames(t *testing.T) {
	w := New(t.TempDir())
	for _, name := range []string{"", "   ", ".", "..", "../escape", "a/b", `a\b`, "nul\x00"} {
		if _, err := w.CreateFolder(name); !errors.Is(err, ErrInvalidFolderName) {
			t.Errorf("CreateFolder(%q) error = %v, want ErrInvalidFolderName", name, err)
		}
	}
}

func TestDefaultRoot(t *testing.T) {
	if got := New("").Root(); got != filepath.Clean(DefaultRoot) {
		t.Fatalf("Root() = %q, want %q", got, DefaultRoot)
	}
}
