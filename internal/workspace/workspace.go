package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRoot is where task folders are created when no root is configured.
const DefaultRoot = "CodingPal/tasks"

// ErrInvalidFolderName rejects names that are empty or would escape the root.
var ErrInvalidFolderName = errors.New("invalid folder name")

// Workspace creates task folders under a fixed root directory.
type Workspace struct {
	root string
}

// New returns a workspace rooted at root, or DefaultRoot when root is empty.
func New(root string) *Workspace {
	if root == "" {
		root = DefaultRoot
	}
	return &Workspace{root: filepath.Clean(root)}
}

// Root returns the directory folders are created under.
func (w *Workspace) Root() string {
	return w.root
}

// CreateFolder creates <root>/<name> and any missing parents, returning the
// created path. Creating a folder that already exists is not an error.
func (w *Workspace) CreateFolder(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	path := filepath.Join(w.root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return path, nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return fmt.Errorf("%w: empty", ErrInvalidFolderName)
	case trimmed == "." || trimmed == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFolderName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFolderName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: contains NUL", ErrInvalidFolderName)
	}
	return nil
}
